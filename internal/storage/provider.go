// Package storage defines the artifact tree file-system abstraction.
//
// Every on-disk mutation made by the pipeline (generated sources, stubs,
// link scripts, timestamp touches) goes through a Provider.
package storage

import "time"

// Provider is the interface for artifact tree operations. Paths may be
// relative to the tree root or absolute paths inside it.
type Provider interface {
	// Root returns the absolute tree root.
	Root() string
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// Write atomically writes content to path.
	Write(path string, content []byte) error
	// WriteIfChanged writes content only when it differs from what is on
	// disk and reports whether a write happened.
	WriteIfChanged(path string, content []byte) (bool, error)
	// Touch sets the modification time of an existing file or directory.
	Touch(path string, t time.Time) error
	// List returns the files under dir whose names end in suffix, sorted.
	List(dir, suffix string) ([]string, error)
	// Mkdir creates dir and any missing parents.
	Mkdir(dir string) error
	// Remove deletes path and everything below it. Missing paths are ignored.
	Remove(path string) error
}
