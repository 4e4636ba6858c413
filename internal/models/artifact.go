// Package models defines the domain types for idlforge.
package models

import "fmt"

// Kind classifies an artifact by the role it plays in the pipeline.
type Kind int

const (
	KindSource Kind = iota
	KindGenerated
	KindObject
	KindLibrary
	KindStampDir
)

func (k Kind) String() string {
	switch k {
	case KindSource:
		return "source"
	case KindGenerated:
		return "generated"
	case KindObject:
		return "object"
	case KindLibrary:
		return "library"
	case KindStampDir:
		return "stamp-directory"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// ArtifactRef names one file or directory on disk.
//
// Exclude only applies to stamp directories: members whose slash-separated
// path relative to Path, or whose base name, matches one of the patterns are
// ignored when computing the directory's effective timestamp.
type ArtifactRef struct {
	Path    string   `json:"path"`
	Kind    Kind     `json:"kind"`
	Exclude []string `json:"exclude,omitempty"`
}

// Source returns a source artifact reference.
func Source(path string) ArtifactRef { return ArtifactRef{Path: path, Kind: KindSource} }

// Generated returns a generated artifact reference.
func Generated(path string) ArtifactRef { return ArtifactRef{Path: path, Kind: KindGenerated} }

// Object returns an object file reference.
func Object(path string) ArtifactRef { return ArtifactRef{Path: path, Kind: KindObject} }

// Library returns a shared library reference.
func Library(path string) ArtifactRef { return ArtifactRef{Path: path, Kind: KindLibrary} }

// StampDir returns a stamp directory reference with optional exclude patterns.
func StampDir(path string, exclude ...string) ArtifactRef {
	return ArtifactRef{Path: path, Kind: KindStampDir, Exclude: exclude}
}

// IsDir reports whether the reference is compared as a directory tree.
func (r ArtifactRef) IsDir() bool { return r.Kind == KindStampDir }

func (r ArtifactRef) String() string {
	return r.Kind.String() + ":" + r.Path
}
