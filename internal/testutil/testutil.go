// Package testutil provides shared test helpers for building source trees
// and faking the native toolchain.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/starford/idlforge/internal/history"
	"github.com/starford/idlforge/internal/linker"
	"github.com/starford/idlforge/internal/storage"
	"github.com/starford/idlforge/internal/toolchain"
)

// TestDB creates a temporary history database that is automatically cleaned up.
func TestDB(t *testing.T) *history.DB {
	t.Helper()
	db, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestTree creates a temporary source tree with a storage.Provider.
func TestTree(t *testing.T) (string, storage.Provider) {
	t.Helper()
	root := t.TempDir()
	store, err := storage.NewFS(root)
	if err != nil {
		t.Fatal(err)
	}
	return root, store
}

// WriteFile writes content to root/rel, creating parent directories.
func WriteFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	p := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

// AgeTree shifts the modification time of every file and directory under
// root back by d, keeping their relative order. Tests use it instead of
// sleeping past the file system's timestamp granularity.
func AgeTree(t *testing.T, root string, d time.Duration) {
	t.Helper()
	var paths []string
	err := filepath.WalkDir(root, func(p string, _ fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		paths = append(paths, p)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			t.Fatal(err)
		}
		mt := info.ModTime().Add(-d)
		if err := os.Chtimes(p, mt, mt); err != nil {
			t.Fatal(err)
		}
	}
}

// TouchAt sets the modification time of path without changing its content.
// Pass a time in the past after AgeTree: files the code under test writes
// next then get a later timestamp even on coarse-grained file systems.
func TouchAt(t *testing.T, path string, when time.Time) {
	t.Helper()
	if err := os.Chtimes(path, when, when); err != nil {
		t.Fatal(err)
	}
}

// FakeToolchain stands in for the C compiler and linker. Objects hold the
// name of their source; linked outputs hold the names of their objects.
type FakeToolchain struct {
	mu          sync.Mutex
	compiled    []string
	invocations []linker.Invocation
	fail        map[string]bool
	active      int
	peak        int
	// Delay is slept inside every compile.
	Delay time.Duration
}

// NewFakeToolchain returns a toolchain that succeeds for every source.
func NewFakeToolchain() *FakeToolchain {
	return &FakeToolchain{fail: make(map[string]bool)}
}

// FailOn makes compiles of sources with the given base name fail.
func (f *FakeToolchain) FailOn(base string, fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[base] = fail
}

// Compile implements toolchain.Toolchain.
func (f *FakeToolchain) Compile(ctx context.Context, req toolchain.CompileRequest) (string, error) {
	f.mu.Lock()
	f.active++
	f.peak = max(f.peak, f.active)
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	if f.Delay > 0 {
		select {
		case <-time.After(f.Delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	f.mu.Lock()
	fail := f.fail[filepath.Base(req.Source)]
	f.compiled = append(f.compiled, req.Source)
	f.mu.Unlock()

	if fail {
		return "", &toolchain.CompileError{Source: req.Source, Output: "error: fake failure", Err: errors.New("exit status 1")}
	}
	if err := os.MkdirAll(filepath.Dir(req.Object), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(req.Object, []byte("object of "+req.Source+"\n"), 0o644); err != nil {
		return "", err
	}
	return req.Object, nil
}

// Run implements toolchain.Toolchain. It writes the file named by "-o".
func (f *FakeToolchain) Run(_ context.Context, inv linker.Invocation) error {
	f.mu.Lock()
	f.invocations = append(f.invocations, inv)
	f.mu.Unlock()

	out := ""
	for i, a := range inv.Args {
		if a == "-o" && i+1 < len(inv.Args) {
			out = inv.Args[i+1]
		}
	}
	if out == "" {
		return &toolchain.LinkError{Program: inv.Program, Err: fmt.Errorf("no -o in %v", inv.Args)}
	}
	var objs []string
	for _, a := range inv.Args {
		if strings.HasSuffix(a, ".o") {
			objs = append(objs, filepath.Base(a))
		}
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return err
	}
	return os.WriteFile(out, []byte(strings.Join(objs, "\n")+"\n"), 0o644)
}

// Compiled returns the sources compiled since the last Reset.
func (f *FakeToolchain) Compiled() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]string(nil), f.compiled...)
	sort.Strings(out)
	return out
}

// Invocations returns the link invocations run since the last Reset.
func (f *FakeToolchain) Invocations() []linker.Invocation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]linker.Invocation(nil), f.invocations...)
}

// PeakCompiles returns the largest number of compiles seen in flight at
// once since the last Reset.
func (f *FakeToolchain) PeakCompiles() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peak
}

// Reset forgets recorded calls.
func (f *FakeToolchain) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.compiled = nil
	f.invocations = nil
	f.peak = 0
}

var _ toolchain.Toolchain = (*FakeToolchain)(nil)
