// Package freshness decides whether a set of output artifacts is up to date
// with respect to a set of input artifacts by comparing modification times.
package freshness

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/starford/idlforge/internal/apperr"
	"github.com/starford/idlforge/internal/models"
	"github.com/starford/idlforge/internal/storage"
)

// DefaultCacheSize bounds the number of cached timestamps.
const DefaultCacheSize = 4096

// Verdict is the answer to one freshness query.
type Verdict struct {
	Stale  bool   `json:"stale"`
	Reason string `json:"reason"`
}

type stamp struct {
	mtime  time.Time
	exists bool
}

// Oracle answers freshness queries. Timestamps are cached until
// invalidated; callers that mutate the tree must call Invalidate.
type Oracle struct {
	cache   *lru.Cache[string, stamp]
	exclude []string
}

// New creates an Oracle. exclude patterns apply to every directory ref in
// addition to the ref's own patterns. Temporary files left by an
// interrupted storage write are always excluded.
func New(size int, exclude ...string) (*Oracle, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, stamp](size)
	if err != nil {
		return nil, fmt.Errorf("freshness: create cache: %w", err)
	}
	patterns := append([]string{storage.TempPattern}, exclude...)
	return &Oracle{cache: cache, exclude: patterns}, nil
}

// IsStale reports whether outputs need rebuilding from inputs.
func (o *Oracle) IsStale(inputs, outputs []models.ArtifactRef) (bool, error) {
	v, err := o.Explain(inputs, outputs)
	if err != nil {
		return false, err
	}
	return v.Stale, nil
}

// Explain is IsStale with a human-readable reason attached.
func (o *Oracle) Explain(inputs, outputs []models.ArtifactRef) (Verdict, error) {
	var newestIn time.Time
	var newestRef string
	for _, in := range inputs {
		st, err := o.stat(in)
		if err != nil {
			return Verdict{}, err
		}
		if !st.exists {
			return Verdict{}, fmt.Errorf("freshness: %w: %s", apperr.ErrMissingInput, in.Path)
		}
		if st.mtime.After(newestIn) {
			newestIn = st.mtime
			newestRef = in.Path
		}
	}

	if len(outputs) == 0 {
		return Verdict{Stale: true, Reason: "no outputs declared"}, nil
	}

	var oldestOut time.Time
	var oldestRef string
	for i, out := range outputs {
		st, err := o.stat(out)
		if err != nil {
			return Verdict{}, err
		}
		if !st.exists {
			return Verdict{Stale: true, Reason: "missing output " + out.Path}, nil
		}
		if i == 0 || st.mtime.Before(oldestOut) {
			oldestOut = st.mtime
			oldestRef = out.Path
		}
	}

	if newestIn.After(oldestOut) {
		return Verdict{
			Stale:  true,
			Reason: fmt.Sprintf("%s is newer than %s", newestRef, oldestRef),
		}, nil
	}
	return Verdict{Reason: "up to date"}, nil
}

// ModTime returns the effective modification time of ref.
func (o *Oracle) ModTime(ref models.ArtifactRef) (time.Time, bool, error) {
	st, err := o.stat(ref)
	return st.mtime, st.exists, err
}

// Invalidate drops cached timestamps for the given paths, their ancestors
// (directory refs summarise their members) and their descendants.
func (o *Oracle) Invalidate(paths ...string) {
	for _, key := range o.cache.Keys() {
		p, _, _ := strings.Cut(key, "\x00")
		for _, changed := range paths {
			changed = filepath.Clean(changed)
			if related(p, changed) {
				o.cache.Remove(key)
				break
			}
		}
	}
}

// InvalidateAll empties the cache.
func (o *Oracle) InvalidateAll() {
	o.cache.Purge()
}

func related(a, b string) bool {
	if a == b {
		return true
	}
	sep := string(os.PathSeparator)
	return strings.HasPrefix(a, b+sep) || strings.HasPrefix(b, a+sep)
}

func (o *Oracle) stat(ref models.ArtifactRef) (stamp, error) {
	key := filepath.Clean(ref.Path) + "\x00" + strings.Join(ref.Exclude, "\x01")
	if st, ok := o.cache.Get(key); ok {
		return st, nil
	}
	var st stamp
	var err error
	if ref.IsDir() {
		st, err = o.statTree(ref)
	} else {
		st, err = statFile(ref.Path)
	}
	if err != nil {
		return stamp{}, err
	}
	o.cache.Add(key, st)
	return st, nil
}

func statFile(p string) (stamp, error) {
	info, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return stamp{}, nil
		}
		return stamp{}, fmt.Errorf("freshness: stat %s: %w", p, err)
	}
	return stamp{mtime: info.ModTime(), exists: true}, nil
}

// statTree returns the newest timestamp among root itself and every file
// below it that no exclude pattern matches.
func (o *Oracle) statTree(ref models.ArtifactRef) (stamp, error) {
	root := filepath.Clean(ref.Path)
	rootInfo, err := os.Stat(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return stamp{}, nil
		}
		return stamp{}, fmt.Errorf("freshness: stat %s: %w", root, err)
	}
	if !rootInfo.IsDir() {
		return stamp{mtime: rootInfo.ModTime(), exists: true}, nil
	}

	patterns := append(append([]string{}, o.exclude...), ref.Exclude...)
	newest := rootInfo.ModTime()
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		if excluded(filepath.ToSlash(rel), patterns) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if info.ModTime().After(newest) {
			newest = info.ModTime()
		}
		return nil
	})
	if err != nil {
		return stamp{}, fmt.Errorf("freshness: walk %s: %w", root, err)
	}
	return stamp{mtime: newest, exists: true}, nil
}

func excluded(rel string, patterns []string) bool {
	base := path.Base(rel)
	for _, pat := range patterns {
		if ok, _ := path.Match(pat, rel); ok {
			return true
		}
		if ok, _ := path.Match(pat, base); ok {
			return true
		}
	}
	return false
}
