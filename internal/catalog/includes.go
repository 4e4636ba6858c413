package catalog

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
)

var includeRe = regexp.MustCompile(`^\s*#\s*include\s+"([^"]+)"`)

// IncludeScanner resolves the quoted includes of C files, transitively.
// Angle-bracket includes and unresolvable names are ignored: they belong to
// the system and are not tracked.
type IncludeScanner struct {
	search []string
	memo   map[string][]string
}

// NewIncludeScanner searches the including file's directory first, then
// search in order.
func NewIncludeScanner(search []string) *IncludeScanner {
	return &IncludeScanner{search: search, memo: make(map[string][]string)}
}

// Deps returns the sorted set of headers src depends on.
func (s *IncludeScanner) Deps(src string) ([]string, error) {
	seen := make(map[string]struct{})
	if err := s.walk(src, seen); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

func (s *IncludeScanner) walk(file string, seen map[string]struct{}) error {
	direct, err := s.direct(file)
	if err != nil {
		return err
	}
	for _, h := range direct {
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		if err := s.walk(h, seen); err != nil {
			return err
		}
	}
	return nil
}

func (s *IncludeScanner) direct(file string) ([]string, error) {
	if deps, ok := s.memo[file]; ok {
		return deps, nil
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("catalog: scan includes of %s: %w", file, err)
	}
	var deps []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		m := includeRe.FindStringSubmatch(sc.Text())
		if m == nil {
			continue
		}
		if p, ok := s.resolve(filepath.Dir(file), m[1]); ok {
			deps = append(deps, p)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("catalog: scan includes of %s: %w", file, err)
	}
	s.memo[file] = deps
	return deps, nil
}

func (s *IncludeScanner) resolve(dir, name string) (string, bool) {
	for _, base := range append([]string{dir}, s.search...) {
		p := filepath.Join(base, name)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, true
		}
	}
	return "", false
}
