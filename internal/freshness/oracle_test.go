package freshness

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/idlforge/internal/apperr"
	"github.com/starford/idlforge/internal/models"
)

var base = time.Now().Add(-time.Hour).Truncate(time.Second)

func writeAt(t *testing.T, path string, at time.Time) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(filepath.Base(path)), 0o644))
	require.NoError(t, os.Chtimes(path, at, at))
	return path
}

func setDirTime(t *testing.T, dir string, at time.Time) {
	t.Helper()
	require.NoError(t, os.Chtimes(dir, at, at))
}

func newOracle(t *testing.T, exclude ...string) *Oracle {
	t.Helper()
	o, err := New(0, exclude...)
	require.NoError(t, err)
	return o
}

func TestEmptyOutputsAlwaysStale(t *testing.T) {
	dir := t.TempDir()
	in := writeAt(t, filepath.Join(dir, "a.cfh"), base)

	stale, err := newOracle(t).IsStale([]models.ArtifactRef{models.Source(in)}, nil)
	require.NoError(t, err)
	assert.True(t, stale)
}

func TestMissingInputFails(t *testing.T) {
	dir := t.TempDir()
	out := writeAt(t, filepath.Join(dir, "out.o"), base)

	_, err := newOracle(t).IsStale(
		[]models.ArtifactRef{models.Source(filepath.Join(dir, "gone.c"))},
		[]models.ArtifactRef{models.Object(out)},
	)
	require.ErrorIs(t, err, apperr.ErrMissingInput)
}

func TestMissingOutputIsStale(t *testing.T) {
	dir := t.TempDir()
	in := writeAt(t, filepath.Join(dir, "a.c"), base)

	v, err := newOracle(t).Explain(
		[]models.ArtifactRef{models.Source(in)},
		[]models.ArtifactRef{models.Object(filepath.Join(dir, "a.o"))},
	)
	require.NoError(t, err)
	assert.True(t, v.Stale)
	assert.Contains(t, v.Reason, "missing output")
}

func TestComparesAgainstOldestOutput(t *testing.T) {
	dir := t.TempDir()
	in := writeAt(t, filepath.Join(dir, "a.c"), base.Add(10*time.Second))
	newer := writeAt(t, filepath.Join(dir, "a.o"), base.Add(20*time.Second))
	older := writeAt(t, filepath.Join(dir, "a.d"), base.Add(5*time.Second))

	o := newOracle(t)
	stale, err := o.IsStale(
		[]models.ArtifactRef{models.Source(in)},
		[]models.ArtifactRef{models.Object(newer), models.Generated(older)},
	)
	require.NoError(t, err)
	assert.True(t, stale, "input newer than oldest output")

	stale, err = o.IsStale(
		[]models.ArtifactRef{models.Source(in)},
		[]models.ArtifactRef{models.Object(newer)},
	)
	require.NoError(t, err)
	assert.False(t, stale)
}

func TestEqualTimestampsAreFresh(t *testing.T) {
	dir := t.TempDir()
	in := writeAt(t, filepath.Join(dir, "a.c"), base)
	out := writeAt(t, filepath.Join(dir, "a.o"), base)

	stale, err := newOracle(t).IsStale(
		[]models.ArtifactRef{models.Source(in)},
		[]models.ArtifactRef{models.Object(out)},
	)
	require.NoError(t, err)
	assert.False(t, stale)
}

func TestStampDirUsesNewestMember(t *testing.T) {
	dir := t.TempDir()
	stampDir := filepath.Join(dir, "autogen")
	writeAt(t, filepath.Join(stampDir, "include", "Foo.h"), base)
	writeAt(t, filepath.Join(stampDir, "include", "Bar.h"), base.Add(30*time.Second))
	setDirTime(t, filepath.Join(stampDir, "include"), base)
	setDirTime(t, stampDir, base)
	lib := writeAt(t, filepath.Join(dir, "Foo.so"), base.Add(10*time.Second))

	stale, err := newOracle(t).IsStale(
		[]models.ArtifactRef{models.StampDir(stampDir)},
		[]models.ArtifactRef{models.Library(lib)},
	)
	require.NoError(t, err)
	assert.True(t, stale, "Bar.h is newer than the library")
}

func TestStampDirExcludePatterns(t *testing.T) {
	dir := t.TempDir()
	stampDir := filepath.Join(dir, "host")
	writeAt(t, filepath.Join(stampDir, "Foo.glue"), base.Add(10*time.Second))
	writeAt(t, filepath.Join(stampDir, "scratch", "Foo.c"), base.Add(time.Minute))
	setDirTime(t, filepath.Join(stampDir, "scratch"), base)
	setDirTime(t, stampDir, base)
	in := writeAt(t, filepath.Join(dir, "hierarchy.json"), base.Add(20*time.Second))

	inputs := []models.ArtifactRef{models.Source(in)}

	stale, err := newOracle(t).IsStale(inputs, []models.ArtifactRef{models.StampDir(stampDir)})
	require.NoError(t, err)
	assert.False(t, stale, "scratch/Foo.c masks the older glue file")

	stale, err = newOracle(t).IsStale(inputs, []models.ArtifactRef{models.StampDir(stampDir, "scratch/*")})
	require.NoError(t, err)
	assert.True(t, stale)

	stale, err = newOracle(t, "*.c").IsStale(inputs, []models.ArtifactRef{models.StampDir(stampDir)})
	require.NoError(t, err)
	assert.True(t, stale, "oracle-wide pattern applies to base names")
}

func TestTouchingStampDirItselfMakesItFresh(t *testing.T) {
	dir := t.TempDir()
	stampDir := filepath.Join(dir, "include")
	writeAt(t, filepath.Join(stampDir, "Foo.h"), base)
	setDirTime(t, stampDir, base)
	in := writeAt(t, filepath.Join(dir, "hierarchy.json"), base.Add(time.Minute))

	o := newOracle(t)
	inputs := []models.ArtifactRef{models.Source(in)}
	outputs := []models.ArtifactRef{models.StampDir(stampDir)}

	stale, err := o.IsStale(inputs, outputs)
	require.NoError(t, err)
	require.True(t, stale)

	setDirTime(t, stampDir, base.Add(2*time.Minute))
	o.Invalidate(stampDir)

	stale, err = o.IsStale(inputs, outputs)
	require.NoError(t, err)
	assert.False(t, stale)

	info, err := os.Stat(filepath.Join(stampDir, "Foo.h"))
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(base), "member file untouched")
}

func TestCacheServesStaleTimestampsUntilInvalidated(t *testing.T) {
	dir := t.TempDir()
	in := writeAt(t, filepath.Join(dir, "a.c"), base.Add(time.Minute))
	out := writeAt(t, filepath.Join(dir, "obj", "a.o"), base)

	o := newOracle(t)
	inputs := []models.ArtifactRef{models.Source(in)}
	outputs := []models.ArtifactRef{models.Object(out)}

	stale, err := o.IsStale(inputs, outputs)
	require.NoError(t, err)
	require.True(t, stale)

	writeAt(t, out, base.Add(2*time.Minute))
	stale, _ = o.IsStale(inputs, outputs)
	assert.True(t, stale, "cached")

	o.Invalidate(filepath.Join(dir, "obj"))
	stale, err = o.IsStale(inputs, outputs)
	require.NoError(t, err)
	assert.False(t, stale)
}

func TestInvalidateAll(t *testing.T) {
	dir := t.TempDir()
	p := writeAt(t, filepath.Join(dir, "x"), base)
	o := newOracle(t)

	ts, ok, err := o.ModTime(models.Source(p))
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, ts.Equal(base))

	writeAt(t, p, base.Add(time.Minute))
	o.InvalidateAll()
	ts, _, _ = o.ModTime(models.Source(p))
	assert.True(t, ts.Equal(base.Add(time.Minute)))
}

func TestStampDirIgnoresLeftoverTempFiles(t *testing.T) {
	dir := t.TempDir()
	in := writeAt(t, filepath.Join(dir, "hierarchy.json"), base.Add(10*time.Second))
	gen := filepath.Join(dir, "include")
	writeAt(t, filepath.Join(gen, "Foo.h"), base)
	writeAt(t, filepath.Join(gen, ".idlforge-tmp-123456"), base.Add(time.Minute))
	setDirTime(t, gen, base)

	v, err := newOracle(t).Explain(
		[]models.ArtifactRef{models.Generated(in)},
		[]models.ArtifactRef{models.StampDir(gen)},
	)
	require.NoError(t, err)
	assert.True(t, v.Stale, "an abandoned temp file does not make the directory fresh")
	assert.Contains(t, v.Reason, "hierarchy.json")
}
