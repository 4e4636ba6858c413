package emit

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/idlforge/internal/apperr"
	"github.com/starford/idlforge/internal/hierarchy"
	"github.com/starford/idlforge/internal/storage"
)

func strp(s string) *string { return &s }

func demoModel() *hierarchy.Model {
	return &hierarchy.Model{
		Parcel: "Demo",
		Classes: []hierarchy.Class{
			{Name: "Core::Obj", File: "Obj.cfh", Included: true},
			{
				Name:   "Demo::Foo",
				Parent: "Core::Obj",
				File:   "Foo.cfh",
				Methods: []hierarchy.Method{
					{Name: "size", ReturnType: "int", Params: []hierarchy.Param{{Type: "Foo*", Name: "self"}}},
					{
						Name:       "grow",
						ReturnType: "void",
						Abstract:   true,
						Params: []hierarchy.Param{
							{Type: "Foo*", Name: "self"},
							{Type: "int", Name: "by", Default: strp("1")},
						},
					},
					{Name: "log", ReturnType: "void", Variadic: true, Inert: true, Params: []hierarchy.Param{{Type: "const char*", Name: "fmt"}}},
				},
			},
		},
	}
}

func newStore(t *testing.T) (string, storage.Provider) {
	t.Helper()
	root := t.TempDir()
	store, err := storage.NewFS(root)
	require.NoError(t, err)
	return root, store
}

func TestCoreWriter_WritesHeadersAndSources(t *testing.T) {
	root, store := newStore(t)
	w := NewCoreWriter(store, filepath.Join(root, "include"), filepath.Join(root, "source"))

	changed, err := w.WriteAllModified(demoModel(), "/* header */", "/* footer */")
	require.NoError(t, err)
	assert.True(t, changed)

	h, err := os.ReadFile(filepath.Join(root, "include", "Demo_Foo.h"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(h), "/* header */\n"))
	assert.Contains(t, string(h), "int Demo_Foo_size(Foo* self);")
	assert.Contains(t, string(h), "void Demo_Foo_grow(Foo* self, int by);")
	assert.Contains(t, string(h), "void Demo_Foo_log(const char* fmt, ...);")
	assert.NotContains(t, string(h), "Core_Obj.h", "included parents are not generated here")

	assert.FileExists(t, filepath.Join(root, "include", "demo_parcel.h"))
	assert.FileExists(t, filepath.Join(root, "source", "Demo_Foo.c"))
	assert.NoFileExists(t, filepath.Join(root, "source", "Core_Obj.c"))
}

func TestCoreWriter_UnchangedModelKeepsFiles(t *testing.T) {
	root, store := newStore(t)
	w := NewCoreWriter(store, filepath.Join(root, "include"), filepath.Join(root, "source"))
	_, err := w.WriteAllModified(demoModel(), "", "")
	require.NoError(t, err)

	src := filepath.Join(root, "source", "Demo_Foo.c")
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(src, old, old))

	changed, err := w.WriteAllModified(demoModel(), "", "")
	require.NoError(t, err)
	assert.False(t, changed)
	info, err := os.Stat(src)
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(old), "identical content must not be rewritten")
}

func TestCoreWriter_DuplicateParameter(t *testing.T) {
	root, store := newStore(t)
	m := demoModel()
	m.Classes[1].Methods[0].Params = append(m.Classes[1].Methods[0].Params, hierarchy.Param{Type: "int", Name: "self"})

	_, err := NewCoreWriter(store, filepath.Join(root, "i"), filepath.Join(root, "s")).WriteAllModified(m, "", "")
	require.ErrorIs(t, err, apperr.ErrDuplicateParameter)
}

func TestRegistry(t *testing.T) {
	r := Builtins(BuiltinOptions{})
	assert.Equal(t, []string{GenBindings, GenBoot, GenCallbacks, GenDocs, GenHostDefs, GenTypemap}, r.Names())

	err := r.Register(bootGen{})
	require.Error(t, err)

	gens, err := r.Select([]string{GenBoot, GenBindings})
	require.NoError(t, err)
	require.Len(t, gens, 2)
	assert.Equal(t, GenBoot, gens[0].Name())

	_, err = r.Select([]string{"nope"})
	require.Error(t, err)
}

func TestHostEmitter_WriteAllModified(t *testing.T) {
	root, store := newStore(t)
	extra := filepath.Join(root, "my.typemap")
	require.NoError(t, os.WriteFile(extra, []byte("# comment\nsize_t\tT_UV\n"), 0o644))

	r := Builtins(BuiltinOptions{Typemap: extra})
	gens, err := r.Select(append(DefaultGenerators, GenDocs))
	require.NoError(t, err)
	dir := filepath.Join(root, "host")
	h := NewHostEmitter(store, dir, "Demo", gens)
	assert.Equal(t, []string{extra}, h.Inputs())

	changed, paths, err := h.WriteAllModified(demoModel(), "/* h */", "")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Contains(t, paths, filepath.Join(dir, "Demo.glue"))
	assert.Contains(t, paths, filepath.Join(dir, "docs", "Demo_Foo.txt"))

	glue, err := os.ReadFile(filepath.Join(dir, "Demo.glue"))
	require.NoError(t, err)
	assert.Contains(t, string(glue), "METHOD grow Demo_Foo_grow(self, by)\n")
	assert.Contains(t, string(glue), "DEFAULT Demo_Foo_grow by 1\n")

	cb, err := os.ReadFile(filepath.Join(dir, "demo_callbacks.h"))
	require.NoError(t, err)
	assert.Contains(t, string(cb), "void Demo_Foo_grow_OVERRIDE(Foo* self, int by);")
	assert.NotContains(t, string(cb), "Demo_Foo_size_OVERRIDE")

	tm, err := os.ReadFile(filepath.Join(dir, "typemap"))
	require.NoError(t, err)
	assert.Contains(t, string(tm), "Demo_Foo*\tIDLFORGE_OBJ\n")
	assert.Contains(t, string(tm), "size_t\tT_UV\n")

	changed, _, err = h.WriteAllModified(demoModel(), "/* h */", "")
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestHostEmitter_SingleGenerator(t *testing.T) {
	root, store := newStore(t)
	gens, err := Builtins(BuiltinOptions{}).Select([]string{GenBoot})
	require.NoError(t, err)
	h := NewHostEmitter(store, filepath.Join(root, "host"), "Demo", gens)

	paths, err := h.WriteBoot(demoModel(), "", "")
	require.NoError(t, err)
	require.Len(t, paths, 1)
	data, err := os.ReadFile(paths[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), "void boot_Demo(void);")

	_, err = h.WriteDocs(demoModel(), "", "")
	require.Error(t, err, "docs generator is not enabled")
}

func TestLineTranspiler(t *testing.T) {
	root, store := newStore(t)
	gens, err := Builtins(BuiltinOptions{}).Select([]string{GenBindings})
	require.NoError(t, err)
	dir := filepath.Join(root, "host")
	_, err = NewHostEmitter(store, dir, "Demo", gens).WriteBindings(demoModel(), "", "")
	require.NoError(t, err)

	tr := NewLineTranspiler(store, "/* gen */", "")
	out := filepath.Join(root, "glue", "Demo.c")
	changed, err := tr.Transpile(filepath.Join(dir, "Demo.glue"), out)
	require.NoError(t, err)
	assert.True(t, changed)

	c, err := os.ReadFile(out)
	require.NoError(t, err)
	s := string(c)
	assert.Contains(t, s, "#line 1 \"Demo.glue\"")
	assert.Contains(t, s, "#include \"demo_parcel.h\"")
	assert.Contains(t, s, `{"Demo::Foo", "grow", "Demo_Foo_grow", "self, by"},`)
	assert.Contains(t, s, `{"Demo_Foo_grow", "by", "1"},`)
	assert.Contains(t, s, "void boot_Demo(void) {")

	changed, err = tr.Transpile(filepath.Join(dir, "Demo.glue"), out)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestLineTranspiler_BadDirective(t *testing.T) {
	root, store := newStore(t)
	glue := filepath.Join(root, "x.glue")
	require.NoError(t, os.WriteFile(glue, []byte("MODULE X\nFROB y\n"), 0o644))

	_, err := NewLineTranspiler(store, "", "").Transpile(glue, filepath.Join(root, "x.c"))
	require.ErrorIs(t, err, apperr.ErrParse)
	assert.Contains(t, err.Error(), "x.glue:2")
}
