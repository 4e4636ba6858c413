package toolchain

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/idlforge/internal/apperr"
	"github.com/starford/idlforge/internal/linker"
)

func TestCompileArgs(t *testing.T) {
	args := CompileArgs(CompileRequest{
		Source:      "a.c",
		Object:      "obj/a.o",
		Flags:       []string{"-O2", "-fPIC"},
		IncludeDirs: []string{"inc", "autogen/include"},
	})
	assert.Equal(t, []string{"-c", "-O2", "-fPIC", "-Iinc", "-Iautogen/include", "-o", "obj/a.o", "a.c"}, args)
}

func TestCompile_FailureRemovesObject(t *testing.T) {
	dir := t.TempDir()
	obj := filepath.Join(dir, "obj", "a.o")
	require.NoError(t, os.MkdirAll(filepath.Dir(obj), 0o755))
	require.NoError(t, os.WriteFile(obj, []byte("partial"), 0o644))

	x := NewExec(filepath.Join(dir, "no-such-cc"), dir, nil)
	_, err := x.Compile(context.Background(), CompileRequest{Source: "a.c", Object: obj})
	require.ErrorIs(t, err, apperr.ErrCompile)

	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "a.c", ce.Source)
	assert.NoFileExists(t, obj)
}

func TestRun(t *testing.T) {
	if _, err := exec.LookPath("true"); err != nil {
		t.Skip("true not available")
	}
	x := NewExec("", t.TempDir(), nil)
	require.NoError(t, x.Run(context.Background(), linker.Invocation{Program: "true"}))

	err := x.Run(context.Background(), linker.Invocation{Program: ""})
	require.ErrorIs(t, err, apperr.ErrLink)
}
