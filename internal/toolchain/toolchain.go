// Package toolchain runs the native C compiler and linker.
package toolchain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/starford/idlforge/internal/apperr"
	"github.com/starford/idlforge/internal/linker"
)

// CompileRequest describes one translation unit.
type CompileRequest struct {
	Source      string
	Object      string
	Flags       []string
	IncludeDirs []string
}

// Toolchain compiles sources and runs link invocations.
type Toolchain interface {
	// Compile builds req.Source into req.Object and returns the object
	// path. A failed compile leaves no object behind.
	Compile(ctx context.Context, req CompileRequest) (string, error)

	// Run executes one invocation produced by a link adapter.
	Run(ctx context.Context, inv linker.Invocation) error
}

// CompileError carries the compiler's diagnostics.
type CompileError struct {
	Source string
	Output string
	Err    error
}

func (e *CompileError) Error() string {
	msg := fmt.Sprintf("compile %s: %v", e.Source, e.Err)
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += "\n" + out
	}
	return msg
}

func (e *CompileError) Unwrap() []error { return []error{apperr.ErrCompile, e.Err} }

// LinkError carries the linker's diagnostics.
type LinkError struct {
	Program string
	Output  string
	Err     error
}

func (e *LinkError) Error() string {
	msg := fmt.Sprintf("link (%s): %v", e.Program, e.Err)
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += "\n" + out
	}
	return msg
}

func (e *LinkError) Unwrap() []error { return []error{apperr.ErrLink, e.Err} }

// Exec shells out to a cc-compatible compiler.
type Exec struct {
	CC     string
	Dir    string
	Logger *slog.Logger
}

// NewExec returns an Exec using cc, or "cc" when empty.
func NewExec(cc, dir string, logger *slog.Logger) *Exec {
	if cc == "" {
		cc = "cc"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Exec{CC: cc, Dir: dir, Logger: logger}
}

// CompileArgs returns the argument list for req, without the program.
func CompileArgs(req CompileRequest) []string {
	args := make([]string, 0, len(req.Flags)+2*len(req.IncludeDirs)+4)
	args = append(args, "-c")
	args = append(args, req.Flags...)
	for _, dir := range req.IncludeDirs {
		args = append(args, "-I"+dir)
	}
	return append(args, "-o", req.Object, req.Source)
}

// Compile implements Toolchain.
func (x *Exec) Compile(ctx context.Context, req CompileRequest) (string, error) {
	if err := os.MkdirAll(filepath.Dir(req.Object), 0o755); err != nil {
		return "", fmt.Errorf("toolchain: %w", err)
	}
	args := CompileArgs(req)
	x.Logger.Debug("toolchain: compile", slog.String("source", req.Source), slog.String("cmd", x.CC+" "+strings.Join(args, " ")))
	out, err := x.run(ctx, x.CC, args)
	if err != nil {
		_ = os.Remove(req.Object)
		return "", &CompileError{Source: req.Source, Output: out, Err: err}
	}
	return req.Object, nil
}

// Run implements Toolchain.
func (x *Exec) Run(ctx context.Context, inv linker.Invocation) error {
	x.Logger.Debug("toolchain: run", slog.String("cmd", inv.Program+" "+strings.Join(inv.Args, " ")))
	out, err := x.run(ctx, inv.Program, inv.Args)
	if err != nil {
		return &LinkError{Program: inv.Program, Output: out, Err: err}
	}
	return nil
}

func (x *Exec) run(ctx context.Context, program string, args []string) (string, error) {
	if program == "" {
		return "", errors.New("empty program")
	}
	cmd := exec.CommandContext(ctx, program, args...)
	cmd.Dir = x.Dir
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	return buf.String(), err
}
