// Package apperr holds the sentinel errors shared across the build pipeline.
package apperr

import "errors"

var (
	// ErrMissingInput is returned when a declared stage input does not exist.
	ErrMissingInput = errors.New("missing input")
	// ErrParse wraps IDL parse failures from the hierarchy compiler.
	ErrParse = errors.New("parse error")
	// ErrCompile wraps toolchain compile failures.
	ErrCompile = errors.New("compile error")
	// ErrLink wraps toolchain link failures.
	ErrLink = errors.New("link error")
	// ErrDuplicateParameter is returned when a parameter name is added twice.
	ErrDuplicateParameter = errors.New("duplicate parameter")
	// ErrIncomplete is returned when a stage ran but its outputs are still stale.
	ErrIncomplete = errors.New("stage outputs incomplete")
	// ErrUnknownPlatform is returned for a platform id with no link adapter.
	ErrUnknownPlatform = errors.New("unknown platform")
	// ErrBuildInProgress is returned when a build is requested while one is running.
	ErrBuildInProgress = errors.New("build in progress")
)
