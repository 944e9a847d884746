package domain

import (
	"errors"
	"fmt"
)

// ErrLoadFailure matches every *LoadError.
var ErrLoadFailure = errors.New("binary could not be loaded")

// LoadError reports a binary that could not be opened or whose metadata is
// malformed. The run skips such binaries.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrLoadFailure) true.
func (e *LoadError) Is(target error) bool { return target == ErrLoadFailure }

// TypeLoadError reports a type whose metadata could not be materialized
// after its binary loaded. It aborts the run.
type TypeLoadError struct {
	Binary string
	Type   string
	Err    error
}

func (e *TypeLoadError) Error() string {
	switch {
	case e.Binary != "" && e.Type != "":
		return fmt.Sprintf("could not load type %s from %s: %v", e.Type, e.Binary, e.Err)
	case e.Type != "":
		return fmt.Sprintf("could not load type %s: %v", e.Type, e.Err)
	default:
		return fmt.Sprintf("could not load types from %s: %v", e.Binary, e.Err)
	}
}

func (e *TypeLoadError) Unwrap() error { return e.Err }

// FrameworkVersionError reports a binary linked against an unexpected
// version of the test framework. It aborts the run.
type FrameworkVersionError struct {
	Binary    string
	Framework string
	Expected  Version
	Found     Version
}

func (e *FrameworkVersionError) Error() string {
	return fmt.Sprintf("Expected %s version %s, but found %s in %s",
		e.Framework, e.Expected, e.Found, e.Binary)
}
