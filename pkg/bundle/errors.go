package bundle

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotABinary        = errors.New("not a binary")
	ErrMissingDependency = errors.New("missing dependency")
	ErrRewriteFailed     = errors.New("rewrite failed")
	ErrCyclicDependency  = errors.New("cyclic dependency")
)

// NotABinaryError is returned when the dependency list of a binary can't be read.
type NotABinaryError struct {
	Binary string
	Err    error
}

func (e *NotABinaryError) Error() string {
	return fmt.Sprintf("error getting dependencies for '%s': %v", e.Binary, e.Err)
}

func (e *NotABinaryError) Unwrap() error { return e.Err }

func (e *NotABinaryError) Is(target error) bool { return target == ErrNotABinary }

// MissingDependencyError is returned when a referenced library does not exist on disk.
type MissingDependencyError struct {
	Binary    string
	Reference string
	Path      string
}

func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("dependency '%s' of '%s' does not exist (referenced as '%s')", e.Path, e.Binary, e.Reference)
}

func (e *MissingDependencyError) Is(target error) bool { return target == ErrMissingDependency }

// RewriteFailedError is returned when a binary could not be patched. Find is
// empty when the binary's own location was being set.
type RewriteFailedError struct {
	Binary  string
	Find    string
	Replace string
	Err     error
}

func (e *RewriteFailedError) Error() string {
	if e.Find == "" {
		return fmt.Sprintf("error setting library location to '%s' for '%s': %v", e.Replace, e.Binary, e.Err)
	}
	return fmt.Sprintf("error replacing dependency '%s' with '%s' in '%s': %v", e.Find, e.Replace, e.Binary, e.Err)
}

func (e *RewriteFailedError) Unwrap() error { return e.Err }

func (e *RewriteFailedError) Is(target error) bool { return target == ErrRewriteFailed }

// CyclicDependencyError is returned when a copied library is reached again
// while its own dependencies are still being resolved.
type CyclicDependencyError struct {
	// Chain lists the in-flight destinations, ending with the one reached twice.
	Chain []string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("cyclic dependency: %s", strings.Join(e.Chain, " -> "))
}

func (e *CyclicDependencyError) Is(target error) bool { return target == ErrCyclicDependency }
