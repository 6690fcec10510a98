package csr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrPathNotFound is matched by every *PathError.
	ErrPathNotFound = errors.New("path not found")

	// ErrSchemaMismatch is returned while building a Map or Client from a
	// description it cannot use. Nothing is built in that case.
	ErrSchemaMismatch = errors.New("schema mismatch")

	// ErrNotRegister is returned when a register operation is applied to a window or partial name.
	ErrNotRegister = errors.New("not a register")

	// ErrUnbound is returned for register access on a Map that has no Client.
	ErrUnbound = errors.New("map is not bound to a bus client")
)

// PathError reports a name path that does not resolve.
type PathError struct {
	Path []string
}

func (e *PathError) Error() string {
	return fmt.Sprintf("%s: %v", FormatPath(e.Path), ErrPathNotFound)
}

func (e *PathError) Is(target error) bool { return target == ErrPathNotFound }

// FormatPath joins path segments with dots; the root is "*".
func FormatPath(path []string) string {
	if len(path) == 0 {
		return "*"
	}
	return strings.Join(path, ".")
}

// ParsePath splits a dotted register name into segments.
func ParsePath(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ".")
}
