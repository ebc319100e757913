// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package workspace

import (
	"errors"
	"fmt"
)

// ErrorKind classifies workspace failures.
type ErrorKind int

const (
	// KindInvalidPath marks a confinement violation: the path escapes the
	// root via "..", an absolute override, or a symlink.
	KindInvalidPath ErrorKind = iota

	// KindNotFound marks a missing file or directory where one is required.
	KindNotFound

	// KindExists marks an attempt to create a file that already exists.
	KindExists
)

// PathError is a structured workspace failure tied to a client path.
type PathError struct {
	Kind ErrorKind
	Path string
}

func (e *PathError) Error() string {
	switch e.Kind {
	case KindInvalidPath:
		return fmt.Sprintf("invalid path: %s", e.Path)
	case KindNotFound:
		return fmt.Sprintf("not found: %s", e.Path)
	case KindExists:
		return fmt.Sprintf("already exists: %s", e.Path)
	default:
		return fmt.Sprintf("workspace error: %s", e.Path)
	}
}

// IsInvalidPath reports whether err is a confinement violation.
func IsInvalidPath(err error) bool {
	return hasKind(err, KindInvalidPath)
}

// IsNotFound reports whether err marks a missing file or directory.
func IsNotFound(err error) bool {
	return hasKind(err, KindNotFound)
}

// IsExists reports whether err marks a create on an existing file.
func IsExists(err error) bool {
	return hasKind(err, KindExists)
}

func hasKind(err error, kind ErrorKind) bool {
	var pe *PathError
	return errors.As(err, &pe) && pe.Kind == kind
}
