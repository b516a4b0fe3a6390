// Package domain holds the plain value types shared across the cache
// proxy: the request Order, Provider descriptions, progress messages and
// scheduling outcomes. None of these types carry behavior beyond small
// value-object helpers.
package domain

import (
	"errors"
	"path"
	"strings"
)

// ErrInvalidPath is returned when a requested path escapes the cache root
// or otherwise fails normalization.
var ErrInvalidPath = errors.New("domain: invalid request path")

// Order is an immutable request for one cached object.
type Order struct {
	Path       string
	ResumeFrom uint64
}

// NewOrder validates path and builds an Order. path must be a plain,
// rooted path with no ".." or empty segments.
func NewOrder(reqPath string, resumeFrom uint64) (Order, error) {
	if !ValidPath(reqPath) {
		return Order{}, ErrInvalidPath
	}
	return Order{Path: reqPath, ResumeFrom: resumeFrom}, nil
}

// ValidPath reports whether reqPath is safe to join under a cache root:
// it must start with "/", contain only plain segments, and never
// reference a parent directory.
func ValidPath(reqPath string) bool {
	if reqPath == "" || !strings.HasPrefix(reqPath, "/") {
		return false
	}
	if strings.Contains(reqPath, "\x00") {
		return false
	}
	// path.Clean collapses "..", ".", and "//" segments; a path that
	// survives unchanged had only plain segments to begin with.
	return path.Clean(reqPath) == reqPath && reqPath != "/"
}
