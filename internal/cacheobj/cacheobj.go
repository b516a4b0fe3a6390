// Package cacheobj is the Cache Inspector: pure, synchronous reads of
// on-disk object state. It holds no state of its own beyond the
// filesystem and the xattr values attached to each cache file.
package cacheobj

import (
	"os"
	"strconv"
	"time"

	"github.com/pkg/xattr"
)

// Attribute names persisted on each cache file. ContentLengthAttr mirrors
// spec.md's "user.content_length"; the validator attributes are opaque
// to the rest of the core and simply round-tripped from upstream.
const (
	ContentLengthAttr = "user.content_length"
	ETagAttr          = "user.etag"
	LastModifiedAttr  = "user.last_modified"
)

// PollInterval is the tick used by WaitForSize while polling for the
// content_length attribute to appear.
const PollInterval = 500 * time.Microsecond

// DefaultWaitTimeout is the default budget for WaitForSize, per spec.md
// §4.1.
const DefaultWaitTimeout = 2 * time.Second

// Kind enumerates the possible classifications of a cache object.
type Kind int

const (
	// Missing: no file exists at path.
	Missing Kind = iota
	// Complete: file size on disk equals the content_length attribute.
	Complete
	// Partial: content_length is known but differs from the disk size.
	Partial
	// Sizeless: the file exists but content_length has not been set yet.
	Sizeless
)

// Status is the result of Classify.
type Status struct {
	Kind Kind
	// Size is the authoritative full size. Valid for Complete and
	// Partial (where it is the eventual full size, not the size on
	// disk).
	Size uint64
	// BytesOnDisk is the file's current length on disk. Valid for
	// Complete, Partial and Sizeless.
	BytesOnDisk uint64
}

// Classify inspects the cache file at path and reports whether it is
// complete, partial, sizeless, or missing. Attribute decode errors
// (non-UTF-8, non-integer) are treated as "absent", never as hard
// failures.
func Classify(path string) (Status, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return Status{Kind: Missing}, nil
	}
	if err != nil {
		return Status{}, err
	}

	onDisk := uint64(info.Size())
	size, ok := ReadContentLength(path)
	if !ok {
		return Status{Kind: Sizeless, BytesOnDisk: onDisk}, nil
	}
	if onDisk == size {
		return Status{Kind: Complete, Size: size, BytesOnDisk: onDisk}, nil
	}
	return Status{Kind: Partial, Size: size, BytesOnDisk: onDisk}, nil
}

// ReadContentLength decodes the content_length attribute. A missing or
// malformed attribute reports ok == false rather than an error.
func ReadContentLength(path string) (value uint64, ok bool) {
	raw, err := xattr.Get(path, ContentLengthAttr)
	if err != nil {
		return 0, false
	}
	n, err := strconv.ParseUint(string(raw), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// SetContentLength persists the authoritative full size for path. The
// worker calls this as soon as an upstream response yields a definitive
// size, before any payload bytes are written; a retry against another
// provider calls it again and overwrites the value.
func SetContentLength(path string, size uint64) error {
	return xattr.Set(path, ContentLengthAttr, []byte(strconv.FormatUint(size, 10)))
}

// SetValidator persists an opaque upstream validator (ETag or
// Last-Modified) mirrored from the remote response. Core code never
// interprets the value.
func SetValidator(path, attr, value string) error {
	if value == "" {
		return nil
	}
	return xattr.Set(path, attr, []byte(value))
}

// WaitForSize polls the content_length attribute every PollInterval up
// to timeout, returning the decoded value on first success. It exists
// for the race at the birth of a Job: a caller that observed
// "AlreadyInProgress" may query the attribute before the worker has
// published JobSize over the subscriber channel.
func WaitForSize(path string, timeout time.Duration) (uint64, bool) {
	deadline := time.Now().Add(timeout)
	for {
		if size, ok := ReadContentLength(path); ok {
			return size, true
		}
		if time.Now().After(deadline) {
			return 0, false
		}
		time.Sleep(PollInterval)
	}
}
