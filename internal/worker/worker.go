// Package worker is the Download Worker (C3): it drives one upstream
// fetch against the Provider Pool, writes the partial cache file, and
// publishes progress to the owning Job.
//
// Grounded on internal/downloader/worker.go's processSegment
// (fetch -> write -> report pipeline, retry/backoff shape) and
// internal/nntp/provider.go's connect/authenticate/fetch lifecycle,
// replumbed from NNTP's BODY command onto net/http GET with Range
// support. File writes reuse internal/downloader/file_writer.go's
// single-*os.File/WriteAt idiom.
package worker

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/flexo-cache/flexo/internal/cacheobj"
	"github.com/flexo-cache/flexo/internal/domain"
	"github.com/flexo-cache/flexo/internal/infra/logger"
	"github.com/flexo-cache/flexo/internal/provider"
)

// Publisher is the contract a Job satisfies for the worker to report
// progress through.
type Publisher interface {
	PublishSize(remaining uint64)
	PublishTerminal(kind domain.ProgressKind)
}

// chunkSize bounds a single read-from-upstream/write-to-disk pass.
const chunkSize = 256 * 1024

// Config carries the pieces of the worker that are shared across every
// download: the HTTP client (and therefore its connection pool), the
// cache root, and the low-speed guard's parameters.
type Config struct {
	CacheDir       string
	Client         *http.Client
	LowSpeedLimit  int64 // bytes/sec; 0 disables the guard
	LowSpeedWindow time.Duration
}

// Run drives one Job to a terminal state. It always calls
// pub.PublishTerminal exactly once before returning.
func Run(ctx context.Context, order domain.Order, pool *provider.Pool, pub Publisher, cfg Config, log *logger.Logger) {
	abs := filepath.Join(cfg.CacheDir, filepath.FromSlash(order.Path))

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		log.Error("worker: mkdir for %s: %v", order.Path, err)
		pub.PublishTerminal(domain.ProgressFailed)
		return
	}

	f, err := os.OpenFile(abs, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		log.Error("worker: open %s: %v", abs, err)
		pub.PublishTerminal(domain.ProgressFailed)
		return
	}
	defer f.Close()

	startOffset := resumeOffset(abs, order.ResumeFrom)
	if startOffset == 0 {
		// Fresh start: discard any stale partial bytes so the file's
		// on-disk length stays a faithful progress signal for tailers.
		if err := f.Truncate(0); err != nil {
			log.Error("worker: truncate %s: %v", abs, err)
			pub.PublishTerminal(domain.ProgressFailed)
			return
		}
	}

	// Snapshot the rotation up front: RotateOnFailure moves the pool's
	// current index, so walking Next(attempt) live would skip providers.
	attempts := pool.Len()
	candidates := make([]domain.Provider, attempts)
	for i := range candidates {
		candidates[i] = pool.Next(i)
	}
	for attempt := 0; attempt < attempts; attempt++ {
		p := candidates[attempt]

		resp, err := fetch(ctx, cfg.Client, p, order.Path, startOffset)
		if err != nil {
			log.Warn("worker: %s unreachable for %s: %v", p.URI, order.Path, err)
			pool.RotateOnFailure(p.URI)
			continue
		}

		done, terminal := handleResponse(ctx, resp, f, abs, startOffset, order.ResumeFrom, cfg, log, pub, order.Path)
		if !done {
			pool.RotateOnFailure(p.URI)
			continue
		}
		pub.PublishTerminal(terminal)
		return
	}

	log.Error("worker: exhausted %d provider(s) for %s", attempts, order.Path)
	pub.PublishTerminal(domain.ProgressFailed)
}

// resumeOffset decides whether to trust the caller's resume_from: only
// when it matches the bytes the cache already has on disk, per this
// project's decision (DESIGN.md) that auto-resume is never silently
// inferred, only honored when it lines up with an explicit client ask.
func resumeOffset(abs string, requested uint64) uint64 {
	if requested == 0 {
		return 0
	}
	status, err := cacheobj.Classify(abs)
	if err != nil || status.Kind != cacheobj.Partial {
		return 0
	}
	if status.BytesOnDisk != requested {
		return 0
	}
	return requested
}

func fetch(ctx context.Context, client *http.Client, p domain.Provider, path string, offset uint64) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URI+path, nil)
	if err != nil {
		return nil, err
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}
	return client.Do(req)
}

// handleResponse classifies the upstream reply and, for a successful
// fetch, streams the body. done reports whether the worker should stop
// trying providers (true) or rotate and retry (false); when done is
// true, terminal is the progress kind to publish. The published JobSize
// counts from resumeFrom, the order's own resume offset, even when the
// worker restarted the download at offset 0.
func handleResponse(ctx context.Context, resp *http.Response, f *os.File, abs string, startOffset, resumeFrom uint64, cfg Config, log *logger.Logger, pub Publisher, path string) (done bool, terminal domain.ProgressKind) {
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return true, domain.ProgressUnavailable

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return true, domain.ProgressOrderError

	case resp.StatusCode >= 500:
		return false, 0

	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusPartialContent:
		if resp.ContentLength < 0 {
			log.Error("worker: %s: upstream omitted Content-Length", path)
			return true, domain.ProgressOrderError
		}

		remaining := uint64(resp.ContentLength)
		fullSize := startOffset + remaining

		if err := cacheobj.SetContentLength(abs, fullSize); err != nil {
			log.Error("worker: %s: set content_length: %v", path, err)
			return true, domain.ProgressFailed
		}
		_ = cacheobj.SetValidator(abs, cacheobj.ETagAttr, resp.Header.Get("ETag"))
		_ = cacheobj.SetValidator(abs, cacheobj.LastModifiedAttr, resp.Header.Get("Last-Modified"))

		var announced uint64
		if fullSize > resumeFrom {
			announced = fullSize - resumeFrom
		}
		pub.PublishSize(announced)

		written, err := streamBody(ctx, f, resp.Body, startOffset, cfg.LowSpeedLimit, cfg.LowSpeedWindow)
		if err != nil {
			log.Warn("worker: %s: stream failed after %s: %v", path, humanize.Bytes(uint64(written)), err)
			if written > 0 {
				// Subscribers are already tailing; switching providers
				// now would desync their view of the file.
				return true, domain.ProgressFailed
			}
			return false, 0
		}

		return true, domain.ProgressCompleted

	default:
		return true, domain.ProgressOrderError
	}
}

// streamBody copies resp.Body into f starting at startOffset, enforcing
// the low-speed guard, and returns the number of bytes actually written
// before any error (including context cancellation).
func streamBody(ctx context.Context, f *os.File, body io.Reader, startOffset uint64, lowSpeedLimit int64, lowSpeedWindow time.Duration) (int64, error) {
	guard := newLowSpeedGuard(lowSpeedLimit, lowSpeedWindow)
	buf := make([]byte, chunkSize)
	offset := int64(startOffset)
	var written int64

	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		n, readErr := body.Read(buf)
		if n > 0 {
			if _, err := f.WriteAt(buf[:n], offset); err != nil {
				return written, err
			}
			offset += int64(n)
			written += int64(n)

			if err := guard.observe(int64(n)); err != nil {
				return written, err
			}
		}
		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, readErr
		}
	}
}
