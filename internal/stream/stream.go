// Package stream is the Tail Streamer (spec.md C6): it writes the exact
// reply-header byte shape and moves cached bytes to the client, either in
// one pass (Complete) or by polling a still-growing file and sending each
// newly-appeared chunk as it lands (Growing). The teacher has no
// equivalent collaborator — NZB downloads never re-serve bytes to a
// client socket — so this package is grounded on the raw-fd access
// pattern in dsmmcken-dh-cli's uffd_linux.go rather than on any
// datallboy-GoNZB file; see DESIGN.md.
package stream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/flexo-cache/flexo/internal/cacheobj"
)

// pollInterval matches cacheobj.PollInterval: the Growing loop stats the
// file at the same 500µs cadence WaitForSize polls the size attribute.
const pollInterval = cacheobj.PollInterval

// WriteSimple sends a header-only reply with no body: used for the
// proxy's error paths (400, 403, 404, 500) and the bare 200 of /status.
func WriteSimple(conn net.Conn, status int) error {
	return writeHeader(conn, replyHeader{status: status, contentLength: 0})
}

// WriteRedirect sends a 301 pointing at location, used for the
// Uncacheable schedule outcome (spec.md §4.5: never cached, proxied
// straight through via redirect rather than re-streamed).
func WriteRedirect(conn net.Conn, location string) error {
	return writeHeader(conn, replyHeader{status: http.StatusMovedPermanently, location: location, contentLength: 0})
}

// ServeComplete streams an already-fully-downloaded cache object. total
// is the object's full size; resumeFrom is the client's requested Range
// start (0 for a plain GET).
func ServeComplete(conn *net.TCPConn, f *os.File, resumeFrom, total uint64) error {
	if resumeFrom > total {
		return WriteSimple(conn, http.StatusRequestedRangeNotSatisfiable)
	}

	remaining := total - resumeFrom
	h := replyHeader{status: http.StatusOK, contentLength: int64(remaining)}
	if resumeFrom > 0 {
		h.status = http.StatusPartialContent
		h.hasRange = true
		h.rangeStart, h.rangeEnd, h.rangeTotal = int64(resumeFrom), int64(total)-1, int64(total)
	}
	if err := writeHeader(conn, h); err != nil {
		return err
	}
	if remaining == 0 {
		return nil
	}

	_, err := transferFile(conn, f, int64(resumeFrom), int64(remaining))
	return ignoreBrokenPipe(err)
}

// ServeGrowing streams a cache object that may still be receiving bytes
// from the Download Worker. total is the full content length the caller
// already resolved (either from the first JobSize message of a freshly
// Scheduled job, or from cacheobj.WaitForSize for a job already in
// progress); resumeFrom is the client's Range start.
//
// The loop here never reads the worker's progress channel: spec.md's
// Growing mode is driven entirely by watching the file grow on disk, so
// a stalled or failed worker simply stops producing bytes and the
// client's connection eventually stalls out on its own read timeout
// (spec.md §7, "already-streaming subscribers ... eventually time out").
func ServeGrowing(ctx context.Context, conn *net.TCPConn, f *os.File, total, resumeFrom uint64) error {
	if resumeFrom > total {
		return WriteSimple(conn, http.StatusRequestedRangeNotSatisfiable)
	}

	remaining := total - resumeFrom
	h := replyHeader{status: http.StatusOK, contentLength: int64(remaining)}
	if resumeFrom > 0 {
		h.status = http.StatusPartialContent
		h.hasRange = true
		h.rangeStart, h.rangeEnd, h.rangeTotal = int64(resumeFrom), int64(total)-1, int64(total)
	}
	if err := writeHeader(conn, h); err != nil {
		return err
	}

	target := resumeFrom + remaining
	sent := resumeFrom
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for sent < target {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		fi, err := f.Stat()
		if err != nil {
			return fmt.Errorf("stream: stat cache object: %w", err)
		}
		onDisk := uint64(fi.Size())
		if onDisk <= sent {
			continue
		}

		want := onDisk
		if want > target {
			want = target
		}

		n, err := transferFile(conn, f, int64(sent), int64(want-sent))
		sent += uint64(n)
		if err != nil {
			return ignoreBrokenPipe(err)
		}
	}
	return nil
}

// ignoreBrokenPipe treats a client hanging up mid-transfer as a normal,
// unlogged outcome rather than an error worth surfacing up the stack.
func ignoreBrokenPipe(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET) {
		return nil
	}
	return err
}

type replyHeader struct {
	status        int
	contentLength int64
	hasRange      bool
	rangeStart    int64
	rangeEnd      int64
	rangeTotal    int64
	location      string
}

// writeHeader renders the reply status line and headers in the exact
// ASCII/CRLF shape spec.md §6 requires and writes them straight to the
// socket, ahead of (or instead of) any sendfile'd body.
func writeHeader(conn net.Conn, h replyHeader) error {
	var b strings.Builder
	fmt.Fprintf(&b, "HTTP/1.1 %d %s\r\n", h.status, http.StatusText(h.status))
	b.WriteString("Server: flexo\r\n")
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123))
	b.WriteString("Connection: keep-alive\r\n")
	if h.location != "" {
		fmt.Fprintf(&b, "Location: %s\r\n", h.location)
	}
	if h.hasRange {
		fmt.Fprintf(&b, "Content-Range: bytes %d-%d/%d\r\n", h.rangeStart, h.rangeEnd, h.rangeTotal)
	}
	fmt.Fprintf(&b, "Content-Length: %d\r\n", h.contentLength)
	b.WriteString("\r\n")

	_, err := conn.Write([]byte(b.String()))
	return err
}
