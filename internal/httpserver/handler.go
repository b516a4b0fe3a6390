package httpserver

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/flexo-cache/flexo/internal/app"
	"github.com/flexo-cache/flexo/internal/cacheobj"
	"github.com/flexo-cache/flexo/internal/domain"
	"github.com/flexo-cache/flexo/internal/infra/logger"
	"github.com/flexo-cache/flexo/internal/stream"
	"github.com/google/uuid"
	"github.com/labstack/echo/v5"
)

// Handler implements the object-fetch and status endpoints.
type Handler struct {
	App *app.Context
}

// subscriberTimeout bounds how long a freshly Scheduled request waits
// for its first progress message before the proxy gives up and replies
// 500 (spec.md §5: "subscriber wait for JobSize, 5s per recv call").
const subscriberTimeout = 5 * time.Second

// clientHeaderTimeout bounds how long a hijacked connection will wait
// for the next request's headers before it is closed, per spec.md §5's
// "client read header timeout 10s".
const clientHeaderTimeout = 10 * time.Second

// rangeHeaderPattern matches the single supported Range shape: an
// open-ended "bytes=N-" resume request. Anything else is rejected as a
// malformed header per spec.md §4.1.
var rangeHeaderPattern = regexp.MustCompile(`^bytes=(\d+)-$`)

// HandleStatus answers the liveness probe with a bare 200, then keeps
// the connection open for whatever request the client sends next.
func (h *Handler) HandleStatus(c *echo.Context) error {
	conn, br, release, err := hijack(c)
	if err != nil {
		return err
	}
	defer release()

	tcp, ok := conn.(*net.TCPConn)
	if !ok {
		return stream.WriteSimple(conn, http.StatusInternalServerError)
	}

	_ = stream.WriteSimple(tcp, http.StatusOK)
	h.serveKeepAlive(tcp, br)
	return nil
}

// HandleObject is the core fetch path: validate the request, dispatch
// through the Scheduler, stream the reply via the Tail Streamer, and
// then keep reading further requests off the same connection until the
// client closes it or an error occurs.
func (h *Handler) HandleObject(c *echo.Context) error {
	req := c.Request()
	cid, _ := c.Get(correlationIDKey).(string)

	conn, br, release, err := hijack(c)
	if err != nil {
		return err
	}
	defer release()

	tcp, ok := conn.(*net.TCPConn)
	if !ok {
		return stream.WriteSimple(conn, http.StatusInternalServerError)
	}

	if h.serveOne(req.Context(), tcp, cid, req.Method, req.URL.Path, req.Header.Get("Range")) {
		h.serveKeepAlive(tcp, br)
	}
	return nil
}

// serveKeepAlive reads further requests off tcp/br until the client
// closes the connection, a header read times out, or a request arrives
// that can't be parsed as HTTP at all. Once echo hijacks a connection,
// net/http's own per-connection request loop is gone for good (it
// returns from conn.serve() the moment Hijack is called), so this is
// what stands in for that loop on every request after the first —
// spec.md §6: "Persistent connections ... are required; the server
// loops reading requests on the same socket until error or client
// close." br is the exact *bufio.Reader echo's server read the first
// request's headers from, so any bytes already buffered for a
// pipelined next request (S2/S3/S4) are not lost.
func (h *Handler) serveKeepAlive(tcp *net.TCPConn, br *bufio.Reader) {
	for {
		_ = tcp.SetReadDeadline(time.Now().Add(clientHeaderTimeout))
		req, err := http.ReadRequest(br)
		if err != nil {
			if !isCleanClose(err) {
				_ = stream.WriteSimple(tcp, http.StatusBadRequest)
			}
			return
		}
		_ = tcp.SetReadDeadline(time.Time{})

		cid := uuid.New().String()

		var keepAlive bool
		if req.URL.Path == "/status" {
			_ = stream.WriteSimple(tcp, http.StatusOK)
			keepAlive = true
		} else {
			keepAlive = h.serveOne(req.Context(), tcp, cid, req.Method, req.URL.Path, req.Header.Get("Range"))
		}
		_ = req.Body.Close()

		if !keepAlive {
			return
		}
	}
}

// isCleanClose reports whether err from reading the next request is
// just the client going away (EOF) or the read timeout firing, neither
// of which warrants a 400 reply — spec.md §7 only asks for one on a
// genuinely malformed request.
func isCleanClose(err error) bool {
	if errors.Is(err, io.EOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// serveOne dispatches a single already-read request and reports
// whether the connection should keep reading further requests.
// Unsupported methods and malformed Range headers close the connection,
// per spec.md §7 grouping them with "malformed request ... then close";
// every other outcome — including the 403/404/500 replies produced once
// the request itself parsed cleanly — keeps it open for the next
// request.
func (h *Handler) serveOne(ctx context.Context, tcp *net.TCPConn, cid, method, path, rangeHeader string) (keepAlive bool) {
	log := h.App.Logger.With(cid)

	if method != http.MethodGet {
		_ = stream.WriteSimple(tcp, http.StatusBadRequest)
		return false
	}

	resumeFrom, ok := parseRange(rangeHeader)
	if !ok {
		_ = stream.WriteSimple(tcp, http.StatusBadRequest)
		return false
	}

	order, err := domain.NewOrder(path, resumeFrom)
	if err != nil {
		_ = stream.WriteSimple(tcp, http.StatusForbidden)
		return true
	}

	outcome, err := h.App.Scheduler.Schedule(ctx, order)
	if err != nil {
		log.Error("httpserver: schedule %s: %v", order.Path, err)
		_ = stream.WriteSimple(tcp, http.StatusInternalServerError)
		return true
	}

	started := time.Now()
	status, bytesServed := h.dispatch(ctx, tcp, order, outcome, log)
	log.Debug("httpserver: %s %s -> %d (%d bytes)", outcome.Kind, order.Path, status, bytesServed)

	if err := h.App.Audit.RecordDispatch(ctx, order.Path, outcome.Kind.String(), outcome.Provider.URI, started, bytesServed); err != nil {
		log.Warn("httpserver: record dispatch for %s: %v", order.Path, err)
	}
	return true
}

// dispatch branches on the schedule outcome and streams the reply,
// returning the status it sent and the payload byte count that reply's
// Content-Length announced, for the audit log. The count is not reduced
// when the client disconnects or the transfer fails part-way.
func (h *Handler) dispatch(ctx context.Context, tcp *net.TCPConn, order domain.Order, outcome domain.ScheduleOutcome, log *logger.Logger) (status int, bytesServed int64) {
	abs := filepath.Join(h.App.Config.CacheDirectory, filepath.FromSlash(order.Path))

	switch outcome.Kind {
	case domain.Cached:
		return h.serveComplete(tcp, order, abs, outcome.CachedSize, log)

	case domain.Uncacheable:
		location := outcome.Provider.URI + order.Path
		_ = stream.WriteRedirect(tcp, location)
		return http.StatusMovedPermanently, 0

	case domain.Scheduled:
		msg, ok := recvWithTimeout(outcome.Subscriber, subscriberTimeout)
		if !ok {
			_ = stream.WriteSimple(tcp, http.StatusInternalServerError)
			return http.StatusInternalServerError, 0
		}
		return h.serveFromFirstMessage(ctx, tcp, order, abs, msg, log)

	case domain.AlreadyInProgress:
		size, ok := cacheobj.WaitForSize(abs, cacheobj.DefaultWaitTimeout)
		if !ok {
			_ = stream.WriteSimple(tcp, http.StatusInternalServerError)
			return http.StatusInternalServerError, 0
		}
		return h.serveGrowing(ctx, tcp, order, abs, size, log)

	default:
		_ = stream.WriteSimple(tcp, http.StatusInternalServerError)
		return http.StatusInternalServerError, 0
	}
}

// serveFromFirstMessage handles the outcome of waiting on a freshly
// Scheduled Job's first progress message: either the authoritative
// JobSize, or a terminal error the worker hit before ever writing a
// byte.
func (h *Handler) serveFromFirstMessage(ctx context.Context, tcp *net.TCPConn, order domain.Order, abs string, msg domain.Progress, log *logger.Logger) (int, int64) {
	switch msg.Kind {
	case domain.ProgressJobSize:
		// msg.Size is the remaining bytes from this very order's own
		// resume offset (the Scheduled outcome's subscriber is always the
		// order that gave birth to the Job), so the full object size is
		// that offset plus the remaining count.
		total := order.ResumeFrom + msg.Size
		return h.serveGrowing(ctx, tcp, order, abs, total, log)
	case domain.ProgressUnavailable:
		_ = stream.WriteSimple(tcp, http.StatusNotFound)
		return http.StatusNotFound, 0
	case domain.ProgressOrderError:
		_ = stream.WriteSimple(tcp, http.StatusBadRequest)
		return http.StatusBadRequest, 0
	default:
		_ = stream.WriteSimple(tcp, http.StatusInternalServerError)
		return http.StatusInternalServerError, 0
	}
}

func (h *Handler) serveComplete(tcp *net.TCPConn, order domain.Order, abs string, total uint64, log *logger.Logger) (int, int64) {
	f, err := os.Open(abs)
	if err != nil {
		_ = stream.WriteSimple(tcp, http.StatusInternalServerError)
		return http.StatusInternalServerError, 0
	}
	defer f.Close()

	if err := stream.ServeComplete(tcp, f, order.ResumeFrom, total); err != nil {
		log.Warn("httpserver: serve cached %s: %v", order.Path, err)
	}
	return replyStatus(order.ResumeFrom, total)
}

func (h *Handler) serveGrowing(ctx context.Context, tcp *net.TCPConn, order domain.Order, abs string, total uint64, log *logger.Logger) (int, int64) {
	f, err := os.Open(abs)
	if err != nil {
		_ = stream.WriteSimple(tcp, http.StatusInternalServerError)
		return http.StatusInternalServerError, 0
	}
	defer f.Close()

	if err := stream.ServeGrowing(ctx, tcp, f, total, order.ResumeFrom); err != nil {
		log.Warn("httpserver: serve growing %s: %v", order.Path, err)
	}
	return replyStatus(order.ResumeFrom, total)
}

// replyStatus mirrors the status and Content-Length stream.ServeComplete
// and stream.ServeGrowing write for a given resume offset and total.
func replyStatus(resumeFrom, total uint64) (int, int64) {
	switch {
	case resumeFrom > total:
		return http.StatusRequestedRangeNotSatisfiable, 0
	case resumeFrom > 0:
		return http.StatusPartialContent, int64(total - resumeFrom)
	default:
		return http.StatusOK, int64(total)
	}
}

// parseRange accepts either no Range header (resumeFrom 0) or a single
// open-ended "bytes=N-" range; anything else fails per spec.md §4.1's
// "malformed Range header -> 400" edge case.
func parseRange(header string) (resumeFrom uint64, ok bool) {
	if header == "" {
		return 0, true
	}
	m := rangeHeaderPattern.FindStringSubmatch(header)
	if m == nil {
		return 0, false
	}
	n, err := strconv.ParseUint(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// hijack takes over the raw TCP connection from echo's ResponseWriter so
// the handler can write the exact reply-header byte shape and drive
// sendfile(2) directly, bypassing net/http's own response writer. The
// returned *bufio.Reader is the same one echo's server used to read the
// first request's headers, so any bytes the client already sent for a
// pipelined next request are preserved for serveKeepAlive rather than
// dropped on the floor.
func hijack(c *echo.Context) (net.Conn, *bufio.Reader, func(), error) {
	hj, ok := c.Response().Writer.(http.Hijacker)
	if !ok {
		return nil, nil, nil, fmt.Errorf("httpserver: response writer does not support hijacking")
	}
	conn, rw, err := hj.Hijack()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("httpserver: hijack: %w", err)
	}
	return conn, rw.Reader, func() { _ = conn.Close() }, nil
}

// recvWithTimeout waits for the first message on ch or reports false
// once timeout elapses.
func recvWithTimeout(ch <-chan domain.Progress, timeout time.Duration) (domain.Progress, bool) {
	select {
	case msg, ok := <-ch:
		return msg, ok
	case <-time.After(timeout):
		return domain.Progress{}, false
	}
}
