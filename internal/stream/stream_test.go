package stream

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tcpPair dials a loopback listener so both ends are *net.TCPConn, which
// transferFile needs to reach the raw fd via SyscallConn.
func tcpPair(t *testing.T) (server, client *net.TCPConn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan *net.TCPConn, 1)
	go func() {
		c, err := ln.Accept()
		require.NoError(t, err)
		accepted <- c.(*net.TCPConn)
	}()

	c, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)

	server = <-accepted
	client = c.(*net.TCPConn)
	t.Cleanup(func() {
		_ = server.Close()
		_ = client.Close()
	})
	return server, client
}

type parsedReply struct {
	status  int
	headers map[string]string
	body    []byte
}

func readReply(t *testing.T, conn net.Conn) parsedReply {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	r := bufio.NewReader(conn)

	statusLine, err := r.ReadString('\n')
	require.NoError(t, err)
	fields := strings.SplitN(strings.TrimSpace(statusLine), " ", 3)
	require.GreaterOrEqual(t, len(fields), 2)
	status, err := strconv.Atoi(fields[1])
	require.NoError(t, err)

	headers := map[string]string{}
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		parts := strings.SplitN(line, ": ", 2)
		require.Len(t, parts, 2)
		headers[parts[0]] = parts[1]
	}

	var body []byte
	if cl, ok := headers["Content-Length"]; ok {
		n, err := strconv.Atoi(cl)
		require.NoError(t, err)
		if n > 0 {
			body = make([]byte, n)
			_, err := readFull(r, body)
			require.NoError(t, err)
		}
	}

	return parsedReply{status: status, headers: headers, body: body}
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func TestServeCompleteFullBody(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "core.db")
	contents := []byte("the quick brown fox jumps over the lazy dog")
	require.NoError(t, os.WriteFile(path, contents, 0o644))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	server, client := tcpPair(t)
	go func() {
		_ = ServeComplete(server, f, 0, uint64(len(contents)))
	}()

	reply := readReply(t, client)
	assert.Equal(t, http.StatusOK, reply.status)
	assert.Equal(t, strconv.Itoa(len(contents)), reply.headers["Content-Length"])
	assert.Equal(t, contents, reply.body)
	assert.NotContains(t, reply.headers, "Content-Range")
}

func TestServeCompleteWithResumeOffset(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "core.db")
	contents := []byte("0123456789abcdefghij")
	require.NoError(t, os.WriteFile(path, contents, 0o644))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	server, client := tcpPair(t)
	const resumeFrom = 10
	go func() {
		_ = ServeComplete(server, f, resumeFrom, uint64(len(contents)))
	}()

	reply := readReply(t, client)
	assert.Equal(t, http.StatusPartialContent, reply.status)
	assert.Equal(t, contents[resumeFrom:], reply.body)
	assert.Equal(t, "bytes 10-19/20", reply.headers["Content-Range"])
	assert.Equal(t, strconv.Itoa(len(contents)-resumeFrom), reply.headers["Content-Length"])
}

func TestServeCompleteRangeBeyondSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "core.db")
	contents := []byte("short")
	require.NoError(t, os.WriteFile(path, contents, 0o644))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	server, client := tcpPair(t)
	go func() {
		_ = ServeComplete(server, f, 100, uint64(len(contents)))
	}()

	reply := readReply(t, client)
	assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, reply.status)
}

func TestServeGrowingStreamsBytesAsTheyAppear(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pkg.tar.zst")
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	require.NoError(t, err)
	defer f.Close()

	total := uint64(30)
	firstHalf := []byte("first fifteen bytes!")[:15]
	secondHalf := []byte("second 15 bytes")

	_, err = f.WriteAt(firstHalf, 0)
	require.NoError(t, err)

	readHandle, err := os.Open(path)
	require.NoError(t, err)
	defer readHandle.Close()

	server, client := tcpPair(t)
	go func() {
		_ = ServeGrowing(context.Background(), server, readHandle, total, 0)
	}()

	go func() {
		time.Sleep(50 * time.Millisecond)
		_, _ = f.WriteAt(secondHalf, 15)
	}()

	reply := readReply(t, client)
	assert.Equal(t, http.StatusOK, reply.status)
	assert.Equal(t, strconv.FormatUint(total, 10), reply.headers["Content-Length"])
	assert.Equal(t, append(append([]byte{}, firstHalf...), secondHalf...), reply.body)
}

func TestWriteRedirect(t *testing.T) {
	server, client := tcpPair(t)
	go func() {
		_ = WriteRedirect(server, "https://mirror.example/core/os/x86_64/core.db")
	}()

	reply := readReply(t, client)
	assert.Equal(t, http.StatusMovedPermanently, reply.status)
	assert.Equal(t, "https://mirror.example/core/os/x86_64/core.db", reply.headers["Location"])
	assert.Equal(t, "0", reply.headers["Content-Length"])
}
