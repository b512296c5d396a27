package transport

import (
	"bufio"
	"context"
	"errors"
	"io"
	"iter"
	"net"
	"os"
	"sync"
	"time"

	"github.com/cuemby/engineeye/pkg/enginerr"
)

// UnixTransport speaks HTTP/1.1 over a POSIX UNIX-domain stream socket. Per
// §4.1 it is free to dial a fresh connection per request rather than
// holding one connection open; this implementation does so, which makes
// cancellation trivial (close the one connection the request owns) at the
// cost of one extra connect() per call — acceptable for a monitor that
// polls every few seconds, not a high-throughput proxy.
type UnixTransport struct {
	path string

	mu     sync.Mutex
	closed bool
}

// NewUnixTransport returns a Transport that dials the UNIX socket at path
// for each request.
func NewUnixTransport(path string) *UnixTransport {
	return &UnixTransport{path: path}
}

func (t *UnixTransport) Request(ctx context.Context, req Request) (*Response, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, enginerr.New(enginerr.ConnectionFailed, "transport is closed")
	}
	t.mu.Unlock()

	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "unix", t.path)
	if err != nil {
		return nil, translateIfCancelled(ctx, mapDialError(err))
	}

	stop := watchCancellation(ctx, conn)

	if err := writeRequest(conn, "localhost", req); err != nil {
		stop()
		conn.Close()
		return nil, translateIfCancelled(ctx, err)
	}

	br := bufio.NewReader(conn)
	// The watchdog must stay armed through the body read, not just the
	// header read: a streaming response keeps reading from conn long after
	// Request returns, and that read needs the same cancellation guarantee.
	// It is stopped only once the body (and so the connection) is closed.
	resp, err := readResponse(br, func() error {
		stop()
		return conn.Close()
	})
	if err != nil {
		stop()
		conn.Close()
		return nil, translateIfCancelled(ctx, err)
	}
	return resp, nil
}

func (t *UnixTransport) StreamLines(ctx context.Context, resp *Response) iter.Seq2[string, error] {
	return streamLines(ctx, resp)
}

func (t *UnixTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

// watchCancellation sets conn's deadline to the current instant as soon as
// ctx is cancelled, so any in-flight read/write unblocks with an error
// instead of hanging. It returns a stop function that must be called once
// the caller is done with conn (including any streamed body read), to avoid
// leaking the watchdog goroutine.
func watchCancellation(ctx context.Context, conn net.Conn) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.SetDeadline(time.Now())
		case <-done:
		}
	}()
	return func() { close(done) }
}

func translateIfCancelled(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return enginerr.Wrap(enginerr.Cancelled, "operation cancelled", ctx.Err())
	}
	return err
}

func mapDialError(err error) error {
	if errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrPermission) {
		return enginerr.Wrap(enginerr.ConnectionFailed, "connecting to engine socket", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return enginerr.Wrap(enginerr.Timeout, "connecting to engine socket", err)
	}
	return enginerr.Wrap(enginerr.ConnectionFailed, "connecting to engine socket", err)
}

// streamLines is shared by every Transport implementation: it reads resp's
// body one logical (newline-delimited) line at a time, stopping at EOF or
// when ctx is cancelled mid-read.
func streamLines(ctx context.Context, resp *Response) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		defer resp.Close()
		br := bufio.NewReader(resp.Body)
		for {
			if ctx.Err() != nil {
				yield("", enginerr.Wrap(enginerr.Cancelled, "stream cancelled", ctx.Err()))
				return
			}
			line, err := br.ReadString('\n')
			if len(line) > 0 {
				trimmed := trimNewline(line)
				if !yield(trimmed, nil) {
					return
				}
			}
			if err != nil {
				if errors.Is(err, io.EOF) {
					return
				}
				if ctx.Err() != nil {
					yield("", enginerr.Wrap(enginerr.Cancelled, "stream cancelled", ctx.Err()))
					return
				}
				yield("", enginerr.Wrap(enginerr.ConnectionFailed, "reading stream", err))
				return
			}
		}
	}
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
