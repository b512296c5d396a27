// Package transport carries a single HTTP/1.1 request/response exchange
// over an arbitrary byte-stream channel: a local UNIX-domain socket, or a
// channel opened through an SSH tunnel. Both variants share one interface
// and one hand-rolled HTTP/1.1 codec (request serializer, status/header
// parser, chunked decoder) — this package never reaches for net/http's
// client, since the whole point of a Transport is to speak HTTP over a
// connection net/http does not know how to dial.
package transport

import (
	"context"
	"io"
	"iter"
	"net/url"
)

// Request is one HTTP/1.1 request to issue over a Transport.
type Request struct {
	Method  string
	Path    string
	Query   url.Values
	Headers map[string]string
	Body    io.Reader
}

// Response is the result of issuing a Request. Body streams the response
// body and must be closed by the caller (via Response.Close) once it is
// fully read or abandoned.
type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       io.ReadCloser
}

// Close releases the response body.
func (r *Response) Close() error {
	if r.Body == nil {
		return nil
	}
	return r.Body.Close()
}

// Transport carries one HTTP/1.1 exchange over a byte-stream channel.
// Implementations must support concurrent callers; if the implementation
// serializes requests onto a single connection, concurrent callers queue
// in FIFO order. A Request's ctx governs both connect and read/write: the
// implementation must ensure cancellation unblocks any pending read within
// roughly 200ms by closing the underlying channel or expiring its deadline.
type Transport interface {
	// Request issues req and returns its response. On cancellation it
	// returns an *enginerr.Error of kind Cancelled.
	Request(ctx context.Context, req Request) (*Response, error)

	// StreamLines reads resp's body one logical line at a time. It stops
	// when the body is exhausted (non-streaming requests) or when ctx is
	// cancelled (streaming requests); a streaming read that sees
	// cancellation is reported as a single Cancelled error, not a read
	// error. The returned sequence is single-use.
	StreamLines(ctx context.Context, resp *Response) iter.Seq2[string, error]

	// Close releases any resources held by the transport (open sockets,
	// SSH sessions). A closed Transport must not be reused.
	Close() error
}
