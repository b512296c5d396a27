package transport

import (
	"context"
	"iter"

	"github.com/cuemby/engineeye/pkg/enginerr"
)

// TCPTLSTransport is the declared-but-unimplemented TCP-TLS variant. The
// source material this spec was distilled from disagreed with itself on
// whether this path works; per the resolved open question, Build always
// returns NotImplemented here until client-certificate material flows
// through Credentials. The type exists so ConnectionStrategy has a real
// value to switch on, and so a future implementation only needs to fill in
// Request/StreamLines/Close.
type TCPTLSTransport struct {
	host string
	port int
}

// NewTCPTLSTransport constructs the declared variant. Callers reach this
// only through ConnectionStrategy.Build, which returns the NotImplemented
// error before ever calling a method on the result.
func NewTCPTLSTransport(host string, port int) *TCPTLSTransport {
	return &TCPTLSTransport{host: host, port: port}
}

func (t *TCPTLSTransport) Request(ctx context.Context, req Request) (*Response, error) {
	return nil, enginerr.WithResource(enginerr.NotImplemented, "tcp-tls transport is not yet implemented", "tcp-tls")
}

func (t *TCPTLSTransport) StreamLines(ctx context.Context, resp *Response) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		yield("", enginerr.WithResource(enginerr.NotImplemented, "tcp-tls transport is not yet implemented", "tcp-tls"))
	}
}

func (t *TCPTLSTransport) Close() error { return nil }
