package transport

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/cuemby/engineeye/pkg/enginerr"
)

// writeRequest serializes req onto conn as an HTTP/1.1 request: request
// line, headers, a blank line, and the body (if any). host is written as
// the Host header value; engine HTTP servers over a unix socket or SSH
// channel have no real DNS name, so callers pass "localhost".
func writeRequest(w io.Writer, host string, req Request) error {
	path := req.Path
	if req.Query != nil {
		if q := req.Query.Encode(); q != "" {
			path = path + "?" + q
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s HTTP/1.1\r\n", req.Method, path)
	fmt.Fprintf(&sb, "Host: %s\r\n", host)
	fmt.Fprintf(&sb, "Connection: close\r\n")

	var bodyBytes []byte
	if req.Body != nil {
		var err error
		bodyBytes, err = io.ReadAll(req.Body)
		if err != nil {
			return enginerr.Wrap(enginerr.ProtocolError, "reading request body", err)
		}
	}
	if len(bodyBytes) > 0 {
		if _, ok := req.Headers["Content-Type"]; !ok {
			fmt.Fprintf(&sb, "Content-Type: application/json\r\n")
		}
		fmt.Fprintf(&sb, "Content-Length: %d\r\n", len(bodyBytes))
	}

	// Stable header order keeps wire output deterministic for tests.
	keys := make([]string, 0, len(req.Headers))
	for k := range req.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, "%s: %s\r\n", k, req.Headers[k])
	}
	sb.WriteString("\r\n")

	if _, err := io.WriteString(w, sb.String()); err != nil {
		return enginerr.Wrap(enginerr.ConnectionFailed, "writing request", err)
	}
	if len(bodyBytes) > 0 {
		if _, err := w.Write(bodyBytes); err != nil {
			return enginerr.Wrap(enginerr.ConnectionFailed, "writing request body", err)
		}
	}
	return nil
}

// readResponse parses an HTTP/1.1 status line and headers from br, and
// wraps the remaining body in the appropriate decoder (Content-Length,
// chunked, or read-to-EOF on connection-close). closer is invoked when the
// returned Response's body is closed; it should tear down the underlying
// connection since this codec always requests Connection: close.
func readResponse(br *bufio.Reader, closer func() error) (*Response, error) {
	statusLine, err := readCRLFLine(br)
	if err != nil {
		return nil, enginerr.Wrap(enginerr.ConnectionFailed, "reading status line", err)
	}
	parts := strings.SplitN(statusLine, " ", 3)
	if len(parts) < 2 || !strings.HasPrefix(parts[0], "HTTP/") {
		return nil, enginerr.New(enginerr.ProtocolError, fmt.Sprintf("malformed status line %q", statusLine))
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, enginerr.New(enginerr.ProtocolError, fmt.Sprintf("malformed status code %q", parts[1]))
	}

	headers := make(map[string]string)
	for {
		line, err := readCRLFLine(br)
		if err != nil {
			return nil, enginerr.Wrap(enginerr.ConnectionFailed, "reading headers", err)
		}
		if line == "" {
			break
		}
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			return nil, enginerr.New(enginerr.ProtocolError, fmt.Sprintf("malformed header %q", line))
		}
		headers[canonicalHeaderKey(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}

	body := bodyReader(br, headers, closer)
	return &Response{StatusCode: code, Headers: headers, Body: body}, nil
}

func bodyReader(br *bufio.Reader, headers map[string]string, closer func() error) io.ReadCloser {
	if strings.EqualFold(headers["Transfer-Encoding"], "chunked") {
		return &readCloser{Reader: newChunkedReader(br), closeFn: closer}
	}
	if cl, ok := headers["Content-Length"]; ok {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil {
			return &readCloser{Reader: io.LimitReader(br, n), closeFn: closer}
		}
	}
	// No Content-Length, not chunked: read until the connection closes.
	return &readCloser{Reader: br, closeFn: closer}
}

type readCloser struct {
	io.Reader
	closeFn func() error
}

func (r *readCloser) Close() error {
	if r.closeFn == nil {
		return nil
	}
	return r.closeFn()
}

// readCRLFLine reads one line and strips the trailing CRLF (or bare LF).
func readCRLFLine(br *bufio.Reader) (string, error) {
	line, err := br.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// canonicalHeaderKey normalizes a header key to Title-Case-With-Dashes so
// map lookups ("Content-Length" vs "content-length") are consistent
// regardless of what the engine sent.
func canonicalHeaderKey(key string) string {
	parts := strings.Split(key, "-")
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + strings.ToLower(p[1:])
	}
	return strings.Join(parts, "-")
}
