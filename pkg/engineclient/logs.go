package engineclient

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/cuemby/engineeye/pkg/enginerr"
)

// logFrameHeaderSize is the fixed 8-byte header preceding each multiplexed
// log payload: a one-byte stream selector, three bytes of padding, and a
// big-endian uint32 payload size.
const logFrameHeaderSize = 8

// Logs fetches up to tail lines of combined stdout/stderr output. The
// engine multiplexes stdout and stderr into one byte stream; frames are
// decoded and concatenated in arrival order, discarding which stream each
// byte came from (the demultiplexer ignores the stream selector byte, so
// per-stream separation is not available from it).
func (c *Client) Logs(ctx context.Context, containerID string, tail int, timestamps bool) (string, error) {
	q := query{"stdout": "true", "stderr": "true", "timestamps": strconv.FormatBool(timestamps)}
	if tail > 0 {
		q["tail"] = strconv.Itoa(tail)
	}

	resp, err := c.do(ctx, "GET", "/containers/"+containerID+"/logs", q, nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, 200); err != nil {
		return "", err
	}

	var sb strings.Builder
	if err := demuxLogStream(resp.Body, &sb); err != nil {
		return "", enginerr.Wrap(enginerr.ParseError, "decoding log stream", err)
	}
	return sb.String(), nil
}

// demuxLogStream reads repeated <stream:u8><pad:3><size:u32be><payload>
// frames from r and writes each payload, in order, to sb. A truncated
// trailing frame (a partial header, or a header promising more payload
// than the stream delivers) stops decoding and returns what was parsed so
// far rather than erroring: a log tail is inherently best-effort.
func demuxLogStream(r io.Reader, sb *strings.Builder) error {
	var header [logFrameHeaderSize]byte
	var buf []byte

	for {
		if _, err := io.ReadFull(r, header[:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return err
		}

		size := binary.BigEndian.Uint32(header[4:])
		if size == 0 {
			continue
		}

		if cap(buf) < int(size) {
			buf = make([]byte, size)
		}
		frame := buf[:size]
		n, err := io.ReadFull(r, frame)
		if n > 0 {
			sb.Write(frame[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return fmt.Errorf("reading log frame: %w", err)
		}
	}
}
