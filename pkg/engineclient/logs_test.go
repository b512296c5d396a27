package engineclient

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"
)

func frame(stream byte, payload string) []byte {
	header := make([]byte, logFrameHeaderSize)
	header[0] = stream
	binary.BigEndian.PutUint32(header[4:], uint32(len(payload)))
	return append(header, []byte(payload)...)
}

func TestDemuxLogStream_InterleavedFrames(t *testing.T) {
	var wire bytes.Buffer
	wire.Write(frame(1, "stdout line\n"))
	wire.Write(frame(2, "stderr line\n"))
	wire.Write(frame(1, "more stdout\n"))

	var sb strings.Builder
	if err := demuxLogStream(&wire, &sb); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := "stdout line\nstderr line\nmore stdout\n"
	if sb.String() != want {
		t.Fatalf("expected %q, got %q", want, sb.String())
	}
}

func TestDemuxLogStream_TruncatedTrailingFrameStopsCleanly(t *testing.T) {
	var wire bytes.Buffer
	wire.Write(frame(1, "complete\n"))
	header := make([]byte, logFrameHeaderSize)
	header[0] = 1
	binary.BigEndian.PutUint32(header[4:], 100)
	wire.Write(header)
	wire.WriteString("partial")

	var sb strings.Builder
	if err := demuxLogStream(&wire, &sb); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sb.String() != "complete\npartial" {
		t.Fatalf("expected partial payload preserved, got %q", sb.String())
	}
}

func TestDemuxLogStream_EmptyBody(t *testing.T) {
	var sb strings.Builder
	if err := demuxLogStream(&bytes.Buffer{}, &sb); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sb.String() != "" {
		t.Fatalf("expected empty output, got %q", sb.String())
	}
}

func TestDemuxLogStream_ZeroSizeFrameSkipped(t *testing.T) {
	var wire bytes.Buffer
	wire.Write(frame(1, ""))
	wire.Write(frame(2, "content\n"))

	var sb strings.Builder
	if err := demuxLogStream(&wire, &sb); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sb.String() != "content\n" {
		t.Fatalf("expected %q, got %q", "content\n", sb.String())
	}
}
