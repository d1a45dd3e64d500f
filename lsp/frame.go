package lsp

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// The LSP base protocol frames each JSON-RPC message as an ASCII header
// block terminated by \r\n\r\n followed by a UTF-8 JSON body of exactly
// Content-Length bytes.

const (
	contentLengthHeader = "Content-Length"
	headerTerminator    = "\r\n\r\n"
)

// EncodeFrame wraps a JSON body in the base protocol header.
func EncodeFrame(body []byte) []byte {
	header := fmt.Sprintf("%s: %d%s", contentLengthHeader, len(body), headerTerminator)
	frame := make([]byte, 0, len(header)+len(body))
	frame = append(frame, header...)
	frame = append(frame, body...)
	return frame
}

// WriteFrame writes one framed message to w. Callers are responsible
// for serializing concurrent writers so headers and bodies do not
// interleave.
func WriteFrame(w io.Writer, body []byte) error {
	if _, err := w.Write(EncodeFrame(body)); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// StreamDecoder incrementally decodes framed messages from a byte
// stream fed in arbitrary-sized chunks. It handles several messages in
// one read, one message split across reads, and splits that land in the
// middle of a header.
type StreamDecoder struct {
	buf []byte
}

// Feed appends freshly read bytes to the decode buffer.
func (d *StreamDecoder) Feed(p []byte) {
	d.buf = append(d.buf, p...)
}

// Buffered returns the number of undecoded bytes held.
func (d *StreamDecoder) Buffered() int {
	return len(d.buf)
}

// Next returns the next complete message, or (nil, nil) when the buffer
// does not yet hold one. A header that cannot be parsed discards the
// entire buffer: partial recovery would leave garbage that poisons
// every following frame, so the decoder resynchronizes from the next
// clean read instead. A body that fails JSON parsing only skips that
// one message.
func (d *StreamDecoder) Next() (*Message, error) {
	sep := bytes.Index(d.buf, []byte(headerTerminator))
	if sep < 0 {
		return nil, nil
	}

	length, err := parseContentLength(d.buf[:sep])
	if err != nil {
		d.buf = nil
		return nil, err
	}

	bodyStart := sep + len(headerTerminator)
	if len(d.buf) < bodyStart+length {
		return nil, nil
	}

	body := make([]byte, length)
	copy(body, d.buf[bodyStart:bodyStart+length])
	d.buf = d.buf[bodyStart+length:]

	msg, err := DecodeMessage(body)
	if err != nil {
		return nil, err
	}

	return msg, nil
}

// parseContentLength extracts Content-Length from a CRLF-separated
// header block. Other headers, such as Content-Type, are ignored. The
// header name match is case-sensitive per the LSP specification.
func parseContentLength(block []byte) (int, error) {
	for _, line := range strings.Split(string(block), "\r\n") {
		if line == "" {
			continue
		}

		name, value, found := strings.Cut(line, ":")
		if !found {
			return 0, fmt.Errorf("%w: header line %q", ErrMalformedHeader, line)
		}

		if name != contentLengthHeader {
			continue
		}

		length, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || length < 0 {
			return 0, fmt.Errorf("%w: bad Content-Length %q", ErrMalformedHeader, strings.TrimSpace(value))
		}

		return length, nil
	}

	return 0, fmt.Errorf("%w: missing Content-Length", ErrMalformedHeader)
}
