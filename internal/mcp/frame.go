package mcp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// WireFormat selects how JSON messages are framed on a provider's stdio
// stream. It is chosen once at client construction and never changes.
type WireFormat int

const (
	// WireContentLength frames each message as an HTTP-header-like block:
	// "Content-Length: <n>\r\n\r\n" followed by exactly n bytes of JSON.
	WireContentLength WireFormat = iota
	// WireLineDelimited frames each message as one JSON document per line.
	WireLineDelimited
)

func (f WireFormat) String() string {
	if f == WireLineDelimited {
		return "line-delimited"
	}
	return "content-length"
}

// ParseWireFormat maps a config string to a WireFormat.
// The empty string means "not configured"; ok is false in that case and for
// unknown values so callers fall back to detection.
func ParseWireFormat(s string) (WireFormat, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "content-length":
		return WireContentLength, true
	case "line-delimited":
		return WireLineDelimited, true
	}
	return WireContentLength, false
}

// DetectWireFormat infers the framing from the launch command signature.
// Commands that go through the mcp-remote bridge helper speak one JSON
// document per line; everything else uses Content-Length framing.
//
// The substring heuristic is brittle if the bridge package is ever renamed;
// an explicit wireFormat config field overrides it (see ServerConfig).
func DetectWireFormat(command string, args []string) WireFormat {
	if IsRemoteBridge(command, args) {
		return WireLineDelimited
	}
	return WireContentLength
}

// IsRemoteBridge reports whether the launch signature invokes the mcp-remote
// bridge helper. Bridging providers also get a larger request-timeout floor
// since every call incurs an extra network round trip.
func IsRemoteBridge(command string, args []string) bool {
	if strings.Contains(strings.ToLower(command), "mcp-remote") {
		return true
	}
	for _, a := range args {
		if strings.Contains(strings.ToLower(a), "mcp-remote") {
			return true
		}
	}
	return false
}

// encodeFrame serialises one outgoing message in the given wire format.
// The bytes produced are exactly what the matching decoder expects.
func encodeFrame(format WireFormat, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	if format == WireLineDelimited {
		return append(body, '\n'), nil
	}
	header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(body))
	return append([]byte(header), body...), nil
}

// frameDecoder extracts complete JSON messages from a growing byte buffer.
// Decoding is resumable: a frame may span many Feed calls and one Feed may
// carry many frames.
type frameDecoder struct {
	format WireFormat
	buf    []byte
}

func newFrameDecoder(format WireFormat) *frameDecoder {
	return &frameDecoder{format: format}
}

// Feed appends raw bytes from the stream to the decode buffer.
func (d *frameDecoder) Feed(p []byte) {
	d.buf = append(d.buf, p...)
}

// Next returns the next complete frame, or ok=false when the buffer does not
// yet hold one. Unconsumed bytes stay buffered for the following call.
func (d *frameDecoder) Next() (json.RawMessage, bool) {
	if d.format == WireLineDelimited {
		return d.nextLine()
	}
	return d.nextContentLength()
}

func (d *frameDecoder) nextLine() (json.RawMessage, bool) {
	for {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			return nil, false
		}
		line := bytes.TrimSuffix(d.buf[:i], []byte("\r"))
		d.buf = d.buf[i+1:]

		// Providers are expected to leak diagnostic noise onto stdout in
		// this mode; blank and non-JSON lines are skipped silently.
		line = bytes.TrimSpace(line)
		if len(line) == 0 || !json.Valid(line) {
			continue
		}
		out := make([]byte, len(line))
		copy(out, line)
		return json.RawMessage(out), true
	}
}

func (d *frameDecoder) nextContentLength() (json.RawMessage, bool) {
	for {
		headerEnd, bodyStart := findHeaderEnd(d.buf)
		if headerEnd < 0 {
			return nil, false
		}

		length, ok := parseContentLength(d.buf[:headerEnd])
		if !ok {
			// Malformed header: advance past the delimiter instead of
			// stalling the stream.
			d.buf = d.buf[bodyStart:]
			continue
		}
		if len(d.buf) < bodyStart+length {
			return nil, false
		}

		body := make([]byte, length)
		copy(body, d.buf[bodyStart:bodyStart+length])
		d.buf = d.buf[bodyStart+length:]
		return json.RawMessage(body), true
	}
}

// findHeaderEnd locates the header/body delimiter, accepting both the
// canonical "\r\n\r\n" and the lenient "\n\n" variant, whichever comes
// first. Returns the header length and the body start offset, or (-1, -1).
func findHeaderEnd(buf []byte) (headerEnd, bodyStart int) {
	crlf := bytes.Index(buf, []byte("\r\n\r\n"))
	lf := bytes.Index(buf, []byte("\n\n"))
	switch {
	case crlf < 0 && lf < 0:
		return -1, -1
	case lf < 0 || (crlf >= 0 && crlf < lf):
		return crlf, crlf + 4
	default:
		return lf, lf + 2
	}
}

// parseContentLength extracts the Content-Length value from a header block.
func parseContentLength(header []byte) (int, bool) {
	for _, line := range strings.Split(string(header), "\n") {
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		if !strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(strings.TrimSuffix(value, "\r")))
		if err != nil || n < 0 {
			return 0, false
		}
		return n, true
	}
	return 0, false
}
