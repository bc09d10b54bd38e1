package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// DefaultMaxLineSize bounds a single encoded message.
const DefaultMaxLineSize = 1 << 20

// ErrLineTooLong is returned when a line exceeds the configured limit.
var ErrLineTooLong = errors.New("line exceeds maximum size")

// DecodeRequest parses a single JSON request. Unknown fields are rejected.
func DecodeRequest(data []byte) (*Request, error) {
	var req Request
	if err := decodeStrict(data, &req); err != nil {
		return nil, fmt.Errorf("failed to decode request: %w", err)
	}

	// Validate required fields
	if req.ID == "" {
		return nil, fmt.Errorf("request missing required field: id")
	}
	if req.Method == "" {
		return nil, fmt.Errorf("request missing required field: method")
	}

	return &req, nil
}

// DecodeResponse parses a single JSON response. Unknown fields are rejected.
func DecodeResponse(data []byte) (*Response, error) {
	var resp Response
	if err := decodeStrict(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if resp.ID == "" {
		return nil, fmt.Errorf("response missing required field: id")
	}
	if resp.Error != "" && len(resp.Result) > 0 {
		return nil, fmt.Errorf("response %q has both result and error", resp.ID)
	}

	return &resp, nil
}

func decodeStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields() // Strict parsing
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); err != io.EOF {
		return fmt.Errorf("unexpected data after JSON value")
	}
	return nil
}

// Codec frames Requests in and Responses out, one JSON object per line.
// Blank lines are skipped.
type Codec struct {
	MaxLineSize int
}

// NewCodec returns a server side codec with the default line limit.
func NewCodec() *Codec {
	return &Codec{MaxLineSize: DefaultMaxLineSize}
}

// Decode reads the next request line.
func (c *Codec) Decode(buf *bytes.Buffer) (Request, bool, error) {
	line, ok, err := nextLine(buf, c.MaxLineSize)
	if !ok || err != nil {
		return Request{}, false, err
	}
	req, err := DecodeRequest(line)
	if err != nil {
		return Request{}, false, err
	}
	return *req, true, nil
}

// Encode appends resp as one line.
func (c *Codec) Encode(resp Response, buf *bytes.Buffer) error {
	return encodeLine(buf, resp, c.MaxLineSize)
}

// ClientCodec is the peer of Codec: it writes Requests and reads Responses.
type ClientCodec struct {
	MaxLineSize int
}

// NewClientCodec returns a client side codec with the default line limit.
func NewClientCodec() *ClientCodec {
	return &ClientCodec{MaxLineSize: DefaultMaxLineSize}
}

// Decode reads the next response line.
func (c *ClientCodec) Decode(buf *bytes.Buffer) (Response, bool, error) {
	line, ok, err := nextLine(buf, c.MaxLineSize)
	if !ok || err != nil {
		return Response{}, false, err
	}
	resp, err := DecodeResponse(line)
	if err != nil {
		return Response{}, false, err
	}
	return *resp, true, nil
}

// Encode appends req as one line.
func (c *ClientCodec) Encode(req Request, buf *bytes.Buffer) error {
	if req.Method == "" {
		return fmt.Errorf("request missing required field: method")
	}
	return encodeLine(buf, req, c.MaxLineSize)
}

// nextLine returns the next non-blank line without its terminator. Blank lines
// are dropped as they are found; a partial line is left in buf.
func nextLine(buf *bytes.Buffer, limit int) ([]byte, bool, error) {
	if limit <= 0 {
		limit = DefaultMaxLineSize
	}
	for {
		data := buf.Bytes()
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			if len(data) > limit {
				return nil, false, fmt.Errorf("%w: more than %d bytes without newline", ErrLineTooLong, limit)
			}
			return nil, false, nil
		}
		if i > limit {
			return nil, false, fmt.Errorf("%w: %d > %d bytes", ErrLineTooLong, i, limit)
		}

		line := bytes.TrimSpace(buf.Next(i + 1))
		if len(line) > 0 {
			return line, true, nil
		}
	}
}

func encodeLine(buf *bytes.Buffer, v any, limit int) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	if limit > 0 && len(data) > limit {
		return fmt.Errorf("%w: %d > %d bytes", ErrLineTooLong, len(data), limit)
	}
	buf.Write(data)
	buf.WriteByte('\n')
	return nil
}
