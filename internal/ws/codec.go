package ws

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/gobwas/ws"
)

// DefaultMaxFrameSize is the largest payload a Codec accepts unless configured.
const DefaultMaxFrameSize = 64 << 10

var (
	// ErrFrameTooLarge is returned for frames whose payload exceeds the limit.
	ErrFrameTooLarge = errors.New("ws: frame too large")
	// ErrBadCloseFrame is returned for a close frame with a one byte body.
	ErrBadCloseFrame = errors.New("ws: malformed close frame")
)

// CodecOption configures a Codec.
type CodecOption func(*Codec)

// WithMaxFrameSize sets the payload limit for both directions.
func WithMaxFrameSize(n int64) CodecOption {
	return func(c *Codec) {
		if n > 0 {
			c.maxSize = n
		}
	}
}

// Codec implements framed.Codec[Frame, Message] for one side of a connection.
// The server side requires masked input and writes unmasked frames; the client
// side does the opposite.
type Codec struct {
	client  bool
	state   ws.State
	maxSize int64
}

// NewCodec returns a server side codec.
func NewCodec(opts ...CodecOption) *Codec {
	return newCodec(false, opts)
}

// NewClientCodec returns a client side codec.
func NewClientCodec(opts ...CodecOption) *Codec {
	return newCodec(true, opts)
}

func newCodec(client bool, opts []CodecOption) *Codec {
	c := &Codec{client: client, state: ws.StateServerSide, maxSize: DefaultMaxFrameSize}
	if client {
		c.state = ws.StateClientSide
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// MaxFrameSize returns the payload limit.
func (c *Codec) MaxFrameSize() int64 { return c.maxSize }

// Decode parses one frame from buf. Nothing is consumed until the whole frame
// is buffered. Continuation frames are accepted only inside a fragmented
// message, and a new data frame only outside one.
func (c *Codec) Decode(buf *bytes.Buffer) (Frame, bool, error) {
	data := buf.Bytes()
	r := bytes.NewReader(data)

	h, err := ws.ReadHeader(r)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, false, nil
		}
		return Frame{}, false, fmt.Errorf("ws: read header: %w", err)
	}
	if err := ws.CheckHeader(h, c.state); err != nil {
		return Frame{}, false, err
	}
	if h.Length > c.maxSize {
		return Frame{}, false, fmt.Errorf("%w: %d > %d bytes", ErrFrameTooLarge, h.Length, c.maxSize)
	}
	if h.OpCode == ws.OpClose && h.Length == 1 {
		return Frame{}, false, ErrBadCloseFrame
	}

	headerLen := len(data) - r.Len()
	total := headerLen + int(h.Length)
	if len(data) < total {
		return Frame{}, false, nil
	}

	payload := bytes.Clone(data[headerLen:total])
	buf.Next(total)
	if h.Masked {
		ws.Cipher(payload, h.Mask, 0)
	}
	if !h.OpCode.IsControl() {
		if h.Fin {
			c.state = c.state.Clear(ws.StateFragmented)
		} else {
			c.state = c.state.Set(ws.StateFragmented)
		}
	}
	return Frame{OpCode: h.OpCode, Fin: h.Fin, Payload: payload}, true, nil
}

// Encode appends msg as a single frame. Nop messages append nothing.
func (c *Codec) Encode(msg Message, buf *bytes.Buffer) error {
	if msg.nop {
		return nil
	}
	n := int64(len(msg.Payload))
	if msg.OpCode.IsControl() {
		if !msg.Fin {
			return ws.ErrProtocolControlNotFinal
		}
		if n > ws.MaxControlFramePayloadSize {
			return ws.ErrProtocolControlPayloadOverflow
		}
	}
	if n > c.maxSize {
		return fmt.Errorf("%w: %d > %d bytes", ErrFrameTooLarge, n, c.maxSize)
	}

	h := ws.Header{Fin: msg.Fin, OpCode: msg.OpCode, Length: n}
	if c.client {
		h.Masked = true
		h.Mask = ws.NewMask()
	}
	if err := ws.WriteHeader(buf, h); err != nil {
		return fmt.Errorf("ws: write header: %w", err)
	}

	start := buf.Len()
	buf.Write(msg.Payload)
	if h.Masked {
		ws.Cipher(buf.Bytes()[start:], h.Mask, 0)
	}
	return nil
}
