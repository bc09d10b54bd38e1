package ws

import (
	"context"
	"io"

	"github.com/mattjoyce/framewire/internal/dispatch"
	"github.com/mattjoyce/framewire/internal/framed"
)

// Service handles WebSocket frames.
type Service = dispatch.Service[Frame, Message]

// Conn is a framed WebSocket stream.
type Conn = framed.Framed[Frame, Message]

// Dispatcher serves one WebSocket connection.
type Dispatcher struct {
	inner *dispatch.Dispatcher[Frame, Message]
}

// NewDispatcher frames an already upgraded server side connection with the
// default codec and buffers.
func NewDispatcher(conn io.ReadWriter, svc Service, opts ...dispatch.Option) *Dispatcher {
	return WithFramed(framed.New[Frame, Message](conn, NewCodec()), svc, opts...)
}

// WithFramed serves a connection that was framed by the caller, for example
// one returned by Upgrade or configured with a custom Codec. Replies are
// always written in frame order so fragments of one message stay contiguous.
func WithFramed(conn *Conn, svc Service, opts ...dispatch.Option) *Dispatcher {
	opts = append([]dispatch.Option{dispatch.WithOrderedWrites()}, opts...)
	return &Dispatcher{inner: dispatch.New[Frame, Message](conn, svc, opts...)}
}

// Run serves the connection until it is closed, fails or ctx is cancelled.
// The connection is closed when Run returns.
func (d *Dispatcher) Run(ctx context.Context) error {
	return d.inner.Run(ctx)
}
