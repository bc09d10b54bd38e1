// Package framed adapts a blocking byte stream into the non-blocking, item
// oriented transport the dispatcher polls.
//
// A Framed owns two goroutines: a reader that fills the read buffer from the
// stream and a flusher that writes out whatever Flush hands it. Every method
// returns immediately; completion is signalled through the wake function most
// recently passed to NextItem or Flush.
package framed

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
)

const (
	// DefaultBufferSize is the default read and write high-water mark.
	DefaultBufferSize = 8 << 10

	readChunk = 4 << 10
)

// Option configures a Framed.
type Option func(*options)

type options struct {
	readHW  int
	writeHW int
}

// WithReadBuffer sets the read high-water mark. The reader stops pulling from
// the stream while this many bytes are buffered, unless the decoder still
// needs more to complete an item.
func WithReadBuffer(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.readHW = n
		}
	}
}

// WithWriteBuffer sets the write high-water mark reported by IsWriteBufFull.
func WithWriteBuffer(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.writeHW = n
		}
	}
}

type flusher interface {
	Flush() error
}

// Framed is a codec-driven duplex stream.
type Framed[In, Out any] struct {
	rw      io.ReadWriter
	codec   Codec[In, Out]
	readHW  int
	writeHW int

	mu       sync.Mutex
	readable *sync.Cond
	closed   bool
	done     chan struct{}

	// read side
	rbuf      bytes.Buffer
	needMore  bool
	readErr   error
	decodeErr error
	readWake  func()

	// write side
	wbuf      bytes.Buffer
	inflight  int
	flushErr  error
	flushWake func()
	flushReq  chan []byte
}

// New wraps rw with codec and starts the reader and flusher goroutines.
func New[In, Out any](rw io.ReadWriter, codec Codec[In, Out], opts ...Option) *Framed[In, Out] {
	return NewWithBuffer(rw, codec, nil, opts...)
}

// NewWithBuffer is like New but seeds the read buffer with bytes that were
// already read from rw, such as the tail of an HTTP upgrade handshake.
func NewWithBuffer[In, Out any](rw io.ReadWriter, codec Codec[In, Out], buffered []byte, opts ...Option) *Framed[In, Out] {
	o := options{readHW: DefaultBufferSize, writeHW: DefaultBufferSize}
	for _, opt := range opts {
		opt(&o)
	}

	f := &Framed[In, Out]{
		rw:       rw,
		codec:    codec,
		readHW:   o.readHW,
		writeHW:  o.writeHW,
		done:     make(chan struct{}),
		flushReq: make(chan []byte, 1),
	}
	f.readable = sync.NewCond(&f.mu)
	f.rbuf.Write(buffered)

	go f.readLoop()
	go f.flushLoop()
	return f
}

// NextItem decodes the next item from the read buffer. It returns io.EOF once
// the stream ended cleanly and every buffered byte has been decoded.
func (f *Framed[In, Out]) NextItem(wake func()) (In, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var zero In
	if f.decodeErr != nil {
		return zero, false, f.decodeErr
	}
	f.readWake = wake

	if f.rbuf.Len() > 0 {
		item, ok, err := f.codec.Decode(&f.rbuf)
		if err != nil {
			f.decodeErr = err
			return zero, false, err
		}
		if ok {
			f.readable.Broadcast()
			return item, true, nil
		}
		if f.rbuf.Len() >= f.readHW && !f.needMore {
			f.needMore = true
			f.readable.Broadcast()
		}
	}

	switch {
	case f.readErr == nil:
		return zero, false, nil
	case errors.Is(f.readErr, io.EOF):
		if n := f.rbuf.Len(); n > 0 {
			f.decodeErr = fmt.Errorf("framed: %d undecoded bytes at end of stream: %w", n, io.ErrUnexpectedEOF)
			return zero, false, f.decodeErr
		}
		return zero, false, io.EOF
	default:
		f.decodeErr = fmt.Errorf("framed: read: %w", f.readErr)
		return zero, false, f.decodeErr
	}
}

// Write encodes item into the write buffer. A failed encode leaves the buffer
// as it was.
func (f *Framed[In, Out]) Write(item Out) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := f.wbuf.Len()
	if err := f.codec.Encode(item, &f.wbuf); err != nil {
		f.wbuf.Truncate(n)
		return err
	}
	return nil
}

// Flush hands the write buffer to the flusher goroutine. It reports done once
// nothing is buffered or in flight. A write failure is permanent: every later
// Flush returns it and the buffer never drains.
func (f *Framed[In, Out]) Flush(wake func()) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.flushErr != nil {
		return false, f.flushErr
	}
	f.flushWake = wake
	if f.inflight > 0 {
		return false, nil
	}
	if f.wbuf.Len() == 0 {
		return true, nil
	}

	data := bytes.Clone(f.wbuf.Bytes())
	f.wbuf.Reset()
	f.inflight = len(data)
	f.flushReq <- data
	return false, nil
}

// IsWriteBufFull reports whether buffered plus in-flight bytes reached the
// write high-water mark.
func (f *Framed[In, Out]) IsWriteBufFull() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.wbuf.Len()+f.inflight >= f.writeHW
}

// IsWriteBufEmpty reports whether no bytes are buffered or in flight.
func (f *Framed[In, Out]) IsWriteBufEmpty() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.wbuf.Len() == 0 && f.inflight == 0
}

// Close stops both goroutines and closes the stream if it is an io.Closer.
// A goroutine blocked inside Read or Write on a stream that cannot be closed
// exits once that call returns.
func (f *Framed[In, Out]) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	f.readable.Broadcast()
	f.mu.Unlock()

	close(f.done)
	if c, ok := f.rw.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (f *Framed[In, Out]) readLoop() {
	chunk := make([]byte, readChunk)
	for {
		f.mu.Lock()
		for !f.closed && f.rbuf.Len() >= f.readHW && !f.needMore {
			f.readable.Wait()
		}
		if f.closed {
			f.mu.Unlock()
			return
		}
		f.mu.Unlock()

		n, err := f.rw.Read(chunk)

		f.mu.Lock()
		if n > 0 {
			f.rbuf.Write(chunk[:n])
			f.needMore = false
		}
		if err != nil {
			f.readErr = err
		}
		wake := f.readWake
		f.mu.Unlock()

		if wake != nil && (n > 0 || err != nil) {
			wake()
		}
		if err != nil {
			return
		}
	}
}

func (f *Framed[In, Out]) flushLoop() {
	for {
		select {
		case <-f.done:
			return
		case data := <-f.flushReq:
			err := f.writeOut(data)

			f.mu.Lock()
			if err != nil {
				f.flushErr = fmt.Errorf("framed: write: %w", err)
			} else {
				f.inflight = 0
			}
			wake := f.flushWake
			f.mu.Unlock()

			if wake != nil {
				wake()
			}
		}
	}
}

func (f *Framed[In, Out]) writeOut(data []byte) error {
	if _, err := f.rw.Write(data); err != nil {
		return err
	}
	if fl, ok := f.rw.(flusher); ok {
		return fl.Flush()
	}
	return nil
}
