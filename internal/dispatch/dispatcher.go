package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"

	"github.com/mattjoyce/framewire/internal/log"
	"github.com/mattjoyce/framewire/internal/queue"
)

type state int

const (
	stateProcessing state = iota
	stateError
	stateFramedError
	stateFlushAndStop
	stateStopping
)

func (s state) String() string {
	switch s {
	case stateProcessing:
		return "processing"
	case stateError:
		return "error"
	case stateFramedError:
		return "framed_error"
	case stateFlushAndStop:
		return "flush_and_stop"
	case stateStopping:
		return "stopping"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// outcome is what a finished request task delivers: a response, a close
// request or a service error.
type outcome[Resp any] struct {
	seq   uint64
	item  Resp
	close bool
	err   error
}

// Option configures a Dispatcher.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	observer Observer
	ordered  bool
}

// WithLogger sets the logger. Defaults to the "dispatch" component logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithObserver registers an observer for admissions, writes and termination.
func WithObserver(obs Observer) Option {
	return func(o *options) { o.observer = obs }
}

// WithOrderedWrites writes outcomes in admission order instead of completion
// order. A finished request waits for every earlier one; handlers still run
// concurrently.
func WithOrderedWrites() Option {
	return func(o *options) { o.ordered = true }
}

// Dispatcher reads requests from a Transport, runs them through a Service
// concurrently and writes the responses back.
type Dispatcher[Req, Resp any] struct {
	transport Transport[Req, Resp]
	service   Service[Req, Resp]
	results   *queue.Queue[outcome[Resp]]
	wakeup    chan struct{}
	logger    *slog.Logger
	observer  Observer

	ordered bool
	admits  uint64                   // sequence of the next admitted request
	next    uint64                   // sequence of the next outcome to write
	held    map[uint64]outcome[Resp] // completed out of order

	state state
	err   *Error // owned by stateError and stateFramedError
	ran   bool
}

// New creates a Dispatcher that owns t and svc for the lifetime of one
// connection.
func New[Req, Resp any](t Transport[Req, Resp], svc Service[Req, Resp], opts ...Option) *Dispatcher[Req, Resp] {
	o := options{observer: nopObserver{}}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = log.WithComponent("dispatch")
	}
	if o.observer == nil {
		o.observer = nopObserver{}
	}

	d := &Dispatcher[Req, Resp]{
		transport: t,
		service:   svc,
		wakeup:    make(chan struct{}, 1),
		logger:    o.logger,
		observer:  o.observer,
		ordered:   o.ordered,
		state:     stateProcessing,
	}
	if d.ordered {
		d.held = make(map[uint64]outcome[Resp])
	}
	d.results = queue.New[outcome[Resp]](d.wake)
	return d
}

// wake schedules another poll. Safe to call from any goroutine; wakeups that
// arrive while one is already pending coalesce.
func (d *Dispatcher[Req, Resp]) wake() {
	select {
	case d.wakeup <- struct{}{}:
	default:
	}
}

// Run drives the connection to completion. It returns nil after a clean end of
// stream or a close requested by the service, a *Error for any failure, or
// ctx.Err() when ctx is cancelled first. When Run returns, the context passed
// to in-flight handlers is cancelled, their results are discarded and the
// transport is closed if it implements io.Closer. Run may be called once.
func (d *Dispatcher[Req, Resp]) Run(ctx context.Context) (err error) {
	if d.ran {
		panic("dispatch: Run called twice")
	}
	d.ran = true

	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		if n := d.discard(); n > 0 {
			d.logger.Debug("discarding unwritten results", "count", n)
		}
		if c, ok := d.transport.(io.Closer); ok {
			if cerr := c.Close(); cerr != nil {
				d.logger.Debug("close transport", "error", cerr)
			}
		}
		d.observer.Finished(err)
	}()

	for {
		if resolved, rerr := d.poll(ctx); resolved {
			return rerr
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.wakeup:
		}
	}
}

// poll advances the state machine as far as it can without blocking. It
// reports true once the run has resolved.
func (d *Dispatcher[Req, Resp]) poll(ctx context.Context) (bool, error) {
	for {
		switch d.state {
		case stateProcessing:
			if d.pollRead(ctx) || d.pollWrite() {
				continue
			}
			return false, nil

		case stateError:
			if !d.finalFlush() {
				return false, nil
			}
			return true, d.takeError(stateError)

		case stateFramedError:
			// The write side is still healthy after a decode failure, so
			// responses already buffered get a last chance to go out.
			if d.err != nil && d.err.Kind == KindDecoder && !d.finalFlush() {
				return false, nil
			}
			return true, d.takeError(stateFramedError)

		case stateFlushAndStop:
			if !d.finalFlush() {
				return false, nil
			}
			return true, nil

		case stateStopping:
			return true, nil

		default:
			panic(fmt.Sprintf("dispatch: unknown state %d", int(d.state)))
		}
	}
}

// pollRead admits decoded items while the service is ready. It reports whether
// the state changed.
func (d *Dispatcher[Req, Resp]) pollRead(ctx context.Context) bool {
	for {
		ready, err := d.service.Ready(d.wake)
		if err != nil {
			d.fail(stateError, KindService, err)
			return true
		}
		if !ready {
			return false
		}

		item, ok, err := d.transport.NextItem(d.wake)
		switch {
		case err == io.EOF:
			d.state = stateStopping
			return true
		case err != nil:
			d.fail(stateFramedError, KindDecoder, err)
			return true
		case !ok:
			return false
		}

		d.spawn(d.admits, d.service.Call(ctx, item))
		d.admits++
		d.observer.Admitted()
	}
}

// pollWrite moves finished outcomes into the write buffer and flushes it. It
// reports whether the state changed.
func (d *Dispatcher[Req, Resp]) pollWrite() bool {
	for {
		for !d.transport.IsWriteBufFull() {
			out, ok := d.nextOutcome()
			if !ok {
				break
			}
			switch {
			case out.err != nil:
				d.fail(stateError, KindService, out.err)
				return true
			case out.close:
				d.state = stateFlushAndStop
				return true
			}
			if err := d.transport.Write(out.item); err != nil {
				d.fail(stateFramedError, KindEncoder, err)
				return true
			}
			d.observer.Written()
		}

		if d.transport.IsWriteBufEmpty() {
			return false
		}
		done, err := d.transport.Flush(d.wake)
		if err != nil {
			d.logger.Debug("error sending data", "error", err)
			d.fail(stateFramedError, KindEncoder, err)
			return true
		}
		if !done {
			return false
		}
	}
}

// finalFlush flushes whatever is left in the write buffer before the run
// resolves. It reports false while the flush is pending. A failed flush counts
// as finished and is only logged.
func (d *Dispatcher[Req, Resp]) finalFlush() bool {
	if d.transport.IsWriteBufEmpty() {
		return true
	}
	done, err := d.transport.Flush(d.wake)
	if err != nil {
		d.logger.Debug("error sending data", "error", err, "state", d.state.String())
		return true
	}
	return done
}

// nextOutcome returns the next outcome to write, if one is available.
func (d *Dispatcher[Req, Resp]) nextOutcome() (outcome[Resp], bool) {
	if !d.ordered {
		return d.results.TryPop()
	}
	for {
		if out, ok := d.held[d.next]; ok {
			delete(d.held, d.next)
			d.next++
			return out, true
		}
		out, ok := d.results.TryPop()
		if !ok {
			return out, false
		}
		d.held[out.seq] = out
	}
}

// discard closes the result queue and drops completed results that were never
// written. It reports how many were dropped.
func (d *Dispatcher[Req, Resp]) discard() int {
	n := d.results.Len() + len(d.held)
	d.results.Close()
	clear(d.held)
	return n
}

// spawn runs fut on its own goroutine. Only the result queue is shared with it.
func (d *Dispatcher[Req, Resp]) spawn(seq uint64, fut Future[Resp]) {
	results, logger := d.results, d.logger
	go func() {
		out := await(fut)
		out.seq = seq
		if !results.Push(out) {
			logger.Debug("dropping result, dispatcher stopped")
		}
	}()
}

func await[Resp any](fut Future[Resp]) (out outcome[Resp]) {
	defer func() {
		if r := recover(); r != nil {
			out = outcome[Resp]{err: &PanicError{Value: r, Stack: debug.Stack()}}
		}
	}()

	resp, err := fut()
	switch {
	case err == nil:
		return outcome[Resp]{item: resp}
	case errors.Is(err, ErrClose):
		return outcome[Resp]{close: true}
	default:
		return outcome[Resp]{err: err}
	}
}

func (d *Dispatcher[Req, Resp]) fail(s state, kind ErrorKind, err error) {
	d.state = s
	d.err = &Error{Kind: kind, Err: err}
}

// takeError moves the terminal error out of the state. Taking it twice, or from
// the wrong state, is a bug in the state machine.
func (d *Dispatcher[Req, Resp]) takeError(want state) *Error {
	if d.state != want || d.err == nil {
		panic(fmt.Sprintf("dispatch: no %s error to take (state %s)", want, d.state))
	}
	err := d.err
	d.state, d.err = stateProcessing, nil
	return err
}
