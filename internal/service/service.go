// Package service provides middleware for dispatch services.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattjoyce/framewire/internal/dispatch"
)

// ErrTimeout is returned when a call exceeds the deadline set by Timeout.
var ErrTimeout = errors.New("service: call timed out")

// InFlight limits svc to n outstanding calls. At the limit Ready reports false
// and the dispatcher is woken as soon as a call completes.
func InFlight[Req, Resp any](svc dispatch.Service[Req, Resp], n int) dispatch.Service[Req, Resp] {
	if n <= 0 {
		return svc
	}
	return &inFlight[Req, Resp]{next: svc, limit: n}
}

type inFlight[Req, Resp any] struct {
	next  dispatch.Service[Req, Resp]
	limit int

	mu     sync.Mutex
	active int
	wake   func()
}

func (s *inFlight[Req, Resp]) Ready(wake func()) (bool, error) {
	s.mu.Lock()
	if s.active >= s.limit {
		s.wake = wake
		s.mu.Unlock()
		return false, nil
	}
	s.mu.Unlock()
	return s.next.Ready(wake)
}

func (s *inFlight[Req, Resp]) Call(ctx context.Context, req Req) dispatch.Future[Resp] {
	s.mu.Lock()
	s.active++
	s.mu.Unlock()

	fut := s.next.Call(ctx, req)
	return func() (Resp, error) {
		defer s.release()
		return fut()
	}
}

func (s *inFlight[Req, Resp]) release() {
	s.mu.Lock()
	s.active--
	wake := s.wake
	s.wake = nil
	s.mu.Unlock()
	if wake != nil {
		wake()
	}
}

// Timeout bounds every call of svc to d, measured from admission. The call's
// context carries the deadline; a call still running when it passes fails with
// ErrTimeout and its eventual result is discarded.
func Timeout[Req, Resp any](svc dispatch.Service[Req, Resp], d time.Duration) dispatch.Service[Req, Resp] {
	if d <= 0 {
		return svc
	}
	return &timeout[Req, Resp]{next: svc, d: d}
}

type timeout[Req, Resp any] struct {
	next dispatch.Service[Req, Resp]
	d    time.Duration
}

func (s *timeout[Req, Resp]) Ready(wake func()) (bool, error) {
	return s.next.Ready(wake)
}

type result[Resp any] struct {
	resp  Resp
	err   error
	panic any
}

func (s *timeout[Req, Resp]) Call(ctx context.Context, req Req) dispatch.Future[Resp] {
	ctx, cancel := context.WithTimeout(ctx, s.d)
	fut := s.next.Call(ctx, req)

	return func() (Resp, error) {
		defer cancel()

		done := make(chan result[Resp], 1)
		go func() {
			var r result[Resp]
			defer func() {
				r.panic = recover()
				done <- r
			}()
			r.resp, r.err = fut()
		}()

		select {
		case r := <-done:
			if r.panic != nil {
				panic(r.panic)
			}
			// Handlers returning ctx.Err() at the deadline report ErrTimeout too.
			if errors.Is(r.err, context.DeadlineExceeded) && errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return r.resp, s.expired()
			}
			return r.resp, r.err
		case <-ctx.Done():
			var zero Resp
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return zero, s.expired()
			}
			return zero, ctx.Err()
		}
	}
}

func (s *timeout[Req, Resp]) expired() error {
	return fmt.Errorf("%w after %s", ErrTimeout, s.d)
}

// Rescue answers failed calls with fn(req, err) instead of failing the
// connection. dispatch.ErrClose passes through untouched.
func Rescue[Req, Resp any](svc dispatch.Service[Req, Resp], fn func(req Req, err error) Resp) dispatch.Service[Req, Resp] {
	return &rescue[Req, Resp]{next: svc, fn: fn}
}

type rescue[Req, Resp any] struct {
	next dispatch.Service[Req, Resp]
	fn   func(Req, error) Resp
}

func (s *rescue[Req, Resp]) Ready(wake func()) (bool, error) {
	return s.next.Ready(wake)
}

func (s *rescue[Req, Resp]) Call(ctx context.Context, req Req) dispatch.Future[Resp] {
	fut := s.next.Call(ctx, req)
	return func() (Resp, error) {
		resp, err := fut()
		if err == nil || errors.Is(err, dispatch.ErrClose) {
			return resp, err
		}
		return s.fn(req, err), nil
	}
}
