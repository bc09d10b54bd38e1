package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// readStep is one scripted result of NextItem.
type readStep struct {
	item string
	err  error
}

// fakeTransport is a scripted Transport. Reads are served from a feed that the
// test extends at will; once the feed is empty NextItem reports pending.
// Writes go to buf and move to out on a successful Flush.
type fakeTransport struct {
	mu sync.Mutex

	feed    []readStep
	decoded int
	wake    func()

	capacity  int // write buffer is full at this many items; 0 = never full
	buf       []string
	out       []string
	maxBuf    int
	encodeErr map[string]error

	holdFlush  bool
	flushErr   error
	flushCalls int
	flushWake  func()
	written    chan string

	closed atomic.Bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		encodeErr: make(map[string]error),
		written:   make(chan string, 128),
	}
}

// push appends read steps and wakes the dispatcher.
func (f *fakeTransport) push(steps ...readStep) {
	f.mu.Lock()
	f.feed = append(f.feed, steps...)
	w := f.wake
	f.mu.Unlock()
	if w != nil {
		w()
	}
}

func (f *fakeTransport) items(items ...string) {
	steps := make([]readStep, len(items))
	for i, it := range items {
		steps[i] = readStep{item: it}
	}
	f.push(steps...)
}

// releaseFlush lets a held flush complete with err.
func (f *fakeTransport) releaseFlush(err error) {
	f.mu.Lock()
	f.holdFlush = false
	f.flushErr = err
	w := f.flushWake
	f.mu.Unlock()
	if w != nil {
		w()
	}
}

func (f *fakeTransport) NextItem(wake func()) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wake = wake
	if len(f.feed) == 0 {
		return "", false, nil
	}
	step := f.feed[0]
	f.feed = f.feed[1:]
	if step.err != nil {
		return "", false, step.err
	}
	f.decoded++
	return step.item, true, nil
}

func (f *fakeTransport) Write(item string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.encodeErr[item]; err != nil {
		return err
	}
	f.buf = append(f.buf, item)
	if len(f.buf) > f.maxBuf {
		f.maxBuf = len(f.buf)
	}
	return nil
}

func (f *fakeTransport) Flush(wake func()) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushCalls++
	f.flushWake = wake
	if f.holdFlush {
		return false, nil
	}
	if f.flushErr != nil {
		return false, f.flushErr
	}
	for _, item := range f.buf {
		f.out = append(f.out, item)
		select {
		case f.written <- item:
		default:
		}
	}
	f.buf = nil
	return true, nil
}

func (f *fakeTransport) IsWriteBufFull() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.capacity > 0 && len(f.buf) >= f.capacity
}

func (f *fakeTransport) IsWriteBufEmpty() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.buf) == 0
}

func (f *fakeTransport) Close() error {
	f.closed.Store(true)
	return nil
}

func (f *fakeTransport) output() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.out...)
}

func (f *fakeTransport) buffered() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.buf...)
}

func (f *fakeTransport) decodedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.decoded
}

// scriptedService lets a test control readiness and count calls.
type scriptedService struct {
	mu       sync.Mutex
	ready    bool
	readyErr error
	calls    []string
	handle   func(req string) (string, error)
}

func (s *scriptedService) Ready(func()) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready, s.readyErr
}

func (s *scriptedService) Call(_ context.Context, req string) Future[string] {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	s.mu.Unlock()
	return func() (string, error) { return s.handle(req) }
}

func (s *scriptedService) callLog() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

var errBoom = errors.New("boom")
