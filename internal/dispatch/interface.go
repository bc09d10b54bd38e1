package dispatch

import "context"

// Transport is a framed duplex stream. None of its methods may block; work that
// cannot finish immediately must be reported as pending, and the transport must
// call the most recent wake function once it can make progress.
type Transport[In, Out any] interface {
	// NextItem returns the next decoded item. ok is false with a nil error when
	// no complete item is available yet. io.EOF signals a clean end of stream;
	// any other error is treated as a decode failure.
	NextItem(wake func()) (item In, ok bool, err error)
	// Write encodes item into the write buffer.
	Write(item Out) error
	// Flush pushes the write buffer to the underlying stream. done is false
	// while the flush is still in progress.
	Flush(wake func()) (done bool, err error)
	// IsWriteBufFull reports whether the write buffer reached its high-water mark.
	IsWriteBufFull() bool
	// IsWriteBufEmpty reports whether nothing is waiting to be written.
	IsWriteBufEmpty() bool
}

// Future produces the outcome of one admitted request. It runs on its own
// goroutine and may block.
type Future[Resp any] func() (Resp, error)

// Service processes requests.
type Service[Req, Resp any] interface {
	// Ready reports whether the service can accept another request. When it
	// returns false it must call wake once capacity frees up.
	Ready(wake func()) (bool, error)
	// Call admits req. It runs on the dispatcher goroutine and must return
	// quickly; the work itself belongs in the returned Future. ctx is cancelled
	// when the dispatcher stops.
	Call(ctx context.Context, req Req) Future[Resp]
}

// HandlerFunc adapts a plain function into an always-ready Service.
type HandlerFunc[Req, Resp any] func(ctx context.Context, req Req) (Resp, error)

// Ready always reports true.
func (f HandlerFunc[Req, Resp]) Ready(func()) (bool, error) { return true, nil }

// Call returns a Future that invokes f.
func (f HandlerFunc[Req, Resp]) Call(ctx context.Context, req Req) Future[Resp] {
	return func() (Resp, error) { return f(ctx, req) }
}

// Observer is notified of dispatcher activity. Admitted and Written are called
// on the dispatcher goroutine; Finished is called once when Run returns.
type Observer interface {
	Admitted()
	Written()
	Finished(err error)
}

type nopObserver struct{}

func (nopObserver) Admitted()      {}
func (nopObserver) Written()       {}
func (nopObserver) Finished(error) {}

// Observers fans notifications out to every non-nil observer in order.
func Observers(obs ...Observer) Observer {
	var list multiObserver
	for _, o := range obs {
		if o != nil {
			list = append(list, o)
		}
	}
	return list
}

type multiObserver []Observer

func (m multiObserver) Admitted() {
	for _, o := range m {
		o.Admitted()
	}
}

func (m multiObserver) Written() {
	for _, o := range m {
		o.Written()
	}
}

func (m multiObserver) Finished(err error) {
	for _, o := range m {
		o.Finished(err)
	}
}
