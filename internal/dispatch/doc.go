// Package dispatch drives a framed request/response connection.
//
// A Dispatcher sits between a Transport (a framed duplex stream) and a Service.
// It decodes incoming items, admits each to the service, runs every admitted
// request on its own goroutine and writes the completed responses back onto the
// transport as they arrive.
//
// Key features:
//   - Poll-style collaborators: Transport and Service report "not ready" instead
//     of blocking and call the wake function they were handed once they can
//     make progress
//   - Spawn-per-request execution, results delivered through an unbounded queue
//   - Write backpressure: the result queue is only drained while the transport's
//     write buffer is below its high-water mark
//   - One terminal error per run, tagged with its source (service, encoder,
//     decoder)
//
// Ordering:
//   - Requests are decoded and admitted in arrival order
//   - Responses are written in completion order, so a fast request admitted
//     after a slow one may be answered first. WithOrderedWrites holds early
//     completions back when a protocol needs in-order replies.
//
// Termination:
//   - Clean end of stream → Run returns nil
//   - Handler returns ErrClose → buffered responses are flushed (best effort),
//     then Run returns nil
//   - Readiness failure or handler error → buffered responses are flushed, then
//     Run returns *Error with KindService
//   - Decode failure → buffered responses are flushed, then Run returns *Error
//     with KindDecoder
//   - Encode or flush failure → Run returns *Error with KindEncoder immediately
//   - ctx cancelled → Run returns ctx.Err()
package dispatch
