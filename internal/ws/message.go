// Package ws runs the dispatcher over WebSocket connections. Frames are
// parsed and written with github.com/gobwas/ws; the framing state (masking,
// control frame limits, size limits) lives in Codec.
package ws

import (
	"github.com/gobwas/ws"
)

// Frame is a decoded WebSocket frame with its payload unmasked.
type Frame struct {
	OpCode  ws.OpCode
	Fin     bool
	Payload []byte
}

// IsControl reports whether f is a close, ping or pong frame.
func (f Frame) IsControl() bool { return f.OpCode.IsControl() }

// CloseStatus returns the status code and reason carried by a close frame.
// An empty close payload yields ws.StatusNoStatusRcvd.
func (f Frame) CloseStatus() (ws.StatusCode, string) {
	if len(f.Payload) == 0 {
		return ws.StatusNoStatusRcvd, ""
	}
	return ws.ParseCloseFrameData(f.Payload)
}

// Message is an outgoing WebSocket frame.
type Message struct {
	OpCode  ws.OpCode
	Fin     bool
	Payload []byte
	nop     bool
}

// IsNop reports whether m encodes to nothing.
func (m Message) IsNop() bool { return m.nop }

// Text returns a final text frame.
func Text(s string) Message {
	return Message{OpCode: ws.OpText, Fin: true, Payload: []byte(s)}
}

// Binary returns a final binary frame.
func Binary(p []byte) Message {
	return Message{OpCode: ws.OpBinary, Fin: true, Payload: p}
}

// Continuation returns a continuation fragment. fin marks the last fragment.
func Continuation(p []byte, fin bool) Message {
	return Message{OpCode: ws.OpContinuation, Fin: fin, Payload: p}
}

// Ping returns a ping frame.
func Ping(p []byte) Message {
	return Message{OpCode: ws.OpPing, Fin: true, Payload: p}
}

// Pong returns a pong frame.
func Pong(p []byte) Message {
	return Message{OpCode: ws.OpPong, Fin: true, Payload: p}
}

// Close returns a close frame. A zero code sends a close frame without a body.
func Close(code ws.StatusCode, reason string) Message {
	m := Message{OpCode: ws.OpClose, Fin: true}
	if code != 0 {
		m.Payload = ws.NewCloseFrameBody(code, reason)
	}
	return m
}

// Nop returns a message that writes nothing. Services return it for frames that
// need no reply.
func Nop() Message { return Message{nop: true} }
