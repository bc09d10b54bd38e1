package ws

import (
	"context"

	"github.com/gobwas/ws"

	"github.com/mattjoyce/framewire/internal/dispatch"
)

// Echo replies to data frames with the same payload and answers control
// frames: ping with pong, close with a close carrying the peer's status.
// Fragmented messages are echoed fragment by fragment. Pongs get no reply. The connection ends when the peer
// hangs up after the closing handshake.
func Echo() Service {
	return dispatch.HandlerFunc[Frame, Message](echo)
}

func echo(_ context.Context, f Frame) (Message, error) {
	switch f.OpCode {
	case ws.OpText:
		return Message{OpCode: ws.OpText, Fin: f.Fin, Payload: f.Payload}, nil
	case ws.OpBinary:
		return Message{OpCode: ws.OpBinary, Fin: f.Fin, Payload: f.Payload}, nil
	case ws.OpContinuation:
		return Continuation(f.Payload, f.Fin), nil
	case ws.OpPing:
		return Pong(f.Payload), nil
	case ws.OpClose:
		code, reason := f.CloseStatus()
		if code == ws.StatusNoStatusRcvd {
			return Close(0, ""), nil
		}
		return Close(code, reason), nil
	default:
		return Nop(), nil
	}
}
