package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/mattjoyce/framewire/internal/dispatch"
	"github.com/mattjoyce/framewire/internal/framed"
	"github.com/mattjoyce/framewire/internal/protocol"
	"github.com/mattjoyce/framewire/internal/service"
)

// ErrUnknownMethod answers requests naming a method the gateway doesn't serve.
var ErrUnknownMethod = errors.New("unknown method")

type sleepParams struct {
	MS int `json:"ms"`
}

// handleRPC serves one call:
//   - echo returns its params
//   - ping returns "pong"
//   - sleep waits params.ms milliseconds
//   - close ends the connection without a reply
func handleRPC(ctx context.Context, req protocol.Request) (protocol.Response, error) {
	switch req.Method {
	case "echo":
		if len(req.Params) == 0 {
			return protocol.OK(req.ID, nil)
		}
		return protocol.Response{ID: req.ID, Result: req.Params}, nil

	case "ping":
		return protocol.OK(req.ID, "pong")

	case "sleep":
		var p sleepParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return protocol.Response{}, fmt.Errorf("invalid sleep params: %w", err)
		}
		if p.MS < 0 {
			return protocol.Response{}, fmt.Errorf("invalid sleep params: ms must be >= 0, got %d", p.MS)
		}
		timer := time.NewTimer(time.Duration(p.MS) * time.Millisecond)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return protocol.Response{}, ctx.Err()
		case <-timer.C:
			return protocol.OK(req.ID, map[string]int{"slept_ms": p.MS})
		}

	case "close":
		return protocol.Response{}, dispatch.ErrClose

	default:
		return protocol.Response{}, fmt.Errorf("%w %q", ErrUnknownMethod, req.Method)
	}
}

// rpcService wraps handleRPC with the configured limits. Failed calls are
// answered with an error response instead of ending the connection.
func (s *Server) rpcService() dispatch.Service[protocol.Request, protocol.Response] {
	var svc dispatch.Service[protocol.Request, protocol.Response] = dispatch.HandlerFunc[protocol.Request, protocol.Response](handleRPC)
	svc = service.InFlight(svc, s.cfg.Dispatch.MaxInFlight)
	svc = service.Timeout(svc, s.cfg.Dispatch.HandlerTimeout)
	return service.Rescue(svc, func(req protocol.Request, err error) protocol.Response {
		return protocol.Failure(req.ID, err)
	})
}

// acceptRPC serves every connection accepted on ln until ln is closed.
func (s *Server) acceptRPC(ctx context.Context, ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("rpc accept: %w", err)
		}
		s.sessions.Add(1)
		go func() { _ = s.serveRPC(ctx, conn) }()
	}
}

// serveRPC dispatches one RPC connection.
func (s *Server) serveRPC(ctx context.Context, conn net.Conn) error {
	transport := framed.New[protocol.Request, protocol.Response](conn, protocol.NewCodec(), s.bufferOptions()...)
	svc := s.rpcService()
	return s.runSession(ctx, "rpc", conn.RemoteAddr().String(), func(opts ...dispatch.Option) error {
		if s.cfg.Dispatch.Ordered {
			opts = append(opts, dispatch.WithOrderedWrites())
		}
		return dispatch.New[protocol.Request, protocol.Response](transport, svc, opts...).Run(ctx)
	})
}
