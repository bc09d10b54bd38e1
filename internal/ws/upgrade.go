package ws

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/gobwas/ws"

	"github.com/mattjoyce/framewire/internal/framed"
)

// UpgradeOption configures Upgrade.
type UpgradeOption func(*upgradeConfig)

type upgradeConfig struct {
	upgrader ws.HTTPUpgrader
	codec    *Codec
	framed   []framed.Option
}

// WithUpgrader replaces the handshake settings (subprotocols, headers, timeout).
func WithUpgrader(u ws.HTTPUpgrader) UpgradeOption {
	return func(c *upgradeConfig) { c.upgrader = u }
}

// WithCodec sets the codec used on the upgraded connection.
func WithCodec(codec *Codec) UpgradeOption {
	return func(c *upgradeConfig) { c.codec = codec }
}

// WithBuffers passes read and write buffer options to the framed connection.
func WithBuffers(opts ...framed.Option) UpgradeOption {
	return func(c *upgradeConfig) { c.framed = append(c.framed, opts...) }
}

// Upgrade performs the server side handshake on r and returns the hijacked
// connection framed with a server codec. On failure the handshake error has
// already been written to w.
func Upgrade(w http.ResponseWriter, r *http.Request, opts ...UpgradeOption) (*Conn, error) {
	cfg := upgradeConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.codec == nil {
		cfg.codec = NewCodec()
	}

	conn, rw, _, err := cfg.upgrader.Upgrade(r, w)
	if err != nil {
		if conn != nil {
			_ = conn.Close()
		}
		return nil, fmt.Errorf("ws: upgrade: %w", err)
	}

	// Frames the peer sent right behind the handshake may already sit in the
	// hijacked reader.
	var buffered []byte
	if rw != nil && rw.Reader.Buffered() > 0 {
		peek, _ := rw.Reader.Peek(rw.Reader.Buffered())
		buffered = bytes.Clone(peek)
	}
	return framed.NewWithBuffer[Frame, Message](conn, cfg.codec, buffered, cfg.framed...), nil
}
