package config

import "time"

// Config represents the complete framewire configuration.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Listen    ListenConfig    `yaml:"listen"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Journal   JournalConfig   `yaml:"journal"`
	API       APIConfig       `yaml:"api"`
}

// ServiceConfig defines process-wide settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`  // debug | info | warn | error
	LogFormat string `yaml:"log_format"` // json | text
	LogFile   string `yaml:"log_file,omitempty"`
}

// ListenConfig defines listener addresses. An empty address disables that
// listener.
type ListenConfig struct {
	HTTP string `yaml:"http"` // health, metrics, sessions and WebSocket upgrades
	TCP  string `yaml:"tcp"`  // newline-delimited JSON RPC
}

// WebSocketConfig defines the WebSocket endpoint.
type WebSocketConfig struct {
	Path         string `yaml:"path"`
	MaxFrameSize int64  `yaml:"max_frame_size"`
}

// DispatchConfig tunes every dispatched connection.
type DispatchConfig struct {
	ReadBuffer     int           `yaml:"read_buffer"`
	WriteBuffer    int           `yaml:"write_buffer"`
	MaxInFlight    int           `yaml:"max_in_flight"`   // 0 = unlimited
	HandlerTimeout time.Duration `yaml:"handler_timeout"` // 0 = no timeout
	Ordered        bool          `yaml:"ordered"`
}

// JournalConfig defines the SQLite session journal.
type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// APIConfig guards the operations endpoints. With no tokens, /sessions and
// /events are open.
type APIConfig struct {
	Tokens []TokenConfig `yaml:"tokens,omitempty"`
}

// TokenConfig is one bearer token and the scopes it grants
// (sessions:ro, events:ro, ops:ro, *).
type TokenConfig struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// Defaults returns the configuration used for every field a file leaves out.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "framewire",
			LogLevel:  "info",
			LogFormat: "json",
		},
		Listen: ListenConfig{
			HTTP: ":8080",
			TCP:  ":9090",
		},
		WebSocket: WebSocketConfig{
			Path:         "/ws",
			MaxFrameSize: 64 << 10,
		},
		Dispatch: DispatchConfig{
			ReadBuffer:     8 << 10,
			WriteBuffer:    8 << 10,
			MaxInFlight:    64,
			HandlerTimeout: 30 * time.Second,
		},
		Journal: JournalConfig{
			Path: "./data/framewire.db",
		},
	}
}
