package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/framewire/internal/auth"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads, verifies and validates the configuration file at configPath.
// Fields the file leaves out keep their Defaults. When a lock sidecar exists
// next to the file, the file must match it.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file not found: %s\n"+
				"Hint: Check the path or run with --config flag", absPath)
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := VerifyLock(absPath); err != nil {
		return nil, err
	}

	return Parse(data)
}

// Parse decodes and validates configuration from YAML. Unknown keys are
// rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()

	dec := yaml.NewDecoder(bytes.NewReader([]byte(interpolateEnv(string(data)))))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Missing variables are left unchanged.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		// Extract variable name from ${VAR}
		varName := envVarPattern.FindStringSubmatch(match)[1]

		if value, exists := os.LookupEnv(varName); exists {
			return value
		}

		// If not found, leave the placeholder (will fail validation if required)
		return match
	})
}

func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(cfg.Service.LogLevel)] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	switch cfg.Service.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}

	if cfg.Listen.HTTP == "" && cfg.Listen.TCP == "" {
		return fmt.Errorf("listen: at least one of http or tcp is required")
	}

	if !strings.HasPrefix(cfg.WebSocket.Path, "/") {
		return fmt.Errorf("websocket.path must start with / (got %q)", cfg.WebSocket.Path)
	}
	if cfg.WebSocket.MaxFrameSize <= 0 {
		return fmt.Errorf("websocket.max_frame_size must be positive")
	}

	if cfg.Dispatch.ReadBuffer <= 0 {
		return fmt.Errorf("dispatch.read_buffer must be positive")
	}
	if cfg.Dispatch.WriteBuffer <= 0 {
		return fmt.Errorf("dispatch.write_buffer must be positive")
	}
	if cfg.Dispatch.MaxInFlight < 0 {
		return fmt.Errorf("dispatch.max_in_flight must not be negative")
	}
	if cfg.Dispatch.HandlerTimeout < 0 {
		return fmt.Errorf("dispatch.handler_timeout must not be negative")
	}

	if cfg.Journal.Enabled && cfg.Journal.Path == "" {
		return fmt.Errorf("journal.path is required when the journal is enabled")
	}

	for i, tok := range cfg.API.Tokens {
		if matches := envVarPattern.FindStringSubmatch(tok.Token); len(matches) > 1 {
			return fmt.Errorf("api.tokens[%d]: environment variable ${%s} is not set", i, matches[1])
		}
		if strings.TrimSpace(tok.Token) == "" {
			return fmt.Errorf("api.tokens[%d]: token is empty", i)
		}
		if len(tok.Scopes) == 0 {
			return fmt.Errorf("api.tokens[%d]: at least one scope is required", i)
		}
		if err := auth.ValidateScopes(tok.Scopes); err != nil {
			return fmt.Errorf("api.tokens[%d]: %w", i, err)
		}
	}

	// Paths must not carry unresolved ${VAR} placeholders
	for field, value := range map[string]string{
		"service.log_file": cfg.Service.LogFile,
		"journal.path":     cfg.Journal.Path,
		"listen.http":      cfg.Listen.HTTP,
		"listen.tcp":       cfg.Listen.TCP,
	} {
		if matches := envVarPattern.FindStringSubmatch(value); len(matches) > 1 {
			return fmt.Errorf("%s: environment variable ${%s} is not set", field, matches[1])
		}
	}

	return nil
}
