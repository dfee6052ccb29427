// Package config loads devwire configuration.
//
// Values come from three layers, later layers overriding earlier ones:
//
//  1. Default()
//  2. a TOML or YAML file, chosen by extension
//  3. DEVWIRE_* environment variables
//
// A missing file is not an error.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "DEVWIRE_"

// Transport kinds.
const (
	TransportWebSocket = "websocket"
	TransportUnix      = "unix"
	TransportStdio     = "stdio"
)

// Stream delimiters.
const (
	DelimiterNewline = "newline"
	DelimiterNUL     = "nul"
)

// Config is the complete devwire configuration.
type Config struct {
	Logging   Logging   `toml:"logging" yaml:"logging" envPrefix:"LOGGING_"`
	Transport Transport `toml:"transport" yaml:"transport" envPrefix:"TRANSPORT_"`
	Engine    Engine    `toml:"engine" yaml:"engine" envPrefix:"ENGINE_"`
	Metrics   Metrics   `toml:"metrics" yaml:"metrics" envPrefix:"METRICS_"`
}

// Logging configures the process logger.
type Logging struct {
	Level     string `toml:"level" yaml:"level" env:"LEVEL"`
	Format    string `toml:"format" yaml:"format" env:"FORMAT"`
	Timestamp bool   `toml:"timestamp" yaml:"timestamp" env:"TIMESTAMP"`
	NoColor   bool   `toml:"no_color" yaml:"no_color" env:"NO_COLOR"`
}

// Transport selects and configures the connection.
type Transport struct {
	// Kind is one of TransportWebSocket, TransportUnix or TransportStdio.
	Kind string `toml:"kind" yaml:"kind" env:"KIND"`
	// URL is the WebSocket endpoint, e.g. ws://127.0.0.1:9222/devtools/browser/x.
	URL string `toml:"url" yaml:"url" env:"URL"`
	// Path is the Unix socket path.
	Path string `toml:"path" yaml:"path" env:"PATH"`
	// Delimiter frames stream transports.
	Delimiter        string   `toml:"delimiter" yaml:"delimiter" env:"DELIMITER"`
	HandshakeTimeout Duration `toml:"handshake_timeout" yaml:"handshake_timeout" env:"HANDSHAKE_TIMEOUT"`
	// MaxFrameBytes bounds a single inbound frame.
	MaxFrameBytes int `toml:"max_frame_bytes" yaml:"max_frame_bytes" env:"MAX_FRAME_BYTES"`
}

// Engine configures the session engine.
type Engine struct {
	TombstoneLimit int       `toml:"tombstone_limit" yaml:"tombstone_limit" env:"TOMBSTONE_LIMIT"`
	RequestTimeout Duration  `toml:"request_timeout" yaml:"request_timeout" env:"REQUEST_TIMEOUT"`
	Lifecycle      Lifecycle `toml:"lifecycle" yaml:"lifecycle" envPrefix:"LIFECYCLE_"`
}

// Lifecycle names the notifications that mutate the session tree and the
// param paths (gjson syntax) their ids are read from.
type Lifecycle struct {
	AttachMethods     []string `toml:"attach_methods" yaml:"attach_methods" env:"ATTACH_METHODS"`
	AttachSessionPath string   `toml:"attach_session_path" yaml:"attach_session_path" env:"ATTACH_SESSION_PATH"`
	AttachTargetPath  string   `toml:"attach_target_path" yaml:"attach_target_path" env:"ATTACH_TARGET_PATH"`

	DetachMethods     []string `toml:"detach_methods" yaml:"detach_methods" env:"DETACH_METHODS"`
	DetachSessionPath string   `toml:"detach_session_path" yaml:"detach_session_path" env:"DETACH_SESSION_PATH"`

	TargetGoneMethods []string `toml:"target_gone_methods" yaml:"target_gone_methods" env:"TARGET_GONE_METHODS"`
	TargetGonePath    string   `toml:"target_gone_path" yaml:"target_gone_path" env:"TARGET_GONE_PATH"`
}

// Metrics configures the prometheus endpoint.
type Metrics struct {
	// Addr is the listen address. Empty disables the endpoint.
	Addr string `toml:"addr" yaml:"addr" env:"ADDR"`
	Path string `toml:"path" yaml:"path" env:"PATH"`
}

// Default returns a configuration with every value set.
func Default() Config {
	return Config{
		Logging: Logging{
			Level:     "info",
			Format:    "console",
			Timestamp: true,
		},
		Transport: Transport{
			Kind:             TransportWebSocket,
			URL:              "ws://127.0.0.1:9222",
			Delimiter:        DelimiterNewline,
			HandshakeTimeout: Duration(10 * time.Second),
			MaxFrameBytes:    64 << 20,
		},
		Engine: Engine{
			TombstoneLimit: 1024,
			RequestTimeout: Duration(30 * time.Second),
			Lifecycle: Lifecycle{
				AttachMethods:     []string{"Target.attachedToTarget"},
				AttachSessionPath: "sessionId",
				AttachTargetPath:  "targetInfo.targetId",
				DetachMethods:     []string{"Target.detachedFromTarget"},
				DetachSessionPath: "sessionId",
				TargetGoneMethods: []string{"Target.targetDestroyed", "Target.targetCrashed"},
				TargetGonePath:    "targetId",
			},
		},
		Metrics: Metrics{
			Path: "/metrics",
		},
	}
}

// Validate reports every invalid value in c.
func (c *Config) Validate() error {
	var errs []error
	invalid := func(field, format string, args ...any) {
		errs = append(errs, &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	switch strings.ToLower(c.Logging.Format) {
	case "console", "json":
	default:
		invalid("logging.format", "unknown format %q", c.Logging.Format)
	}

	switch c.Transport.Kind {
	case TransportWebSocket:
		if c.Transport.URL == "" {
			invalid("transport.url", "required for %s transport", c.Transport.Kind)
		}
	case TransportUnix:
		if c.Transport.Path == "" {
			invalid("transport.path", "required for %s transport", c.Transport.Kind)
		}
	case TransportStdio:
	default:
		invalid("transport.kind", "unknown kind %q", c.Transport.Kind)
	}
	switch c.Transport.Delimiter {
	case DelimiterNewline, DelimiterNUL:
	default:
		invalid("transport.delimiter", "unknown delimiter %q", c.Transport.Delimiter)
	}
	if c.Transport.MaxFrameBytes <= 0 {
		invalid("transport.max_frame_bytes", "must be positive")
	}
	if c.Transport.HandshakeTimeout < 0 {
		invalid("transport.handshake_timeout", "must not be negative")
	}

	if c.Engine.TombstoneLimit < 0 {
		invalid("engine.tombstone_limit", "must not be negative")
	}
	if c.Engine.RequestTimeout < 0 {
		invalid("engine.request_timeout", "must not be negative")
	}
	lc := c.Engine.Lifecycle
	if len(lc.AttachMethods) == 0 {
		invalid("engine.lifecycle.attach_methods", "must not be empty")
	}
	if lc.AttachSessionPath == "" {
		invalid("engine.lifecycle.attach_session_path", "must not be empty")
	}
	if len(lc.DetachMethods) == 0 {
		invalid("engine.lifecycle.detach_methods", "must not be empty")
	}
	if lc.DetachSessionPath == "" {
		invalid("engine.lifecycle.detach_session_path", "must not be empty")
	}
	if len(lc.TargetGoneMethods) > 0 && lc.TargetGonePath == "" {
		invalid("engine.lifecycle.target_gone_path", "required when target_gone_methods is set")
	}

	if c.Metrics.Addr != "" && !strings.HasPrefix(c.Metrics.Path, "/") {
		invalid("metrics.path", "must start with /")
	}

	return errors.Join(errs...)
}
