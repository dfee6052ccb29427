// Package transport moves whole protocol frames between the engine and a
// debugger endpoint.
//
// A Transport is message oriented: every Read returns exactly one frame and
// every Write sends exactly one. Implementations allow one concurrent reader
// and any number of concurrent writers.
package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/dshills/devwire/internal/config"
)

// Transport carries frames for one connection.
type Transport interface {
	// Write sends one frame.
	Write(ctx context.Context, frame []byte) error

	// Read blocks until a frame arrives, the context ends or the transport
	// is closed.
	Read(ctx context.Context) ([]byte, error)

	// Close releases the connection. It unblocks a pending Read.
	Close() error
}

// Errors returned by transports.
var (
	// ErrClosed is returned by operations on a closed transport.
	ErrClosed = errors.New("transport: closed")

	// ErrFrameTooLarge is returned when an inbound frame exceeds the limit.
	ErrFrameTooLarge = errors.New("transport: frame too large")

	// ErrInvalidFrame is returned when an outbound frame cannot be framed.
	ErrInvalidFrame = errors.New("transport: invalid frame")
)

// Open connects the transport described by cfg.
func Open(ctx context.Context, cfg config.Transport) (Transport, error) {
	delim, err := Delimiter(cfg.Delimiter)
	if err != nil {
		return nil, err
	}

	switch cfg.Kind {
	case config.TransportWebSocket:
		return DialWebSocket(ctx, cfg.URL, WebSocketOptions{
			HandshakeTimeout: cfg.HandshakeTimeout.Std(),
			MaxFrameBytes:    int64(cfg.MaxFrameBytes),
		})
	case config.TransportUnix:
		return DialUnix(ctx, cfg.Path, delim, WithMaxFrameBytes(cfg.MaxFrameBytes))
	case config.TransportStdio:
		return NewStdio(delim, WithMaxFrameBytes(cfg.MaxFrameBytes)), nil
	default:
		return nil, fmt.Errorf("transport: unknown kind %q", cfg.Kind)
	}
}

// Delimiter maps a configured delimiter name to its byte.
func Delimiter(name string) (byte, error) {
	switch name {
	case "", config.DelimiterNewline:
		return '\n', nil
	case config.DelimiterNUL:
		return 0, nil
	default:
		return 0, fmt.Errorf("transport: unknown delimiter %q", name)
	}
}
