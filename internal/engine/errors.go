package engine

import (
	"errors"

	"github.com/dshills/devwire/internal/correlation"
)

// Errors returned synchronously by the engine. Neither generates any
// traffic on the transport.
var (
	// ErrClosed is returned by calls made after the engine left Connected.
	ErrClosed = correlation.ErrConnectionClosed

	// ErrUnknownSession is returned for a session id that is not live.
	ErrUnknownSession = errors.New("engine: unknown session")
)
