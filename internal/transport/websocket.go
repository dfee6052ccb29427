package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// past is a deadline that has already expired. Setting it unblocks I/O.
var past = time.Unix(1, 0)

// WebSocketOptions configures DialWebSocket.
type WebSocketOptions struct {
	HandshakeTimeout time.Duration
	Header           http.Header
	// MaxFrameBytes bounds inbound messages. Zero means no limit.
	MaxFrameBytes int64
}

// WebSocket is a Transport over one WebSocket connection. Each text or
// binary message is one frame.
//
// Cancelling the context of a blocked Read or Write leaves the connection
// unusable; callers are expected to Close it afterwards.
type WebSocket struct {
	conn *websocket.Conn

	writeMu sync.Mutex
	readMu  sync.Mutex

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// DialWebSocket opens a WebSocket connection to url.
func DialWebSocket(ctx context.Context, url string, opts WebSocketOptions) (*WebSocket, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: opts.HandshakeTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, url, opts.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	if opts.MaxFrameBytes > 0 {
		conn.SetReadLimit(opts.MaxFrameBytes)
	}
	return NewWebSocket(conn), nil
}

// NewWebSocket wraps an established connection.
func NewWebSocket(conn *websocket.Conn) *WebSocket {
	return &WebSocket{conn: conn}
}

// Write sends frame as one text message.
func (w *WebSocket) Write(ctx context.Context, frame []byte) error {
	if w.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		_ = w.conn.SetWriteDeadline(past)
	})
	err := w.conn.WriteMessage(websocket.TextMessage, frame)
	if !stop() {
		return ctx.Err()
	}
	if err != nil {
		if w.closed.Load() {
			return ErrClosed
		}
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

// Read returns the next message.
func (w *WebSocket) Read(ctx context.Context) ([]byte, error) {
	if w.closed.Load() {
		return nil, ErrClosed
	}

	w.readMu.Lock()
	defer w.readMu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		_ = w.conn.SetReadDeadline(past)
	})
	_, data, err := w.conn.ReadMessage()
	if !stop() {
		return nil, ctx.Err()
	}
	if err != nil {
		switch {
		case w.closed.Load():
			return nil, ErrClosed
		case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
			return nil, io.EOF
		case errors.Is(err, websocket.ErrReadLimit):
			return nil, fmt.Errorf("%w: %v", ErrFrameTooLarge, err)
		default:
			return nil, fmt.Errorf("websocket read: %w", err)
		}
	}
	return data, nil
}

// Close sends a close message and closes the connection.
func (w *WebSocket) Close() error {
	w.closeOnce.Do(func() {
		w.closed.Store(true)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		w.closeErr = w.conn.Close()
	})
	return w.closeErr
}
