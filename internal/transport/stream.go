package transport

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tidwall/pretty"
)

// DefaultMaxFrameBytes bounds stream frames when no limit is configured.
const DefaultMaxFrameBytes = 64 << 20

// StreamOption configures a Stream.
type StreamOption func(*Stream)

// WithMaxFrameBytes bounds inbound frames. Non-positive values keep the default.
func WithMaxFrameBytes(n int) StreamOption {
	return func(s *Stream) {
		if n > 0 {
			s.maxFrame = n
		}
	}
}

// Stream is a Transport over a byte stream where frames are separated by a
// single delimiter byte, typically '\n' or NUL.
type Stream struct {
	rwc      io.ReadWriteCloser
	reader   *bufio.Reader
	delim    byte
	maxFrame int

	writeMu sync.Mutex
	readMu  sync.Mutex

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// deadliner is implemented by net.Conn and *os.File.
type deadliner interface {
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// NewStream frames rwc with delim.
func NewStream(rwc io.ReadWriteCloser, delim byte, opts ...StreamOption) *Stream {
	s := &Stream{
		rwc:      rwc,
		reader:   bufio.NewReader(rwc),
		delim:    delim,
		maxFrame: DefaultMaxFrameBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DialUnix connects to the Unix socket at path.
func DialUnix(ctx context.Context, path string, delim byte, opts ...StreamOption) (*Stream, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", path, err)
	}
	return NewStream(conn, delim, opts...), nil
}

// NewStdio frames the process's stdin and stdout.
func NewStdio(delim byte, opts ...StreamOption) *Stream {
	return NewStream(stdio{r: os.Stdin, w: os.Stdout}, delim, opts...)
}

type stdio struct {
	r io.ReadCloser
	w io.WriteCloser
}

func (s stdio) Read(p []byte) (int, error)  { return s.r.Read(p) }
func (s stdio) Write(p []byte) (int, error) { return s.w.Write(p) }
func (s stdio) Close() error                { return errors.Join(s.r.Close(), s.w.Close()) }

// Write sends frame followed by the delimiter. Frames containing the
// delimiter are compacted first; if it still occurs the frame is rejected.
func (s *Stream) Write(ctx context.Context, frame []byte) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if bytes.IndexByte(frame, s.delim) >= 0 {
		frame = pretty.Ugly(frame)
		if bytes.IndexByte(frame, s.delim) >= 0 {
			return fmt.Errorf("%w: contains delimiter %q", ErrInvalidFrame, s.delim)
		}
	}

	buf := make([]byte, 0, len(frame)+1)
	buf = append(buf, frame...)
	buf = append(buf, s.delim)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	stop := s.watch(ctx, func(d deadliner) { _ = d.SetWriteDeadline(past) })
	_, err := s.rwc.Write(buf)
	if !stop() {
		return ctx.Err()
	}
	if err != nil {
		if s.closed.Load() {
			return ErrClosed
		}
		return fmt.Errorf("stream write: %w", err)
	}
	return nil
}

// Read returns the next non-empty frame without its delimiter. A blocked
// Read honors ctx only when the underlying stream supports deadlines;
// otherwise Close unblocks it.
func (s *Stream) Read(ctx context.Context) ([]byte, error) {
	s.readMu.Lock()
	defer s.readMu.Unlock()

	for {
		if s.closed.Load() {
			return nil, ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		stop := s.watch(ctx, func(d deadliner) { _ = d.SetReadDeadline(past) })
		frame, err := s.readFrame()
		if !stop() {
			return nil, ctx.Err()
		}
		if err != nil {
			if s.closed.Load() {
				return nil, ErrClosed
			}
			return nil, err
		}
		if s.delim == '\n' {
			frame = bytes.TrimSuffix(frame, []byte{'\r'})
		}
		if len(bytes.TrimSpace(frame)) == 0 {
			continue
		}
		return frame, nil
	}
}

func (s *Stream) readFrame() ([]byte, error) {
	var frame []byte
	for {
		chunk, err := s.reader.ReadSlice(s.delim)
		if len(frame)+len(chunk) > s.maxFrame+1 {
			return nil, fmt.Errorf("%w: over %d bytes", ErrFrameTooLarge, s.maxFrame)
		}
		frame = append(frame, chunk...)
		switch {
		case err == nil:
			return frame[:len(frame)-1], nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF) && len(frame) > 0:
			return nil, io.ErrUnexpectedEOF
		default:
			return nil, err
		}
	}
}

// watch arranges for fn to run on the underlying stream when ctx ends.
// The returned stop reports false if fn already ran.
func (s *Stream) watch(ctx context.Context, fn func(deadliner)) func() bool {
	d, ok := s.rwc.(deadliner)
	if !ok || ctx.Done() == nil {
		return func() bool { return true }
	}
	return context.AfterFunc(ctx, func() { fn(d) })
}

// Close closes the underlying stream.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.closeErr = s.rwc.Close()
	})
	return s.closeErr
}
