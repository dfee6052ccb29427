package transport

import (
	"context"
	"sync"
)

const pipeBuffer = 64

// PipeEnd is one side of an in-process transport pair.
type PipeEnd struct {
	in  <-chan []byte
	out chan<- []byte

	done      chan struct{}
	closeOnce *sync.Once
}

// Pipe returns two connected ends. Frames written to one are read from the
// other in order. Closing either end closes both.
func Pipe() (*PipeEnd, *PipeEnd) {
	ab := make(chan []byte, pipeBuffer)
	ba := make(chan []byte, pipeBuffer)
	done := make(chan struct{})
	once := &sync.Once{}

	a := &PipeEnd{in: ba, out: ab, done: done, closeOnce: once}
	b := &PipeEnd{in: ab, out: ba, done: done, closeOnce: once}
	return a, b
}

// Write queues a copy of frame for the other end.
func (p *PipeEnd) Write(ctx context.Context, frame []byte) error {
	select {
	case <-p.done:
		return ErrClosed
	default:
	}

	c := make([]byte, len(frame))
	copy(c, frame)

	select {
	case p.out <- c:
		return nil
	case <-p.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Read returns the next frame from the other end.
func (p *PipeEnd) Read(ctx context.Context) ([]byte, error) {
	select {
	case <-p.done:
		return nil, ErrClosed
	default:
	}

	select {
	case frame := <-p.in:
		return frame, nil
	case <-p.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close closes both ends.
func (p *PipeEnd) Close() error {
	p.closeOnce.Do(func() { close(p.done) })
	return nil
}
