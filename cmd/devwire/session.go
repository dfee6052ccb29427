package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/tidwall/pretty"

	"github.com/dshills/devwire/internal/engine"
	"github.com/dshills/devwire/internal/router"
	"github.com/dshills/devwire/internal/typed"
	"github.com/dshills/devwire/internal/wire"
)

type sessionOptions struct {
	Target         string
	Session        string
	Method         string
	Params         string
	Tail           time.Duration
	RequestTimeout time.Duration
}

// printer serializes output from the caller and from event listeners.
type printer struct {
	mu  sync.Mutex
	out io.Writer
}

func (p *printer) result(raw json.RawMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.out.Write(pretty.Pretty(raw)); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}

func (p *printer) event(ev *wire.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sid := ev.SessionID
	if sid == "" {
		sid = "-"
	}
	fmt.Fprintf(p.out, "%s %s %s\n", sid, ev.Method, pretty.Ugly(ev.Params))
}

// runSession performs the command line actions against a connected engine.
func runSession(ctx context.Context, eng *engine.Engine, opts sessionOptions, out io.Writer) error {
	pr := &printer{out: out}

	if opts.Tail > 0 {
		off, err := eng.On(router.AnySession, router.AnyMethod, pr.event)
		if err != nil {
			return err
		}
		defer off()
	}

	sessionID := opts.Session
	if opts.Target != "" {
		res, err := typed.Call(ctx, eng, sessionID, typed.TargetAttachToTarget, typed.AttachToTargetParams{
			TargetID: opts.Target,
			Flatten:  true,
		})
		if err != nil {
			return fmt.Errorf("attach to %s: %w", opts.Target, err)
		}
		if _, ok := eng.Session(res.SessionID); !ok {
			eng.CreateSession(res.SessionID, opts.Target, sessionID)
		}
		sessionID = res.SessionID
	}

	if opts.Method != "" {
		reqCtx := ctx
		if opts.RequestTimeout > 0 {
			var cancel context.CancelFunc
			reqCtx, cancel = context.WithTimeout(ctx, opts.RequestTimeout)
			defer cancel()
		}
		raw, err := eng.Send(reqCtx, sessionID, opts.Method, json.RawMessage(opts.Params))
		if err != nil {
			return fmt.Errorf("%s: %w", opts.Method, err)
		}
		if err := pr.result(raw); err != nil {
			return err
		}
	}

	if opts.Tail > 0 {
		timer := time.NewTimer(opts.Tail)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
		case <-eng.Done():
			return eng.Err()
		}
	}
	return nil
}
