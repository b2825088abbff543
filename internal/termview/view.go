// Package termview renders an attached session on the local terminal.
package termview

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"

	"pkt.systems/pslog"
	"pkt.systems/sessiondeck/core"
	"pkt.systems/sessiondeck/internal/logx"
	"pkt.systems/sessiondeck/schema"
)

// DefaultDetachKey is Ctrl-].
const DefaultDetachKey byte = 0x1d

// Attacher binds a session to an output sink.
type Attacher interface {
	AttachTerminal(ctx context.Context, sessionID schema.SessionID, sink io.Writer, onDisconnect func()) (*core.Bridge, error)
}

// Result describes how a view ended.
type Result struct {
	// Ended is set when the remote side closed the session.
	Ended bool
	// Detached is set when the user pressed the detach key.
	Detached bool
}

// Options configure a View. Zero values use the process's stdio.
type Options struct {
	In        io.Reader
	Out       io.Writer
	Terminal  Terminal
	Resize    <-chan struct{}
	DetachKey byte
}

// View pumps keystrokes into a bridge and keeps the remote window size in sync.
type View struct {
	in        io.Reader
	out       io.Writer
	term      Terminal
	resize    <-chan struct{}
	detachKey byte
}

var errDetached = errors.New("detached")

// New constructs a View.
func New(opts Options) *View {
	v := &View{
		in:        opts.In,
		out:       opts.Out,
		term:      opts.Terminal,
		resize:    opts.Resize,
		detachKey: opts.DetachKey,
	}
	if v.in == nil {
		v.in = os.Stdin
	}
	if v.out == nil {
		v.out = os.Stdout
	}
	if v.term == nil {
		v.term = StdTerminal()
	}
	if v.detachKey == 0 {
		v.detachKey = DefaultDetachKey
	}
	return v
}

// Run attaches to the session and blocks until it ends, the user detaches or ctx
// is done.
func (v *View) Run(ctx context.Context, attacher Attacher, sessionID schema.SessionID) (Result, error) {
	log := logx.WithSession(pslog.Ctx(ctx), sessionID)
	restore, err := v.term.MakeRaw()
	if err != nil {
		return Result{}, err
	}
	defer restore()

	ended := make(chan struct{})
	var endOnce sync.Once
	bridge, err := attacher.AttachTerminal(ctx, sessionID, v.out, func() {
		endOnce.Do(func() { close(ended) })
	})
	if err != nil {
		return Result{}, err
	}
	defer bridge.Detach()
	v.syncSize(ctx, bridge)
	log.Debug("termview attached")

	inputErr := make(chan error, 1)
	go func() {
		inputErr <- v.pumpInput(ctx, bridge)
	}()

	for {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-ended:
			log.Debug("termview session ended")
			return Result{Ended: true}, nil
		case <-bridge.Done():
			if bridge.Ended() {
				return Result{Ended: true}, nil
			}
			return Result{}, nil
		case <-v.resize:
			v.syncSize(ctx, bridge)
		case err := <-inputErr:
			if errors.Is(err, errDetached) {
				log.Debug("termview detached")
				return Result{Detached: true}, nil
			}
			if errors.Is(err, io.EOF) {
				return Result{}, nil
			}
			// An input failure after the session ended is reported as the end.
			select {
			case <-ended:
				return Result{Ended: true}, nil
			default:
			}
			return Result{}, err
		}
	}
}

func (v *View) pumpInput(ctx context.Context, bridge *core.Bridge) error {
	buf := make([]byte, 4096)
	for {
		n, err := v.in.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			detach := false
			for i, b := range chunk {
				if b == v.detachKey {
					chunk = chunk[:i]
					detach = true
					break
				}
			}
			if len(chunk) > 0 {
				data := append([]byte(nil), chunk...)
				if sendErr := bridge.SendInput(ctx, data); sendErr != nil {
					return sendErr
				}
			}
			if detach {
				return errDetached
			}
		}
		if err != nil {
			return err
		}
	}
}

func (v *View) syncSize(ctx context.Context, bridge *core.Bridge) {
	cols, rows, err := v.term.Size()
	if err != nil || cols <= 0 || rows <= 0 {
		return
	}
	bridge.Resize(ctx, cols, rows)
}
