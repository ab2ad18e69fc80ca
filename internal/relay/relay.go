// Package relay moves audio frames between the telephony transport and the
// speech-model transport with bounded per-direction buffering.
//
// Each direction owns an independent bounded queue. When a queue is full the
// oldest unsent frame is dropped and counted: audio is a best-effort stream
// where recency beats completeness, so a drop is a soft-degradation signal,
// never an error. A sequence gap larger than one on either transport is a
// protocol violation that tears the relay down.
package relay

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tjfontaine/callscreen/internal/domain"
)

// Config bounds the relay's buffering behavior.
type Config struct {
	// QueueDepth is the per-direction frame queue capacity.
	QueueDepth int

	// WriteTimeout bounds a single transport write. A write that exceeds it
	// counts as a dropped frame; the queue keeps draining so a stalled peer
	// cannot grow memory unbounded.
	WriteTimeout time.Duration
}

// Hooks are the relay's upward-facing signals to the owning call session.
// All hooks may be nil.
type Hooks struct {
	// OnEstablished fires exactly once, when the first frame has been
	// successfully exchanged in both directions.
	OnEstablished func()

	// OnFrame is invoked for every inbound frame before forwarding. A non-nil
	// return drops the frame without forwarding it.
	OnFrame func(frame domain.AudioFrame) error

	// OnDrop reports a soft degradation: the frame queue shed its oldest
	// entry or a write timed out. total is the direction's running count.
	OnDrop func(dir domain.Direction, total uint64)

	// OnClosed fires exactly once when both directions have stopped. err is
	// nil for a clean shutdown and a domain error for protocol or transport
	// failures.
	OnClosed func(err error)
}

// Relay pumps frames between two transports until either side closes, the
// context is canceled, or a protocol violation occurs.
type Relay struct {
	caller domain.FrameTransport
	model  domain.FrameTransport
	cfg    Config
	hooks  Hooks

	drops       [2]atomic.Uint64
	established [2]atomic.Bool

	cancel    context.CancelFunc
	closed    atomic.Bool
	estOnce   sync.Once
	closeOnce sync.Once
}

// New creates a relay between the caller-side and model-side transports.
func New(caller, model domain.FrameTransport, cfg Config, hooks Hooks) *Relay {
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 64
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 2 * time.Second
	}
	return &Relay{caller: caller, model: model, cfg: cfg, hooks: hooks}
}

// Run pumps both directions and blocks until the relay stops. It always
// closes both transports on the way out.
func (r *Relay) Run(ctx context.Context) {
	if r.closed.Load() {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		r.pump(ctx, domain.DirectionCallerToModel, r.caller, r.model)
	}()
	go func() {
		defer wg.Done()
		r.pump(ctx, domain.DirectionModelToCaller, r.model, r.caller)
	}()
	wg.Wait()

	// Normal-path shutdown; a no-op if a pump already finished with an error.
	r.finish(nil)
}

// Close stops the relay from outside. Idempotent.
func (r *Relay) Close() {
	r.finish(nil)
}

// Drops returns the total frames shed across both directions.
func (r *Relay) Drops() uint64 {
	return r.drops[0].Load() + r.drops[1].Load()
}

// pump runs one direction: a reader feeding a bounded queue and a writer
// draining it. The reader is the only producer, so the drop-oldest dance on
// a full queue is race-free.
func (r *Relay) pump(ctx context.Context, dir domain.Direction, src, dst domain.FrameTransport) {
	queue := make(chan domain.AudioFrame, r.cfg.QueueDepth)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.writeLoop(ctx, dir, dst, queue)
	}()

	var haveSeq bool
	var lastSeq uint64
	for {
		frame, err := src.ReadFrame(ctx)
		if err != nil {
			if isCleanClose(ctx, err) {
				r.finish(nil)
			} else {
				r.finish(domain.ErrTransport("relay read failed", err))
			}
			break
		}

		if haveSeq && frame.Seq != lastSeq+1 {
			r.finish(domain.ErrOrderingViolation(dir, lastSeq, frame.Seq))
			break
		}
		haveSeq, lastSeq = true, frame.Seq

		if r.hooks.OnFrame != nil {
			if err := r.hooks.OnFrame(frame); err != nil {
				r.countDrop(dir)
				continue
			}
		}

		select {
		case queue <- frame:
		default:
			// Full: shed the oldest unsent frame to make room.
			select {
			case <-queue:
				r.countDrop(dir)
			default:
			}
			queue <- frame
		}
	}

	close(queue)
	wg.Wait()
}

func (r *Relay) writeLoop(ctx context.Context, dir domain.Direction, dst domain.FrameTransport, queue <-chan domain.AudioFrame) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-queue:
			if !ok {
				return
			}
			wctx, cancel := context.WithTimeout(ctx, r.cfg.WriteTimeout)
			err := dst.WriteFrame(wctx, frame)
			cancel()
			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) {
					// Stalled peer: shed the frame and keep draining.
					r.countDrop(dir)
					continue
				}
				if isCleanClose(ctx, err) {
					r.finish(nil)
				} else {
					r.finish(domain.ErrTransport("relay write failed", err))
				}
				return
			}
			r.markEstablished(dir)
		}
	}
}

func (r *Relay) markEstablished(dir domain.Direction) {
	r.established[dir].Store(true)
	if r.established[domain.DirectionCallerToModel].Load() && r.established[domain.DirectionModelToCaller].Load() {
		r.estOnce.Do(func() {
			if r.hooks.OnEstablished != nil {
				r.hooks.OnEstablished()
			}
		})
	}
}

func (r *Relay) countDrop(dir domain.Direction) {
	total := r.drops[dir].Add(1)
	if r.hooks.OnDrop != nil {
		r.hooks.OnDrop(dir, total)
	}
}

// finish tears both directions down and signals the session exactly once.
func (r *Relay) finish(err error) {
	r.closeOnce.Do(func() {
		r.closed.Store(true)
		if r.cancel != nil {
			r.cancel()
		}
		_ = r.caller.Close()
		_ = r.model.Close()
		if r.hooks.OnClosed != nil {
			r.hooks.OnClosed(err)
		}
	})
}

func isCleanClose(ctx context.Context, err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) || ctx.Err() != nil
}
