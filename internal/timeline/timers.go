package timeline

import (
	"context"
	"time"

	"shiftmonitor/internal/models"
)

type loop struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func startLoop(parent context.Context, interval time.Duration, fn func(context.Context)) *loop {
	ctx, cancel := context.WithCancel(parent)
	l := &loop{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(l.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				fn(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
	return l
}

func (l *loop) stop() {
	if l == nil {
		return
	}
	l.cancel()
	<-l.done
}

// Start arms the live tick and the periodic flush. Timers from a previous
// Start are stopped first, so calling Start again never doubles them.
// Start after Close does nothing.
func (r *Recorder) Start(ctx context.Context) {
	r.timersMu.Lock()
	defer r.timersMu.Unlock()

	if r.timersClosed {
		return
	}
	r.tick.stop()
	r.flush.stop()
	r.tick = startLoop(ctx, r.tickInterval, func(context.Context) {
		r.broadcast(r.View(r.clock()))
	})
	r.flush = startLoop(ctx, r.flushInterval, func(ctx context.Context) {
		if err := r.Persist(ctx, false); err != nil {
			r.log.Warn().Err(err).Msg("periodic flush failed; continuing in memory")
		}
	})
}

func (r *Recorder) closeTimers() {
	r.timersMu.Lock()
	defer r.timersMu.Unlock()

	r.tick.stop()
	r.flush.stop()
	r.tick, r.flush = nil, nil
	r.timersClosed = true
}

// Close stops both timers, flushes the log and releases subscribers.
// Only the first call has any effect.
func (r *Recorder) Close(ctx context.Context) error {
	r.closeOnce.Do(func() {
		r.closeTimers()
		if err := r.Persist(ctx, true); err != nil {
			r.log.Warn().Err(err).Msg("final flush failed")
			r.closeErr = err
		}

		r.subsMu.Lock()
		r.subsClosed = true
		for id, ch := range r.subs {
			close(ch)
			delete(r.subs, id)
		}
		r.subsMu.Unlock()
	})
	return r.closeErr
}

// Subscribe returns a channel that receives the view on every tick, and a
// function that cancels the subscription. Slow readers miss ticks.
func (r *Recorder) Subscribe() (<-chan models.TimelineView, func()) {
	r.subsMu.Lock()
	defer r.subsMu.Unlock()

	ch := make(chan models.TimelineView, 1)
	if r.subsClosed {
		close(ch)
		return ch, func() {}
	}
	id := r.nextSub
	r.nextSub++
	r.subs[id] = ch

	return ch, func() {
		r.subsMu.Lock()
		defer r.subsMu.Unlock()
		if existing, ok := r.subs[id]; ok {
			close(existing)
			delete(r.subs, id)
		}
	}
}

func (r *Recorder) broadcast(view models.TimelineView) {
	r.subsMu.Lock()
	defer r.subsMu.Unlock()

	for _, ch := range r.subs {
		select {
		case ch <- view:
		default:
		}
	}
}
