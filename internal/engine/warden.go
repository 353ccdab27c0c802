package engine

import (
	"context"
	"sync/atomic"
	"time"

	"qazabot/internal/eventbus"
	"qazabot/internal/prayer"
	"qazabot/internal/transport"
	logx "qazabot/pkg/logx"
)

// pendingWarning is the single live WARNED instance for a user: the target
// prayer, the prompt message handle, and the armed timeout.
type pendingWarning struct {
	target   prayer.Prayer
	day      string
	ref      transport.MessageRef
	openedAt time.Time
	timesOut time.Time
}

type warnKey struct {
	target prayer.Prayer
	day    string
}

// warden is one user's IDLE/WARNED state machine. At most one pendingWarning
// exists at a time; every WARNED instance terminates via user response,
// timeout, or forced resolution on session cancellation.
//
// All state is owned by the run loop; Offer communicates through a channel
// and the hasPending flag is the only cross-goroutine read.
type warden struct {
	userID    int64
	cfg       Config
	schedules ScheduleSource
	ch        Channel
	resolver  *Resolver
	bus       eventbus.Bus
	log       logx.Logger
	now       func() time.Time

	resolveCh  chan Outcome
	hasPending atomic.Bool

	pending *pendingWarning
	warned  map[warnKey]bool // one warning per (target, day)
}

func newWarden(userID int64, cfg Config, schedules ScheduleSource, ch Channel, resolver *Resolver, bus eventbus.Bus, log logx.Logger, now func() time.Time) *warden {
	if now == nil {
		now = time.Now
	}
	return &warden{
		userID:    userID,
		cfg:       cfg.withDefaults(),
		schedules: schedules,
		ch:        ch,
		resolver:  resolver,
		bus:       bus,
		log:       log,
		now:       now,
		resolveCh: make(chan Outcome, 1),
		warned:    make(map[warnKey]bool),
	}
}

// Offer routes a user's prompt answer into the run loop. It reports
// ErrNoPending when no warning is open.
func (w *warden) Offer(out Outcome) error {
	if !w.hasPending.Load() {
		return ErrNoPending
	}
	select {
	case w.resolveCh <- out:
		return nil
	default:
		// An answer is already queued; the open warning will consume it.
		return nil
	}
}

// run loops until ctx is done. An open warning at cancellation is
// force-resolved as missed so the obligation instance is never left
// undecided.
func (w *warden) run(ctx context.Context) error {
	for {
		wait := w.tick(ctx)
		select {
		case <-ctx.Done():
			w.abandon()
			return nil
		case out := <-w.resolveCh:
			w.resolve(ctx, out, "")
		case <-time.After(wait):
		}
	}
}

// tick advances the state machine once and returns the next sleep.
func (w *warden) tick(ctx context.Context) time.Duration {
	now := w.now()

	if w.pending != nil {
		if !now.Before(w.pending.timesOut) {
			w.resolve(ctx, OutcomeMissed, "no response")
			return w.cfg.PollInterval
		}
		// WARNED: nothing to open until this one resolves.
		if rem := w.pending.timesOut.Sub(now); rem < w.cfg.PollInterval {
			return rem
		}
		return w.cfg.PollInterval
	}

	sched, err := w.schedules.Schedule(ctx, w.userID)
	if err != nil {
		w.log.Warn("schedule read failed", logx.Int64("user", w.userID), logx.Err(err))
		return failureBackoff
	}
	loc, err := sched.Location()
	if err != nil {
		w.log.Warn("timezone load failed", logx.Int64("user", w.userID), logx.Err(err))
		return failureBackoff
	}

	local := now.In(loc)
	day := prayer.Day(local)

	for _, target := range prayer.WarnTargets() {
		if w.warned[warnKey{target, day}] {
			continue
		}
		deadline, ok := prayer.DeadlineOf(target)
		if !ok {
			continue
		}
		deadlineAt, err := sched.At(deadline, local, loc)
		if err != nil {
			w.log.Warn("deadline entry unusable", logx.Int64("user", w.userID), logx.String("prayer", string(deadline)), logx.Err(err))
			continue
		}
		if local.Before(deadlineAt.Add(-w.cfg.WarnWindow)) || !local.Before(deadlineAt) {
			continue
		}

		ref, err := w.ch.Prompt(ctx, w.userID, target, day)
		if err != nil {
			// Retry next cycle while still inside the window.
			w.log.Warn("prompt send failed", logx.Int64("user", w.userID), logx.String("prayer", string(target)), logx.Err(err))
			continue
		}
		w.pending = &pendingWarning{
			target:   target,
			day:      day,
			ref:      ref,
			openedAt: now,
			timesOut: now.Add(w.cfg.ResponseTimeout),
		}
		w.warned[warnKey{target, day}] = true
		w.hasPending.Store(true)
		if w.bus != nil {
			w.bus.Publish(eventbus.Event{Type: "warden.warned", Data: map[string]any{
				"user":   w.userID,
				"prayer": string(target),
				"day":    day,
			}})
		}
		// At most one open warning; later windows wait for this resolution.
		break
	}

	return w.cfg.PollInterval
}

// resolve closes the open warning with a terminal outcome: one ledger write
// via the resolver, prompt deletion, and a return to IDLE.
func (w *warden) resolve(ctx context.Context, out Outcome, reason string) {
	p := w.pending
	if p == nil {
		return
	}

	if _, err := w.resolver.Resolve(ctx, OutcomeRecord{
		UserID:  w.userID,
		Prayer:  p.target,
		Day:     p.day,
		Outcome: out,
		Reason:  reason,
		Source:  SourceLive,
	}); err != nil {
		// Ledger failures must not wedge the state machine; the warning is
		// cleared and the instance stays visible in logs.
		w.log.Error("resolution write failed", logx.Int64("user", w.userID), logx.String("prayer", string(p.target)), logx.Err(err))
	}

	if err := w.ch.Delete(ctx, p.ref); err != nil {
		w.log.Debug("prompt delete failed", logx.Int64("user", w.userID), logx.Err(err))
	}

	w.pending = nil
	w.hasPending.Store(false)

	// Drain a late queued answer so it cannot leak into the next warning.
	select {
	case <-w.resolveCh:
	default:
	}
}

// abandon force-resolves an open warning when the session is cancelled,
// using a short background context since the session's own is already done.
func (w *warden) abandon() {
	if w.pending == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	w.resolve(ctx, OutcomeMissed, "no response")
}
