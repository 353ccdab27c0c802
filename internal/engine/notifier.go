package engine

import (
	"context"
	"fmt"
	"time"

	"qazabot/internal/eventbus"
	"qazabot/internal/prayer"
	logx "qazabot/pkg/logx"
)

// notifier is one user's prayer-time loop. Each cycle it reads the stored
// schedule, compares local now against the five prayers, and sends "time for
// X" at most once per (prayer, calendar day). The dedup map is owned
// exclusively by this loop; keys include the date so entries invalidate
// naturally across days.
type notifier struct {
	userID    int64
	cfg       Config
	schedules ScheduleSource
	ch        Channel
	bus       eventbus.Bus
	log       logx.Logger
	now       func() time.Time

	notified map[prayer.Prayer]string // prayer -> last day notified
}

func newNotifier(userID int64, cfg Config, schedules ScheduleSource, ch Channel, bus eventbus.Bus, log logx.Logger, now func() time.Time) *notifier {
	if now == nil {
		now = time.Now
	}
	return &notifier{
		userID:    userID,
		cfg:       cfg.withDefaults(),
		schedules: schedules,
		ch:        ch,
		bus:       bus,
		log:       log,
		now:       now,
		notified:  make(map[prayer.Prayer]string, 5),
	}
}

// run loops until ctx is done. It never returns an error: schedule failures
// back off and retry, they do not terminate the loop.
func (n *notifier) run(ctx context.Context) error {
	for {
		wait := n.cycle(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// cycle performs one poll and returns how long to sleep before the next.
func (n *notifier) cycle(ctx context.Context) time.Duration {
	sched, err := n.schedules.Schedule(ctx, n.userID)
	if err != nil {
		n.log.Warn("schedule read failed", logx.Int64("user", n.userID), logx.Err(err))
		return failureBackoff
	}
	loc, err := sched.Location()
	if err != nil {
		n.log.Warn("timezone load failed", logx.Int64("user", n.userID), logx.Err(err))
		return failureBackoff
	}

	now := n.now().In(loc)
	day := prayer.Day(now)

	for _, p := range prayer.Canonical() {
		if n.notified[p] == day {
			continue
		}
		at, err := sched.At(p, now, loc)
		if err != nil {
			n.log.Warn("schedule entry unusable", logx.Int64("user", n.userID), logx.String("prayer", string(p)), logx.Err(err))
			continue
		}
		if absDiff(now, at) > n.cfg.NotifyTolerance {
			continue
		}
		if err := n.ch.Send(ctx, n.userID, fmt.Sprintf("🕌 It's time for %s.", p)); err != nil {
			// Channel failures are non-fatal; the dedup entry is only
			// recorded on success so the next cycle inside the tolerance
			// window retries.
			n.log.Warn("notification send failed", logx.Int64("user", n.userID), logx.String("prayer", string(p)), logx.Err(err))
			continue
		}
		n.notified[p] = day
		if n.bus != nil {
			n.bus.Publish(eventbus.Event{Type: "prayer.notified", Data: map[string]any{
				"user":   n.userID,
				"prayer": string(p),
				"day":    day,
			}})
		}
	}

	return untilNextPoll(now, n.cfg.PollInterval)
}

func absDiff(a, b time.Time) time.Duration {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d
}

// untilNextPoll aligns sleeps to fixed interval boundaries so notification
// latency stays bounded regardless of when the loop started.
func untilNextPoll(now time.Time, interval time.Duration) time.Duration {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	rem := interval - time.Duration(now.UnixNano())%interval
	if rem < time.Second {
		rem += interval
	}
	return rem
}
