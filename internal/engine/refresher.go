package engine

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"qazabot/internal/eventbus"
	"qazabot/internal/prayer"
	logx "qazabot/pkg/logx"
)

// Refresher recomputes every user's daily schedule on a cron boundary.
// Per-user failures are logged and skipped; the cron entry re-arms
// regardless of how a batch went.
type Refresher struct {
	dir      Directory
	provider Provider
	writer   ScheduleWriter
	bus      eventbus.Bus
	log      logx.Logger
	now      func() time.Time

	cron *cron.Cron
}

func NewRefresher(dir Directory, provider Provider, writer ScheduleWriter, bus eventbus.Bus, log logx.Logger, now func() time.Time) *Refresher {
	if log.IsZero() {
		log = logx.Nop()
	}
	if now == nil {
		now = time.Now
	}
	return &Refresher{dir: dir, provider: provider, writer: writer, bus: bus, log: log, now: now}
}

// Start arms the cron entry. spec is a standard 5-field expression evaluated
// in loc (default "10 0 * * *" UTC, shortly after midnight).
func (f *Refresher) Start(spec string, loc *time.Location) error {
	if spec == "" {
		spec = "10 0 * * *"
	}
	if loc == nil {
		loc = time.UTC
	}
	c := cron.New(cron.WithLocation(loc))
	if _, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		f.RunOnce(ctx)
	}); err != nil {
		return err
	}
	f.cron = c
	c.Start()
	f.log.Info("daily refresh armed", logx.String("cron", spec), logx.String("tz", loc.String()))
	return nil
}

// Stop disarms the cron entry and waits for a running batch, bounded by ctx.
func (f *Refresher) Stop(ctx context.Context) {
	if f.cron == nil {
		return
	}
	done := f.cron.Stop().Done()
	select {
	case <-done:
	case <-ctx.Done():
		f.log.Warn("refresh batch still running at shutdown")
	}
}

// RunOnce refreshes all users and reports how many succeeded and failed.
// Also called at startup so fresh deployments have schedules immediately.
func (f *Refresher) RunOnce(ctx context.Context) (ok, failed int) {
	users, err := f.dir.ListUsers(ctx)
	if err != nil {
		f.log.Error("user directory walk failed", logx.Err(err))
		return 0, 0
	}

	for _, u := range users {
		if ctx.Err() != nil {
			return ok, failed
		}
		sched, err := f.provider.Timings(ctx, u.Lat, u.Lon)
		if err != nil {
			failed++
			f.log.Warn("schedule fetch failed", logx.Int64("user", u.ID), logx.Err(err))
			continue
		}
		day := prayer.Day(f.now())
		if loc, lerr := sched.Location(); lerr == nil {
			day = prayer.Day(f.now().In(loc))
		}
		if err := f.writer.PutSchedule(ctx, u.ID, day, sched); err != nil {
			failed++
			f.log.Warn("schedule persist failed", logx.Int64("user", u.ID), logx.Err(err))
			continue
		}
		ok++
	}

	f.log.Info("daily refresh completed", logx.Int("ok", ok), logx.Int("failed", failed))
	if f.bus != nil {
		f.bus.Publish(eventbus.Event{Type: "refresh.completed", Data: map[string]any{
			"ok": ok, "failed": failed,
		}})
	}
	return ok, failed
}
