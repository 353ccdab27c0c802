// Package engine is the per-user scheduling core: the registry that owns
// exactly one notifier/warden pair per user, the notifier that fires
// prayer-time messages at most once per day, the warden state machine that
// resolves every pre-deadline prompt to a terminal ledger outcome, the
// resolver that writes that outcome exactly once, and the daily refresher
// that recomputes schedules.
package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"qazabot/internal/prayer"
	"qazabot/internal/transport"
)

var (
	// ErrNotRegistered is returned when an operation targets a user with no
	// live session.
	ErrNotRegistered = errors.New("engine: user not registered")

	// ErrNoPending is returned when a resolution arrives while no warning
	// is open for the user.
	ErrNoPending = errors.New("engine: no pending warning")
)

// Outcome is the closed two-variant answer to a warden prompt.
type Outcome string

const (
	OutcomePrayed Outcome = "prayed"
	OutcomeMissed Outcome = "missed"
)

// ParseOutcome strictly parses a callback payload into an Outcome.
func ParseOutcome(s string) (Outcome, bool) {
	switch Outcome(strings.ToLower(strings.TrimSpace(s))) {
	case OutcomePrayed:
		return OutcomePrayed, true
	case OutcomeMissed:
		return OutcomeMissed, true
	}
	return "", false
}

// Source tags where a ledger entry came from.
type Source string

const (
	SourceLive     Source = "live"     // produced by the warden flow
	SourceBackfill Source = "backfill" // manual logging path
)

// OutcomeRecord is one terminal decision for a (user, prayer, day) instance.
type OutcomeRecord struct {
	UserID  int64
	Prayer  prayer.Prayer
	Day     string // "2006-01-02" in the user's timezone
	Outcome Outcome
	Reason  string // e.g. "no response"; empty for prayed
	Source  Source
}

// User is the directory entry the refresher walks.
type User struct {
	ID  int64
	Lat float64
	Lon float64
}

// Channel delivers user-visible messages. Implementations must be safe for
// concurrent use by many user sessions.
type Channel interface {
	Send(ctx context.Context, userID int64, text string) error
	// Prompt sends the interactive "did you pray?" message and returns a
	// handle used to delete it on resolution.
	Prompt(ctx context.Context, userID int64, target prayer.Prayer, day string) (transport.MessageRef, error)
	Delete(ctx context.Context, ref transport.MessageRef) error
}

// ScheduleSource yields a user's current daily schedule.
type ScheduleSource interface {
	Schedule(ctx context.Context, userID int64) (prayer.Schedule, error)
}

// ScheduleWriter persists a freshly computed schedule.
type ScheduleWriter interface {
	PutSchedule(ctx context.Context, userID int64, day string, sched prayer.Schedule) error
}

// Directory lists the users the refresher recomputes schedules for.
type Directory interface {
	ListUsers(ctx context.Context) ([]User, error)
}

// Provider computes a schedule from coordinates.
type Provider interface {
	Timings(ctx context.Context, lat, lon float64) (prayer.Schedule, error)
}

// Ledger appends terminal outcomes. Append reports inserted=false when the
// record was an idempotent duplicate.
type Ledger interface {
	Append(ctx context.Context, rec OutcomeRecord) (inserted bool, err error)
}

// Config tunes the per-user loops. Zero values take the defaults below.
type Config struct {
	PollInterval    time.Duration // loop poll boundary, default 30s
	NotifyTolerance time.Duration // |now - prayer time| window, default 60s
	WarnWindow      time.Duration // pre-deadline prompt window, default 10m
	ResponseTimeout time.Duration // prompt timeout, default 2h
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 30 * time.Second
	}
	if c.NotifyTolerance <= 0 {
		c.NotifyTolerance = 60 * time.Second
	}
	if c.WarnWindow <= 0 {
		c.WarnWindow = 10 * time.Minute
	}
	if c.ResponseTimeout <= 0 {
		c.ResponseTimeout = 2 * time.Hour
	}
	return c
}

// failureBackoff is how long a loop sleeps after a schedule or timezone
// failure before retrying.
const failureBackoff = 60 * time.Second
