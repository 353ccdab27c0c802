package engine

import (
	"context"
	"fmt"

	"qazabot/internal/eventbus"
	logx "qazabot/pkg/logx"
)

// Resolver turns a warden resolution (or a manual backfill) into exactly one
// ledger write. Idempotency for live records is enforced by the ledger's
// uniqueness over (user, prayer, day); a duplicate resolution is a no-op.
type Resolver struct {
	ledger Ledger
	bus    eventbus.Bus
	log    logx.Logger
}

func NewResolver(ledger Ledger, bus eventbus.Bus, log logx.Logger) *Resolver {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Resolver{ledger: ledger, bus: bus, log: log}
}

// Resolve validates and appends the record. inserted is false when the
// instance was already resolved.
func (r *Resolver) Resolve(ctx context.Context, rec OutcomeRecord) (inserted bool, err error) {
	if rec.Outcome != OutcomePrayed && rec.Outcome != OutcomeMissed {
		return false, fmt.Errorf("engine: invalid outcome %q", rec.Outcome)
	}
	if rec.Source == "" {
		rec.Source = SourceLive
	}
	if rec.Outcome == OutcomePrayed {
		rec.Reason = ""
	}

	inserted, err = r.ledger.Append(ctx, rec)
	if err != nil {
		return false, fmt.Errorf("engine: append outcome: %w", err)
	}
	if !inserted {
		r.log.Debug("duplicate resolution ignored",
			logx.Int64("user", rec.UserID),
			logx.String("prayer", string(rec.Prayer)),
			logx.String("day", rec.Day))
		return false, nil
	}

	if r.bus != nil {
		r.bus.Publish(eventbus.Event{Type: "warden.resolved", Data: map[string]any{
			"user":    rec.UserID,
			"prayer":  string(rec.Prayer),
			"day":     rec.Day,
			"outcome": string(rec.Outcome),
			"source":  string(rec.Source),
		}})
	}
	return true, nil
}
