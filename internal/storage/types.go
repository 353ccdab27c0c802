package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("storage: not found")

// User is a registered bot user with a resolved location.
type User struct {
	ID        int64     `db:"id"` // Telegram chat/user id
	Name      string    `db:"name"`
	Lat       float64   `db:"lat"`
	Lon       float64   `db:"lon"`
	City      string    `db:"city"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// ScheduleRow is a user's cached prayer schedule. Times are "HH:MM" local
// wall-clock strings in Timezone; Day records when the cache was computed.
type ScheduleRow struct {
	UserID    int64     `db:"user_id"`
	Fajr      string    `db:"fajr"`
	Sunrise   string    `db:"sunrise"`
	Dhuhr     string    `db:"dhuhr"`
	Asr       string    `db:"asr"`
	Maghrib   string    `db:"maghrib"`
	Isha      string    `db:"isha"`
	Timezone  string    `db:"timezone"`
	Day       string    `db:"day"`
	UpdatedAt time.Time `db:"updated_at"`
}

// QazaRecord is one terminal outcome for a (user, prayer, day).
//
// Source is "live" for outcomes produced by the warden flow and "backfill"
// for manual /qaza entries. Live records are unique per (user, prayer, day);
// backfill records are append-only.
type QazaRecord struct {
	ID        string    `db:"id"` // uuid
	UserID    int64     `db:"user_id"`
	Prayer    string    `db:"prayer"`
	Day       string    `db:"day"`     // "2006-01-02" in the user's timezone
	Outcome   string    `db:"outcome"` // "prayed" or "missed"
	Reason    string    `db:"reason"`  // e.g. "no response", empty for prayed
	Source    string    `db:"source"`  // "live" or "backfill"
	CreatedAt time.Time `db:"created_at"`
}

const (
	SourceLive     = "live"
	SourceBackfill = "backfill"
)
