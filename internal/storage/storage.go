// Package storage persists users, cached prayer schedules, and the qaza
// ledger in a local sqlite database.
package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"qazabot/internal/prayer"
	logx "qazabot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type Config struct {
	Path        string
	BusyTimeout time.Duration
}

type Store struct {
	db  *sqlx.DB
	log logx.Logger
}

func Open(cfg Config, log logx.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sqlx.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	st := &Store{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// UpsertUser creates or updates a user's profile and location.
func (s *Store) UpsertUser(ctx context.Context, u User) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users(id, name, lat, lon, city, created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   name=excluded.name, lat=excluded.lat, lon=excluded.lon,
		   city=excluded.city, updated_at=excluded.updated_at`,
		u.ID, u.Name, u.Lat, u.Lon, u.City, now, now,
	)
	return err
}

func (s *Store) GetUser(ctx context.Context, id int64) (User, error) {
	var u User
	err := s.db.GetContext(ctx, &u,
		`SELECT id, name, lat, lon, city, created_at, updated_at FROM users WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	return u, err
}

func (s *Store) ListUsers(ctx context.Context) ([]User, error) {
	var users []User
	err := s.db.SelectContext(ctx, &users,
		`SELECT id, name, lat, lon, city, created_at, updated_at FROM users ORDER BY id`)
	return users, err
}

// PutSchedule caches a user's schedule for the given calendar day.
func (s *Store) PutSchedule(ctx context.Context, userID int64, day string, sched prayer.Schedule) error {
	if err := sched.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO schedules(user_id, fajr, sunrise, dhuhr, asr, maghrib, isha, timezone, day, updated_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   fajr=excluded.fajr, sunrise=excluded.sunrise, dhuhr=excluded.dhuhr,
		   asr=excluded.asr, maghrib=excluded.maghrib, isha=excluded.isha,
		   timezone=excluded.timezone, day=excluded.day, updated_at=excluded.updated_at`,
		userID,
		sched.Times[prayer.Fajr], sched.Times[prayer.Sunrise], sched.Times[prayer.Dhuhr],
		sched.Times[prayer.Asr], sched.Times[prayer.Maghrib], sched.Times[prayer.Isha],
		sched.Timezone, day, time.Now().UTC(),
	)
	return err
}

// Schedule returns the user's cached schedule.
func (s *Store) Schedule(ctx context.Context, userID int64) (prayer.Schedule, error) {
	var row ScheduleRow
	err := s.db.GetContext(ctx, &row,
		`SELECT user_id, fajr, sunrise, dhuhr, asr, maghrib, isha, timezone, day, updated_at
		 FROM schedules WHERE user_id = ?`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return prayer.Schedule{}, ErrNotFound
	}
	if err != nil {
		return prayer.Schedule{}, err
	}
	return prayer.Schedule{
		Times: map[prayer.Prayer]string{
			prayer.Fajr:    row.Fajr,
			prayer.Sunrise: row.Sunrise,
			prayer.Dhuhr:   row.Dhuhr,
			prayer.Asr:     row.Asr,
			prayer.Maghrib: row.Maghrib,
			prayer.Isha:    row.Isha,
		},
		Timezone: row.Timezone,
	}, nil
}

// AppendOutcome records one terminal outcome. For live records the partial
// unique index makes repeats no-ops; inserted reports whether this call won.
func (s *Store) AppendOutcome(ctx context.Context, rec QazaRecord) (inserted bool, err error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO qazas(id, user_id, prayer, day, outcome, reason, source, created_at)
		 VALUES(?,?,?,?,?,?,?,?)
		 ON CONFLICT DO NOTHING`,
		rec.ID, rec.UserID, rec.Prayer, rec.Day, rec.Outcome, rec.Reason, rec.Source, rec.CreatedAt,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Outcomes lists a user's ledger entries for a single day, oldest first.
func (s *Store) Outcomes(ctx context.Context, userID int64, day string) ([]QazaRecord, error) {
	var recs []QazaRecord
	err := s.db.SelectContext(ctx, &recs,
		`SELECT id, user_id, prayer, day, outcome, reason, source, created_at
		 FROM qazas WHERE user_id = ? AND day = ? ORDER BY created_at`, userID, day)
	return recs, err
}
