// Package prayer holds the domain vocabulary shared by the scheduling engine:
// the five canonical prayers, the per-day schedule, and the deadline table
// used for pre-deadline warnings.
package prayer

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Prayer names one of the daily prayer times. Sunrise is not a prayer but
// marks fajr's deadline, so it travels with the schedule.
type Prayer string

const (
	Fajr    Prayer = "fajr"
	Sunrise Prayer = "sunrise"
	Dhuhr   Prayer = "dhuhr"
	Asr     Prayer = "asr"
	Maghrib Prayer = "maghrib"
	Isha    Prayer = "isha"
)

// Canonical returns the five daily prayers in chronological order.
// Sunrise is excluded: it is a boundary marker, never notified.
func Canonical() []Prayer {
	return []Prayer{Fajr, Dhuhr, Asr, Maghrib, Isha}
}

// Parse maps a user-supplied name to a canonical prayer.
func Parse(s string) (Prayer, bool) {
	switch Prayer(strings.ToLower(strings.TrimSpace(s))) {
	case Fajr:
		return Fajr, true
	case Dhuhr:
		return Dhuhr, true
	case Asr:
		return Asr, true
	case Maghrib:
		return Maghrib, true
	case Isha:
		return Isha, true
	}
	return "", false
}

// DeadlineOf is the explicit target→deadline enumeration: a prayer is
// considered missed once the next prayer's time (sunrise, in fajr's case)
// has started. Isha has no same-day deadline and is absent.
//
// Keep this a single table; the warden and its tests enumerate it as-is.
func DeadlineOf(p Prayer) (Prayer, bool) {
	switch p {
	case Fajr:
		return Sunrise, true
	case Dhuhr:
		return Asr, true
	case Asr:
		return Maghrib, true
	case Maghrib:
		return Isha, true
	}
	return "", false
}

// WarnTargets returns the prayers eligible for a pre-deadline warning,
// i.e. the keys of the deadline table, in chronological order.
func WarnTargets() []Prayer {
	return []Prayer{Fajr, Dhuhr, Asr, Maghrib}
}

// Schedule is one user's prayer times for a single calendar day.
// Times are local wall-clock "HH:MM" strings in Timezone.
type Schedule struct {
	Times    map[Prayer]string
	Timezone string
}

// At resolves a prayer's wall-clock time on the given calendar day in loc.
func (s Schedule) At(p Prayer, day time.Time, loc *time.Location) (time.Time, error) {
	raw, ok := s.Times[p]
	if !ok {
		return time.Time{}, fmt.Errorf("schedule has no entry for %s", p)
	}
	h, m, err := ParseHHMM(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: %w", p, err)
	}
	y, mo, d := day.In(loc).Date()
	return time.Date(y, mo, d, h, m, 0, 0, loc), nil
}

// Location loads the schedule's IANA timezone.
func (s Schedule) Location() (*time.Location, error) {
	tz := strings.TrimSpace(s.Timezone)
	if tz == "" {
		return nil, fmt.Errorf("schedule has no timezone")
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", tz, err)
	}
	return loc, nil
}

// Validate checks that all six entries are present and parseable.
func (s Schedule) Validate() error {
	if _, err := s.Location(); err != nil {
		return err
	}
	for _, p := range []Prayer{Fajr, Sunrise, Dhuhr, Asr, Maghrib, Isha} {
		raw, ok := s.Times[p]
		if !ok {
			return fmt.Errorf("schedule missing %s", p)
		}
		if _, _, err := ParseHHMM(raw); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}

// ParseHHMM parses a 24h "HH:MM" wall-clock string.
func ParseHHMM(s string) (hour int, minute int, err error) {
	s = strings.TrimSpace(s)
	// AlAdhan sometimes annotates times like "05:12 (+05)"; keep the clock part.
	if i := strings.IndexByte(s, ' '); i > 0 {
		s = s[:i]
	}
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}

// Day formats t as the engine's calendar-day key (local date, ISO form).
func Day(t time.Time) string { return t.Format("2006-01-02") }
