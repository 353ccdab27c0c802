package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"qazabot/internal/prayer"
	logx "qazabot/pkg/logx"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(Config{Path: filepath.Join(t.TempDir(), "test.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func testSchedule() prayer.Schedule {
	return prayer.Schedule{
		Times: map[prayer.Prayer]string{
			prayer.Fajr:    "05:00",
			prayer.Sunrise: "06:10",
			prayer.Dhuhr:   "12:30",
			prayer.Asr:     "15:45",
			prayer.Maghrib: "18:20",
			prayer.Isha:    "19:40",
		},
		Timezone: "Asia/Seoul",
	}
}

func TestUserRoundTrip(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if _, err := st.GetUser(ctx, 42); err != ErrNotFound {
		t.Fatalf("GetUser on empty store: err = %v, want ErrNotFound", err)
	}

	u := User{ID: 42, Name: "Aisha", Lat: 37.56, Lon: 126.97, City: "Seoul"}
	if err := st.UpsertUser(ctx, u); err != nil {
		t.Fatalf("UpsertUser: %v", err)
	}
	got, err := st.GetUser(ctx, 42)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if got.Name != "Aisha" || got.Lat != 37.56 || got.City != "Seoul" {
		t.Fatalf("GetUser = %+v", got)
	}

	// Upsert again with a new location; same row, updated fields.
	u.City = "Busan"
	u.Lat = 35.18
	if err := st.UpsertUser(ctx, u); err != nil {
		t.Fatalf("UpsertUser (update): %v", err)
	}
	got, _ = st.GetUser(ctx, 42)
	if got.City != "Busan" || got.Lat != 35.18 {
		t.Fatalf("after update: %+v", got)
	}

	users, err := st.ListUsers(ctx)
	if err != nil || len(users) != 1 {
		t.Fatalf("ListUsers = %v, %v", users, err)
	}
}

func TestScheduleRoundTrip(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.UpsertUser(ctx, User{ID: 1, Lat: 1, Lon: 1}); err != nil {
		t.Fatalf("UpsertUser: %v", err)
	}

	if _, err := st.Schedule(ctx, 1); err != ErrNotFound {
		t.Fatalf("Schedule before put: err = %v, want ErrNotFound", err)
	}

	want := testSchedule()
	if err := st.PutSchedule(ctx, 1, "2026-08-28", want); err != nil {
		t.Fatalf("PutSchedule: %v", err)
	}
	got, err := st.Schedule(ctx, 1)
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if got.Timezone != want.Timezone {
		t.Fatalf("timezone = %q", got.Timezone)
	}
	for p, v := range want.Times {
		if got.Times[p] != v {
			t.Fatalf("%s = %q, want %q", p, got.Times[p], v)
		}
	}
}

func TestAppendOutcomeLiveIdempotent(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	if err := st.UpsertUser(ctx, User{ID: 7, Lat: 1, Lon: 1}); err != nil {
		t.Fatalf("UpsertUser: %v", err)
	}

	rec := QazaRecord{
		UserID: 7, Prayer: "fajr", Day: "2026-08-28",
		Outcome: "missed", Reason: "no response", Source: SourceLive,
	}
	ins, err := st.AppendOutcome(ctx, rec)
	if err != nil || !ins {
		t.Fatalf("first append: inserted=%v err=%v", ins, err)
	}

	// Second live record for the same (user, prayer, day) is a no-op, even
	// with a different outcome.
	rec.Outcome = "prayed"
	rec.Reason = ""
	ins, err = st.AppendOutcome(ctx, rec)
	if err != nil {
		t.Fatalf("second append: %v", err)
	}
	if ins {
		t.Fatal("second live append should not insert")
	}

	recs, err := st.Outcomes(ctx, 7, "2026-08-28")
	if err != nil {
		t.Fatalf("Outcomes: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("ledger rows = %d, want 1", len(recs))
	}
	if recs[0].Outcome != "missed" || recs[0].Reason != "no response" {
		t.Fatalf("surviving record = %+v", recs[0])
	}
}

func TestAppendOutcomeBackfillAppends(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	if err := st.UpsertUser(ctx, User{ID: 7, Lat: 1, Lon: 1}); err != nil {
		t.Fatalf("UpsertUser: %v", err)
	}

	rec := QazaRecord{
		UserID: 7, Prayer: "asr", Day: "2026-08-28",
		Outcome: "prayed", Source: SourceBackfill,
	}
	for i := 0; i < 2; i++ {
		ins, err := st.AppendOutcome(ctx, rec)
		if err != nil || !ins {
			t.Fatalf("backfill append %d: inserted=%v err=%v", i, ins, err)
		}
		rec.ID = "" // fresh uuid each round
	}
	recs, _ := st.Outcomes(ctx, 7, "2026-08-28")
	if len(recs) != 2 {
		t.Fatalf("backfill rows = %d, want 2", len(recs))
	}
}

func TestStatsQueries(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	if err := st.UpsertUser(ctx, User{ID: 9, Lat: 1, Lon: 1}); err != nil {
		t.Fatalf("UpsertUser: %v", err)
	}

	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	today := prayer.Day(now)
	yesterday := prayer.Day(now.AddDate(0, 0, -1))
	lastMonth := prayer.Day(now.AddDate(0, -1, 0))

	appendRec := func(p, day, outcome, source string) {
		t.Helper()
		if _, err := st.AppendOutcome(ctx, QazaRecord{
			UserID: 9, Prayer: p, Day: day, Outcome: outcome, Source: source,
		}); err != nil {
			t.Fatalf("AppendOutcome(%s %s): %v", p, day, err)
		}
	}

	appendRec("fajr", today, "prayed", SourceLive)
	appendRec("dhuhr", today, "missed", SourceLive)
	appendRec("fajr", yesterday, "prayed", SourceLive)
	appendRec("fajr", lastMonth, "missed", SourceLive)
	appendRec("fajr", lastMonth, "prayed", SourceBackfill)

	total, err := st.TotalQazas(ctx, 9)
	if err != nil || total != 2 {
		t.Fatalf("TotalQazas = %d, %v; want 2", total, err)
	}

	bd, err := st.Breakdown(ctx, 9)
	if err != nil {
		t.Fatalf("Breakdown: %v", err)
	}
	if bd["fajr"] != 1 || bd["dhuhr"] != 1 || bd["asr"] != 0 {
		t.Fatalf("Breakdown = %v", bd)
	}
	if len(bd) != 5 {
		t.Fatalf("Breakdown should list all five prayers, got %v", bd)
	}

	stats, err := st.UserStats(ctx, 9, now)
	if err != nil {
		t.Fatalf("UserStats: %v", err)
	}
	if stats.CompletedToday != 1 {
		t.Fatalf("CompletedToday = %d", stats.CompletedToday)
	}
	if stats.ClearedThisWeek != 2 {
		t.Fatalf("ClearedThisWeek = %d", stats.ClearedThisWeek)
	}
	if stats.TotalPrayersLogged != 5 {
		t.Fatalf("TotalPrayersLogged = %d", stats.TotalPrayersLogged)
	}
	if stats.CurrentStreak != 2 {
		t.Fatalf("CurrentStreak = %d, want 2 (today + yesterday)", stats.CurrentStreak)
	}

	week, err := st.WeeklyActivity(ctx, 9, now)
	if err != nil {
		t.Fatalf("WeeklyActivity: %v", err)
	}
	if len(week) != 7 {
		t.Fatalf("week length = %d", len(week))
	}
	if !week[6].Status || !week[5].Status {
		t.Fatalf("today/yesterday should be active: %v", week)
	}
	if week[0].Status {
		t.Fatalf("oldest day should be inactive: %v", week)
	}
}
