package storage

import (
	"context"
	"time"

	"qazabot/internal/prayer"
)

// Stats is the aggregate block served by /qaza/stats/:user_id.
type Stats struct {
	CompletedToday     int `json:"completed_today"`
	ClearedThisWeek    int `json:"cleared_this_week"`
	TotalPrayersLogged int `json:"total_prayers_logged"`
	CurrentStreak      int `json:"current_streak"`
}

// DayActivity is one entry of the weekly activity strip.
type DayActivity struct {
	Day    string `json:"day"` // abbreviated weekday name
	Status bool   `json:"status"`
}

// TotalQazas counts a user's missed prayers across the whole ledger.
func (s *Store) TotalQazas(ctx context.Context, userID int64) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM qazas WHERE user_id = ? AND outcome = 'missed'`, userID)
	return n, err
}

// Breakdown returns missed counts per prayer. Every canonical prayer is
// present in the result, zero when the user never missed it.
func (s *Store) Breakdown(ctx context.Context, userID int64) (map[string]int, error) {
	out := make(map[string]int, 5)
	for _, p := range prayer.Canonical() {
		out[string(p)] = 0
	}

	rows, err := s.db.QueryxContext(ctx,
		`SELECT prayer, COUNT(*) AS n FROM qazas
		 WHERE user_id = ? AND outcome = 'missed'
		 GROUP BY prayer`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var p string
		var n int
		if err := rows.Scan(&p, &n); err != nil {
			return nil, err
		}
		if _, ok := out[p]; ok {
			out[p] = n
		}
	}
	return out, rows.Err()
}

// UserStats computes the aggregate stats block relative to now.
func (s *Store) UserStats(ctx context.Context, userID int64, now time.Time) (Stats, error) {
	var st Stats
	today := prayer.Day(now)
	weekStart := prayer.Day(now.AddDate(0, 0, -6))

	err := s.db.GetContext(ctx, &st.CompletedToday,
		`SELECT COUNT(*) FROM qazas WHERE user_id = ? AND outcome = 'prayed' AND day = ?`,
		userID, today)
	if err != nil {
		return Stats{}, err
	}
	err = s.db.GetContext(ctx, &st.ClearedThisWeek,
		`SELECT COUNT(*) FROM qazas WHERE user_id = ? AND outcome = 'prayed' AND day >= ? AND day <= ?`,
		userID, weekStart, today)
	if err != nil {
		return Stats{}, err
	}
	err = s.db.GetContext(ctx, &st.TotalPrayersLogged,
		`SELECT COUNT(*) FROM qazas WHERE user_id = ?`, userID)
	if err != nil {
		return Stats{}, err
	}

	// Streak: consecutive days ending today with at least one prayed entry.
	var days []string
	err = s.db.SelectContext(ctx, &days,
		`SELECT DISTINCT day FROM qazas WHERE user_id = ? AND outcome = 'prayed'`, userID)
	if err != nil {
		return Stats{}, err
	}
	prayed := make(map[string]bool, len(days))
	for _, d := range days {
		prayed[d] = true
	}
	for cur := now; prayed[prayer.Day(cur)]; cur = cur.AddDate(0, 0, -1) {
		st.CurrentStreak++
	}
	return st, nil
}

// WeeklyActivity returns the last seven days (oldest first) with a flag for
// whether any ledger entry exists on that day.
func (s *Store) WeeklyActivity(ctx context.Context, userID int64, now time.Time) ([]DayActivity, error) {
	start := now.AddDate(0, 0, -6)
	var days []string
	err := s.db.SelectContext(ctx, &days,
		`SELECT DISTINCT day FROM qazas WHERE user_id = ? AND day >= ?`,
		userID, prayer.Day(start))
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(days))
	for _, d := range days {
		seen[d] = true
	}

	out := make([]DayActivity, 0, 7)
	for i := 0; i < 7; i++ {
		d := start.AddDate(0, 0, i)
		out = append(out, DayActivity{
			Day:    d.Format("Mon"),
			Status: seen[prayer.Day(d)],
		})
	}
	return out, nil
}
