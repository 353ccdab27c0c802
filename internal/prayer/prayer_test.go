package prayer

import (
	"testing"
	"time"
)

func TestDeadlineTable(t *testing.T) {
	t.Parallel()
	tests := []struct {
		target   Prayer
		deadline Prayer
	}{
		{Fajr, Sunrise},
		{Dhuhr, Asr},
		{Asr, Maghrib},
		{Maghrib, Isha},
	}
	for _, tt := range tests {
		got, ok := DeadlineOf(tt.target)
		if !ok {
			t.Fatalf("DeadlineOf(%s) not found", tt.target)
		}
		if got != tt.deadline {
			t.Fatalf("DeadlineOf(%s) = %s, want %s", tt.target, got, tt.deadline)
		}
	}

	// Isha (and non-prayers) have no same-day deadline.
	if _, ok := DeadlineOf(Isha); ok {
		t.Fatal("isha must not have a same-day deadline")
	}
	if _, ok := DeadlineOf(Sunrise); ok {
		t.Fatal("sunrise is a boundary, not a warning target")
	}

	targets := WarnTargets()
	if len(targets) != len(tests) {
		t.Fatalf("WarnTargets() has %d entries, want %d", len(targets), len(tests))
	}
	for i, tt := range tests {
		if targets[i] != tt.target {
			t.Fatalf("WarnTargets()[%d] = %s, want %s", i, targets[i], tt.target)
		}
	}
}

func TestParseHHMM(t *testing.T) {
	t.Parallel()
	h, m, err := ParseHHMM("05:12")
	if err != nil {
		t.Fatalf("ParseHHMM error: %v", err)
	}
	if h != 5 || m != 12 {
		t.Fatalf("unexpected result: %d:%d", h, m)
	}

	// Annotated AlAdhan form.
	h, m, err = ParseHHMM("18:20 (+05)")
	if err != nil {
		t.Fatalf("ParseHHMM annotated error: %v", err)
	}
	if h != 18 || m != 20 {
		t.Fatalf("unexpected result: %d:%d", h, m)
	}

	for _, raw := range []string{"24:00", "12:60", "noon", "12", ""} {
		if _, _, err := ParseHHMM(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestScheduleAt(t *testing.T) {
	t.Parallel()
	s := Schedule{
		Times: map[Prayer]string{
			Fajr: "05:00", Sunrise: "06:10", Dhuhr: "12:30",
			Asr: "15:45", Maghrib: "18:20", Isha: "19:40",
		},
		Timezone: "Asia/Seoul",
	}
	if err := s.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	loc, err := s.Location()
	if err != nil {
		t.Fatalf("Location: %v", err)
	}
	day := time.Date(2025, 3, 10, 9, 0, 0, 0, loc)
	got, err := s.At(Maghrib, day, loc)
	if err != nil {
		t.Fatalf("At: %v", err)
	}
	want := time.Date(2025, 3, 10, 18, 20, 0, 0, loc)
	if !got.Equal(want) {
		t.Fatalf("At(maghrib) = %v, want %v", got, want)
	}

	if _, err := (Schedule{Times: map[Prayer]string{}, Timezone: "Asia/Seoul"}).At(Fajr, day, loc); err == nil {
		t.Fatal("expected error for missing entry")
	}
}

func TestScheduleValidateRejectsBadTimezone(t *testing.T) {
	t.Parallel()
	s := Schedule{
		Times: map[Prayer]string{
			Fajr: "05:00", Sunrise: "06:10", Dhuhr: "12:30",
			Asr: "15:45", Maghrib: "18:20", Isha: "19:40",
		},
		Timezone: "Mars/Olympus",
	}
	if err := s.Validate(); err == nil {
		t.Fatal("expected error for unknown timezone")
	}
}
