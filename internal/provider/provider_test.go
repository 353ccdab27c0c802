package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"qazabot/internal/prayer"
	logx "qazabot/pkg/logx"
)

func TestAlAdhanTimings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/timings" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		q := r.URL.Query()
		if got := q.Get("method"); got != "2" {
			t.Errorf("method = %q, want 2", got)
		}
		if got := q.Get("school"); got != "1" {
			t.Errorf("school = %q, want 1", got)
		}
		if q.Get("latitude") == "" || q.Get("longitude") == "" {
			t.Errorf("missing coordinates in query: %v", q)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"code": 200,
			"data": {
				"timings": {
					"Fajr": "05:00",
					"Sunrise": "06:10 (+05)",
					"Dhuhr": "12:30",
					"Asr": "15:45",
					"Maghrib": "18:20",
					"Isha": "19:40",
					"Midnight": "00:15"
				},
				"meta": {"timezone": "Asia/Seoul"}
			}
		}`))
	}))
	defer srv.Close()

	a := NewAlAdhan(AlAdhanConfig{BaseURL: srv.URL}, logx.Nop())
	sched, err := a.Timings(context.Background(), 37.56, 126.97)
	if err != nil {
		t.Fatalf("Timings: %v", err)
	}
	if sched.Timezone != "Asia/Seoul" {
		t.Fatalf("timezone = %q, want Asia/Seoul", sched.Timezone)
	}
	if got := sched.Times[prayer.Fajr]; got != "05:00" {
		t.Fatalf("fajr = %q, want 05:00", got)
	}
	if got := sched.Times[prayer.Sunrise]; got != "06:10 (+05)" {
		t.Fatalf("sunrise = %q", got)
	}
	if _, ok := sched.Times[prayer.Prayer("midnight")]; ok {
		t.Fatalf("midnight should not be kept in the schedule")
	}
	if err := sched.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestAlAdhanServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	a := NewAlAdhan(AlAdhanConfig{BaseURL: srv.URL}, logx.Nop())
	_, err := a.Timings(context.Background(), 0, 0)
	if err == nil {
		t.Fatal("expected error")
	}
	perr, ok := err.(*Error)
	if !ok {
		t.Fatalf("error type %T, want *Error", err)
	}
	if !perr.Transient() {
		t.Fatalf("5xx should be transient: %v", perr)
	}
}

func TestAlAdhanAPICodeFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code": 400, "data": {}}`))
	}))
	defer srv.Close()

	a := NewAlAdhan(AlAdhanConfig{BaseURL: srv.URL}, logx.Nop())
	if _, err := a.Timings(context.Background(), 0, 0); err == nil {
		t.Fatal("expected error for non-200 api code")
	}
}

func TestNominatimGeocode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("User-Agent"); got == "" {
			t.Error("missing User-Agent header")
		}
		q := r.URL.Query()
		if got := q.Get("q"); got != "Seoul" {
			t.Errorf("q = %q, want Seoul", got)
		}
		if got := q.Get("format"); got != "json" {
			t.Errorf("format = %q, want json", got)
		}
		_, _ = w.Write([]byte(`[{"display_name": "Seoul, South Korea", "lat": "37.5665", "lon": "126.9780"}]`))
	}))
	defer srv.Close()

	n := NewNominatim(NominatimConfig{BaseURL: srv.URL}, logx.Nop())
	place, err := n.Geocode(context.Background(), "Seoul")
	if err != nil {
		t.Fatalf("Geocode: %v", err)
	}
	if place.Lat != 37.5665 || place.Lon != 126.978 {
		t.Fatalf("coords = %v,%v", place.Lat, place.Lon)
	}
	if place.DisplayName == "" {
		t.Fatal("empty display name")
	}
}

func TestNominatimNoResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	n := NewNominatim(NominatimConfig{BaseURL: srv.URL}, logx.Nop())
	_, err := n.Geocode(context.Background(), "nowhere-at-all")
	perr, ok := err.(*Error)
	if !ok {
		t.Fatalf("error type %T, want *Error", err)
	}
	if perr.Status != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", perr.Status)
	}
	if perr.Transient() {
		t.Fatal("empty result should not be transient")
	}
}
