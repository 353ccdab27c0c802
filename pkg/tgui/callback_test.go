package tgui

import "testing"

func TestDataSplitRoundTrip(t *testing.T) {
	cases := []struct {
		scope, action, payload string
		want                   string
	}{
		{"qaza", "prayed", "fajr|2026-08-28", "qaza:prayed:fajr|2026-08-28"},
		{"qaza", "missed", "", "qaza:missed"},
		{" qaza ", "prayed", "asr|2026-08-28", "qaza:prayed:asr|2026-08-28"},
	}
	for _, tc := range cases {
		got := Data(tc.scope, tc.action, tc.payload)
		if got != tc.want {
			t.Fatalf("Data(%q,%q,%q) = %q, want %q", tc.scope, tc.action, tc.payload, got, tc.want)
		}
		s, a, p := Split(got)
		if s != "qaza" || a != tc.action || p != tc.payload {
			t.Fatalf("Split(%q) = %q,%q,%q", got, s, a, p)
		}
	}
}

func TestSplitPayloadKeepsColons(t *testing.T) {
	s, a, p := Split("qaza:prayed:a:b:c")
	if s != "qaza" || a != "prayed" || p != "a:b:c" {
		t.Fatalf("got %q,%q,%q", s, a, p)
	}
}

func TestPackUnpackJSON(t *testing.T) {
	type payload struct {
		Prayer string `json:"p"`
		Day    string `json:"d"`
	}
	in := payload{Prayer: "maghrib", Day: "2026-08-28"}
	packed, err := PackJSON(in)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	var out payload
	if err := UnpackJSON(packed, &out); err != nil {
		t.Fatalf("unpack: %v", err)
	}
	if out != in {
		t.Fatalf("round trip = %+v", out)
	}
}

func TestTruncRunes(t *testing.T) {
	cases := []struct {
		in   string
		n    int
		want string
	}{
		{"salaam", 10, "salaam"},
		{"salaam", 3, "sal…"},
		{"مرحبا", 2, "مر…"},
		{"x", 0, ""},
	}
	for _, tc := range cases {
		if got := TruncRunes(tc.in, tc.n); got != tc.want {
			t.Fatalf("TruncRunes(%q,%d) = %q, want %q", tc.in, tc.n, got, tc.want)
		}
	}
}
