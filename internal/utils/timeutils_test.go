package utils

import (
	"testing"
	"time"
)

func TestParseTimestampLayouts(t *testing.T) {
	want := time.Date(2025, 11, 3, 14, 2, 7, 123456000, time.UTC)
	inputs := []string{
		"2025-11-03T14:02:07.123456Z",
		"2025-11-03T14:02:07.123456",
		"2025-11-03 14:02:07.123456",
		"2025-11-03T16:02:07.123456+02:00",
	}
	for _, in := range inputs {
		got, err := ParseTimestamp(in)
		if err != nil {
			t.Fatalf("ParseTimestamp(%q): %v", in, err)
		}
		if !got.Equal(want) {
			t.Fatalf("ParseTimestamp(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestParseTimestampRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "   ", "yesterday", "2025-13-45"} {
		if _, err := ParseTimestamp(in); err == nil {
			t.Fatalf("expected error for %q", in)
		}
	}
}

func TestFormatTimestampRoundTrip(t *testing.T) {
	ts := time.Date(2025, 1, 2, 3, 4, 5, 6, time.FixedZone("x", 3600))
	back, err := ParseTimestamp(FormatTimestamp(ts))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !back.Equal(ts) {
		t.Fatalf("round trip mismatch: %v vs %v", back, ts)
	}
}
