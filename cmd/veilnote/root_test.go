package main

import (
	"testing"
	"time"
)

func TestParseDuration(t *testing.T) {
	tests := []struct {
		input string
		want  time.Duration
	}{
		{"24h", 24 * time.Hour},
		{"7d", 7 * 24 * time.Hour},
		{"2w", 14 * 24 * time.Hour},
		{"6m", 180 * 24 * time.Hour},
		{"1y", 365 * 24 * time.Hour},
		{"90s", 90 * time.Second},
	}
	for _, tt := range tests {
		got, err := parseDuration(tt.input)
		if err != nil {
			t.Errorf("parseDuration(%q) error = %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("parseDuration(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestParseDurationRejectsGarbage(t *testing.T) {
	for _, input := range []string{"", "d", "xd", "7q"} {
		if _, err := parseDuration(input); err == nil {
			t.Errorf("parseDuration(%q) accepted invalid input", input)
		}
	}
}

func TestParseTime(t *testing.T) {
	if _, err := parseTime("2026-03-01T10:00:00Z"); err != nil {
		t.Errorf("parseTime(RFC3339) error = %v", err)
	}
	if _, err := parseTime("2026-03-01 10:00"); err != nil {
		t.Errorf("parseTime(short) error = %v", err)
	}
	if _, err := parseTime("tomorrow"); err == nil {
		t.Error("parseTime accepted garbage")
	}
}

func TestFirstLine(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"single", "single"},
		{"first\nsecond", "first"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := firstLine(tt.input); got != tt.want {
			t.Errorf("firstLine(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}

	long := make([]byte, 100)
	for i := range long {
		long[i] = 'a'
	}
	if got := firstLine(string(long)); len(got) != 60 {
		t.Errorf("firstLine(long) length = %d, want 60", len(got))
	}
}
