package moderation

import (
	"errors"
	"testing"
	"time"
)

func TestParseDuration(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
	}{
		{"10m", 10 * time.Minute},
		{"1h", time.Hour},
		{"1d", 24 * time.Hour},
		{"2 days", 48 * time.Hour},
		{"1.5h", 90 * time.Minute},
		{"3w", 21 * 24 * time.Hour},
		{"30 Seconds", 30 * time.Second},
		{"1500", 1500 * time.Millisecond},
		{".5d", 12 * time.Hour},
		{"1h30m", 90 * time.Minute},
		{" 5 mins ", 5 * time.Minute},
	}
	for _, tc := range cases {
		got, err := ParseDuration(tc.in)
		if err != nil {
			t.Fatalf("ParseDuration(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("ParseDuration(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestParseDuration_Rejects(t *testing.T) {
	for _, in := range []string{"", "soon", "0", "-1h", "10 parsecs", "0s"} {
		if _, err := ParseDuration(in); !errors.Is(err, ErrInvalidDuration) {
			t.Fatalf("ParseDuration(%q) err = %v, want ErrInvalidDuration", in, err)
		}
	}
}
