package util

import (
	"testing"
	"time"
)

func TestParseTime(t *testing.T) {
	cases := []struct {
		in   string
		ok   bool
		want time.Time
	}{
		{"2024-05-01T10:00:00Z", true, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)},
		{"1714557600", true, time.Unix(1714557600, 0)},
		{"1714557600.5", true, time.Unix(1714557600, 500_000_000)},
		{"", false, time.Time{}},
		{"yesterday", false, time.Time{}},
	}
	for _, c := range cases {
		got, ok := ParseTime(c.in)
		if ok != c.ok {
			t.Fatalf("ParseTime(%q) ok=%v, want %v", c.in, ok, c.ok)
		}
		if ok && !got.Equal(c.want) {
			t.Fatalf("ParseTime(%q)=%v, want %v", c.in, got, c.want)
		}
	}
}

func TestFormatElapsed(t *testing.T) {
	cases := map[time.Duration]string{
		0:                              "00:00",
		999 * time.Millisecond:         "00:00",
		61 * time.Second:               "01:01",
		59*time.Minute + 59*time.Second: "59:59",
		75 * time.Minute:               "75:00",
		-time.Second:                   "00:00",
	}
	for in, want := range cases {
		if got := FormatElapsed(in); got != want {
			t.Fatalf("FormatElapsed(%v)=%q, want %q", in, got, want)
		}
	}
}

func TestValidTicker(t *testing.T) {
	for _, s := range []string{"A", "AAPL", "GOOGL"} {
		if !ValidTicker(s) {
			t.Fatalf("ValidTicker(%q)=false", s)
		}
	}
	for _, s := range []string{"", "aapl", "TOOLONG", "BRK.B", "A1", " AAPL"} {
		if ValidTicker(s) {
			t.Fatalf("ValidTicker(%q)=true", s)
		}
	}
	if got := NormalizeSymbol("  msft "); got != "MSFT" {
		t.Fatalf("NormalizeSymbol=%q", got)
	}
}

func TestParseIntDefault(t *testing.T) {
	if got := ParseIntDefault("25", 5); got != 25 {
		t.Fatalf("got %d", got)
	}
	if got := ParseIntDefault("x", 5); got != 5 {
		t.Fatalf("got %d", got)
	}
	if got := ParseIntDefault("", 5); got != 5 {
		t.Fatalf("got %d", got)
	}
}
