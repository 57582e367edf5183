package util

import (
	"regexp"
	"strconv"
	"strings"
)

// TickerPattern is the accepted ticker symbol format.
const TickerPattern = `^[A-Z]{1,5}$`

var tickerRe = regexp.MustCompile(TickerPattern)

// ParseIntDefault parses string to int or returns default if empty/invalid.
func ParseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

// NormalizeSymbol trims and upper-cases user input.
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// ValidTicker reports whether s already is a well-formed ticker.
func ValidTicker(s string) bool {
	return tickerRe.MatchString(s)
}

// Truncate cuts s to at most n bytes for log output.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
