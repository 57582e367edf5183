package usecase

import (
	"math"
	"regexp"
	"strconv"
)

var stepPrefix = regexp.MustCompile(`^\[(\d+)/(\d+)\]`)

// ProgressLog is the bounded message log of one job. When it grows past cap
// the oldest trim entries are dropped in one go.
type ProgressLog struct {
	lines []string
	cap   int
	trim  int
}

// NewProgressLog creates an empty log.
func NewProgressLog(cap, trim int) *ProgressLog {
	if cap <= 0 {
		cap = 200
	}
	if trim <= 0 || trim >= cap {
		trim = 10
	}
	return &ProgressLog{cap: cap, trim: trim}
}

// Append adds one line.
func (l *ProgressLog) Append(msg string) {
	l.lines = append(l.lines, msg)
	if len(l.lines) > l.cap {
		l.lines = append(l.lines[:0:0], l.lines[l.trim:]...)
	}
}

// Replace swaps in a server snapshot, keeping at most cap most recent lines.
func (l *ProgressLog) Replace(lines []string) {
	if len(lines) > l.cap {
		lines = lines[len(lines)-l.cap:]
	}
	l.lines = append([]string(nil), lines...)
}

// Lines returns a copy.
func (l *ProgressLog) Lines() []string {
	return append([]string(nil), l.lines...)
}

// Len returns the number of lines.
func (l *ProgressLog) Len() int { return len(l.lines) }

// Last returns the newest line, or "".
func (l *ProgressLog) Last() string {
	if len(l.lines) == 0 {
		return ""
	}
	return l.lines[len(l.lines)-1]
}

// Reset empties the log.
func (l *ProgressLog) Reset() { l.lines = nil }

// ProgressPercent derives the displayed percentage. A "[step/total]" prefix on msg
// wins; otherwise count*perMessage is used. Both are capped at max.
func ProgressPercent(msg string, count, perMessage, max int) int {
	if m := stepPrefix.FindStringSubmatch(msg); m != nil {
		step, _ := strconv.Atoi(m[1])
		total, _ := strconv.Atoi(m[2])
		if total > 0 {
			return minInt(max, int(math.Round(float64(step)/float64(total)*float64(max))))
		}
	}
	return minInt(max, count*perMessage)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
