package filter

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Window bounds the analysis to records accepted at or after Start and,
// when Delta is set, strictly before Start+Delta. A nil Delta means
// open-ended; a zero Delta is the empty window [Start, Start). A window
// without Start is unbounded and ignores Delta; rejecting a
// delta-without-start request is the engine's job, before any scan.
type Window struct {
	Start *time.Time
	Delta *time.Duration
}

// Contains reports whether a record accepted at t is inside the window.
func (w Window) Contains(t time.Time) bool {
	if w.Start == nil {
		return true
	}
	if t.Before(*w.Start) {
		return false
	}
	if w.Delta != nil && !t.Before(w.Start.Add(*w.Delta)) {
		return false
	}
	return true
}

var startLayouts = []string{
	"2/Jan/2006:15:04:05",
	"2/Jan/2006:15:04",
	"2/Jan/2006:15",
	"2/Jan/2006",
}

// ParseStart reads a window start with progressive precision:
// 11/Dec/2013, 11/Dec/2013:13, 11/Dec/2013:13:14, 11/Dec/2013:13:14:15.
func ParseStart(s string) (time.Time, error) {
	for _, layout := range startLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid start %q, expected dd/Mon/yyyy[:hh[:mm[:ss]]]", s)
}

var deltaRegex = regexp.MustCompile(`^(\d+)([smhd])$`)

// ParseDelta reads a window span such as 45s, 2m, 13h or 1d.
func ParseDelta(s string) (time.Duration, error) {
	match := deltaRegex.FindStringSubmatch(s)
	if match == nil {
		return 0, fmt.Errorf("invalid delta %q, expected <number>[smhd]", s)
	}
	n, err := strconv.Atoi(match[1])
	if err != nil {
		return 0, fmt.Errorf("invalid delta %q: %w", s, err)
	}
	switch match[2] {
	case "s":
		return time.Duration(n) * time.Second, nil
	case "m":
		return time.Duration(n) * time.Minute, nil
	case "h":
		return time.Duration(n) * time.Hour, nil
	default:
		return time.Duration(n) * 24 * time.Hour, nil
	}
}
