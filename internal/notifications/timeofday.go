package notifications

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var reTimeOfDay = regexp.MustCompile(`^([01]?\d|2[0-3]):([0-5]\d)$`)

// ParseTimeOfDay parses a 24h "HH:MM" string. Single-digit hours are
// accepted ("9:30"); minutes must always have two digits.
func ParseTimeOfDay(raw string) (hour, minute int, err error) {
	s := strings.TrimSpace(raw)
	m := reTimeOfDay.FindStringSubmatch(s)
	if m == nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidTime, raw)
	}
	hour, _ = strconv.Atoi(m[1])
	minute, _ = strconv.Atoi(m[2])
	return hour, minute, nil
}

// FormatTimeOfDay is the inverse of ParseTimeOfDay.
func FormatTimeOfDay(hour, minute int) string {
	return fmt.Sprintf("%02d:%02d", hour, minute)
}
