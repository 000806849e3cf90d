package cli

import (
	"fmt"
	"strconv"
	"time"
)

// ParseDuration accepts Go durations plus whole-number day (d), week (w),
// month (m, 30 days) and year (y) suffixes, e.g. "30d".
func ParseDuration(s string) (time.Duration, error) {
	if len(s) < 2 {
		return 0, fmt.Errorf("duration too short: %q", s)
	}

	var unit time.Duration
	switch s[len(s)-1] {
	case 'd':
		unit = 24 * time.Hour
	case 'w':
		unit = 7 * 24 * time.Hour
	case 'm':
		unit = 30 * 24 * time.Hour
	case 'y':
		unit = 365 * 24 * time.Hour
	default:
		return time.ParseDuration(s)
	}

	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid duration value: %q", s)
	}
	return time.Duration(n) * unit, nil
}
