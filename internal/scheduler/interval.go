package scheduler

import (
	"strconv"
	"strings"
	"time"
)

// ParseIntervalDuration parses "15m", "1h", "4h", "1d", "1w" into time.Duration.
// Anything time.ParseDuration accepts ("90s", "1h30m") works too.
// Returns (0, false) on invalid or non-positive input.
func ParseIntervalDuration(interval string) (time.Duration, bool) {
	interval = strings.ToLower(strings.TrimSpace(interval))
	if interval == "" {
		return 0, false
	}
	if d, err := time.ParseDuration(interval); err == nil {
		return d, d > 0
	}
	unit := interval[len(interval)-1]
	numStr := strings.TrimSpace(interval[:len(interval)-1])
	if numStr == "" {
		return 0, false
	}
	n, err := strconv.Atoi(numStr)
	if err != nil || n <= 0 {
		return 0, false
	}
	switch unit {
	case 'd':
		return time.Duration(n) * 24 * time.Hour, true
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour, true
	default:
		return 0, false
	}
}
