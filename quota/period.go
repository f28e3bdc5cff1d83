package quota

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var periodPattern = regexp.MustCompile(`^(-?(?:\d+)?\.?\d+) *(milliseconds?|msecs?|ms|seconds?|secs?|s|minutes?|mins?|m|hours?|hrs?|h|days?|d|weeks?|w|years?|yrs?|y)?$`)

const (
	day  = 24 * time.Hour
	week = 7 * day
	year = time.Duration(365.25 * float64(day))
)

// ParsePeriod parses a plan period. It accepts Go durations ("1h30m") and
// human forms such as "100ms", "2 days", "1w" or "1y". A bare number is
// read as milliseconds. The result must be at least one millisecond.
func ParsePeriod(period string) (time.Duration, error) {
	s := strings.TrimSpace(period)
	if s == "" {
		return 0, errPlanInvalidPeriod(period)
	}

	if d, err := time.ParseDuration(s); err == nil {
		return checkPeriod(period, d)
	}

	m := periodPattern.FindStringSubmatch(strings.ToLower(s))
	if m == nil {
		return 0, errPlanInvalidPeriod(period)
	}

	n, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, errPlanInvalidPeriod(period)
	}

	var unit time.Duration
	switch m[2] {
	case "", "ms", "msec", "msecs", "millisecond", "milliseconds":
		unit = time.Millisecond
	case "s", "sec", "secs", "second", "seconds":
		unit = time.Second
	case "m", "min", "mins", "minute", "minutes":
		unit = time.Minute
	case "h", "hr", "hrs", "hour", "hours":
		unit = time.Hour
	case "d", "day", "days":
		unit = day
	case "w", "week", "weeks":
		unit = week
	case "y", "yr", "yrs", "year", "years":
		unit = year
	}

	f := n * float64(unit)
	if f >= math.MaxInt64 {
		return 0, errPlanInvalidPeriod(period)
	}
	return checkPeriod(period, time.Duration(math.Round(f)))
}

func checkPeriod(period string, d time.Duration) (time.Duration, error) {
	if d < time.Millisecond {
		return 0, errPlanInvalidPeriod(period)
	}
	return d, nil
}
