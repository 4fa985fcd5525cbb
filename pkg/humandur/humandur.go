// Package humandur parses and prints durations the way chat users type
// them: "30m", "2h", "1d", "1h30m", "2w".
package humandur

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	Day  = 24 * time.Hour
	Week = 7 * Day
)

var units = map[string]time.Duration{
	"s": time.Second, "sec": time.Second, "secs": time.Second, "second": time.Second, "seconds": time.Second,
	"m": time.Minute, "min": time.Minute, "mins": time.Minute, "minute": time.Minute, "minutes": time.Minute,
	"h": time.Hour, "hr": time.Hour, "hrs": time.Hour, "hour": time.Hour, "hours": time.Hour,
	"d": Day, "day": Day, "days": Day,
	"w": Week, "week": Week, "weeks": Week,
}

// Parse reads a sequence of <number><unit> groups, optionally separated by
// spaces. A bare number is minutes. The result must be positive.
func Parse(raw string) (time.Duration, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n <= 0 {
			return 0, fmt.Errorf("duration must be positive")
		}
		return time.Duration(n) * time.Minute, nil
	}

	var total time.Duration
	for i := 0; i < len(s); {
		for i < len(s) && s[i] == ' ' {
			i++
		}
		if i == len(s) {
			break
		}
		j := i
		for j < len(s) && s[j] >= '0' && s[j] <= '9' {
			j++
		}
		if j == i {
			return 0, fmt.Errorf("invalid duration %q (examples: 30m, 2h, 1d, 1h30m)", raw)
		}
		n, err := strconv.Atoi(s[i:j])
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", raw, err)
		}
		for j < len(s) && s[j] == ' ' {
			j++
		}
		k := j
		for k < len(s) && s[k] >= 'a' && s[k] <= 'z' {
			k++
		}
		unit, ok := units[s[j:k]]
		if !ok {
			return 0, fmt.Errorf("invalid duration %q: unknown unit %q", raw, s[j:k])
		}
		total += time.Duration(n) * unit
		i = k
	}
	if total <= 0 {
		return 0, fmt.Errorf("duration must be positive")
	}
	return total, nil
}

// Format prints d in long form, largest units first, at most two units:
// "2 hours 30 minutes", "1 day", "45 seconds".
func Format(d time.Duration) string {
	if d < time.Second {
		return "0 seconds"
	}
	parts := make([]string, 0, 2)
	for _, u := range []struct {
		name string
		size time.Duration
	}{
		{"week", Week}, {"day", Day}, {"hour", time.Hour}, {"minute", time.Minute}, {"second", time.Second},
	} {
		if d < u.size {
			if len(parts) > 0 {
				break
			}
			continue
		}
		n := d / u.size
		d -= n * u.size
		name := u.name
		if n != 1 {
			name += "s"
		}
		parts = append(parts, fmt.Sprintf("%d %s", n, name))
		if len(parts) == 2 {
			break
		}
	}
	return strings.Join(parts, " ")
}
