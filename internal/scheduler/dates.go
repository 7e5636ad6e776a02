package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"report_scheduler/internal/models"
)

// DateFormat is the layout relative dates resolve to.
const DateFormat = "2006-01-02"

// D is today, D-n is n days ago, D+n is n days ahead.
var relativeDateRe = regexp.MustCompile(`^D(?:([+-])(\d+))?$`)

func normalizeRelativeDate(value string) string {
	return strings.ToUpper(strings.Join(strings.Fields(value), ""))
}

// IsRelativeDate reports whether value is a relative date expression.
func IsRelativeDate(value string) bool {
	return relativeDateRe.MatchString(normalizeRelativeDate(value))
}

// ResolveRelativeDate converts D, D-n or D+n into a date relative to ref.
// Case and spaces are ignored.
func ResolveRelativeDate(value string, ref time.Time) (time.Time, error) {
	m := relativeDateRe.FindStringSubmatch(normalizeRelativeDate(value))
	if m == nil {
		return time.Time{}, fmt.Errorf("invalid relative date: %q", value)
	}

	day := time.Date(ref.Year(), ref.Month(), ref.Day(), 0, 0, 0, 0, ref.Location())
	if m[1] == "" {
		return day, nil
	}

	n, err := strconv.Atoi(m[2])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid relative date: %q: %w", value, err)
	}
	if m[1] == "-" {
		n = -n
	}
	return day.AddDate(0, 0, n), nil
}

// ResolveParams returns a copy of params with relative dates replaced by
// dates formatted as DateFormat. Other values are kept as they are.
func ResolveParams(params models.Params, ref time.Time) models.Params {
	resolved := params.Clone()
	for i, p := range resolved {
		if !IsRelativeDate(p.Value) {
			continue
		}
		if d, err := ResolveRelativeDate(p.Value, ref); err == nil {
			resolved[i].Value = d.Format(DateFormat)
		}
	}
	return resolved
}
