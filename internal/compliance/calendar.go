package compliance

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/coldtrack/coldtrack/internal/domain"
)

// DefaultTimezone is used when a workspace has no zone or an unusable one
const DefaultTimezone = "Australia/Perth"

// DateLayout is the calendar date format used for log keys
const DateLayout = "2006-01-02"

// LoadZone resolves an IANA zone name. The process-local zone is never used.
func LoadZone(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.EqualFold(name, "local") {
		return nil, domain.Wrap(domain.CodeInvalidZone, "invalid timezone", fmt.Errorf("zone %q", name))
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, domain.Wrap(domain.CodeInvalidZone, "invalid timezone", err)
	}
	return loc, nil
}

// ResolveZone is LoadZone that falls back to DefaultTimezone with a warning
func ResolveZone(name string, logger *slog.Logger) *time.Location {
	loc, err := LoadZone(name)
	if err == nil {
		return loc
	}
	if logger == nil {
		logger = slog.Default()
	}
	if name != "" {
		logger.Warn("invalid workspace timezone, using default",
			slog.String("timezone", name),
			slog.String("default", DefaultTimezone),
			slog.String("error", err.Error()),
		)
	}
	loc, err = time.LoadLocation(DefaultTimezone)
	if err != nil {
		// tzdata missing entirely; Perth has no DST so a fixed offset is exact
		return time.FixedZone(DefaultTimezone, 8*60*60)
	}
	return loc
}

// Today returns the calendar date of now in loc
func Today(now time.Time, loc *time.Location) string {
	return now.In(loc).Format(DateLayout)
}

// Weekday returns the local weekday of now in loc, 0 = Sunday
func Weekday(now time.Time, loc *time.Location) int {
	return int(now.In(loc).Weekday())
}

// LocalHour returns the wall-clock hour of now in loc
func LocalHour(now time.Time, loc *time.Location) int {
	return now.In(loc).Hour()
}

// TimeLabel renders t as a 24h HH:MM label in loc
func TimeLabel(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("15:04")
}

// MinutesSince returns whole minutes elapsed from then to now, never negative
func MinutesSince(then, now time.Time) int {
	d := now.Sub(then)
	if d <= 0 {
		return 0
	}
	return int(d / time.Minute)
}

// ParseDate parses a YYYY-MM-DD date at UTC noon so day arithmetic never crosses a DST edge
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, domain.Wrap(domain.CodeInvalidInput, "invalid date", err)
	}
	return t.Add(12 * time.Hour), nil
}

// FormatDate renders the calendar date of t
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// AddDays shifts a date string by n calendar days
func AddDays(date string, n int) (string, error) {
	t, err := ParseDate(date)
	if err != nil {
		return "", err
	}
	return FormatDate(t.AddDate(0, 0, n)), nil
}

// DateWeekday returns the weekday of a date string, 0 = Sunday
func DateWeekday(date string) (int, error) {
	t, err := ParseDate(date)
	if err != nil {
		return 0, err
	}
	return int(t.Weekday()), nil
}

// mustAddDays is AddDays for dates already known to be valid
func mustAddDays(date string, n int) string {
	s, err := AddDays(date, n)
	if err != nil {
		return date
	}
	return s
}
