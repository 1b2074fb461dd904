package compliance

import (
	"fmt"
	"time"

	"github.com/coldtrack/coldtrack/internal/domain"
)

// Local hours at which the scheduled jobs fire
const (
	ExportHour    = 0
	RetentionHour = 2
)

// ExportPlan describes a scheduled export that is due
type ExportPlan struct {
	Frequency   domain.ExportType
	PeriodStart string
	PeriodEnd   string
	LocalDate   string
	LocalHour   int
}

// RetentionPlan describes a retention purge that is due. Logs dated before Cutoff are removed.
type RetentionPlan struct {
	Cutoff    string
	LocalDate string
	LocalHour int
}

// ExportPeriod returns the full period immediately preceding today for a frequency
func ExportPeriod(freq domain.ExportType, today string) (string, string, error) {
	switch freq {
	case domain.ExportWeekly, domain.ExportFortnightly:
		monday, err := WeekStart(today)
		if err != nil {
			return "", "", err
		}
		days := -7
		if freq == domain.ExportFortnightly {
			days = -14
		}
		return mustAddDays(monday, days), mustAddDays(monday, -1), nil
	case domain.ExportMonthly:
		t, err := ParseDate(today)
		if err != nil {
			return "", "", err
		}
		first := time.Date(t.Year(), t.Month(), 1, 12, 0, 0, 0, time.UTC)
		return FormatDate(first.AddDate(0, -1, 0)), FormatDate(first.AddDate(0, 0, -1)), nil
	}
	return "", "", domain.NewError(domain.CodeInvalidInput, fmt.Sprintf("unknown export frequency %q", freq))
}

// ExportDecision reports whether a scheduled export fires for the hour containing now.
// It fires at local midnight on the configured schedule weekday.
func ExportDecision(now time.Time, s Settings) (ExportPlan, bool) {
	if s.ExportFrequency == "" {
		return ExportPlan{}, false
	}
	loc := s.Location
	if loc == nil {
		loc = ResolveZone(s.Timezone, nil)
	}
	hour := LocalHour(now, loc)
	if hour != ExportHour || Weekday(now, loc) != s.ExportScheduleWeekday {
		return ExportPlan{}, false
	}
	today := Today(now, loc)
	start, end, err := ExportPeriod(s.ExportFrequency, today)
	if err != nil {
		return ExportPlan{}, false
	}
	return ExportPlan{
		Frequency:   s.ExportFrequency,
		PeriodStart: start,
		PeriodEnd:   end,
		LocalDate:   today,
		LocalHour:   hour,
	}, true
}

// RetentionDecision reports whether the retention purge fires for the hour containing now
func RetentionDecision(now time.Time, s Settings) (RetentionPlan, bool) {
	if !s.RetentionEnabled || s.RetentionDays <= 0 {
		return RetentionPlan{}, false
	}
	loc := s.Location
	if loc == nil {
		loc = ResolveZone(s.Timezone, nil)
	}
	hour := LocalHour(now, loc)
	if hour != RetentionHour {
		return RetentionPlan{}, false
	}
	today := Today(now, loc)
	return RetentionPlan{
		Cutoff:    mustAddDays(today, -s.RetentionDays),
		LocalDate: today,
		LocalHour: hour,
	}, true
}

// ExpiryDue reports whether a temporary account or asset has reached its expiry
func ExpiryDue(expiry *time.Time, now time.Time) bool {
	return expiry != nil && !expiry.After(now)
}
