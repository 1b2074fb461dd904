package compliance

import (
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/coldtrack/coldtrack/internal/domain"
)

const (
	DefaultSignOffWeekday = 5 // Friday
	DefaultOverdueMinutes = 120
	DefaultRetentionDays  = 365
	DefaultMaxQuestions   = 10
	QuestionHardLimit     = 30
)

// DefaultChecklistQuestions apply to workspaces that have not configured their own
var DefaultChecklistQuestions = []string{
	"Is the vehicle clean and free from contamination?",
	"Is the refrigeration unit operating correctly?",
	"Are all temperature loggers calibrated and working?",
	"Is the load secured and not exceeding capacity?",
	"Are all seals and door gaskets intact?",
}

// Settings is the resolved, fully defaulted configuration of one workspace
type Settings struct {
	Timezone              string
	Location              *time.Location
	SignOffWeekday        int
	RequireOdometer       bool
	RequireSignature      bool
	OverdueMinutes        int
	TempRanges            Ranges
	RetentionEnabled      bool
	RetentionDays         int
	ExportFrequency       domain.ExportType
	ExportScheduleWeekday int
	ChecklistQuestions    []string
	MaxQuestions          int
}

var dayNames = map[string]int{
	"sunday": 0, "monday": 1, "tuesday": 2, "wednesday": 3,
	"thursday": 4, "friday": 5, "saturday": 6,
}

// ScheduleWeekday maps a day name to 0..6. Unknown or empty names mean Sunday.
func ScheduleWeekday(name string) int {
	return dayNames[strings.ToLower(strings.TrimSpace(name))]
}

// DefaultSettings returns the settings of a workspace with nothing configured
func DefaultSettings() Settings {
	return Resolve(nil, nil)
}

// Resolve applies defaults to a workspace's stored configuration
func Resolve(ws *domain.Workspace, logger *slog.Logger) Settings {
	s := Settings{
		Timezone:         DefaultTimezone,
		SignOffWeekday:   DefaultSignOffWeekday,
		RequireOdometer:  true,
		RequireSignature: true,
		OverdueMinutes:   DefaultOverdueMinutes,
		TempRanges:       Ranges{},
		RetentionDays:    DefaultRetentionDays,
		MaxQuestions:     DefaultMaxQuestions,
	}
	if ws == nil {
		s.Location = ResolveZone(s.Timezone, logger)
		s.ChecklistQuestions = append([]string(nil), DefaultChecklistQuestions...)
		return s
	}
	if logger != nil {
		logger = logger.With(slog.String("workspace_id", ws.ID))
	}

	raw := ws.Settings
	if tz := strings.TrimSpace(raw.Timezone); tz != "" {
		if _, err := LoadZone(tz); err == nil {
			s.Timezone = tz
		}
	}
	s.Location = ResolveZone(raw.Timezone, logger)

	if d := raw.SignOff.DayOfWeek; d != nil && *d >= 0 && *d <= 6 {
		s.SignOffWeekday = *d
	}
	if raw.SignOff.RequireOdometer != nil {
		s.RequireOdometer = *raw.SignOff.RequireOdometer
	}
	if raw.SignOff.RequireSignature != nil {
		s.RequireSignature = *raw.SignOff.RequireSignature
	}
	if m := raw.OverdueMinutes; m != nil && *m > 0 {
		s.OverdueMinutes = *m
	}
	for z, r := range raw.TempRanges {
		if r.Min == nil && r.Max == nil {
			continue
		}
		s.TempRanges[z] = r
	}
	s.RetentionEnabled = raw.RetentionEnabled
	if d := raw.RetentionDays; d != nil && *d > 0 {
		s.RetentionDays = *d
	}

	switch f := domain.ExportType(strings.ToLower(ws.ExportSettings.Frequency)); f {
	case domain.ExportWeekly, domain.ExportFortnightly, domain.ExportMonthly:
		s.ExportFrequency = f
	}
	s.ExportScheduleWeekday = ScheduleWeekday(ws.ExportSettings.ScheduleDay)

	if len(ws.ChecklistQuestions) > 0 {
		s.ChecklistQuestions = append([]string(nil), ws.ChecklistQuestions...)
	} else {
		s.ChecklistQuestions = append([]string(nil), DefaultChecklistQuestions...)
	}
	if ws.MaxQuestions > 0 {
		s.MaxQuestions = ws.MaxQuestions
	}
	if s.MaxQuestions > QuestionHardLimit {
		s.MaxQuestions = QuestionHardLimit
	}
	return s
}

// NormalizeQuestions trims and drops blank questions, then enforces the workspace limit
func NormalizeQuestions(questions []string, limit int) ([]string, error) {
	out := make([]string, 0, len(questions))
	for _, q := range questions {
		if q = strings.TrimSpace(q); q != "" {
			out = append(out, q)
		}
	}
	if len(out) == 0 {
		return nil, domain.NewError(domain.CodeInvalidInput, "at least one checklist question is required")
	}
	if limit <= 0 || limit > QuestionHardLimit {
		limit = QuestionHardLimit
	}
	if len(out) > limit {
		return nil, domain.WithMetadata(domain.CodeLimitReached, "too many checklist questions", map[string]string{
			"limit": strconv.Itoa(limit),
		})
	}
	return out, nil
}
