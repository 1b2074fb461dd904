package compliance

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/coldtrack/coldtrack/internal/domain"
)

// ExceptionType names a compliance rule violation
type ExceptionType string

const (
	ExceptionOutOfRange      ExceptionType = "out_of_range"
	ExceptionMissedChecklist ExceptionType = "missed_checklist"
	ExceptionOverdue         ExceptionType = "overdue"
	ExceptionMissedSignOff   ExceptionType = "missed_signoff"
)

// Severity ranks exceptions for triage
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

func (s Severity) rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityWarning:
		return 1
	default:
		return 2
	}
}

// Exception is one flagged violation
type Exception struct {
	Type       ExceptionType    `json:"type"`
	Severity   Severity         `json:"severity"`
	Date       string           `json:"date"`
	LogID      string           `json:"logId"`
	VehicleID  string           `json:"vehicleId"`
	Rego       string           `json:"rego"`
	DriverID   string           `json:"driverId"`
	DriverName string           `json:"driverName"`
	Zone       domain.Zone      `json:"zone,omitempty"`
	Value      domain.TempValue `json:"value,omitempty"`
	Status     Status           `json:"status,omitempty"`
	ReadingID  string           `json:"readingId,omitempty"`
	TimeLabel  string           `json:"time,omitempty"`
	Message    string           `json:"message"`
}

var evaluatedZones = []domain.Zone{domain.ZoneDispatch, domain.ZoneChiller, domain.ZoneFreezer, domain.ZoneCabin, domain.ZoneAmbient}

// Detect scans logs for rule violations and returns them ordered by severity, then date
// descending. Ties keep encounter order. today is the workspace-local date of now.
func Detect(logs []*domain.Log, vehicles []*domain.Vehicle, users []*domain.User, s Settings, today string, now time.Time) []Exception {
	loc := s.Location
	if loc == nil {
		loc = ResolveZone(s.Timezone, nil)
	}
	regos := make(map[string]string, len(vehicles))
	for _, v := range vehicles {
		regos[v.ID] = v.Rego
	}
	names := make(map[string]string, len(users))
	for _, u := range users {
		names[u.ID] = u.DisplayName()
	}
	label := func(m map[string]string, id string) string {
		if n, ok := m[id]; ok {
			return n
		}
		return "Unknown"
	}

	var out []Exception
	for _, log := range logs {
		if log == nil {
			continue
		}
		base := Exception{
			Date:       log.Date,
			LogID:      log.ID,
			VehicleID:  log.VehicleID,
			Rego:       label(regos, log.VehicleID),
			DriverID:   log.DriverID,
			DriverName: label(names, log.DriverID),
		}

		if len(s.TempRanges) > 0 {
			for _, r := range log.Temps {
				for _, z := range evaluatedZones {
					v, ok := r.Values[z]
					if !ok {
						continue
					}
					st := Check(v, z, s.TempRanges)
					if !st.Violation() {
						continue
					}
					e := base
					e.Type = ExceptionOutOfRange
					e.Severity = SeverityWarning
					e.Zone = z
					e.Value = v
					e.Status = st
					e.ReadingID = r.ID
					e.TimeLabel = TimeLabel(r.Time, loc)
					e.Message = fmt.Sprintf("%s temp %s: %s°C", titleCase(string(z)), st, v.String())
					out = append(out, e)
				}
			}
		}

		if !log.ChecklistDone {
			e := base
			e.Type = ExceptionMissedChecklist
			e.Severity = SeverityInfo
			e.Message = "Checklist not completed"
			out = append(out, e)
		}

		if last := log.LastReading(); last != nil && !log.ShiftDone && log.Date == today {
			if mins := MinutesSince(last.Time, now); mins > s.OverdueMinutes {
				e := base
				e.Type = ExceptionOverdue
				e.Severity = SeverityCritical
				e.TimeLabel = TimeLabel(last.Time, loc)
				e.Message = fmt.Sprintf("No log for %d min (overdue: >%d min)", mins, s.OverdueMinutes)
				out = append(out, e)
			}
		}

		if due, err := SignOffDate(log.Date, s.SignOffWeekday); err == nil && due == log.Date && due < today {
			if log.ShiftDone && log.Odometer != "" && log.Signature != "" && !log.Signed() {
				e := base
				e.Type = ExceptionMissedSignOff
				e.Severity = SeverityCritical
				e.Message = "Admin sign-off not completed"
				out = append(out, e)
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if ri, rj := out[i].Severity.rank(), out[j].Severity.rank(); ri != rj {
			return ri < rj
		}
		return out[i].Date > out[j].Date
	})
	return out
}

// CountBySeverity tallies exceptions per severity
func CountBySeverity(list []Exception) map[Severity]int {
	counts := map[Severity]int{SeverityCritical: 0, SeverityWarning: 0, SeverityInfo: 0}
	for _, e := range list {
		counts[e.Severity]++
	}
	return counts
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
