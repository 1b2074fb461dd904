package compliance

import (
	"fmt"
	"strings"
	"time"

	"github.com/coldtrack/coldtrack/internal/domain"
)

// LogState is the derived position of a log in its daily lifecycle
type LogState string

const (
	StateNotStarted           LogState = "not_started"
	StateAwaitingFirstReading LogState = "awaiting_first_reading"
	StateInProgress           LogState = "in_progress"
	StateShiftEnded           LogState = "shift_ended"
	StateSignedOff            LogState = "signed_off"
)

// State derives the lifecycle state of log. Checklist completion is orthogonal.
func State(log *domain.Log) LogState {
	switch {
	case log == nil:
		return StateNotStarted
	case log.Signed():
		return StateSignedOff
	case log.ShiftDone:
		return StateShiftEnded
	case len(log.Temps) == 0:
		return StateAwaitingFirstReading
	default:
		return StateInProgress
	}
}

// NewLog builds an empty log for the (workspace, vehicle, date) key
func NewLog(id, workspaceID, vehicleID, driverID, date string, now time.Time) *domain.Log {
	return &domain.Log{
		ID:          id,
		WorkspaceID: workspaceID,
		VehicleID:   vehicleID,
		DriverID:    driverID,
		Date:        date,
		Temps:       []domain.Reading{},
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// StartRules lists the zones a vehicle's first reading must carry
type StartRules struct {
	RequiredZones []domain.Zone
}

// RequiredStartZones returns the start-of-shift zones for a vehicle temperature type
func RequiredStartZones(temperatureType string) StartRules {
	switch strings.ToLower(temperatureType) {
	case domain.TempTypeChiller:
		return StartRules{RequiredZones: []domain.Zone{domain.ZoneDispatch, domain.ZoneChiller}}
	case domain.TempTypeFreezer:
		return StartRules{RequiredZones: []domain.Zone{domain.ZoneDispatch, domain.ZoneFreezer}}
	case domain.TempTypeCabin:
		return StartRules{RequiredZones: []domain.Zone{domain.ZoneCabin}}
	default:
		return StartRules{RequiredZones: []domain.Zone{domain.ZoneDispatch, domain.ZoneChiller, domain.ZoneFreezer}}
	}
}

// checklistAnswer reads the answer for question i (0-based), accepting 0-based keys as a fallback
func checklistAnswer(answers map[string]string, i int) string {
	if a, ok := answers[fmt.Sprintf("q%d", i+1)]; ok && a != "" {
		return a
	}
	return answers[fmt.Sprintf("q%d", i)]
}

// SubmitChecklist records the answers and freezes the current question text alongside them
func SubmitChecklist(log *domain.Log, questions []string, answers map[string]string, now time.Time) error {
	if log.ChecklistDone {
		return domain.ErrAlreadyCompleted
	}
	if log.Signed() {
		return domain.ErrAlreadySigned
	}
	snapshot := make([]domain.ChecklistAnswer, len(questions))
	for i, q := range questions {
		snapshot[i] = domain.ChecklistAnswer{Question: q, Answer: checklistAnswer(answers, i)}
	}
	raw := make(map[string]string, len(answers))
	for k, v := range answers {
		raw[k] = v
	}
	log.Checklist = raw
	log.ChecklistSnapshot = snapshot
	log.ChecklistDone = true
	log.ChecklistTime = &now
	log.UpdatedAt = now
	return nil
}

// cleanValues keeps the known zones that carry a non-blank value
func cleanValues(values map[domain.Zone]domain.TempValue, zones ...domain.Zone) map[domain.Zone]domain.TempValue {
	out := make(map[domain.Zone]domain.TempValue)
	for _, z := range zones {
		v, ok := values[z]
		if !ok && z == domain.ZoneCabin {
			v, ok = values[domain.ZoneAmbient]
		}
		if ok && !v.IsBlank() {
			out[z] = v
		}
	}
	return out
}

// AddReading appends a reading. The first reading of a log is a start reading, later ones are cabin checks.
func AddReading(log *domain.Log, values map[domain.Zone]domain.TempValue, rules StartRules, now time.Time, newID string) (domain.Reading, error) {
	if log.ShiftDone {
		return domain.Reading{}, domain.ErrAlreadyEnded
	}
	r := domain.Reading{ID: newID, Time: now}
	if len(log.Temps) == 0 {
		r.Type = domain.ReadingStart
		r.Values = cleanValues(values, domain.Zones...)
		for _, z := range rules.RequiredZones {
			if _, ok := r.Values[z]; !ok {
				return domain.Reading{}, domain.WithMetadata(domain.CodeReadingRequired,
					fmt.Sprintf("%s temperature required", z), map[string]string{"zone": string(z)})
			}
		}
	} else {
		r.Type = domain.ReadingCabin
		r.Values = cleanValues(values, domain.ZoneCabin)
		if _, ok := r.Values[domain.ZoneCabin]; !ok {
			return domain.Reading{}, domain.ErrCabinRequired
		}
	}
	log.Temps = append(log.Temps, r)
	log.UpdatedAt = now
	return r, nil
}

// EditReading replaces the values of an existing reading. Type and time are kept.
func EditReading(log *domain.Log, readingID string, values map[domain.Zone]domain.TempValue, now time.Time) error {
	if log.Signed() {
		return domain.ErrAlreadySigned
	}
	for i := range log.Temps {
		if log.Temps[i].ID != readingID {
			continue
		}
		log.Temps[i].Values = cleanValues(values, domain.Zones...)
		log.UpdatedAt = now
		return nil
	}
	return domain.WithMetadata(domain.CodeNotFound, "reading not found", map[string]string{"reading_id": readingID})
}

// EndShiftInput is what the driver submits when closing the shift
type EndShiftInput struct {
	Odometer   string
	Signature  string
	FinalCabin domain.TempValue
}

// IsSignOffDay reports whether date falls on the workspace sign-off weekday.
// The log's own date is compared, so a late entry for a past day follows that day's rule.
func IsSignOffDay(date string, s Settings, force bool) bool {
	if force {
		return true
	}
	wd, err := DateWeekday(date)
	return err == nil && wd == s.SignOffWeekday
}

// EndShift closes the shift. On the sign-off day the odometer and signature are enforced
// according to workspace settings.
func EndShift(log *domain.Log, in EndShiftInput, s Settings, force bool, now time.Time, newID string) error {
	if log.ShiftDone {
		return domain.ErrAlreadyEnded
	}
	odometer := strings.TrimSpace(in.Odometer)
	signature := strings.TrimSpace(in.Signature)
	if IsSignOffDay(log.Date, s, force) {
		if s.RequireOdometer && odometer == "" {
			return domain.ErrOdometerRequired
		}
		if s.RequireSignature && signature == "" {
			return domain.ErrSignatureRequired
		}
	}
	if !in.FinalCabin.IsBlank() {
		log.Temps = append(log.Temps, domain.Reading{
			ID:     newID,
			Time:   now,
			Type:   domain.ReadingEnd,
			Values: map[domain.Zone]domain.TempValue{domain.ZoneCabin: in.FinalCabin},
		})
	}
	log.Odometer = odometer
	log.Signature = signature
	log.ShiftDone = true
	log.ShiftEndTime = &now
	log.UpdatedAt = now
	return nil
}

// SignOffInput is the admin's weekly sign-off and its request provenance
type SignOffInput struct {
	Signature string
	SignedBy  string
	IP        string
	UserAgent string
}

// AdminSignOff records the weekly admin signature. It is terminal for the log.
func AdminSignOff(log *domain.Log, in SignOffInput, now time.Time) error {
	if !log.ShiftDone {
		return domain.ErrShiftNotCompleted
	}
	if log.Signed() {
		return domain.ErrAlreadySigned
	}
	sig := strings.TrimSpace(in.Signature)
	if sig == "" {
		return domain.ErrSignatureRequired
	}
	log.AdminSignature = sig
	log.AdminSignedBy = in.SignedBy
	log.AdminSignedAt = &now
	log.IPAddress = in.IP
	log.UserAgent = in.UserAgent
	log.UpdatedAt = now
	return nil
}

// UpdateComments sets the office comments. Allowed in every state.
func UpdateComments(log *domain.Log, text string) {
	log.Comments = strings.TrimSpace(text)
}

// RequiresAdminSignOff reports whether log is a completed sign-off day log still awaiting the admin
func RequiresAdminSignOff(log *domain.Log, s Settings, force bool) bool {
	if log == nil || !IsSignOffDay(log.Date, s, force) {
		return false
	}
	return log.ShiftDone && log.Odometer != "" && log.Signature != "" && !log.Signed()
}

// CheckGuard returns the error a mutation would fail with against the stored log, or nil
// when the one-way guard still allows it.
func CheckGuard(m domain.Mutation, stored *domain.Log) error {
	switch m {
	case domain.MutationChecklist:
		if stored.ChecklistDone {
			return domain.ErrAlreadyCompleted
		}
	case domain.MutationReadingAdded, domain.MutationShiftEnded:
		if stored.ShiftDone {
			return domain.ErrAlreadyEnded
		}
	case domain.MutationReadingEdited:
		if stored.Signed() {
			return domain.ErrAlreadySigned
		}
	case domain.MutationSignedOff:
		if !stored.ShiftDone {
			return domain.ErrShiftNotCompleted
		}
		if stored.Signed() {
			return domain.ErrAlreadySigned
		}
	}
	return nil
}
