package domain

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"time"
)

// Zone is a temperature measurement zone
type Zone string

const (
	ZoneDispatch Zone = "dispatch"
	ZoneChiller  Zone = "chiller"
	ZoneFreezer  Zone = "freezer"
	ZoneCabin    Zone = "cabin"
	ZoneAmbient  Zone = "ambient" // alias of cabin when evaluating ranges
)

// Zones lists the zones a reading may carry, in display order
var Zones = []Zone{ZoneDispatch, ZoneChiller, ZoneFreezer, ZoneCabin}

// ReadingType classifies a temperature reading
type ReadingType string

const (
	ReadingStart ReadingType = "start"
	ReadingCabin ReadingType = "cabin"
	ReadingEnd   ReadingType = "end"
)

// TempValue holds a temperature exactly as it was entered: a JSON number or a JSON string.
// It is only coerced to a float for range evaluation and aggregates.
type TempValue json.RawMessage

// NumberTemp builds a numeric temperature value
func NumberTemp(f float64) TempValue {
	b, _ := json.Marshal(f)
	return TempValue(b)
}

// StringTemp builds a textual temperature value
func StringTemp(s string) TempValue {
	b, _ := json.Marshal(s)
	return TempValue(b)
}

// MarshalJSON emits the stored value unchanged
func (v TempValue) MarshalJSON() ([]byte, error) {
	if len(v) == 0 {
		return []byte("null"), nil
	}
	return []byte(v), nil
}

// UnmarshalJSON keeps the raw value
func (v *TempValue) UnmarshalJSON(b []byte) error {
	*v = append((*v)[:0], b...)
	return nil
}

// IsNull reports whether the value is absent or JSON null
func (v TempValue) IsNull() bool {
	return len(v) == 0 || bytes.Equal(v, []byte("null"))
}

// String returns the value as text, without JSON quoting
func (v TempValue) String() string {
	if v.IsNull() {
		return ""
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s
	}
	return string(v)
}

// IsBlank reports whether the value is missing, null or whitespace only
func (v TempValue) IsBlank() bool {
	return strings.TrimSpace(v.String()) == ""
}

// Reading is a single timestamped set of zone temperatures
type Reading struct {
	ID     string             `json:"id"`
	Time   time.Time          `json:"time"`
	Type   ReadingType        `json:"type"`
	Values map[Zone]TempValue `json:"values"`
}

// Value returns the reading's value for a zone, treating ambient as cabin
func (r Reading) Value(z Zone) (TempValue, bool) {
	v, ok := r.Values[z]
	if !ok && z == ZoneCabin {
		v, ok = r.Values[ZoneAmbient]
	}
	return v, ok && !v.IsBlank()
}

// ChecklistAnswer pairs a checklist question with the answer given at submission time
type ChecklistAnswer struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Log is the per-vehicle, per-local-day temperature log
type Log struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspaceId"`
	VehicleID   string `json:"vehicleId"`
	DriverID    string `json:"driverId"`
	Date        string `json:"date"` // YYYY-MM-DD in the workspace zone

	Temps []Reading `json:"temps"`

	ChecklistDone     bool              `json:"checklistDone"`
	Checklist         map[string]string `json:"checklist,omitempty"`
	ChecklistSnapshot []ChecklistAnswer `json:"checklistSnapshot,omitempty"`
	ChecklistTime     *time.Time        `json:"checklistTime,omitempty"`

	ShiftDone    bool       `json:"shiftDone"`
	Odometer     string     `json:"odometer,omitempty"`
	Signature    string     `json:"signature,omitempty"`
	ShiftEndTime *time.Time `json:"shiftEndTime,omitempty"`

	AdminSignature string     `json:"adminSignature,omitempty"`
	AdminSignedBy  string     `json:"adminSignedBy,omitempty"`
	AdminSignedAt  *time.Time `json:"adminSignedAt,omitempty"`
	IPAddress      string     `json:"ipAddress,omitempty"`
	UserAgent      string     `json:"userAgent,omitempty"`

	Comments string `json:"comments,omitempty"`

	Version   int       `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Signed reports whether the admin sign-off has been recorded
func (l *Log) Signed() bool {
	return l != nil && l.AdminSignature != ""
}

// LastReading returns the most recent reading, or nil when there are none
func (l *Log) LastReading() *Reading {
	if l == nil || len(l.Temps) == 0 {
		return nil
	}
	last := &l.Temps[0]
	for i := range l.Temps[1:] {
		r := &l.Temps[i+1]
		if !r.Time.Before(last.Time) {
			last = r
		}
	}
	return last
}

// Clone returns a deep copy so transitions can run without touching the stored value
func (l *Log) Clone() *Log {
	if l == nil {
		return nil
	}
	c := *l
	c.Temps = make([]Reading, len(l.Temps))
	for i, r := range l.Temps {
		vals := make(map[Zone]TempValue, len(r.Values))
		for z, v := range r.Values {
			vals[z] = append(TempValue(nil), v...)
		}
		r.Values = vals
		c.Temps[i] = r
	}
	if l.Checklist != nil {
		c.Checklist = make(map[string]string, len(l.Checklist))
		for k, v := range l.Checklist {
			c.Checklist[k] = v
		}
	}
	c.ChecklistSnapshot = append([]ChecklistAnswer(nil), l.ChecklistSnapshot...)
	return &c
}

// Mutation names the transition a conditional update persists
type Mutation string

const (
	MutationChecklist     Mutation = "checklist"
	MutationReadingAdded  Mutation = "reading_added"
	MutationReadingEdited Mutation = "reading_edited"
	MutationShiftEnded    Mutation = "shift_ended"
	MutationSignedOff     Mutation = "signed_off"
)

// LogRepository defines data access for temperature logs
type LogRepository interface {
	// CreateOrGet inserts the log unless one exists for (workspace, vehicle, date).
	// The stored log is returned either way; created reports whether this call inserted it.
	CreateOrGet(ctx context.Context, log *Log) (*Log, bool, error)
	GetByKey(ctx context.Context, workspaceID, vehicleID, date string) (*Log, error)
	GetByID(ctx context.Context, workspaceID, id string) (*Log, error)
	// Apply persists the fields touched by m when the stored version equals expectedVersion.
	// On success log.Version is advanced.
	Apply(ctx context.Context, log *Log, expectedVersion int, m Mutation) error
	UpdateComments(ctx context.Context, workspaceID, id, comments string) error
	ListRecent(ctx context.Context, workspaceID string, since time.Time) ([]*Log, error)
	ListByDateRange(ctx context.Context, workspaceID, from, to string) ([]*Log, error)
	ListByDate(ctx context.Context, workspaceID, date string) ([]*Log, error)
	ListByWorkspace(ctx context.Context, workspaceID string) ([]*Log, error)
	DeleteOlderThan(ctx context.Context, workspaceID, cutoff string) (int64, error)
}
