package compliance

import (
	"sort"
	"time"

	"github.com/coldtrack/coldtrack/internal/domain"
)

// LiveWindowMinutes is the minimum trailing window of the live board
const LiveWindowMinutes = 180

// EntryStatus is the live classification of a vehicle or driver
type EntryStatus string

const (
	EntryActive  EntryStatus = "active"
	EntryIdle    EntryStatus = "idle"
	EntryOverdue EntryStatus = "overdue"
)

// Entry is one row of the live board
type Entry struct {
	LogID            string                 `json:"logId"`
	Date             string                 `json:"date"`
	VehicleID        string                 `json:"vehicleId"`
	Rego             string                 `json:"rego"`
	VehicleClass     string                 `json:"vehicleClass,omitempty"`
	DriverID         string                 `json:"driverId"`
	DriverName       string                 `json:"driverName"`
	Status           EntryStatus            `json:"status"`
	MinutesAgo       int                    `json:"minutesAgo"`
	LastReadingLabel string                 `json:"lastReadingLabel,omitempty"`
	LastTemp         domain.TempValue       `json:"lastTemp,omitempty"`
	TempAlerts       map[domain.Zone]Status `json:"tempAlerts"`
	HasAlert         bool                   `json:"hasAlert"`
	ChecklistDone    bool                   `json:"checklistDone"`
	ShiftDone        bool                   `json:"shiftDone"`
	TempCount        int                    `json:"tempCount"`
}

// Board is the live status of a workspace at one instant
type Board struct {
	Vehicles       []Entry `json:"vehicles"`
	Drivers        []Entry `json:"drivers"`
	Active         int     `json:"active"`
	Idle           int     `json:"idle"`
	Overdue        int     `json:"overdue"`
	TotalLive      int     `json:"totalLive"`
	HasAlert       bool    `json:"hasAlert"`
	OverdueMinutes int     `json:"overdueMinutes"`
	WindowMinutes  int     `json:"windowMinutes"`
	GeneratedAt    string  `json:"generatedAt"`
}

// WindowMinutes is how far back the live board looks for logs
func WindowMinutes(s Settings) int {
	if s.OverdueMinutes > LiveWindowMinutes {
		return s.OverdueMinutes
	}
	return LiveWindowMinutes
}


// displayTemp picks the value shown as a reading's headline temperature
func displayTemp(r *domain.Reading) domain.TempValue {
	if r == nil {
		return nil
	}
	for _, z := range []domain.Zone{domain.ZoneCabin, domain.ZoneAmbient, domain.ZoneChiller, domain.ZoneFreezer, domain.ZoneDispatch} {
		if v, ok := r.Values[z]; ok && !v.IsBlank() {
			return v
		}
	}
	return nil
}

// entryStatus classifies a log given minutes since its last activity
func entryStatus(log *domain.Log, minutesAgo int, s Settings) EntryStatus {
	switch {
	case log.ShiftDone:
		return EntryIdle
	case minutesAgo > s.OverdueMinutes:
		return EntryOverdue
	default:
		return EntryActive
	}
}

// BuildBoard projects recent logs into per-vehicle and per-driver live entries.
// Logs whose vehicle or driver cannot be resolved are left out of that view.
func BuildBoard(logs []*domain.Log, vehicles []*domain.Vehicle, users []*domain.User, s Settings, now time.Time) Board {
	loc := s.Location
	if loc == nil {
		loc = ResolveZone(s.Timezone, nil)
	}
	vehicleByID := make(map[string]*domain.Vehicle, len(vehicles))
	for _, v := range vehicles {
		vehicleByID[v.ID] = v
	}
	userByID := make(map[string]*domain.User, len(users))
	for _, u := range users {
		userByID[u.ID] = u
	}

	byVehicle := make(map[string]Entry)
	byDriver := make(map[string]Entry)
	for _, log := range logs {
		if log == nil {
			continue
		}
		// a shift with no readings yet is neither live nor overdue
		last := log.LastReading()
		if last == nil && !log.ShiftDone {
			continue
		}
		var minutes int
		switch {
		case last != nil:
			minutes = MinutesSince(last.Time, now)
		case log.ShiftEndTime != nil:
			minutes = MinutesSince(*log.ShiftEndTime, now)
		default:
			minutes = MinutesSince(log.UpdatedAt, now)
		}

		e := Entry{
			LogID:         log.ID,
			Date:          log.Date,
			VehicleID:     log.VehicleID,
			DriverID:      log.DriverID,
			Status:        entryStatus(log, minutes, s),
			MinutesAgo:    minutes,
			TempAlerts:    map[domain.Zone]Status{},
			ChecklistDone: log.ChecklistDone,
			ShiftDone:     log.ShiftDone,
			TempCount:     len(log.Temps),
		}
		if last != nil {
			e.LastReadingLabel = TimeLabel(last.Time, loc)
			e.LastTemp = displayTemp(last)
			e.TempAlerts = Evaluate(last.Values, s.TempRanges)
			for _, st := range e.TempAlerts {
				if st.Violation() {
					e.HasAlert = true
				}
			}
		}
		v, vok := vehicleByID[log.VehicleID]
		if vok {
			e.Rego = v.Rego
			e.VehicleClass = v.VehicleClass
		}
		u, uok := userByID[log.DriverID]
		if uok {
			e.DriverName = u.DisplayName()
		}

		if vok {
			if cur, ok := byVehicle[log.VehicleID]; !ok || e.MinutesAgo < cur.MinutesAgo {
				byVehicle[log.VehicleID] = e
			}
		}
		if uok {
			if cur, ok := byDriver[log.DriverID]; !ok || e.MinutesAgo < cur.MinutesAgo {
				byDriver[log.DriverID] = e
			}
		}
	}

	b := Board{
		Vehicles:       sortedEntries(byVehicle, func(e Entry) string { return e.Rego }),
		Drivers:        sortedEntries(byDriver, func(e Entry) string { return e.DriverName }),
		OverdueMinutes: s.OverdueMinutes,
		WindowMinutes:  WindowMinutes(s),
		GeneratedAt:    TimeLabel(now, loc),
	}
	for _, e := range b.Vehicles {
		switch e.Status {
		case EntryActive:
			b.Active++
		case EntryIdle:
			b.Idle++
		case EntryOverdue:
			b.Overdue++
		}
		if e.HasAlert {
			b.HasAlert = true
		}
	}
	for _, e := range b.Drivers {
		if e.Status == EntryActive || e.Status == EntryOverdue {
			b.TotalLive++
		}
	}
	return b
}

func sortedEntries(m map[string]Entry, name func(Entry) string) []Entry {
	out := make([]Entry, 0, len(m))
	for _, e := range m {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MinutesAgo != out[j].MinutesAgo {
			return out[i].MinutesAgo < out[j].MinutesAgo
		}
		if ni, nj := name(out[i]), name(out[j]); ni != nj {
			return ni < nj
		}
		return out[i].LogID < out[j].LogID
	})
	return out
}
