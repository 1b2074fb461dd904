package compliance

import (
	"testing"
	"time"

	"github.com/coldtrack/coldtrack/internal/domain"
)

var liveNow = time.Date(2024, 3, 8, 4, 0, 0, 0, time.UTC) // 12:00 in Perth

func liveLog(id, vehicleID, driverID string, lastReadingAgo time.Duration) *domain.Log {
	log := NewLog(id, "ws1", vehicleID, driverID, "2024-03-08", liveNow.Add(-5*time.Hour))
	log.Temps = []domain.Reading{{
		ID:     id + "-r",
		Time:   liveNow.Add(-lastReadingAgo),
		Type:   domain.ReadingStart,
		Values: map[domain.Zone]domain.TempValue{domain.ZoneCabin: domain.NumberTemp(3)},
	}}
	return log
}

func fleet() ([]*domain.Vehicle, []*domain.User) {
	return []*domain.Vehicle{
			{ID: "v1", Rego: "1ABC123"},
			{ID: "v2", Rego: "1XYZ999"},
			{ID: "v3", Rego: "1AAA000"},
		}, []*domain.User{
			{ID: "d1", Name: "Alice"},
			{ID: "d2", Name: "Bob"},
			{ID: "d3", Name: "Cara"},
		}
}

func TestWindowMinutes(t *testing.T) {
	s := DefaultSettings()
	if got := WindowMinutes(s); got != 180 {
		t.Fatalf("expected 180, got %d", got)
	}
	s.OverdueMinutes = 240
	if got := WindowMinutes(s); got != 240 {
		t.Fatalf("expected 240, got %d", got)
	}
}

func TestBoardOverdueScenario(t *testing.T) {
	s := DefaultSettings() // 120 minute threshold
	vehicles, users := fleet()
	logs := []*domain.Log{liveLog("l1", "v1", "d1", 130*time.Minute)}

	b := BuildBoard(logs, vehicles, users, s, liveNow)
	if len(b.Vehicles) != 1 || b.Vehicles[0].Status != EntryOverdue {
		t.Fatalf("expected one overdue vehicle, got %+v", b.Vehicles)
	}
	if b.Overdue != 1 || b.TotalLive != 1 {
		t.Fatalf("expected overdue=1 totalLive=1, got %+v", b)
	}
	if b.Vehicles[0].MinutesAgo != 130 || b.Vehicles[0].LastReadingLabel != "09:50" {
		t.Fatalf("unexpected entry %+v", b.Vehicles[0])
	}
}

func TestBoardStatuses(t *testing.T) {
	s := DefaultSettings()
	vehicles, users := fleet()
	active := liveLog("l1", "v1", "d1", 30*time.Minute)
	idle := liveLog("l2", "v2", "d2", 200*time.Minute)
	idle.ShiftDone = true
	overdue := liveLog("l3", "v3", "d3", 121*time.Minute)

	b := BuildBoard([]*domain.Log{idle, overdue, active}, vehicles, users, s, liveNow)
	if b.Active != 1 || b.Idle != 1 || b.Overdue != 1 {
		t.Fatalf("unexpected counts %+v", b)
	}
	if b.TotalLive != 2 {
		t.Fatalf("idle drivers are not live, got %d", b.TotalLive)
	}
	order := []string{b.Vehicles[0].LogID, b.Vehicles[1].LogID, b.Vehicles[2].LogID}
	if order[0] != "l1" || order[1] != "l3" || order[2] != "l2" {
		t.Fatalf("expected ascending minutes, got %v", order)
	}
}

func TestBoardOmitsUnresolvedReferences(t *testing.T) {
	s := DefaultSettings()
	vehicles, users := fleet()
	logs := []*domain.Log{
		liveLog("l1", "gone-vehicle", "d1", 10*time.Minute),
		liveLog("l2", "v2", "gone-driver", 10*time.Minute),
	}
	b := BuildBoard(logs, vehicles, users, s, liveNow)
	if len(b.Vehicles) != 1 || b.Vehicles[0].VehicleID != "v2" {
		t.Fatalf("expected only resolvable vehicle, got %+v", b.Vehicles)
	}
	if len(b.Drivers) != 1 || b.Drivers[0].DriverID != "d1" {
		t.Fatalf("expected only resolvable driver, got %+v", b.Drivers)
	}
}

func TestBoardKeepsMostRecentPerVehicle(t *testing.T) {
	s := DefaultSettings()
	vehicles, users := fleet()
	older := liveLog("old", "v1", "d1", 90*time.Minute)
	newer := liveLog("new", "v1", "d2", 15*time.Minute)

	b := BuildBoard([]*domain.Log{older, newer}, vehicles, users, s, liveNow)
	if len(b.Vehicles) != 1 || b.Vehicles[0].LogID != "new" {
		t.Fatalf("expected newest log for v1, got %+v", b.Vehicles)
	}
	if len(b.Drivers) != 2 {
		t.Fatalf("expected one entry per driver, got %d", len(b.Drivers))
	}
}

func TestBoardSkipsShiftsWithoutReadings(t *testing.T) {
	s := DefaultSettings()
	vehicles, users := fleet()
	opened := NewLog("l1", "ws1", "v1", "d1", "2024-03-08", liveNow.Add(-150*time.Minute))
	logged := liveLog("l2", "v2", "d2", 20*time.Minute)

	b := BuildBoard([]*domain.Log{opened, logged}, vehicles, users, s, liveNow)
	if len(b.Vehicles) != 1 || b.Vehicles[0].LogID != "l2" {
		t.Fatalf("a shift with no readings should not be on the board, got %+v", b.Vehicles)
	}
	if b.Overdue != 0 || b.Active != 1 {
		t.Fatalf("expected active=1 overdue=0, got active=%d overdue=%d", b.Active, b.Overdue)
	}
}

func TestBoardTempAlerts(t *testing.T) {
	s := DefaultSettings()
	max := 4.0
	s.TempRanges = Ranges{domain.ZoneCabin: {Max: &max}}
	vehicles, users := fleet()
	log := liveLog("l1", "v1", "d1", 5*time.Minute)
	log.Temps[0].Values[domain.ZoneCabin] = domain.NumberTemp(7)

	b := BuildBoard([]*domain.Log{log}, vehicles, users, s, liveNow)
	if !b.HasAlert || b.Vehicles[0].TempAlerts[domain.ZoneCabin] != StatusHigh {
		t.Fatalf("expected cabin alert, got %+v", b.Vehicles[0])
	}
	if b.Vehicles[0].LastTemp.String() != "7" {
		t.Fatalf("expected last temp 7, got %s", b.Vehicles[0].LastTemp)
	}
}

func TestBoardDoesNotMutateLogs(t *testing.T) {
	s := DefaultSettings()
	vehicles, users := fleet()
	log := liveLog("l1", "v1", "d1", 5*time.Minute)
	before := log.Clone()
	BuildBoard([]*domain.Log{log}, vehicles, users, s, liveNow)
	if log.Version != before.Version || len(log.Temps) != len(before.Temps) || log.UpdatedAt != before.UpdatedAt {
		t.Fatalf("board must be a pure projection")
	}
}
