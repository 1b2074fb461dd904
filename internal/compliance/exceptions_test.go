package compliance

import (
	"testing"
	"time"

	"github.com/coldtrack/coldtrack/internal/domain"
)

// Wednesday 12:00 in Perth
var excNow = time.Date(2024, 3, 6, 4, 0, 0, 0, time.UTC)

const excToday = "2024-03-06"

func excLog(id, date string) *domain.Log {
	log := NewLog(id, "ws1", "v1", "d1", date, excNow.Add(-6*time.Hour))
	log.ChecklistDone = true
	return log
}

func TestDetectOverdueScenario(t *testing.T) {
	s := DefaultSettings()
	vehicles, users := fleet()
	log := excLog("l1", excToday)
	log.Temps = []domain.Reading{{ID: "r1", Time: excNow.Add(-130 * time.Minute), Type: domain.ReadingStart,
		Values: map[domain.Zone]domain.TempValue{domain.ZoneChiller: domain.NumberTemp(3)}}}

	got := Detect([]*domain.Log{log}, vehicles, users, s, excToday, excNow)
	if len(got) != 1 {
		t.Fatalf("expected exactly one exception, got %+v", got)
	}
	if got[0].Type != ExceptionOverdue || got[0].Severity != SeverityCritical {
		t.Fatalf("expected critical overdue, got %+v", got[0])
	}
	if got[0].Rego != "1ABC123" || got[0].DriverName != "Alice" {
		t.Fatalf("expected resolved labels, got %+v", got[0])
	}

	board := BuildBoard([]*domain.Log{log}, vehicles, users, s, excNow)
	if board.Vehicles[0].Status != EntryOverdue {
		t.Fatalf("aggregator should agree, got %s", board.Vehicles[0].Status)
	}
}

func TestDetectOverdueOnlyToday(t *testing.T) {
	s := DefaultSettings()
	log := excLog("l1", "2024-03-05")
	log.Temps = []domain.Reading{{ID: "r1", Time: excNow.Add(-20 * time.Hour)}}
	if got := Detect([]*domain.Log{log}, nil, nil, s, excToday, excNow); len(got) != 0 {
		t.Fatalf("past-day open logs are not overdue, got %+v", got)
	}
}

func TestDetectIgnoresShiftWithoutReadings(t *testing.T) {
	s := DefaultSettings()
	vehicles, users := fleet()
	log := NewLog("l1", "ws1", "v1", "d1", excToday, excNow.Add(-130*time.Minute))
	log.ChecklistDone = true

	if got := Detect([]*domain.Log{log}, vehicles, users, s, excToday, excNow); len(got) != 0 {
		t.Fatalf("an opened shift with no readings is not overdue, got %+v", got)
	}
	if board := BuildBoard([]*domain.Log{log}, vehicles, users, s, excNow); board.Overdue != 0 || len(board.Vehicles) != 0 {
		t.Fatalf("expected an empty board, got %+v", board)
	}
}

func TestDetectOrdering(t *testing.T) {
	s := DefaultSettings()
	max := 4.0
	s.TempRanges = Ranges{domain.ZoneCabin: {Max: &max}}
	vehicles, users := fleet()

	info := excLog("info", "2024-03-04")
	info.ChecklistDone = false
	info.ShiftDone = true

	warn := excLog("warn", "2024-03-05")
	warn.ShiftDone = true
	warn.Temps = []domain.Reading{
		{ID: "w1", Time: excNow.Add(-30 * time.Hour), Values: map[domain.Zone]domain.TempValue{domain.ZoneCabin: domain.NumberTemp(6)}},
		{ID: "ok", Time: excNow.Add(-29 * time.Hour), Values: map[domain.Zone]domain.TempValue{domain.ZoneCabin: domain.NumberTemp(3)}},
		{ID: "w2", Time: excNow.Add(-28 * time.Hour), Values: map[domain.Zone]domain.TempValue{domain.ZoneCabin: domain.NumberTemp(9)}},
	}

	overdue := excLog("overdue", excToday)
	overdue.Temps = []domain.Reading{{ID: "o1", Time: excNow.Add(-3 * time.Hour),
		Values: map[domain.Zone]domain.TempValue{domain.ZoneCabin: domain.NumberTemp(2)}}}

	got := Detect([]*domain.Log{info, warn, overdue}, vehicles, users, s, excToday, excNow)
	if len(got) != 4 {
		t.Fatalf("expected 4 exceptions, got %+v", got)
	}
	if got[0].Type != ExceptionOverdue {
		t.Errorf("expected overdue first, got %s", got[0].Type)
	}
	if got[1].ReadingID != "w1" || got[2].ReadingID != "w2" {
		t.Errorf("warnings must keep encounter order, got %s then %s", got[1].ReadingID, got[2].ReadingID)
	}
	if got[1].Status != StatusHigh || got[1].Zone != domain.ZoneCabin {
		t.Errorf("unexpected warning %+v", got[1])
	}
	if got[3].Type != ExceptionMissedChecklist || got[3].Severity != SeverityInfo {
		t.Errorf("expected missed checklist last, got %+v", got[3])
	}

	counts := CountBySeverity(got)
	if counts[SeverityCritical] != 1 || counts[SeverityWarning] != 2 || counts[SeverityInfo] != 1 {
		t.Fatalf("unexpected counts %v", counts)
	}
}

func TestDetectDateDescendingWithinSeverity(t *testing.T) {
	s := DefaultSettings()
	a := excLog("a", "2024-03-01")
	a.ChecklistDone = false
	b := excLog("b", "2024-03-05")
	b.ChecklistDone = false
	got := Detect([]*domain.Log{a, b}, nil, nil, s, excToday, excNow)
	if len(got) != 2 || got[0].LogID != "b" || got[1].LogID != "a" {
		t.Fatalf("expected newest first, got %+v", got)
	}
	if got[0].Rego != "Unknown" {
		t.Fatalf("unresolved vehicle should be labelled Unknown, got %q", got[0].Rego)
	}
}

func TestDetectMissedSignOff(t *testing.T) {
	s := DefaultSettings() // Friday
	friday := excLog("fri", "2024-03-01")
	friday.ShiftDone = true
	friday.Odometer = "1000"
	friday.Signature = "drv"

	got := Detect([]*domain.Log{friday}, nil, nil, s, excToday, excNow)
	if len(got) != 1 || got[0].Type != ExceptionMissedSignOff || got[0].Severity != SeverityCritical {
		t.Fatalf("expected missed sign-off, got %+v", got)
	}

	if got := Detect([]*domain.Log{friday}, nil, nil, s, "2024-03-01", excNow); len(got) != 0 {
		t.Fatalf("sign-off due today is not missed yet, got %+v", got)
	}

	friday.AdminSignature = "admin"
	if got := Detect([]*domain.Log{friday}, nil, nil, s, excToday, excNow); len(got) != 0 {
		t.Fatalf("signed log is not an exception, got %+v", got)
	}

	thursday := excLog("thu", "2024-02-29")
	thursday.ShiftDone, thursday.Odometer, thursday.Signature = true, "1", "s"
	if got := Detect([]*domain.Log{thursday}, nil, nil, s, excToday, excNow); len(got) != 0 {
		t.Fatalf("non sign-off day is not an exception, got %+v", got)
	}
}
