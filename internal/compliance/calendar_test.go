package compliance

import (
	"testing"
	"time"

	"github.com/coldtrack/coldtrack/internal/domain"
)

func mustZone(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := LoadZone(name)
	if err != nil {
		t.Fatalf("load zone %s: %v", name, err)
	}
	return loc
}

func TestTodayAndWeekdayUseWorkspaceZone(t *testing.T) {
	perth := mustZone(t, "Australia/Perth")
	now := time.Date(2024, 3, 7, 20, 0, 0, 0, time.UTC) // Friday 04:00 in Perth

	if got := Today(now, perth); got != "2024-03-08" {
		t.Fatalf("expected 2024-03-08, got %s", got)
	}
	if got := Weekday(now, perth); got != 5 {
		t.Fatalf("expected Friday (5), got %d", got)
	}
	if got := Today(now, time.UTC); got != "2024-03-07" {
		t.Fatalf("expected UTC date 2024-03-07, got %s", got)
	}
}

func TestLocalHourAcrossDSTStart(t *testing.T) {
	ny := mustZone(t, "America/New_York")
	// clocks jump from 02:00 EST to 03:00 EDT at 07:00 UTC
	if got := LocalHour(time.Date(2024, 3, 10, 6, 30, 0, 0, time.UTC), ny); got != 1 {
		t.Fatalf("expected 1, got %d", got)
	}
	if got := LocalHour(time.Date(2024, 3, 10, 7, 30, 0, 0, time.UTC), ny); got != 3 {
		t.Fatalf("expected 3, got %d", got)
	}
}

func TestTimeLabel(t *testing.T) {
	perth := mustZone(t, "Australia/Perth")
	got := TimeLabel(time.Date(2024, 3, 8, 6, 5, 0, 0, time.UTC), perth)
	if got != "14:05" {
		t.Fatalf("expected 14:05, got %s", got)
	}
}

func TestLoadZoneRejectsInvalid(t *testing.T) {
	for _, name := range []string{"", "Local", "Mars/Olympus_Mons"} {
		_, err := LoadZone(name)
		if domain.CodeOf(err) != domain.CodeInvalidZone {
			t.Errorf("zone %q: expected INVALID_ZONE, got %v", name, err)
		}
	}
}

func TestResolveZoneFallsBack(t *testing.T) {
	loc := ResolveZone("Mars/Olympus_Mons", nil)
	if loc.String() != DefaultTimezone {
		t.Fatalf("expected fallback to %s, got %s", DefaultTimezone, loc)
	}
	if got := ResolveZone("Europe/London", nil); got.String() != "Europe/London" {
		t.Fatalf("expected Europe/London, got %s", got)
	}
}

func TestMinutesSince(t *testing.T) {
	now := time.Date(2024, 3, 8, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		then time.Time
		want int
	}{
		{now.Add(-130 * time.Minute), 130},
		{now.Add(-59 * time.Second), 0},
		{now.Add(-119*time.Minute - 59*time.Second), 119},
		{now.Add(5 * time.Minute), 0},
	}
	for _, c := range cases {
		if got := MinutesSince(c.then, now); got != c.want {
			t.Errorf("MinutesSince(%v) = %d, want %d", now.Sub(c.then), got, c.want)
		}
	}
}

func TestDateArithmetic(t *testing.T) {
	got, err := AddDays("2024-02-28", 2)
	if err != nil || got != "2024-03-01" {
		t.Fatalf("expected 2024-03-01, got %s (%v)", got, err)
	}
	got, err = AddDays("2024-03-01", -1)
	if err != nil || got != "2024-02-29" {
		t.Fatalf("expected 2024-02-29, got %s (%v)", got, err)
	}
	wd, err := DateWeekday("2024-03-08")
	if err != nil || wd != 5 {
		t.Fatalf("expected Friday, got %d (%v)", wd, err)
	}
	if _, err := ParseDate("08/03/2024"); domain.CodeOf(err) != domain.CodeInvalidInput {
		t.Fatalf("expected INVALID_INPUT for malformed date, got %v", err)
	}
}
