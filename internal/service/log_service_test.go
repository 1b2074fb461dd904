package service

import (
	"context"
	"sync"
	"testing"

	"github.com/coldtrack/coldtrack/internal/compliance"
	"github.com/coldtrack/coldtrack/internal/domain"
	"github.com/coldtrack/coldtrack/internal/featureflags"
)

func TestTodayCreatesOneLogUnderConcurrency(t *testing.T) {
	f := newFixture(t, wednesday)
	ctx := context.Background()
	caller := f.as(f.driver)

	const n = 20
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			view, err := f.logSvc.Today(ctx, caller, f.vehicle.ID)
			if err != nil {
				t.Errorf("today: %v", err)
				return
			}
			ids[i] = view.Log.ID
		}()
	}
	wg.Wait()

	for _, id := range ids[1:] {
		if id != ids[0] {
			t.Fatalf("expected a single log, got %s and %s", ids[0], id)
		}
	}
	logs, _ := f.logs.ListByWorkspace(ctx, f.ws.ID)
	if len(logs) != 1 || logs[0].Date != "2026-10-14" {
		t.Fatalf("expected one log for 2026-10-14, got %+v", logs)
	}
}

func TestTodayView(t *testing.T) {
	f := newFixture(t, wednesday)
	view, err := f.logSvc.Today(context.Background(), f.as(f.driver), f.vehicle.ID)
	if err != nil {
		t.Fatalf("today: %v", err)
	}
	if view.State != compliance.StateAwaitingFirstReading || view.IsSignOffDay || view.RequireOdometer {
		t.Fatalf("unexpected view on a Wednesday: %+v", view)
	}
	if len(view.StartZones) != 2 || view.StartZones[1] != domain.ZoneChiller {
		t.Fatalf("chiller start zones = %v", view.StartZones)
	}
	if len(view.Questions) != len(compliance.DefaultChecklistQuestions) {
		t.Fatalf("expected default checklist questions")
	}
}

func TestLifecycleOnAnOrdinaryDay(t *testing.T) {
	f := newFixture(t, wednesday)
	ctx := context.Background()
	caller := f.as(f.driver)

	if _, err := f.logSvc.SubmitChecklist(ctx, caller, f.vehicle.ID, map[string]string{"q1": "yes"}); err != nil {
		t.Fatalf("checklist: %v", err)
	}
	_, err := f.logSvc.SubmitChecklist(ctx, caller, f.vehicle.ID, map[string]string{"q1": "no"})
	wantCode(t, err, domain.CodeAlreadyCompleted)

	_, err = f.logSvc.AddReading(ctx, caller, f.vehicle.ID, temps(domain.ZoneDispatch, 3.0))
	wantCode(t, err, domain.CodeReadingRequired)

	start, err := f.logSvc.AddReading(ctx, caller, f.vehicle.ID, temps(domain.ZoneDispatch, 3.0, domain.ZoneChiller, "4"))
	if err != nil {
		t.Fatalf("start reading: %v", err)
	}
	if start.Reading.Type != domain.ReadingStart || start.Reading.Values[domain.ZoneChiller].String() != "4" {
		t.Fatalf("unexpected start reading: %+v", start.Reading)
	}

	_, err = f.logSvc.AddReading(ctx, caller, f.vehicle.ID, temps(domain.ZoneChiller, 4.0))
	wantCode(t, err, domain.CodeCabinRequired)

	cabin, err := f.logSvc.AddReading(ctx, caller, f.vehicle.ID, temps(domain.ZoneAmbient, 21.5))
	if err != nil {
		t.Fatalf("cabin reading: %v", err)
	}
	if cabin.Reading.Type != domain.ReadingCabin {
		t.Fatalf("expected a cabin reading, got %s", cabin.Reading.Type)
	}

	edited, err := f.logSvc.EditReading(ctx, caller, f.vehicle.ID, start.Reading.ID, temps(domain.ZoneDispatch, 2.0, domain.ZoneChiller, 3.0))
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if edited.Temps[0].Values[domain.ZoneChiller].String() != "3" {
		t.Fatalf("edit not applied: %+v", edited.Temps[0])
	}

	// not the sign-off day, so odometer and signature are optional
	ended, err := f.logSvc.EndShift(ctx, caller, f.vehicle.ID, EndShiftRequest{FinalCabin: domain.NumberTemp(20)})
	if err != nil {
		t.Fatalf("end shift: %v", err)
	}
	if !ended.ShiftDone || len(ended.Temps) != 3 || ended.Temps[2].Type != domain.ReadingEnd {
		t.Fatalf("unexpected ended log: %+v", ended)
	}

	_, err = f.logSvc.AddReading(ctx, caller, f.vehicle.ID, temps(domain.ZoneCabin, 20.0))
	wantCode(t, err, domain.CodeAlreadyEnded)
	_, err = f.logSvc.EndShift(ctx, caller, f.vehicle.ID, EndShiftRequest{})
	wantCode(t, err, domain.CodeAlreadyEnded)

	if f.notes.ofType(domain.NotifySignOffRequired) != 0 {
		t.Fatalf("no sign-off notification expected mid-week")
	}
	if f.board.invalidated == 0 {
		t.Fatalf("expected transitions to invalidate the live board")
	}
}

func TestOutOfRangeReadingRaisesException(t *testing.T) {
	f := newFixture(t, wednesday)
	ctx := context.Background()
	lo, hi := 0.0, 5.0
	settings := f.ws.Settings
	settings.TempRanges = map[domain.Zone]domain.TempRange{domain.ZoneChiller: {Min: &lo, Max: &hi}}
	if err := f.workspaces.UpdateSettings(ctx, f.ws.ID, settings); err != nil {
		t.Fatal(err)
	}
	f.wsSvc.invalidate(f.ws.ID)

	res, err := f.logSvc.AddReading(ctx, f.as(f.driver), f.vehicle.ID, temps(domain.ZoneDispatch, 3.0, domain.ZoneChiller, 9.0))
	if err != nil {
		t.Fatalf("reading: %v", err)
	}
	if !res.OutOfRange || res.Evaluation[domain.ZoneChiller] != compliance.StatusHigh {
		t.Fatalf("expected chiller above range: %+v", res.Evaluation)
	}
	if f.notes.ofType(domain.NotifyException) != 1 || f.audits.count(domain.ActionExceptionFlagged) != 1 {
		t.Fatalf("expected one exception notification and audit entry")
	}
}

func TestDeactivatedVehicleAndSuspendedWorkspaceReject(t *testing.T) {
	f := newFixture(t, wednesday)
	ctx := context.Background()

	if err := f.vehicles.SetDeactivated(ctx, f.ws.ID, f.vehicle.ID, true); err != nil {
		t.Fatal(err)
	}
	_, err := f.logSvc.Today(ctx, f.as(f.driver), f.vehicle.ID)
	wantCode(t, err, domain.CodeForbidden)

	if err := f.workspaces.SetStatus(ctx, f.ws.ID, domain.WorkspaceSuspended); err != nil {
		t.Fatal(err)
	}
	f.wsSvc.invalidate(f.ws.ID)
	_, err = f.logSvc.Today(ctx, f.as(f.driver), f.vehicle.ID)
	wantCode(t, err, domain.CodeWorkspaceSuspended)
}

func TestTransitionRetriesLostVersionRace(t *testing.T) {
	f := newFixture(t, wednesday)
	ctx := context.Background()
	caller := f.as(f.driver)
	if _, err := f.logSvc.AddReading(ctx, caller, f.vehicle.ID, temps(domain.ZoneDispatch, 3.0, domain.ZoneChiller, 4.0)); err != nil {
		t.Fatal(err)
	}

	// a concurrent cabin check lands between our read and our write
	f.logs.beforeApply = func() {
		stored, _ := f.logs.GetByKey(ctx, f.ws.ID, f.vehicle.ID, "2026-10-14")
		stored.Temps = append(stored.Temps, domain.Reading{ID: "other", Time: wednesday, Type: domain.ReadingCabin,
			Values: temps(domain.ZoneCabin, 19.0)})
		stored.Version++
		f.logs.put(stored)
	}
	res, err := f.logSvc.AddReading(ctx, caller, f.vehicle.ID, temps(domain.ZoneCabin, 20.0))
	if err != nil {
		t.Fatalf("add after conflict: %v", err)
	}
	if len(res.Log.Temps) != 3 {
		t.Fatalf("expected both cabin readings kept, got %d readings", len(res.Log.Temps))
	}
}

func TestConcurrentEndShiftSucceedsOnce(t *testing.T) {
	f := newFixture(t, wednesday)
	ctx := context.Background()
	caller := f.as(f.driver)
	if _, err := f.logSvc.AddReading(ctx, caller, f.vehicle.ID, temps(domain.ZoneDispatch, 3.0, domain.ZoneChiller, 4.0)); err != nil {
		t.Fatal(err)
	}

	const n = 8
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.logSvc.EndShift(ctx, caller, f.vehicle.ID, EndShiftRequest{})
		}()
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		switch domain.CodeOf(err) {
		case domain.CodeUnknown:
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			ok++
		case domain.CodeAlreadyEnded:
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 {
		t.Fatalf("expected exactly one successful end of shift, got %d", ok)
	}
}

func runSignOffDay(t *testing.T, f *fixture) {
	t.Helper()
	ctx := context.Background()
	caller := f.as(f.driver)
	if _, err := f.logSvc.AddReading(ctx, caller, f.vehicle.ID, temps(domain.ZoneDispatch, 3.0, domain.ZoneChiller, 4.0)); err != nil {
		t.Fatal(err)
	}
	_, err := f.logSvc.EndShift(ctx, caller, f.vehicle.ID, EndShiftRequest{Signature: "DD"})
	wantCode(t, err, domain.CodeOdometerRequired)
	_, err = f.logSvc.EndShift(ctx, caller, f.vehicle.ID, EndShiftRequest{Odometer: "120455"})
	wantCode(t, err, domain.CodeSignatureRequired)
	if _, err := f.logSvc.EndShift(ctx, caller, f.vehicle.ID, EndShiftRequest{Odometer: "120455", Signature: "DD"}); err != nil {
		t.Fatalf("end shift: %v", err)
	}
}

func TestWeeklySignOff(t *testing.T) {
	f := newFixture(t, friday)
	ctx := context.Background()

	view, err := f.logSvc.Today(ctx, f.as(f.driver), f.vehicle.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !view.IsSignOffDay || !view.RequireOdometer || !view.RequireSignature {
		t.Fatalf("Friday should be the sign-off day: %+v", view)
	}

	_, err = f.logSvc.AdminSignOff(ctx, f.as(f.owner), f.vehicle.ID, "2026-10-12", "OO")
	wantCode(t, err, domain.CodeShiftNotCompleted)

	runSignOffDay(t, f)
	if f.notes.ofType(domain.NotifySignOffRequired) != 1 {
		t.Fatalf("expected a sign-off notification")
	}

	_, err = f.logSvc.AdminSignOff(ctx, f.as(f.owner), f.vehicle.ID, "2026-10-12", " ")
	wantCode(t, err, domain.CodeSignatureRequired)

	// any date of the week resolves to the same sign-off log
	signed, err := f.logSvc.AdminSignOff(ctx, f.as(f.owner), f.vehicle.ID, "2026-10-14", "OO")
	if err != nil {
		t.Fatalf("sign off: %v", err)
	}
	if !signed.Signed() || signed.AdminSignedBy != "Olive Owner" || signed.IPAddress != "203.0.113.7" {
		t.Fatalf("unexpected signed log: %+v", signed)
	}
	if compliance.State(signed) != compliance.StateSignedOff {
		t.Fatalf("expected signed_off state")
	}

	_, err = f.logSvc.AdminSignOff(ctx, f.as(f.owner), f.vehicle.ID, "2026-10-12", "OO")
	wantCode(t, err, domain.CodeAlreadySigned)
	_, err = f.logSvc.EditReading(ctx, f.as(f.driver), f.vehicle.ID, signed.Temps[0].ID, temps(domain.ZoneDispatch, 1.0, domain.ZoneChiller, 1.0))
	wantCode(t, err, domain.CodeAlreadySigned)
}

func TestForcedSignOffDay(t *testing.T) {
	f := newFixture(t, wednesday)
	f.logSvc.flags = featureflags.Static(featureflags.ForceSignOffDay)
	view, err := f.logSvc.Today(context.Background(), f.as(f.driver), f.vehicle.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !view.IsSignOffDay {
		t.Fatalf("forced flag should make every day the sign-off day")
	}
}

func TestWeekNote(t *testing.T) {
	f := newFixture(t, friday)
	ctx := context.Background()
	runSignOffDay(t, f)

	note := "Door seal replaced"
	log, err := f.logSvc.WeekNote(ctx, f.as(f.office), f.vehicle.ID, WeekNoteInput{Monday: "2026-10-12", Comments: &note})
	if err != nil {
		t.Fatalf("week note: %v", err)
	}
	if log.Comments != note || log.Signed() {
		t.Fatalf("comments only should not sign: %+v", log)
	}

	log, err = f.logSvc.WeekNote(ctx, f.as(f.office), f.vehicle.ID, WeekNoteInput{Monday: "2026-10-12", Signature: "OS"})
	if err != nil {
		t.Fatalf("week note with signature: %v", err)
	}
	if !log.Signed() {
		t.Fatalf("signature should complete the sign-off")
	}
	stored, _ := f.logs.GetByKey(ctx, f.ws.ID, f.vehicle.ID, "2026-10-16")
	if stored.Comments != note {
		t.Fatalf("nil comments must leave the note untouched, got %q", stored.Comments)
	}

	// comments stay editable after sign-off
	updated := "Seal checked again"
	if _, err := f.logSvc.WeekNote(ctx, f.as(f.office), f.vehicle.ID, WeekNoteInput{Monday: "2026-10-12", Comments: &updated}); err != nil {
		t.Fatalf("comments after sign-off: %v", err)
	}
}
