package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/coldtrack/coldtrack/internal/compliance"
	"github.com/coldtrack/coldtrack/internal/domain"
	"github.com/coldtrack/coldtrack/internal/featureflags"
	"github.com/coldtrack/coldtrack/internal/observability/metrics"
	"github.com/coldtrack/coldtrack/internal/observability/tracing"
	"github.com/coldtrack/coldtrack/internal/reliability/retry"
	"github.com/coldtrack/coldtrack/internal/security/audit"
)

// maxTransitionAttempts bounds retries of a transition that lost a version race
const maxTransitionAttempts = 3

// LogService runs the daily log lifecycle: checklist, readings, end of shift and the weekly
// admin sign-off. Every transition is a read, a pure change and a versioned conditional write.
type LogService struct {
	logs          domain.LogRepository
	vehicles      domain.VehicleRepository
	workspaces    *WorkspaceService
	notifications *NotificationService
	audit         *audit.Logger
	board         BoardCache
	flags         featureflags.Lookup
	retry         *retry.Config
	tracer        trace.Tracer
	logger        *slog.Logger
	now           func() time.Time
}

// NewLogService creates a new log service. board may be nil. A nil flags lookup reads the
// environment.
func NewLogService(
	logs domain.LogRepository,
	vehicles domain.VehicleRepository,
	workspaces *WorkspaceService,
	notifications *NotificationService,
	auditLog *audit.Logger,
	board BoardCache,
	flags featureflags.Lookup,
	logger *slog.Logger,
) *LogService {
	if logger == nil {
		logger = slog.Default()
	}
	if flags == nil {
		flags = featureflags.Enabled
	}
	cfg := retry.DefaultConfig()
	cfg.MaxAttempts = maxTransitionAttempts
	cfg.InitialBackoff = 10 * time.Millisecond
	cfg.MaxBackoff = 100 * time.Millisecond
	cfg.RetryIf = func(err error) bool { return domain.CodeOf(err) == domain.CodeConflict }

	return &LogService{
		logs:          logs,
		vehicles:      vehicles,
		workspaces:    workspaces,
		notifications: notifications,
		audit:         auditLog,
		board:         board,
		flags:         flags,
		retry:         cfg,
		tracer:        tracing.Tracer("logs"),
		logger:        logger,
		now:           time.Now,
	}
}

// logScope is what every operation on one vehicle's log needs
type logScope struct {
	settings compliance.Settings
	ws       *domain.Workspace
	vehicle  *domain.Vehicle
	today    string
	now      time.Time
	force    bool
}

func (s *LogService) scope(ctx context.Context, caller Caller, vehicleID string, requireActive bool) (*logScope, error) {
	settings, ws, err := s.workspaces.Settings(ctx, caller.WorkspaceID)
	if err != nil {
		return nil, err
	}
	if !ws.Active() {
		return nil, domain.NewError(domain.CodeWorkspaceSuspended, "this workspace has been suspended")
	}
	v, err := s.vehicles.GetByID(ctx, ws.ID, vehicleID)
	if err != nil {
		return nil, err
	}
	if requireActive && v.Deactivated {
		return nil, domain.NewError(domain.CodeForbidden, "this vehicle has been deactivated")
	}
	now := s.now()
	return &logScope{
		settings: settings,
		ws:       ws,
		vehicle:  v,
		today:    compliance.Today(now, settings.Location),
		now:      now.UTC(),
		force:    s.flags(featureflags.ForceSignOffDay),
	}, nil
}

// getOrCreate returns today's log for the vehicle, creating it on first touch. Concurrent
// callers all receive the single stored log.
func (s *LogService) getOrCreate(ctx context.Context, sc *logScope, driverID string) (*domain.Log, error) {
	log, created, err := s.logs.CreateOrGet(ctx, compliance.NewLog(newID(), sc.ws.ID, sc.vehicle.ID, driverID, sc.today, sc.now))
	if err != nil {
		return nil, err
	}
	if created {
		s.logger.Debug("log created",
			slog.String("workspace_id", sc.ws.ID),
			slog.String("vehicle_id", sc.vehicle.ID),
			slog.String("date", sc.today),
		)
	}
	return log, nil
}

// transition applies change to a fresh copy of the stored log and persists it against the
// version it was read at. Lost races are retried from a new read.
func (s *LogService) transition(
	ctx context.Context,
	m domain.Mutation,
	load func(context.Context) (*domain.Log, error),
	change func(*domain.Log) error,
) (*domain.Log, error) {
	ctx, span := s.tracer.Start(ctx, "log."+string(m))
	defer span.End()

	updated, err := retry.Do(ctx, s.retry, s.logger, "log "+string(m), func(ctx context.Context) (*domain.Log, error) {
		stored, err := load(ctx)
		if err != nil {
			return nil, err
		}
		next := stored.Clone()
		if err := change(next); err != nil {
			return nil, err
		}
		if err := s.logs.Apply(ctx, next, stored.Version, m); err != nil {
			return nil, err
		}
		return next, nil
	})
	if err != nil {
		metrics.ObserveTransition(string(m), string(domain.CodeOf(err)))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	metrics.ObserveTransition(string(m), "ok")
	span.SetAttributes(
		attribute.String("log.id", updated.ID),
		attribute.String("log.date", updated.Date),
		attribute.Int("log.version", updated.Version),
	)
	s.invalidateBoard(ctx, updated.WorkspaceID)
	return updated, nil
}

func (s *LogService) invalidateBoard(ctx context.Context, workspaceID string) {
	if s.board == nil {
		return
	}
	if err := s.board.Invalidate(ctx, workspaceID); err != nil {
		s.logger.Warn("failed to invalidate live board",
			slog.String("workspace_id", workspaceID),
			slog.String("error", err.Error()),
		)
	}
}

// evaluations maps reading IDs to their per-zone range status
func evaluations(log *domain.Log, ranges compliance.Ranges) map[string]map[domain.Zone]compliance.Status {
	out := make(map[string]map[domain.Zone]compliance.Status, len(log.Temps))
	for _, r := range log.Temps {
		out[r.ID] = compliance.Evaluate(r.Values, ranges)
	}
	return out
}

// TodayView is the driver's screen for one vehicle
type TodayView struct {
	Log              *domain.Log                                  `json:"log"`
	Vehicle          *domain.Vehicle                              `json:"vehicle"`
	State            compliance.LogState                          `json:"state"`
	IsSignOffDay     bool                                         `json:"isSignOffDay"`
	RequiresSignOff  bool                                         `json:"requiresSignOff"`
	RequireOdometer  bool                                         `json:"requireOdometer"`
	RequireSignature bool                                         `json:"requireSignature"`
	Questions        []string                                     `json:"questions"`
	StartZones       []domain.Zone                                `json:"startZones"`
	Evaluations      map[string]map[domain.Zone]compliance.Status `json:"evaluations"`
}

// Today returns (creating if needed) today's log for a vehicle with its derived view
func (s *LogService) Today(ctx context.Context, caller Caller, vehicleID string) (*TodayView, error) {
	sc, err := s.scope(ctx, caller, vehicleID, true)
	if err != nil {
		return nil, err
	}
	log, err := s.getOrCreate(ctx, sc, caller.UserID)
	if err != nil {
		return nil, err
	}
	signOffDay := compliance.IsSignOffDay(log.Date, sc.settings, sc.force)
	return &TodayView{
		Log:              log,
		Vehicle:          sc.vehicle,
		State:            compliance.State(log),
		IsSignOffDay:     signOffDay,
		RequiresSignOff:  compliance.RequiresAdminSignOff(log, sc.settings, sc.force),
		RequireOdometer:  signOffDay && sc.settings.RequireOdometer,
		RequireSignature: signOffDay && sc.settings.RequireSignature,
		Questions:        sc.settings.ChecklistQuestions,
		StartZones:       compliance.RequiredStartZones(sc.vehicle.TemperatureType).RequiredZones,
		Evaluations:      evaluations(log, sc.settings.TempRanges),
	}, nil
}

// SubmitChecklist records the pre-trip checklist on today's log
func (s *LogService) SubmitChecklist(ctx context.Context, caller Caller, vehicleID string, answers map[string]string) (*domain.Log, error) {
	sc, err := s.scope(ctx, caller, vehicleID, true)
	if err != nil {
		return nil, err
	}
	questions := sc.settings.ChecklistQuestions
	log, err := s.transition(ctx, domain.MutationChecklist,
		func(ctx context.Context) (*domain.Log, error) { return s.getOrCreate(ctx, sc, caller.UserID) },
		func(l *domain.Log) error { return compliance.SubmitChecklist(l, questions, answers, sc.now) },
	)
	if err != nil {
		return nil, err
	}
	s.audit.Record(ctx, sc.ws.ID, caller.UserID, domain.ActionChecklistCompleted,
		fmt.Sprintf("Checklist completed for %s", sc.vehicle.Rego),
		map[string]any{"logId": log.ID, "vehicleId": sc.vehicle.ID, "date": log.Date})
	return log, nil
}

// ReadingResult is an added reading with its range evaluation
type ReadingResult struct {
	Log        *domain.Log                       `json:"log"`
	Reading    domain.Reading                    `json:"reading"`
	Evaluation map[domain.Zone]compliance.Status `json:"evaluation"`
	OutOfRange bool                              `json:"outOfRange"`
}

// AddReading appends a temperature reading to today's log. An out-of-range value raises an
// exception notification.
func (s *LogService) AddReading(ctx context.Context, caller Caller, vehicleID string, values map[domain.Zone]domain.TempValue) (*ReadingResult, error) {
	sc, err := s.scope(ctx, caller, vehicleID, true)
	if err != nil {
		return nil, err
	}
	rules := compliance.RequiredStartZones(sc.vehicle.TemperatureType)

	var reading domain.Reading
	log, err := s.transition(ctx, domain.MutationReadingAdded,
		func(ctx context.Context) (*domain.Log, error) { return s.getOrCreate(ctx, sc, caller.UserID) },
		func(l *domain.Log) error {
			r, err := compliance.AddReading(l, values, rules, sc.now, newID())
			reading = r
			return err
		},
	)
	if err != nil {
		return nil, err
	}

	eval := compliance.Evaluate(reading.Values, sc.settings.TempRanges)
	var flagged []string
	for z, st := range eval {
		if st.Violation() {
			flagged = append(flagged, fmt.Sprintf("%s %s (%s)", z, reading.Values[z].String(), st))
		}
	}
	result := &ReadingResult{Log: log, Reading: reading, Evaluation: eval, OutOfRange: len(flagged) > 0}

	s.audit.Record(ctx, sc.ws.ID, caller.UserID, domain.ActionTempLogged,
		fmt.Sprintf("%s reading logged for %s", reading.Type, sc.vehicle.Rego),
		map[string]any{"logId": log.ID, "readingId": reading.ID, "type": reading.Type, "outOfRange": result.OutOfRange})

	if result.OutOfRange {
		detail := strings.Join(flagged, ", ")
		s.audit.Record(ctx, sc.ws.ID, caller.UserID, domain.ActionExceptionFlagged,
			fmt.Sprintf("Out of range temperature on %s: %s", sc.vehicle.Rego, detail),
			map[string]any{"logId": log.ID, "readingId": reading.ID})
		_ = s.notifications.Notify(ctx, &domain.Notification{
			WorkspaceID: sc.ws.ID,
			Type:        domain.NotifyException,
			Title:       fmt.Sprintf("Temperature out of range on %s", sc.vehicle.Rego),
			Body:        fmt.Sprintf("%s at %s: %s", caller.displayName(), compliance.TimeLabel(reading.Time, sc.settings.Location), detail),
			VehicleID:   sc.vehicle.ID,
			DriverID:    caller.UserID,
		})
	}
	return result, nil
}

// EditReading replaces the values of a reading on today's log until the log is signed off
func (s *LogService) EditReading(ctx context.Context, caller Caller, vehicleID, readingID string, values map[domain.Zone]domain.TempValue) (*domain.Log, error) {
	sc, err := s.scope(ctx, caller, vehicleID, true)
	if err != nil {
		return nil, err
	}
	log, err := s.transition(ctx, domain.MutationReadingEdited,
		func(ctx context.Context) (*domain.Log, error) {
			return s.logs.GetByKey(ctx, sc.ws.ID, sc.vehicle.ID, sc.today)
		},
		func(l *domain.Log) error { return compliance.EditReading(l, readingID, values, sc.now) },
	)
	if err != nil {
		return nil, err
	}
	s.audit.Record(ctx, sc.ws.ID, caller.UserID, domain.ActionTempLogged,
		fmt.Sprintf("Reading edited for %s", sc.vehicle.Rego),
		map[string]any{"logId": log.ID, "readingId": readingID, "edited": true})
	return log, nil
}

// EndShiftRequest is the driver's end of shift form
type EndShiftRequest struct {
	Odometer   string           `json:"odometer"`
	Signature  string           `json:"signature"`
	FinalCabin domain.TempValue `json:"finalCabin"`
}

// EndShift closes today's shift. On the sign-off day a completed log notifies the office that
// the weekly sign-off is waiting.
func (s *LogService) EndShift(ctx context.Context, caller Caller, vehicleID string, in EndShiftRequest) (*domain.Log, error) {
	sc, err := s.scope(ctx, caller, vehicleID, true)
	if err != nil {
		return nil, err
	}
	input := compliance.EndShiftInput{Odometer: in.Odometer, Signature: in.Signature, FinalCabin: in.FinalCabin}
	log, err := s.transition(ctx, domain.MutationShiftEnded,
		func(ctx context.Context) (*domain.Log, error) { return s.getOrCreate(ctx, sc, caller.UserID) },
		func(l *domain.Log) error { return compliance.EndShift(l, input, sc.settings, sc.force, sc.now, newID()) },
	)
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, sc.ws.ID, caller.UserID, domain.ActionShiftEnded,
		fmt.Sprintf("Shift ended for %s", sc.vehicle.Rego),
		map[string]any{"logId": log.ID, "date": log.Date, "odometer": log.Odometer})
	if compliance.RequiresAdminSignOff(log, sc.settings, sc.force) {
		_ = s.notifications.Notify(ctx, &domain.Notification{
			WorkspaceID: sc.ws.ID,
			Type:        domain.NotifySignOffRequired,
			Title:       fmt.Sprintf("Weekly sign-off ready for %s", sc.vehicle.Rego),
			Body:        fmt.Sprintf("%s completed the %s shift", caller.displayName(), log.Date),
			VehicleID:   sc.vehicle.ID,
			DriverID:    caller.UserID,
		})
	}
	return log, nil
}

// weekSignOffDate normalises any date of a week to its Monday and returns the sign-off date
func weekSignOffDate(monday string, s compliance.Settings) (string, string, error) {
	start, err := compliance.WeekStart(monday)
	if err != nil {
		return "", "", invalidInput("monday must be a YYYY-MM-DD date")
	}
	date, err := compliance.SignOffDate(start, s.SignOffWeekday)
	if err != nil {
		return "", "", err
	}
	return start, date, nil
}

func (s *LogService) signOff(ctx context.Context, caller Caller, sc *logScope, date, signature string) (*domain.Log, error) {
	in := compliance.SignOffInput{
		Signature: signature,
		SignedBy:  caller.displayName(),
		IP:        caller.IP,
		UserAgent: caller.UserAgent,
	}
	log, err := s.transition(ctx, domain.MutationSignedOff,
		func(ctx context.Context) (*domain.Log, error) {
			return s.logs.GetByKey(ctx, sc.ws.ID, sc.vehicle.ID, date)
		},
		func(l *domain.Log) error { return compliance.AdminSignOff(l, in, sc.now) },
	)
	if err != nil {
		return nil, err
	}
	s.logger.Info("weekly sign-off completed",
		slog.String("workspace_id", sc.ws.ID),
		slog.String("vehicle_id", sc.vehicle.ID),
		slog.String("date", date),
		slog.String("signed_by", in.SignedBy),
	)
	s.audit.Record(ctx, sc.ws.ID, caller.UserID, domain.ActionSignOffCompleted,
		fmt.Sprintf("Weekly sign-off for %s (%s)", sc.vehicle.Rego, date),
		map[string]any{"logId": log.ID, "date": date, "ip": caller.IP})
	return log, nil
}

// AdminSignOff signs the sign-off day log of the week starting monday
func (s *LogService) AdminSignOff(ctx context.Context, caller Caller, vehicleID, monday, signature string) (*domain.Log, error) {
	sc, err := s.scope(ctx, caller, vehicleID, false)
	if err != nil {
		return nil, err
	}
	_, date, err := weekSignOffDate(monday, sc.settings)
	if err != nil {
		return nil, err
	}
	return s.signOff(ctx, caller, sc, date, signature)
}

// WeekNoteInput is the office week note. A signature also completes the sign-off; nil
// comments leave the note untouched.
type WeekNoteInput struct {
	Monday    string  `json:"monday"`
	Signature string  `json:"signature"`
	Comments  *string `json:"comments"`
}

// WeekNote records the office note on the week's sign-off log, signing it when a signature is given
func (s *LogService) WeekNote(ctx context.Context, caller Caller, vehicleID string, in WeekNoteInput) (*domain.Log, error) {
	sc, err := s.scope(ctx, caller, vehicleID, false)
	if err != nil {
		return nil, err
	}
	_, date, err := weekSignOffDate(in.Monday, sc.settings)
	if err != nil {
		return nil, err
	}

	var log *domain.Log
	if strings.TrimSpace(in.Signature) != "" {
		if log, err = s.signOff(ctx, caller, sc, date, in.Signature); err != nil {
			return nil, err
		}
	} else if log, err = s.logs.GetByKey(ctx, sc.ws.ID, sc.vehicle.ID, date); err != nil {
		return nil, err
	}

	if in.Comments != nil {
		compliance.UpdateComments(log, *in.Comments)
		if err := s.logs.UpdateComments(ctx, sc.ws.ID, log.ID, log.Comments); err != nil {
			return nil, err
		}
	}
	return log, nil
}
