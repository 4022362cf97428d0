package prophylaxis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/gmsas95/hemotrack/internal/errors"
	"github.com/gmsas95/hemotrack/internal/metrics"
	"github.com/gmsas95/hemotrack/internal/notify"
	"github.com/gmsas95/hemotrack/internal/store"
	"go.uber.org/zap"
)

// Options tunes a Scheduler
type Options struct {
	Location *time.Location
	// LogInfusionOnYes records an infusion when a reminder is answered "yes"
	LogInfusionOnYes bool
	Metrics          *metrics.Metrics
	Now              func() time.Time
}

// Scheduler turns stored reminder configs into alarms and handles them when they fire
type Scheduler struct {
	// mu orders registrations; epochs counts Schedule and cancel calls per alarm ID
	mu     sync.Mutex
	epochs map[int]uint64

	store    *store.Store
	alarms   AlarmService
	notifier notify.Notifier
	metrics  *metrics.Metrics
	logger   *zap.Logger

	loc              *time.Location
	logInfusionOnYes bool
	now              func() time.Time
}

// NewScheduler creates a reminder scheduler
func NewScheduler(st *store.Store, alarms AlarmService, notifier notify.Notifier, logger *zap.Logger, opts Options) *Scheduler {
	s := &Scheduler{
		epochs:           make(map[int]uint64),
		store:            st,
		alarms:           alarms,
		notifier:         notifier,
		metrics:          opts.Metrics,
		logger:           logger,
		loc:              opts.Location,
		logInfusionOnYes: opts.LogInfusionOnYes,
		now:              opts.Now,
	}
	if s.loc == nil {
		s.loc = time.Local
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Location returns the timezone reminders are evaluated in
func (s *Scheduler) Location() *time.Location {
	return s.loc
}

// Configure validates rc, stores it as the config of its mode and schedules it
func (s *Scheduler) Configure(ctx context.Context, rc *store.ReminderConfig) (*Alarm, error) {
	if _, err := PolicyFromConfig(rc, s.loc); err != nil {
		return nil, err
	}
	if err := s.store.UpsertReminder(ctx, rc); err != nil {
		return nil, fmt.Errorf("failed to save reminder: %w", err)
	}
	return s.Schedule(ctx, rc)
}

// Schedule registers the next alarm for rc under its mode's fixed ID. A
// disabled config cancels the alarm instead and returns nil.
func (s *Scheduler) Schedule(_ context.Context, rc *store.ReminderConfig) (*Alarm, error) {
	id, err := AlarmID(rc.Mode)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !rc.Enabled {
		s.cancelLocked(id)
		s.logger.Info("Reminder disabled, alarm cancelled", zap.String("mode", rc.Mode))
		return nil, nil
	}

	policy, err := PolicyFromConfig(rc, s.loc)
	if err != nil {
		return nil, err
	}

	s.epochs[id]++
	a := Alarm{ID: id, Mode: rc.Mode, At: policy.Next(s.now())}
	s.register(a)
	return &a, nil
}

func (s *Scheduler) cancelLocked(id int) {
	s.epochs[id]++
	s.alarms.Cancel(id)
}

func (s *Scheduler) epoch(id int) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epochs[id]
}

func (s *Scheduler) register(a Alarm) {
	if !s.alarms.Set(a, s.fire) {
		s.logger.Warn("Alarm not registered", zap.Int("alarm_id", a.ID), zap.String("mode", a.Mode))
		return
	}
	if s.metrics != nil {
		s.metrics.RecordReminderScheduled(a.Mode)
	}
	s.logger.Info("Reminder scheduled",
		zap.Int("alarm_id", a.ID),
		zap.String("mode", a.Mode),
		zap.Time("at", a.At),
	)
}

// ScheduleAll registers alarms for every enabled config, as done on startup
func (s *Scheduler) ScheduleAll(ctx context.Context) error {
	configs, err := s.store.EnabledReminders(ctx)
	if err != nil {
		return fmt.Errorf("failed to load reminders: %w", err)
	}

	var errs []error
	for i := range configs {
		if _, err := s.Schedule(ctx, &configs[i]); err != nil {
			s.logger.Error("Failed to schedule reminder", zap.String("mode", configs[i].Mode), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Scheduler) fire(a Alarm) {
	if err := s.HandleFire(context.Background(), a); err != nil {
		s.logger.Error("Reminder handling incomplete", zap.Int("alarm_id", a.ID), zap.Error(err))
	}
}

// HandleFire runs when an alarm goes off: it stores an open response, shows the
// notification and registers the following occurrence under the same ID.
// Failures of the first two steps are reported but never prevent rescheduling.
// A Schedule or CancelAll that lands while the alarm is being handled wins
// over the re-arm.
func (s *Scheduler) HandleFire(ctx context.Context, a Alarm) error {
	epoch := s.epoch(a.ID)

	rc, err := s.store.ReminderByMode(ctx, a.Mode)
	if err != nil {
		return fmt.Errorf("failed to load %s reminder: %w", a.Mode, err)
	}
	if rc == nil || !rc.Enabled {
		s.logger.Info("Alarm fired for a removed or disabled reminder", zap.String("mode", a.Mode))
		return nil
	}

	if s.metrics != nil {
		s.metrics.RecordReminderFired(a.Mode)
	}

	var errs []error

	resp := &store.ProphylaxisResponse{
		ReminderID:   rc.ID,
		Mode:         rc.Mode,
		ScheduledFor: a.At,
		Drug:         rc.Drug,
		DoseIU:       rc.DoseIU,
	}
	if err := s.store.Responses.Create(ctx, resp); err != nil {
		errs = append(errs, fmt.Errorf("failed to record response: %w", err))
		resp = nil
	}

	if err := s.notifier.Notify(ctx, s.notification(rc, a, resp)); err != nil {
		errs = append(errs, fmt.Errorf("failed to notify: %w", err))
	}

	if err := s.rearm(ctx, a, epoch); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// rearm registers the occurrence after a unless the alarm was rescheduled or
// cancelled since epoch. The config is read again so edits made during the
// notification are honored.
func (s *Scheduler) rearm(ctx context.Context, a Alarm, epoch uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.epochs[a.ID] != epoch {
		s.logger.Info("Reminder changed while firing, keeping the newer alarm", zap.String("mode", a.Mode))
		return nil
	}

	rc, err := s.store.ReminderByMode(ctx, a.Mode)
	if err != nil {
		return fmt.Errorf("failed to reload %s reminder: %w", a.Mode, err)
	}
	if rc == nil || !rc.Enabled {
		s.logger.Info("Reminder removed while firing, not rescheduled", zap.String("mode", a.Mode))
		return nil
	}

	policy, err := PolicyFromConfig(rc, s.loc)
	if err != nil {
		return err
	}
	from := s.now()
	if a.At.After(from) {
		from = a.At
	}
	s.epochs[a.ID]++
	s.register(Alarm{ID: a.ID, Mode: a.Mode, At: policy.Next(from)})
	return nil
}

func (s *Scheduler) notification(rc *store.ReminderConfig, a Alarm, resp *store.ProphylaxisResponse) notify.Notification {
	n := notify.Notification{
		Title:        "Prophylaxis reminder",
		Body:         fmt.Sprintf("Time for your %s dose (%d IU). Did you take it?", rc.Drug, rc.DoseIU),
		ScheduledFor: a.At,
	}
	if resp != nil {
		n.ResponseID = resp.ID
		n.Actions = notify.ResponseActions(resp.ID)
	}
	return n
}

// CancelAll removes both the weekly and the interval alarm
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelLocked(AlarmIDWeekly)
	s.cancelLocked(AlarmIDInterval)
	s.logger.Info("All reminder alarms cancelled")
}

// Pending returns the registered alarms
func (s *Scheduler) Pending() []Alarm {
	return s.alarms.Pending()
}

// Preview returns the next n trigger instants of rc without registering anything
func (s *Scheduler) Preview(rc *store.ReminderConfig, n int) ([]time.Time, error) {
	policy, err := PolicyFromConfig(rc, s.loc)
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, 0, n)
	at := s.now()
	for i := 0; i < n; i++ {
		at = policy.Next(at)
		out = append(out, at)
	}
	return out, nil
}

// Answer records the patient's reply to a reminder. A "yes" also logs the
// infusion when enabled.
func (s *Scheduler) Answer(ctx context.Context, responseID uint, taken bool) (*store.ProphylaxisResponse, error) {
	resp, err := s.store.Responses.Get(ctx, responseID)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, apperrors.ErrResponseNotFound.WithMessage("response %d not found", responseID)
	}
	if !resp.Open() {
		return resp, apperrors.ErrResponseAlreadyGiven.WithMessage("response %d already answered %q", responseID, resp.Answer)
	}

	now := s.now()
	resp.Answer = store.AnswerNo
	if taken {
		resp.Answer = store.AnswerYes
	}
	resp.AnsweredAt = &now
	if err := s.store.Responses.Update(ctx, resp); err != nil {
		return nil, fmt.Errorf("failed to save answer: %w", err)
	}
	if s.metrics != nil {
		s.metrics.RecordResponse(resp.Answer)
	}

	if taken && s.logInfusionOnYes {
		inf := &store.InfusionEvent{
			InfusedAt: now,
			Drug:      resp.Drug,
			DoseIU:    resp.DoseIU,
			Reason:    store.ReasonProphylaxis,
			Notes:     fmt.Sprintf("Logged from reminder response #%d", resp.ID),
		}
		if err := s.store.Infusions.Create(ctx, inf); err != nil {
			s.logger.Error("Failed to log infusion for answered reminder", zap.Uint("response_id", resp.ID), zap.Error(err))
			return resp, err
		}
	}

	s.logger.Info("Reminder answered", zap.Uint("response_id", resp.ID), zap.String("answer", resp.Answer))
	return resp, nil
}
