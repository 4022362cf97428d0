package prophylaxis

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Alarm is one registered wake-up
type Alarm struct {
	ID   int       `json:"id"`
	Mode string    `json:"mode"`
	At   time.Time `json:"at"`
}

// AlarmService registers exact wake-ups under fixed identifiers. Setting an
// ID that is already registered replaces the earlier registration.
type AlarmService interface {
	Set(a Alarm, fire func(Alarm)) bool
	Cancel(id int)
	Pending() []Alarm
}

type timerEntry struct {
	alarm Alarm
	timer *time.Timer
	gen   uint64
}

// TimerAlarms is an in-process AlarmService built on time.AfterFunc.
// Registrations silently no-op while the exact alarm permission is denied.
type TimerAlarms struct {
	mu       sync.Mutex
	timers   map[int]*timerEntry
	gen      uint64
	stopped  bool
	inflight sync.WaitGroup
	allowed  func() bool
	logger   *zap.Logger
}

// NewTimerAlarms creates an alarm service. allowed reports the exact alarm
// permission and may be nil, meaning always granted.
func NewTimerAlarms(logger *zap.Logger, allowed func() bool) *TimerAlarms {
	return &TimerAlarms{
		timers:  make(map[int]*timerEntry),
		allowed: allowed,
		logger:  logger,
	}
}

// Set registers a, replacing any alarm with the same ID. It reports whether
// the alarm was registered. Nothing is registered after Stop.
func (t *TimerAlarms) Set(a Alarm, fire func(Alarm)) bool {
	if t.allowed != nil && !t.allowed() {
		t.logger.Debug("Exact alarm permission denied, alarm not set", zap.Int("alarm_id", a.ID))
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		t.logger.Debug("Alarm service stopped, alarm not set", zap.Int("alarm_id", a.ID))
		return false
	}

	if existing, ok := t.timers[a.ID]; ok {
		existing.timer.Stop()
		delete(t.timers, a.ID)
	}

	t.gen++
	entry := &timerEntry{alarm: a, gen: t.gen}
	delay := time.Until(a.At)
	if delay < 0 {
		delay = 0
	}
	entry.timer = time.AfterFunc(delay, func() {
		t.trigger(a.ID, entry.gen, fire)
	})
	t.timers[a.ID] = entry
	return true
}

// trigger drops the registration before running fire, so fire may set the
// same ID again
func (t *TimerAlarms) trigger(id int, gen uint64, fire func(Alarm)) {
	t.mu.Lock()
	entry, ok := t.timers[id]
	if t.stopped || !ok || entry.gen != gen {
		t.mu.Unlock()
		return
	}
	delete(t.timers, id)
	t.inflight.Add(1)
	t.mu.Unlock()

	defer t.inflight.Done()
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("Panic in alarm handler", zap.Int("alarm_id", id), zap.Any("recover", r))
		}
	}()
	fire(entry.alarm)
}

// Cancel removes the alarm registered under id, if any
func (t *TimerAlarms) Cancel(id int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if entry, ok := t.timers[id]; ok {
		entry.timer.Stop()
		delete(t.timers, id)
	}
}

// Pending returns the registered alarms ordered by ID
func (t *TimerAlarms) Pending() []Alarm {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Alarm, 0, len(t.timers))
	for _, e := range t.timers {
		out = append(out, e.alarm)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Stop cancels every registration, refuses new ones and waits for handlers
// that are already running
func (t *TimerAlarms) Stop() {
	t.mu.Lock()
	t.stopped = true
	for id, e := range t.timers {
		e.timer.Stop()
		delete(t.timers, id)
	}
	t.mu.Unlock()

	t.inflight.Wait()
}
