package notify

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Action is a button shown on a notification
type Action struct {
	Label string `json:"label"`
	Data  string `json:"data"`
}

// Notification is a reminder shown to the patient
type Notification struct {
	ResponseID   uint      `json:"response_id"`
	Title        string    `json:"title"`
	Body         string    `json:"body"`
	ScheduledFor time.Time `json:"scheduled_for"`
	Actions      []Action  `json:"actions"`
}

// Notifier delivers notifications to one surface
type Notifier interface {
	Name() string
	Notify(ctx context.Context, n Notification) error
}

// Recorder receives delivery outcomes, typically metrics
type Recorder interface {
	RecordNotification(channel string, err error)
}

// ActionData is the decoded payload of a Yes/No button
type ActionData struct {
	ResponseID uint
	Taken      bool
}

const actionPrefix = "resp"

// EncodeAction builds the payload carried by a response button
func EncodeAction(responseID uint, taken bool) string {
	answer := "no"
	if taken {
		answer = "yes"
	}
	return fmt.Sprintf("%s:%d:%s", actionPrefix, responseID, answer)
}

// ParseActionData decodes a payload built by EncodeAction
func ParseActionData(data string) (ActionData, error) {
	parts := strings.Split(data, ":")
	if len(parts) != 3 || parts[0] != actionPrefix {
		return ActionData{}, fmt.Errorf("not a response action: %q", data)
	}
	id, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil || id == 0 {
		return ActionData{}, fmt.Errorf("invalid response id in %q", data)
	}
	switch parts[2] {
	case "yes":
		return ActionData{ResponseID: uint(id), Taken: true}, nil
	case "no":
		return ActionData{ResponseID: uint(id), Taken: false}, nil
	}
	return ActionData{}, fmt.Errorf("invalid answer in %q", data)
}

// ResponseActions returns the Yes/No buttons for a response
func ResponseActions(responseID uint) []Action {
	return []Action{
		{Label: "Yes, taken", Data: EncodeAction(responseID, true)},
		{Label: "No", Data: EncodeAction(responseID, false)},
	}
}

// Multi fans a notification out to every notifier. Delivery continues past
// failures; the returned error joins all of them.
type Multi struct {
	notifiers []Notifier
	recorder  Recorder
	logger    *zap.Logger
}

// NewMulti creates a fan-out notifier
func NewMulti(logger *zap.Logger, recorder Recorder, notifiers ...Notifier) *Multi {
	return &Multi{notifiers: notifiers, recorder: recorder, logger: logger}
}

// Add registers another notifier
func (m *Multi) Add(n Notifier) {
	m.notifiers = append(m.notifiers, n)
}

func (m *Multi) Name() string { return "multi" }

func (m *Multi) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, nt := range m.notifiers {
		err := nt.Notify(ctx, n)
		if m.recorder != nil {
			m.recorder.RecordNotification(nt.Name(), err)
		}
		if err != nil {
			m.logger.Warn("Notification delivery failed",
				zap.String("channel", nt.Name()),
				zap.Uint("response_id", n.ResponseID),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("%s: %w", nt.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// LogNotifier writes notifications to the log. It is always registered so a
// reminder leaves a trace even with no channel configured.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Name() string { return "log" }

func (l *LogNotifier) Notify(_ context.Context, n Notification) error {
	l.logger.Info("Prophylaxis reminder",
		zap.Uint("response_id", n.ResponseID),
		zap.String("title", n.Title),
		zap.String("body", n.Body),
		zap.Time("scheduled_for", n.ScheduledFor),
	)
	return nil
}
