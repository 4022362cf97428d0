package api

import (
	"time"

	"github.com/gmsas95/hemotrack/internal/security"
	"github.com/gmsas95/hemotrack/internal/store"
)

// BleedRequest is the body of bleed create and update calls
type BleedRequest struct {
	OccurredAt time.Time `json:"occurred_at"`
	Site       string    `json:"site"`
	Cause      string    `json:"cause"`
	Severity   string    `json:"severity"`
	PainLevel  int       `json:"pain_level"`
	Treated    bool      `json:"treated"`
	Notes      string    `json:"notes"`
}

func (r BleedRequest) validate() error {
	if r.OccurredAt.IsZero() {
		return badRequest("occurred_at is required")
	}
	if r.Site == "" {
		return badRequest("site is required")
	}
	switch r.Cause {
	case "":
	case store.CauseSpontaneous, store.CauseTrauma, store.CauseSurgery, store.CauseUnknown:
	default:
		return badRequest("unknown cause %q", r.Cause)
	}
	switch r.Severity {
	case store.SeverityMild, store.SeverityModerate, store.SeveritySevere:
	default:
		return badRequest("unknown severity %q", r.Severity)
	}
	if r.PainLevel < 0 || r.PainLevel > 10 {
		return badRequest("pain_level must be 0-10, got %d", r.PainLevel)
	}
	if err := security.ValidateLabel(r.Site); err != nil {
		return badRequest("site: %v", err)
	}
	return validateNotes(r.Notes)
}

func validateNotes(notes string) error {
	if err := security.ValidateNotes(notes); err != nil {
		return badRequest("notes: %v", err)
	}
	return nil
}

func (r BleedRequest) apply(e *store.BleedingEvent) {
	e.OccurredAt = r.OccurredAt
	e.Site = r.Site
	e.Cause = r.Cause
	if e.Cause == "" {
		e.Cause = store.CauseUnknown
	}
	e.Severity = r.Severity
	e.PainLevel = r.PainLevel
	e.Treated = r.Treated
	e.Notes = r.Notes
}

// InfusionRequest is the body of infusion create and update calls
type InfusionRequest struct {
	InfusedAt       time.Time `json:"infused_at"`
	Drug            string    `json:"drug"`
	DoseIU          int       `json:"dose_iu"`
	LotNumber       string    `json:"lot_number"`
	Reason          string    `json:"reason"`
	BleedingEventID *uint     `json:"bleeding_event_id"`
	Notes           string    `json:"notes"`
}

func (r InfusionRequest) validate() error {
	if r.InfusedAt.IsZero() {
		return badRequest("infused_at is required")
	}
	if r.Drug == "" {
		return badRequest("drug is required")
	}
	if r.DoseIU <= 0 {
		return badRequest("dose_iu must be positive, got %d", r.DoseIU)
	}
	switch r.Reason {
	case store.ReasonProphylaxis, store.ReasonOnDemand, store.ReasonPreProcedure:
	default:
		return badRequest("unknown reason %q", r.Reason)
	}
	for field, v := range map[string]string{"drug": r.Drug, "lot_number": r.LotNumber} {
		if err := security.ValidateLabel(v); err != nil {
			return badRequest("%s: %v", field, err)
		}
	}
	return validateNotes(r.Notes)
}

func (r InfusionRequest) apply(e *store.InfusionEvent) {
	e.InfusedAt = r.InfusedAt
	e.Drug = r.Drug
	e.DoseIU = r.DoseIU
	e.LotNumber = r.LotNumber
	e.Reason = r.Reason
	e.BleedingEventID = r.BleedingEventID
	e.Notes = r.Notes
}

// ReminderRequest is the body of PUT /api/reminders/:mode
type ReminderRequest struct {
	Weekday       int    `json:"weekday"`
	TimeOfDay     string `json:"time_of_day"`
	IntervalCount int    `json:"interval_count"`
	IntervalUnit  string `json:"interval_unit"`
	StartDate     string `json:"start_date"` // YYYY-MM-DD
	Drug          string `json:"drug"`
	DoseIU        int    `json:"dose_iu"`
	Enabled       *bool  `json:"enabled"`
}

func (r ReminderRequest) config(mode string, loc *time.Location) (*store.ReminderConfig, error) {
	rc := &store.ReminderConfig{
		Mode:          mode,
		Weekday:       r.Weekday,
		TimeOfDay:     r.TimeOfDay,
		IntervalCount: r.IntervalCount,
		IntervalUnit:  r.IntervalUnit,
		Drug:          r.Drug,
		DoseIU:        r.DoseIU,
		Enabled:       r.Enabled == nil || *r.Enabled,
	}
	if r.StartDate != "" {
		start, err := time.ParseInLocation("2006-01-02", r.StartDate, loc)
		if err != nil {
			return nil, badRequest("start_date must be YYYY-MM-DD, got %q", r.StartDate)
		}
		rc.StartDate = start
	}
	return rc, nil
}

// ReminderResponse pairs a stored config with its registered alarm
type ReminderResponse struct {
	Reminder *store.ReminderConfig `json:"reminder"`
	NextAt   *time.Time            `json:"next_at,omitempty"`
}

// AnswerRequest is the body of POST /api/responses/:id/answer
type AnswerRequest struct {
	Taken *bool `json:"taken"`
}

// ConfigureDeviceRequest is the body of POST /api/devices/:serial/config
type ConfigureDeviceRequest struct {
	IntervalSec int `json:"interval_sec"`
}

// RemoteLoginRequest is the body of POST /api/remote/login
type RemoteLoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// wsMessage is a frame sent by a WebSocket client
type wsMessage struct {
	Type string `json:"type"` // "action" or "ping"
	Data string `json:"data,omitempty"`
}

// wsEvent is a frame sent to WebSocket clients
type wsEvent struct {
	Type     string      `json:"type"`
	Data     interface{} `json:"data,omitempty"`
	Error    string      `json:"error,omitempty"`
	Response interface{} `json:"response,omitempty"`
}
