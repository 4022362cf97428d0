package store

import (
	"time"
)

// Entity is a row that can be managed by Repo and replicated by the sync worker
type Entity interface {
	TableName() string
	// TimeColumn is the column List orders and filters by
	TimeColumn() string
	GetID() uint
	GetUpdatedAt() time.Time
}

// Bleeding causes
const (
	CauseSpontaneous = "spontaneous"
	CauseTrauma      = "trauma"
	CauseSurgery     = "surgery"
	CauseUnknown     = "unknown"
)

// Bleeding severities
const (
	SeverityMild     = "mild"
	SeverityModerate = "moderate"
	SeveritySevere   = "severe"
)

// Infusion reasons
const (
	ReasonProphylaxis  = "prophylaxis"
	ReasonOnDemand     = "on_demand"
	ReasonPreProcedure = "pre_procedure"
)

// Reminder modes
const (
	ModeWeekly   = "weekly"
	ModeInterval = "interval"
)

// Interval units
const (
	UnitDays  = "days"
	UnitWeeks = "weeks"
)

// Response answers
const (
	AnswerYes = "yes"
	AnswerNo  = "no"
)

// Device statuses
const (
	DeviceDiscovered = "discovered"
	DeviceConnected  = "connected"
	DeviceConfigured = "configured"
)

// BleedingEvent is a logged bleed
type BleedingEvent struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	OccurredAt time.Time `gorm:"index" json:"occurred_at"`
	Site       string    `json:"site"`
	Cause      string    `json:"cause"`
	Severity   string    `json:"severity"`
	PainLevel  int       `json:"pain_level"` // 0-10
	Treated    bool      `json:"treated"`
	Notes      string    `gorm:"type:text" json:"notes,omitempty"`
	Synced     bool      `gorm:"index" json:"synced"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (BleedingEvent) TableName() string  { return "bleeding_events" }
func (BleedingEvent) TimeColumn() string { return "occurred_at" }
func (e BleedingEvent) GetID() uint      { return e.ID }

func (e BleedingEvent) GetUpdatedAt() time.Time { return e.UpdatedAt }

// InfusionEvent is a logged factor infusion
type InfusionEvent struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	InfusedAt       time.Time `gorm:"index" json:"infused_at"`
	Drug            string    `json:"drug"`
	DoseIU          int       `json:"dose_iu"`
	LotNumber       string    `json:"lot_number,omitempty"`
	Reason          string    `json:"reason"`
	BleedingEventID *uint     `gorm:"index" json:"bleeding_event_id,omitempty"`
	Notes           string    `gorm:"type:text" json:"notes,omitempty"`
	Synced          bool      `gorm:"index" json:"synced"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (InfusionEvent) TableName() string  { return "infusion_events" }
func (InfusionEvent) TimeColumn() string { return "infused_at" }
func (e InfusionEvent) GetID() uint      { return e.ID }

func (e InfusionEvent) GetUpdatedAt() time.Time { return e.UpdatedAt }

// ReminderConfig is the persisted prophylaxis policy. There is at most one row per mode.
type ReminderConfig struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	Mode          string    `gorm:"uniqueIndex" json:"mode"`
	Weekday       int       `json:"weekday"`     // 0 = Sunday, weekly mode
	TimeOfDay     string    `json:"time_of_day"` // HH:MM
	IntervalCount int       `json:"interval_count,omitempty"`
	IntervalUnit  string    `json:"interval_unit,omitempty"`
	StartDate     time.Time `json:"start_date,omitempty"`
	Drug          string    `json:"drug"`
	DoseIU        int       `json:"dose_iu"`
	Enabled       bool      `json:"enabled"`
	Synced        bool      `gorm:"index" json:"synced"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (ReminderConfig) TableName() string  { return "reminder_configs" }
func (ReminderConfig) TimeColumn() string { return "updated_at" }
func (e ReminderConfig) GetID() uint      { return e.ID }

func (e ReminderConfig) GetUpdatedAt() time.Time { return e.UpdatedAt }

// ProphylaxisResponse records one reminder occurrence and whether the dose was taken
type ProphylaxisResponse struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	ReminderID   uint       `gorm:"index" json:"reminder_id"`
	Mode         string     `json:"mode"`
	ScheduledFor time.Time  `gorm:"index" json:"scheduled_for"`
	Drug         string     `json:"drug"`
	DoseIU       int        `json:"dose_iu"`
	Answer       string     `json:"answer"` // empty while open
	AnsweredAt   *time.Time `json:"answered_at,omitempty"`
	Synced       bool       `gorm:"index" json:"synced"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func (ProphylaxisResponse) TableName() string  { return "prophylaxis_responses" }
func (ProphylaxisResponse) TimeColumn() string { return "scheduled_for" }
func (e ProphylaxisResponse) GetID() uint      { return e.ID }

func (e ProphylaxisResponse) GetUpdatedAt() time.Time { return e.UpdatedAt }

// Open reports whether the response is still awaiting an answer
func (e ProphylaxisResponse) Open() bool { return e.Answer == "" }

// StepCount is a step total over a window delivered by the health data source
type StepCount struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	StartTime time.Time `gorm:"uniqueIndex:idx_steps_window" json:"start_time"`
	EndTime   time.Time `gorm:"uniqueIndex:idx_steps_window" json:"end_time"`
	Source    string    `gorm:"uniqueIndex:idx_steps_window" json:"source"`
	Steps     int64     `json:"steps"`
	Synced    bool      `gorm:"index" json:"synced"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (StepCount) TableName() string  { return "step_counts" }
func (StepCount) TimeColumn() string { return "start_time" }
func (e StepCount) GetID() uint      { return e.ID }

func (e StepCount) GetUpdatedAt() time.Time { return e.UpdatedAt }

type WeatherSample struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	ObservedAt   time.Time `gorm:"index" json:"observed_at"`
	Latitude     float64   `json:"latitude"`
	Longitude    float64   `json:"longitude"`
	TemperatureC float64   `json:"temperature_c"`
	HumidityPct  float64   `json:"humidity_pct"`
	PressureHPa  float64   `json:"pressure_hpa"`
	WeatherCode  int       `json:"weather_code"`
	Synced       bool      `gorm:"index" json:"synced"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (WeatherSample) TableName() string  { return "weather_samples" }
func (WeatherSample) TimeColumn() string { return "observed_at" }
func (e WeatherSample) GetID() uint      { return e.ID }

func (e WeatherSample) GetUpdatedAt() time.Time { return e.UpdatedAt }

type HeartRateSample struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	DeviceSerial string    `gorm:"index" json:"device_serial"`
	RecordedAt   time.Time `gorm:"index" json:"recorded_at"`
	BPM          int       `json:"bpm"`
	Synced       bool      `gorm:"index" json:"synced"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (HeartRateSample) TableName() string  { return "heart_rate_samples" }
func (HeartRateSample) TimeColumn() string { return "recorded_at" }
func (e HeartRateSample) GetID() uint      { return e.ID }

func (e HeartRateSample) GetUpdatedAt() time.Time { return e.UpdatedAt }

type BloodOxygenSample struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	DeviceSerial string    `gorm:"index" json:"device_serial"`
	RecordedAt   time.Time `gorm:"index" json:"recorded_at"`
	SpO2Pct      float64   `json:"spo2_pct"`
	Synced       bool      `gorm:"index" json:"synced"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (BloodOxygenSample) TableName() string  { return "blood_oxygen_samples" }
func (BloodOxygenSample) TimeColumn() string { return "recorded_at" }
func (e BloodOxygenSample) GetID() uint      { return e.ID }

func (e BloodOxygenSample) GetUpdatedAt() time.Time { return e.UpdatedAt }

type SkinTemperatureSample struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	DeviceSerial string    `gorm:"index" json:"device_serial"`
	RecordedAt   time.Time `gorm:"index" json:"recorded_at"`
	Celsius      float64   `json:"celsius"`
	Synced       bool      `gorm:"index" json:"synced"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (SkinTemperatureSample) TableName() string  { return "skin_temperature_samples" }
func (SkinTemperatureSample) TimeColumn() string { return "recorded_at" }
func (e SkinTemperatureSample) GetID() uint      { return e.ID }

func (e SkinTemperatureSample) GetUpdatedAt() time.Time { return e.UpdatedAt }

// AppLog is an application log line queued for upload. Synced means uploaded.
type AppLog struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Level     string    `json:"level"`
	Message   string    `gorm:"type:text" json:"message"`
	Fields    string    `gorm:"type:text" json:"fields,omitempty"` // JSON object
	Synced    bool      `gorm:"index" json:"synced"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (AppLog) TableName() string  { return "app_logs" }
func (AppLog) TimeColumn() string { return "created_at" }
func (e AppLog) GetID() uint      { return e.ID }

func (e AppLog) GetUpdatedAt() time.Time { return e.UpdatedAt }

// Device is a paired sensor known to the gateway. Devices are local state and are not replicated.
type Device struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	Serial            string     `gorm:"uniqueIndex" json:"serial"`
	Name              string     `json:"name"`
	Model             string     `json:"model"`
	Firmware          string     `json:"firmware,omitempty"`
	Status            string     `json:"status"`
	SampleIntervalSec int        `json:"sample_interval_sec"`
	LastSeenAt        *time.Time `json:"last_seen_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func (Device) TableName() string { return "devices" }
