package device

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/gmsas95/hemotrack/internal/errors"
	"github.com/gmsas95/hemotrack/internal/metrics"
	"github.com/gmsas95/hemotrack/internal/security"
	"github.com/gmsas95/hemotrack/internal/store"
	"go.uber.org/zap"
)

// Sample kinds
const (
	KindHeartRate       = "heart_rate"
	KindBloodOxygen     = "blood_oxygen"
	KindSkinTemperature = "skin_temperature"
)

// Commands sent to {prefix}/{serial}/cmd
const (
	OpConnect   = "connect"
	OpConfigure = "configure"
	OpFlush     = "flush"
	OpForget    = "forget"
)

const (
	minSampleInterval = 1
	maxSampleInterval = 3600
	maxSerialLen      = 64
)

// Announcement is published by the bridge for each sensor found during a scan
type Announcement struct {
	Serial   string `json:"serial"`
	Name     string `json:"name"`
	Model    string `json:"model"`
	Firmware string `json:"firmware,omitempty"`
}

// Command is sent to a single sensor
type Command struct {
	Op          string `json:"op"`
	IntervalSec int    `json:"interval_sec,omitempty"`
}

// StatusReport is published by the bridge when a sensor changes state
type StatusReport struct {
	Status   string `json:"status"`
	Firmware string `json:"firmware,omitempty"`
}

// Sample is one buffered reading
type Sample struct {
	Kind  string    `json:"kind"`
	At    time.Time `json:"at"`
	Value float64   `json:"value"`
}

// SampleBatch is the payload of {prefix}/{serial}/samples
type SampleBatch struct {
	Samples []Sample `json:"samples"`
}

// IngestResult counts stored and skipped samples
type IngestResult struct {
	Stored  int `json:"stored"`
	Skipped int `json:"skipped"`
}

// Gateway drives the discovery, connect, configure, flush and delete flows
type Gateway struct {
	transport Transport
	store     *store.Store
	prefix    string
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// NewGateway creates a gateway publishing under prefix
func NewGateway(t Transport, st *store.Store, prefix string, m *metrics.Metrics, logger *zap.Logger) *Gateway {
	if prefix == "" {
		prefix = "hemotrack/devices"
	}
	return &Gateway{
		transport: t,
		store:     st,
		prefix:    strings.TrimSuffix(prefix, "/"),
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

func (g *Gateway) topic(parts ...string) string {
	return g.prefix + "/" + strings.Join(parts, "/")
}

// serialFromTopic extracts {serial} from {prefix}/{serial}/{suffix}
func (g *Gateway) serialFromTopic(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, g.prefix+"/")
	if !ok {
		return "", false
	}
	serial, _, ok := strings.Cut(rest, "/")
	return serial, ok && serial != ""
}

// ValidateSerial rejects serials that cannot be used as one MQTT topic level
func ValidateSerial(serial string) error {
	if serial == "" {
		return apperrors.ErrBadRequest.WithMessage("missing device serial")
	}
	if len(serial) > maxSerialLen {
		return apperrors.ErrBadRequest.WithMessage("device serial longer than %d bytes", maxSerialLen)
	}
	if strings.ContainsAny(serial, "/+#") {
		return apperrors.ErrBadRequest.WithMessage("device serial %q contains a topic separator or wildcard", serial)
	}
	if err := security.ValidateLabel(serial); err != nil {
		return apperrors.ErrBadRequest.WithMessage("invalid device serial: %v", err)
	}
	return nil
}

// Start subscribes to announcements, status reports and samples
func (g *Gateway) Start(ctx context.Context) error {
	subs := map[string]func(context.Context, string, []byte) error{
		g.topic("+", "announce"): func(ctx context.Context, topic string, p []byte) error {
			_, err := g.HandleAnnouncement(ctx, topic, p)
			return err
		},
		g.topic("+", "status"): g.HandleStatus,
		g.topic("+", "samples"): func(ctx context.Context, topic string, p []byte) error {
			_, err := g.HandleSamples(ctx, topic, p)
			return err
		},
	}

	for topic, handle := range subs {
		handle := handle
		err := g.transport.Subscribe(topic, func(topic string, payload []byte) {
			if err := handle(ctx, topic, payload); err != nil {
				g.logger.Warn("Device message rejected", zap.String("topic", topic), zap.Error(err))
			}
		})
		if err != nil {
			return apperrors.ErrDeviceUnavailable.WithCause(err)
		}
	}

	g.logger.Info("Device gateway started", zap.String("prefix", g.prefix))
	return nil
}

// Close disconnects the transport
func (g *Gateway) Close() {
	g.transport.Close()
}

// Connected reports whether the bridge link is up
func (g *Gateway) Connected() bool {
	return g.transport.IsConnected()
}

func (g *Gateway) publish(topic string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := g.transport.Publish(topic, data); err != nil {
		return apperrors.ErrDeviceUnavailable.WithCause(err)
	}
	return nil
}

// Scan asks the bridge to look for nearby sensors. Results arrive as announcements.
func (g *Gateway) Scan(_ context.Context, duration time.Duration) error {
	if duration <= 0 {
		duration = 10 * time.Second
	}
	return g.publish(g.topic("scan"), map[string]int{"duration_sec": int(duration / time.Second)})
}

// HandleAnnouncement records a sensor announced on {prefix}/{serial}/announce.
// Known sensors keep their status.
func (g *Gateway) HandleAnnouncement(ctx context.Context, topic string, payload []byte) (*store.Device, error) {
	topicSerial, ok := g.serialFromTopic(topic)
	if !ok {
		return nil, apperrors.ErrBadRequest.WithMessage("unexpected topic %s", topic)
	}
	var a Announcement
	if err := json.Unmarshal(payload, &a); err != nil {
		return nil, apperrors.ErrBadRequest.WithMessage("invalid announcement: %v", err)
	}
	if err := ValidateSerial(a.Serial); err != nil {
		return nil, err
	}
	if a.Serial != topicSerial {
		return nil, apperrors.ErrBadRequest.WithMessage("announcement for %q published on %s", a.Serial, topic)
	}

	d, err := g.store.DeviceBySerial(ctx, a.Serial)
	if err != nil {
		return nil, err
	}
	if d == nil {
		d = &store.Device{Serial: a.Serial, Status: store.DeviceDiscovered}
	}
	d.Name = a.Name
	d.Model = a.Model
	if a.Firmware != "" {
		d.Firmware = a.Firmware
	}
	seen := g.now()
	d.LastSeenAt = &seen

	if err := g.store.SaveDevice(ctx, d); err != nil {
		return nil, fmt.Errorf("failed to save device %s: %w", a.Serial, err)
	}
	g.logger.Info("Device discovered", zap.String("serial", d.Serial), zap.String("model", d.Model))
	return d, nil
}

// HandleStatus applies a status report published on {prefix}/{serial}/status
func (g *Gateway) HandleStatus(ctx context.Context, topic string, payload []byte) error {
	serial, ok := g.serialFromTopic(topic)
	if !ok {
		return apperrors.ErrBadRequest.WithMessage("unexpected topic %s", topic)
	}
	var r StatusReport
	if err := json.Unmarshal(payload, &r); err != nil {
		return apperrors.ErrBadRequest.WithMessage("invalid status: %v", err)
	}
	switch r.Status {
	case store.DeviceDiscovered, store.DeviceConnected, store.DeviceConfigured:
	default:
		return apperrors.ErrBadRequest.WithMessage("unknown device status %q", r.Status)
	}

	d, err := g.device(ctx, serial)
	if err != nil {
		return err
	}
	d.Status = r.Status
	if r.Firmware != "" {
		d.Firmware = r.Firmware
	}
	seen := g.now()
	d.LastSeenAt = &seen
	return g.store.SaveDevice(ctx, d)
}

func (g *Gateway) device(ctx context.Context, serial string) (*store.Device, error) {
	if err := ValidateSerial(serial); err != nil {
		return nil, err
	}
	d, err := g.store.DeviceBySerial(ctx, serial)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, apperrors.ErrDeviceNotFound.WithMessage("device %s not found", serial)
	}
	return d, nil
}

// Connect asks the bridge to connect to a discovered sensor.
// The status flips when the bridge reports back.
func (g *Gateway) Connect(ctx context.Context, serial string) (*store.Device, error) {
	d, err := g.device(ctx, serial)
	if err != nil {
		return nil, err
	}
	if err := g.publish(g.topic(serial, "cmd"), Command{Op: OpConnect}); err != nil {
		return nil, err
	}
	return d, nil
}

// Configure sets the sampling interval of a sensor
func (g *Gateway) Configure(ctx context.Context, serial string, interval time.Duration) (*store.Device, error) {
	sec := int(interval / time.Second)
	if sec < minSampleInterval || sec > maxSampleInterval {
		return nil, apperrors.ErrBadRequest.WithMessage("sample interval must be between %ds and %ds", minSampleInterval, maxSampleInterval)
	}
	d, err := g.device(ctx, serial)
	if err != nil {
		return nil, err
	}
	if d.Status == store.DeviceDiscovered {
		return nil, apperrors.ErrBadRequest.WithMessage("device %s is not connected", serial)
	}
	if err := g.publish(g.topic(serial, "cmd"), Command{Op: OpConfigure, IntervalSec: sec}); err != nil {
		return nil, err
	}

	d.SampleIntervalSec = sec
	d.Status = store.DeviceConfigured
	if err := g.store.SaveDevice(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// Flush asks a sensor to publish its buffered samples
func (g *Gateway) Flush(ctx context.Context, serial string) error {
	if _, err := g.device(ctx, serial); err != nil {
		return err
	}
	return g.publish(g.topic(serial, "cmd"), Command{Op: OpFlush})
}

// Delete forgets a sensor. Stored vitals are kept.
func (g *Gateway) Delete(ctx context.Context, serial string) error {
	if _, err := g.device(ctx, serial); err != nil {
		return err
	}
	if err := g.publish(g.topic(serial, "cmd"), Command{Op: OpForget}); err != nil {
		g.logger.Warn("Forget command not delivered", zap.String("serial", serial), zap.Error(err))
	}
	return g.store.DeleteDevice(ctx, serial)
}

// HandleSamples stores a batch published on {prefix}/{serial}/samples.
// Out of range or unknown samples are skipped; the rest of the batch is kept.
func (g *Gateway) HandleSamples(ctx context.Context, topic string, payload []byte) (IngestResult, error) {
	var res IngestResult
	serial, ok := g.serialFromTopic(topic)
	if !ok {
		return res, apperrors.ErrBadRequest.WithMessage("unexpected topic %s", topic)
	}
	var batch SampleBatch
	if err := json.Unmarshal(payload, &batch); err != nil {
		return res, apperrors.ErrBadRequest.WithMessage("invalid sample batch: %v", err)
	}

	d, err := g.device(ctx, serial)
	if err != nil {
		return res, err
	}

	for _, s := range batch.Samples {
		if err := g.storeSample(ctx, serial, s); err != nil {
			res.Skipped++
			g.logger.Debug("Sample skipped", zap.String("serial", serial), zap.String("kind", s.Kind), zap.Error(err))
			continue
		}
		res.Stored++
		if g.metrics != nil {
			g.metrics.RecordDeviceSample(s.Kind)
		}
	}

	seen := g.now()
	d.LastSeenAt = &seen
	if err := g.store.SaveDevice(ctx, d); err != nil {
		return res, err
	}
	return res, nil
}

func (g *Gateway) storeSample(ctx context.Context, serial string, s Sample) error {
	if s.At.IsZero() {
		return fmt.Errorf("sample without timestamp")
	}
	switch s.Kind {
	case KindHeartRate:
		if s.Value < 20 || s.Value > 250 {
			return fmt.Errorf("heart rate %.0f out of range", s.Value)
		}
		return g.store.HeartRates.Create(ctx, &store.HeartRateSample{DeviceSerial: serial, RecordedAt: s.At, BPM: int(s.Value)})
	case KindBloodOxygen:
		if s.Value < 0 || s.Value > 100 {
			return fmt.Errorf("SpO2 %.1f out of range", s.Value)
		}
		return g.store.BloodOxygen.Create(ctx, &store.BloodOxygenSample{DeviceSerial: serial, RecordedAt: s.At, SpO2Pct: s.Value})
	case KindSkinTemperature:
		if s.Value < 25 || s.Value > 45 {
			return fmt.Errorf("skin temperature %.1f out of range", s.Value)
		}
		return g.store.SkinTemps.Create(ctx, &store.SkinTemperatureSample{DeviceSerial: serial, RecordedAt: s.At, Celsius: s.Value})
	}
	return fmt.Errorf("unknown sample kind %q", s.Kind)
}
