package device

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	apperrors "github.com/gmsas95/hemotrack/internal/errors"
	"github.com/gmsas95/hemotrack/internal/metrics"
	"github.com/gmsas95/hemotrack/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type published struct {
	topic   string
	payload []byte
}

// fakeTransport is an in-process broker supporting single-level "+" wildcards
type fakeTransport struct {
	mu        sync.Mutex
	sent      []published
	subs      map[string]MessageHandler
	down      bool
	connected bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{subs: map[string]MessageHandler{}, connected: true}
}

func (f *fakeTransport) Publish(topic string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return errors.New("broker unreachable")
	}
	f.sent = append(f.sent, published{topic, payload})
	return nil
}

func (f *fakeTransport) Subscribe(topic string, h MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[topic] = h
	return nil
}

func (f *fakeTransport) IsConnected() bool { return f.connected }
func (f *fakeTransport) Close()            { f.connected = false }

// deliver simulates a message from the bridge
func (f *fakeTransport) deliver(topic string, payload string) {
	f.mu.Lock()
	var hs []MessageHandler
	for pattern, h := range f.subs {
		if matchTopic(pattern, topic) {
			hs = append(hs, h)
		}
	}
	f.mu.Unlock()
	for _, h := range hs {
		h(topic, []byte(payload))
	}
}

func (f *fakeTransport) last() published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[len(f.sent)-1]
}

func matchTopic(pattern, topic string) bool {
	pp := strings.Split(pattern, "/")
	tp := strings.Split(topic, "/")
	if len(pp) != len(tp) {
		return false
	}
	for i := range pp {
		if pp[i] != "+" && pp[i] != tp[i] {
			return false
		}
	}
	return true
}

func newTestGateway(t *testing.T) (*Gateway, *fakeTransport, *store.Store) {
	t.Helper()
	st, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	tr := newFakeTransport()
	g := NewGateway(tr, st, "ht/dev/", metrics.New(), zap.NewNop())
	g.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	return g, tr, st
}

func TestGateway_DiscoverConnectConfigure(t *testing.T) {
	g, tr, st := newTestGateway(t)
	ctx := context.Background()
	require.NoError(t, g.Start(ctx))

	require.NoError(t, g.Scan(ctx, 5*time.Second))
	assert.Equal(t, "ht/dev/scan", tr.last().topic)
	assert.JSONEq(t, `{"duration_sec":5}`, string(tr.last().payload))

	tr.deliver("ht/dev/HT-001/announce", `{"serial":"HT-001","name":"Wrist band","model":"HB-2"}`)
	d, err := st.DeviceBySerial(ctx, "HT-001")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, store.DeviceDiscovered, d.Status)
	assert.NotNil(t, d.LastSeenAt)

	_, err = g.Configure(ctx, "HT-001", 30*time.Second)
	assert.ErrorIs(t, err, apperrors.ErrBadRequest, "not connected yet")

	_, err = g.Connect(ctx, "HT-001")
	require.NoError(t, err)
	assert.Equal(t, "ht/dev/HT-001/cmd", tr.last().topic)
	assert.JSONEq(t, `{"op":"connect"}`, string(tr.last().payload))

	tr.deliver("ht/dev/HT-001/status", `{"status":"connected","firmware":"1.4.2"}`)
	d, err = st.DeviceBySerial(ctx, "HT-001")
	require.NoError(t, err)
	assert.Equal(t, store.DeviceConnected, d.Status)
	assert.Equal(t, "1.4.2", d.Firmware)

	d, err = g.Configure(ctx, "HT-001", 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, store.DeviceConfigured, d.Status)
	assert.Equal(t, 30, d.SampleIntervalSec)
	assert.JSONEq(t, `{"op":"configure","interval_sec":30}`, string(tr.last().payload))

	// a later announcement keeps the status
	tr.deliver("ht/dev/HT-001/announce", `{"serial":"HT-001","name":"Wrist band","model":"HB-2"}`)
	d, err = st.DeviceBySerial(ctx, "HT-001")
	require.NoError(t, err)
	assert.Equal(t, store.DeviceConfigured, d.Status)
	assert.Equal(t, "1.4.2", d.Firmware)
}

func TestGateway_ConfigureValidation(t *testing.T) {
	g, _, _ := newTestGateway(t)
	ctx := context.Background()

	_, err := g.Configure(ctx, "HT-404", 30*time.Second)
	assert.ErrorIs(t, err, apperrors.ErrDeviceNotFound)

	_, err = g.Configure(ctx, "HT-404", 0)
	assert.ErrorIs(t, err, apperrors.ErrBadRequest)

	_, err = g.Configure(ctx, "HT-404", 2*time.Hour)
	assert.ErrorIs(t, err, apperrors.ErrBadRequest)
}

func TestGateway_SamplesAndFlush(t *testing.T) {
	g, tr, st := newTestGateway(t)
	ctx := context.Background()
	require.NoError(t, g.Start(ctx))
	tr.deliver("ht/dev/HT-002/announce", `{"serial":"HT-002","model":"HB-2"}`)

	require.NoError(t, g.Flush(ctx, "HT-002"))
	assert.JSONEq(t, `{"op":"flush"}`, string(tr.last().payload))

	batch := SampleBatch{Samples: []Sample{
		{Kind: KindHeartRate, At: time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC), Value: 72},
		{Kind: KindBloodOxygen, At: time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC), Value: 98.5},
		{Kind: KindSkinTemperature, At: time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC), Value: 33.1},
		{Kind: KindHeartRate, At: time.Date(2024, 3, 1, 11, 1, 0, 0, time.UTC), Value: 900},
		{Kind: "glucose", At: time.Date(2024, 3, 1, 11, 1, 0, 0, time.UTC), Value: 5},
	}}
	payload, err := json.Marshal(batch)
	require.NoError(t, err)

	res, err := g.HandleSamples(ctx, "ht/dev/HT-002/samples", payload)
	require.NoError(t, err)
	assert.Equal(t, IngestResult{Stored: 3, Skipped: 2}, res)

	hr, err := st.HeartRates.List(ctx, store.ListOptions{})
	require.NoError(t, err)
	require.Len(t, hr, 1)
	assert.Equal(t, 72, hr[0].BPM)
	assert.Equal(t, "HT-002", hr[0].DeviceSerial)

	spo2, err := st.BloodOxygen.List(ctx, store.ListOptions{})
	require.NoError(t, err)
	require.Len(t, spo2, 1)

	temps, err := st.SkinTemps.List(ctx, store.ListOptions{})
	require.NoError(t, err)
	require.Len(t, temps, 1)

	_, err = g.HandleSamples(ctx, "ht/dev/HT-999/samples", payload)
	assert.ErrorIs(t, err, apperrors.ErrDeviceNotFound)

	_, err = g.HandleSamples(ctx, "other/HT-002/samples", payload)
	assert.ErrorIs(t, err, apperrors.ErrBadRequest)
}

func TestGateway_Delete(t *testing.T) {
	g, tr, st := newTestGateway(t)
	ctx := context.Background()

	_, err := g.HandleAnnouncement(ctx, "ht/dev/HT-003/announce", []byte(`{"serial":"HT-003"}`))
	require.NoError(t, err)

	tr.down = true
	require.NoError(t, g.Delete(ctx, "HT-003"), "forgetting works even when the bridge is away")

	d, err := st.DeviceBySerial(ctx, "HT-003")
	require.NoError(t, err)
	assert.Nil(t, d)

	assert.ErrorIs(t, g.Delete(ctx, "HT-003"), apperrors.ErrDeviceNotFound)
}

func TestGateway_PublishFailure(t *testing.T) {
	g, tr, _ := newTestGateway(t)
	ctx := context.Background()
	tr.down = true

	assert.ErrorIs(t, g.Scan(ctx, 0), apperrors.ErrDeviceUnavailable)

	_, err := g.HandleAnnouncement(ctx, "ht/dev/HT-004/announce", []byte(`not json`))
	assert.ErrorIs(t, err, apperrors.ErrBadRequest)
	_, err = g.HandleAnnouncement(ctx, "ht/dev/HT-004/announce", []byte(`{"name":"no serial"}`))
	assert.ErrorIs(t, err, apperrors.ErrBadRequest)
}

func TestGateway_AnnouncementSerialChecks(t *testing.T) {
	g, tr, st := newTestGateway(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		topic string
		body  string
	}{
		{"separator", "ht/dev/HT-1/announce", `{"serial":"HT-1/evil"}`},
		{"single level wildcard", "ht/dev/HT+/announce", `{"serial":"HT+"}`},
		{"multi level wildcard", "ht/dev/HT#/announce", `{"serial":"HT#"}`},
		{"control character", "ht/dev/HT-1/announce", `{"serial":"HT\u0001"}`},
		{"too long", "ht/dev/HT-1/announce", `{"serial":"` + strings.Repeat("x", 65) + `"}`},
		{"topic mismatch", "ht/dev/HT-1/announce", `{"serial":"HT-2"}`},
		{"foreign prefix", "other/HT-1/announce", `{"serial":"HT-1"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := g.HandleAnnouncement(ctx, tt.topic, []byte(tt.body))
			assert.ErrorIs(t, err, apperrors.ErrBadRequest)
		})
	}

	devices, err := st.ListDevices(ctx)
	require.NoError(t, err)
	assert.Empty(t, devices)

	before := len(tr.sent)
	_, err = g.Connect(ctx, "HT-1/cmd")
	assert.ErrorIs(t, err, apperrors.ErrBadRequest)
	assert.ErrorIs(t, g.Flush(ctx, "#"), apperrors.ErrBadRequest)
	assert.Len(t, tr.sent, before, "nothing is published for an invalid serial")

	assert.NoError(t, ValidateSerial("HB2-00A1:7F"))
}
