package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	m := New()
	require.NotNil(t, m)
	require.NotNil(t, m.Registry())
}

func TestDefault(t *testing.T) {
	assert.Same(t, Default(), Default())
}

func TestNew_IndependentRegistries(t *testing.T) {
	a := New()
	b := New()
	a.RecordReminderFired("weekly")

	assert.Equal(t, 1.0, testutil.ToFloat64(a.remindersFired.WithLabelValues("weekly")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.remindersFired.WithLabelValues("weekly")))
}

func TestReminderMetrics(t *testing.T) {
	m := New()
	m.RecordReminderScheduled("interval")
	m.RecordReminderFired("interval")
	m.RecordResponse("yes")
	m.RecordResponse("no")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.remindersScheduled.WithLabelValues("interval")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.responsesAnswered.WithLabelValues("yes")))

	snap := m.Snapshot()
	assert.EqualValues(t, 1, snap.RemindersFired)
	assert.EqualValues(t, 2, snap.ResponsesAnswered)
}

func TestSyncMetrics(t *testing.T) {
	m := New()
	m.RecordSync(time.Second, nil)
	m.RecordSync(time.Second, errors.New("boom"))
	m.RecordSyncRows("bleeding_events", 3, 1)
	m.RecordSyncRows("infusion_events", 0, 0)
	m.SetUnsent("bleeding_events", 1)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.syncRuns.WithLabelValues("error")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.syncRows.WithLabelValues("bleeding_events", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.syncRows.WithLabelValues("bleeding_events", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.unsentRows.WithLabelValues("bleeding_events")))
	assert.EqualValues(t, 1, m.Snapshot().SyncFailures)
}

func TestHandler(t *testing.T) {
	m := New()
	m.RecordJob("sync", 10*time.Millisecond, nil)
	m.RecordHTTP("GET", "/api/health", 200, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	text := string(body)

	assert.Contains(t, text, `hemotrack_job_runs_total{job="sync",result="success"} 1`)
	assert.Contains(t, text, `hemotrack_http_requests_total{method="GET",route="/api/health",status="200"} 1`)
	assert.True(t, strings.Contains(text, "go_goroutines"))
}

func TestWSClientsGauge(t *testing.T) {
	m := New()
	m.IncrementWSClients()
	m.IncrementWSClients()
	m.DecrementWSClients()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.wsClients))
}

func TestConcurrentAccess(t *testing.T) {
	m := New()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.RecordReminderFired("weekly")
			m.RecordDeviceSample("heart_rate")
			m.Snapshot()
		}()
	}
	wg.Wait()

	assert.Equal(t, 50.0, testutil.ToFloat64(m.remindersFired.WithLabelValues("weekly")))
	assert.Equal(t, 50.0, testutil.ToFloat64(m.deviceSamples.WithLabelValues("heart_rate")))
}
