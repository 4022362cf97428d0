package prophylaxis

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestTimerAlarms_ReplaceByID(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	ta := NewTimerAlarms(logger, nil)
	defer ta.Stop()

	noop := func(Alarm) {}
	later := time.Now().Add(time.Hour)

	require.True(t, ta.Set(Alarm{ID: AlarmIDWeekly, Mode: "weekly", At: later}, noop))
	require.True(t, ta.Set(Alarm{ID: AlarmIDWeekly, Mode: "weekly", At: later.Add(time.Hour)}, noop))

	pending := ta.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, later.Add(time.Hour), pending[0].At)
}

func TestTimerAlarms_CancelAll(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	ta := NewTimerAlarms(logger, nil)

	noop := func(Alarm) {}
	later := time.Now().Add(time.Hour)
	ta.Set(Alarm{ID: AlarmIDWeekly, At: later}, noop)
	ta.Set(Alarm{ID: AlarmIDInterval, At: later}, noop)
	require.Len(t, ta.Pending(), 2)

	ta.Cancel(AlarmIDWeekly)
	ta.Cancel(AlarmIDInterval)
	ta.Cancel(AlarmIDInterval)
	assert.Empty(t, ta.Pending())
}

func TestTimerAlarms_PermissionDenied(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	granted := false
	ta := NewTimerAlarms(logger, func() bool { return granted })
	defer ta.Stop()

	ok := ta.Set(Alarm{ID: AlarmIDWeekly, At: time.Now().Add(time.Hour)}, func(Alarm) {})
	assert.False(t, ok)
	assert.Empty(t, ta.Pending())

	granted = true
	ok = ta.Set(Alarm{ID: AlarmIDWeekly, At: time.Now().Add(time.Hour)}, func(Alarm) {})
	assert.True(t, ok)
	assert.Len(t, ta.Pending(), 1)
}

func TestTimerAlarms_FireAndRearm(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	ta := NewTimerAlarms(logger, nil)
	defer ta.Stop()

	var fired atomic.Int32
	done := make(chan struct{})

	var handler func(Alarm)
	handler = func(a Alarm) {
		if fired.Add(1) == 1 {
			ta.Set(Alarm{ID: a.ID, Mode: a.Mode, At: time.Now().Add(time.Hour)}, handler)
			close(done)
		}
	}

	ta.Set(Alarm{ID: AlarmIDWeekly, Mode: "weekly", At: time.Now().Add(10 * time.Millisecond)}, handler)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("alarm did not fire")
	}

	pending := ta.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, AlarmIDWeekly, pending[0].ID)
	assert.EqualValues(t, 1, fired.Load())
}

func TestTimerAlarms_ReplacedTimerDoesNotFire(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	ta := NewTimerAlarms(logger, nil)
	defer ta.Stop()

	var fired atomic.Int32
	ta.Set(Alarm{ID: AlarmIDInterval, At: time.Now().Add(20 * time.Millisecond)}, func(Alarm) { fired.Add(1) })
	ta.Set(Alarm{ID: AlarmIDInterval, At: time.Now().Add(time.Hour)}, func(Alarm) { fired.Add(1) })

	time.Sleep(60 * time.Millisecond)
	assert.EqualValues(t, 0, fired.Load())
	assert.Len(t, ta.Pending(), 1)
}

func TestTimerAlarms_RecoversFromPanics(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	ta := NewTimerAlarms(logger, nil)
	defer ta.Stop()

	done := make(chan struct{})
	ta.Set(Alarm{ID: AlarmIDWeekly, At: time.Now()}, func(Alarm) {
		defer close(done)
		panic("handler bug")
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("alarm did not fire")
	}
	assert.Empty(t, ta.Pending())
}

func TestTimerAlarms_StopWaitsAndRefusesRearm(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	ta := NewTimerAlarms(logger, nil)

	entered := make(chan struct{})
	release := make(chan struct{})
	var rearmed atomic.Bool
	ta.Set(Alarm{ID: AlarmIDWeekly, Mode: "weekly", At: time.Now()}, func(a Alarm) {
		close(entered)
		<-release
		rearmed.Store(ta.Set(Alarm{ID: a.ID, Mode: a.Mode, At: time.Now().Add(time.Hour)}, func(Alarm) {}))
	})

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("alarm did not fire")
	}

	stopped := make(chan struct{})
	go func() {
		ta.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a handler was running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}

	assert.False(t, rearmed.Load())
	assert.Empty(t, ta.Pending())
	assert.False(t, ta.Set(Alarm{ID: AlarmIDInterval, At: time.Now().Add(time.Hour)}, func(Alarm) {}))
}
