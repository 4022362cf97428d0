package app

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gmsas95/hemotrack/internal/config"
	"github.com/gmsas95/hemotrack/internal/cron"
	"github.com/gmsas95/hemotrack/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg, err := config.Load(filepath.Join(dir, "missing.yaml"), dir)
	require.NoError(t, err)
	cfg.Reminders.Timezone = "UTC"
	return cfg
}

func testStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func jobNames(a *App) []string {
	var names []string
	for _, j := range a.Jobs.Jobs() {
		names = append(names, j.Name)
	}
	return names
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		jobs    []string
		version string
	}{
		{
			name:    "defaults register no jobs",
			mutate:  func(*config.Config) {},
			version: "1.0.0",
		},
		{
			name: "log upload job",
			mutate: func(c *config.Config) {
				c.Remote.LogUploadEnabled = true
			},
			jobs:    []string{cron.JobLogUpload},
			version: "dev",
		},
		{
			name: "weather and redis sync jobs",
			mutate: func(c *config.Config) {
				c.Weather.Enabled = true
				c.Weather.Latitude = 52.5
				c.Sync.Enabled = true
				c.Sync.Backend = "redis"
			},
			jobs: []string{cron.JobSync, cron.JobWeather},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(cfg)

			a, err := New(cfg, testStore(t), zap.NewNop(), tt.version)
			require.NoError(t, err)
			defer a.Stop()

			assert.Equal(t, tt.version, a.Version)
			assert.Equal(t, tt.jobs, jobNames(a))
			assert.Equal(t, cfg.Sync.Enabled, a.Sync != nil)
			assert.Equal(t, cfg.Weather.Enabled, a.Weather != nil)
		})
	}
}

func TestNew_InvalidTimezone(t *testing.T) {
	cfg := testConfig(t)
	cfg.Reminders.Timezone = "Mars/Olympus"

	_, err := New(cfg, testStore(t), zap.NewNop(), "test")
	assert.Error(t, err)
}

func TestSyncJob_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Sync.Enabled = true
	cfg.Sync.Backend = "redis"
	cfg.Sync.Redis.Addr = mr.Addr()
	cfg.Sync.Redis.Prefix = "ht"

	st := testStore(t)
	ctx := context.Background()
	bleed := &store.BleedingEvent{
		OccurredAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Site:       "left knee",
		Cause:      store.CauseSpontaneous,
		Severity:   store.SeverityModerate,
	}
	require.NoError(t, st.Bleeds.Create(ctx, bleed))

	a, err := New(cfg, st, zap.NewNop(), "test")
	require.NoError(t, err)
	defer a.Stop()

	require.NoError(t, a.Jobs.RunNow(ctx, cron.JobSync))

	id, err := st.InstallationID()
	require.NoError(t, err)
	raw := mr.HGet("ht:"+id+":bleeding_events", fmt.Sprint(bleed.ID))
	var got store.BleedingEvent
	require.NoError(t, json.Unmarshal([]byte(raw), &got))
	assert.Equal(t, "left knee", got.Site)

	n, err := st.Bleeds.CountUnsent(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestLogUploadJob_NoSession(t *testing.T) {
	cfg := testConfig(t)
	cfg.Remote.LogUploadEnabled = true

	a, err := New(cfg, testStore(t), zap.NewNop(), "test")
	require.NoError(t, err)
	defer a.Stop()

	assert.NoError(t, a.Jobs.RunNow(context.Background(), cron.JobLogUpload))
}

func TestSeedPermissions(t *testing.T) {
	cfg := testConfig(t)
	cfg.Reminders.ExactAlarms = false
	st := testStore(t)

	a, err := New(cfg, st, zap.NewNop(), "test")
	require.NoError(t, err)
	defer a.Stop()

	require.NoError(t, a.SeedPermissions())
	perms, err := st.Permissions()
	require.NoError(t, err)
	assert.False(t, perms.ExactAlarms)
	assert.True(t, perms.Notifications)

	// onboarding choices are kept
	require.NoError(t, st.SetPermissions(store.Permissions{ExactAlarms: true, Bluetooth: true}))
	require.NoError(t, a.SeedPermissions())
	perms, err = st.Permissions()
	require.NoError(t, err)
	assert.True(t, perms.ExactAlarms)
	assert.True(t, perms.Bluetooth)
}

func TestStart_RestoresReminders(t *testing.T) {
	cfg := testConfig(t)
	st := testStore(t)
	ctx := context.Background()
	require.NoError(t, st.UpsertReminder(ctx, &store.ReminderConfig{
		Mode:      store.ModeWeekly,
		Weekday:   int(time.Monday),
		TimeOfDay: "08:00",
		Drug:      "Advate",
		DoseIU:    2000,
		Enabled:   true,
	}))

	a, err := New(cfg, st, zap.NewNop(), "test")
	require.NoError(t, err)
	require.NoError(t, a.Start(ctx))
	defer a.Stop()

	require.NotNil(t, a.Server)
	assert.Nil(t, a.Devices)
	assert.Nil(t, a.TelegramBot)

	pending := a.Scheduler.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, store.ModeWeekly, pending[0].Mode)
	assert.Equal(t, time.Monday, pending[0].At.In(time.UTC).Weekday())
}

func TestStart_ChannelFailureIsNotFatal(t *testing.T) {
	cfg := testConfig(t)
	cfg.Channels.Discord.Enabled = true
	cfg.Channels.Discord.Token = "token"

	a, err := New(cfg, testStore(t), zap.NewNop(), "test")
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	defer a.Stop()

	assert.Nil(t, a.DiscordBot)
}
