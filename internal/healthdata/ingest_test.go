package healthdata

import (
	"context"
	"testing"
	"time"

	apperrors "github.com/gmsas95/hemotrack/internal/errors"
	"github.com/gmsas95/hemotrack/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestIngester(t *testing.T) (*Ingester, *store.Store) {
	t.Helper()
	st, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return NewIngester(st, zap.NewNop()), st
}

func hour(h int) time.Time {
	return time.Date(2024, 3, 1, h, 0, 0, 0, time.UTC)
}

func TestIngestSteps_Upsert(t *testing.T) {
	ing, st := newTestIngester(t)
	ctx := context.Background()

	batch := []StepSample{
		{Start: hour(8), End: hour(9), Steps: 1200, Source: "phone"},
		{Start: hour(9), End: hour(10), Steps: 300, Source: "phone"},
	}
	res, err := ing.IngestSteps(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, Result{Created: 2}, res)

	// mark everything synced, then redeliver with one changed window
	rows, err := st.Steps.ListUnsent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.NoError(t, st.Steps.MarkSent(ctx, []uint{rows[0].ID, rows[1].ID}))

	batch[1].Steps = 450
	res, err = ing.IngestSteps(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, Result{Updated: 1, Unchanged: 1}, res)

	unsent, err := st.Steps.ListUnsent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, unsent, 1)
	assert.EqualValues(t, 450, unsent[0].Steps)

	all, err := st.Steps.List(ctx, store.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestIngestSteps_SameWindowDifferentSource(t *testing.T) {
	ing, _ := newTestIngester(t)
	res, err := ing.IngestSteps(context.Background(), []StepSample{
		{Start: hour(8), End: hour(9), Steps: 100, Source: "phone"},
		{Start: hour(8), End: hour(9), Steps: 90, Source: "watch"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Created)
}

func TestIngestSteps_RejectsInvalidBatch(t *testing.T) {
	ing, st := newTestIngester(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		sample StepSample
	}{
		{"end before start", StepSample{Start: hour(9), End: hour(8), Steps: 1}},
		{"empty window", StepSample{Start: hour(9), End: hour(9), Steps: 1}},
		{"negative", StepSample{Start: hour(8), End: hour(9), Steps: -5}},
		{"missing times", StepSample{Steps: 5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ing.IngestSteps(ctx, []StepSample{
				{Start: hour(6), End: hour(7), Steps: 10, Source: "phone"},
				tt.sample,
			})
			assert.ErrorIs(t, err, apperrors.ErrBadRequest)
		})
	}

	n, err := st.Steps.CountUnsent(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "a rejected batch writes nothing")
}

func TestDailyTotals(t *testing.T) {
	ing, _ := newTestIngester(t)
	ctx := context.Background()

	_, err := ing.IngestSteps(ctx, []StepSample{
		{Start: hour(8), End: hour(9), Steps: 1000, Source: "phone"},
		{Start: hour(20), End: hour(21), Steps: 500, Source: "phone"},
		{Start: hour(23), End: hour(23).Add(30 * time.Minute), Steps: 50, Source: "phone"},
		{Start: hour(8).AddDate(0, 0, 1), End: hour(9).AddDate(0, 0, 1), Steps: 700, Source: "phone"},
	})
	require.NoError(t, err)

	from := hour(0)
	to := hour(0).AddDate(0, 0, 3)

	totals, err := ing.DailyTotals(ctx, from, to, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, []DailyTotal{
		{Date: "2024-03-01", Steps: 1550},
		{Date: "2024-03-02", Steps: 700},
	}, totals)

	// UTC+2 moves the 23:00 window to the next day
	loc := time.FixedZone("UTC+2", 2*60*60)
	totals, err = ing.DailyTotals(ctx, from, to, loc)
	require.NoError(t, err)
	assert.Equal(t, []DailyTotal{
		{Date: "2024-03-01", Steps: 1500},
		{Date: "2024-03-02", Steps: 750},
	}, totals)
}
