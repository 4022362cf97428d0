// Package healthdata ingests samples delivered by the platform health data service
package healthdata

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	apperrors "github.com/gmsas95/hemotrack/internal/errors"
	"github.com/gmsas95/hemotrack/internal/store"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// StepSample is one step total over [Start, End) as delivered by a source
type StepSample struct {
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	Steps  int64     `json:"steps"`
	Source string    `json:"source"`
}

// Result summarizes an ingest call
type Result struct {
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
}

// DailyTotal is the step sum of one calendar day
type DailyTotal struct {
	Date  string `json:"date"` // YYYY-MM-DD in the requested location
	Steps int64  `json:"steps"`
}

// Ingester writes health data batches into the store
type Ingester struct {
	store  *store.Store
	logger *zap.Logger
}

// NewIngester creates an ingester
func NewIngester(st *store.Store, logger *zap.Logger) *Ingester {
	return &Ingester{store: st, logger: logger}
}

// Validate checks a single sample
func (s StepSample) Validate() error {
	switch {
	case s.Start.IsZero() || s.End.IsZero():
		return apperrors.ErrBadRequest.WithMessage("step sample needs start and end")
	case !s.End.After(s.Start):
		return apperrors.ErrBadRequest.WithMessage("step sample end %s is not after start %s", s.End.Format(time.RFC3339), s.Start.Format(time.RFC3339))
	case s.Steps < 0:
		return apperrors.ErrBadRequest.WithMessage("negative step count %d", s.Steps)
	}
	return nil
}

// IngestSteps upserts samples keyed by (source, start, end). Redelivered samples
// with the same count are left alone; changed counts are rewritten and queued for sync again.
// The whole batch is rejected if any sample is invalid.
func (i *Ingester) IngestSteps(ctx context.Context, samples []StepSample) (Result, error) {
	var res Result
	for idx, s := range samples {
		if err := s.Validate(); err != nil {
			return res, fmt.Errorf("sample %d: %w", idx, err)
		}
	}

	err := i.store.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, s := range samples {
			source := s.Source
			if source == "" {
				source = "unknown"
			}
			start, end := s.Start.UTC(), s.End.UTC()

			var existing store.StepCount
			err := tx.Where("source = ? AND start_time = ? AND end_time = ?", source, start, end).First(&existing).Error
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				row := store.StepCount{StartTime: start, EndTime: end, Steps: s.Steps, Source: source}
				if err := tx.Create(&row).Error; err != nil {
					return err
				}
				res.Created++
			case err != nil:
				return err
			case existing.Steps == s.Steps:
				res.Unchanged++
			default:
				err := tx.Model(&existing).Updates(map[string]interface{}{
					"steps":  s.Steps,
					"synced": false,
				}).Error
				if err != nil {
					return err
				}
				res.Updated++
			}
		}
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to ingest step samples: %w", err)
	}

	i.logger.Debug("Step samples ingested",
		zap.Int("created", res.Created),
		zap.Int("updated", res.Updated),
		zap.Int("unchanged", res.Unchanged),
	)
	return res, nil
}

// DailyTotals sums steps per calendar day in loc for windows starting in [from, to).
// Days without data are omitted.
func (i *Ingester) DailyTotals(ctx context.Context, from, to time.Time, loc *time.Location) ([]DailyTotal, error) {
	if loc == nil {
		loc = time.Local
	}

	var rows []store.StepCount
	err := i.store.DB().WithContext(ctx).
		Where("start_time >= ? AND start_time < ?", from.UTC(), to.UTC()).
		Order("start_time ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load step counts: %w", err)
	}

	sums := make(map[string]int64)
	for _, r := range rows {
		sums[r.StartTime.In(loc).Format("2006-01-02")] += r.Steps
	}

	out := make([]DailyTotal, 0, len(sums))
	for day, n := range sums {
		out = append(out, DailyTotal{Date: day, Steps: n})
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Date < out[b].Date })
	return out, nil
}
