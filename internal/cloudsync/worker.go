package cloudsync

import (
	"context"
	"errors"
	"sync"
	"time"

	apperrors "github.com/gmsas95/hemotrack/internal/errors"
	"github.com/gmsas95/hemotrack/internal/metrics"
	"github.com/gmsas95/hemotrack/internal/store"
	"go.uber.org/zap"
)

const lastReportKey = "sync:last_report"

// TableReport summarizes one table within a sync run
type TableReport struct {
	Table  string `json:"table"`
	Sent   int    `json:"sent"`
	Failed int    `json:"failed"`
	Error  string `json:"error,omitempty"`
}

// Report summarizes a sync run
type Report struct {
	Backend    string        `json:"backend"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Sent       int           `json:"sent"`
	Failed     int           `json:"failed"`
	Tables     []TableReport `json:"tables"`
	Error      string        `json:"error,omitempty"`
}

// Worker pushes every unsent row to the mirror and flips its synced flag
// once the mirror has accepted it. Rows that fail stay unsent and are
// retried on the next run. Concurrent runs are serialized.
type Worker struct {
	mu        sync.Mutex
	store     *store.Store
	mirror    Mirror
	batchSize int
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewWorker creates a sync worker
func NewWorker(st *store.Store, mirror Mirror, batchSize int, m *metrics.Metrics, logger *zap.Logger) *Worker {
	if batchSize <= 0 {
		batchSize = 200
	}
	return &Worker{
		store:     st,
		mirror:    mirror,
		batchSize: batchSize,
		metrics:   m,
		logger:    logger,
	}
}

// Run performs one sync pass over every synced table
func (w *Worker) Run(ctx context.Context) (*Report, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	report := &Report{Backend: w.mirror.Name(), StartedAt: time.Now()}

	installationID, err := w.store.InstallationID()
	if err != nil {
		return nil, apperrors.ErrSyncFailed.WithCause(err)
	}

	var runErr error
	for _, table := range w.store.SyncTables() {
		tr, err := w.syncTable(ctx, installationID, table)
		report.Tables = append(report.Tables, tr)
		report.Sent += tr.Sent
		report.Failed += tr.Failed
		if w.metrics != nil {
			w.metrics.RecordSyncRows(tr.Table, tr.Sent, tr.Failed)
		}

		if err != nil {
			runErr = err
			// An open breaker or a cancelled context fails every remaining table the same way
			if errors.Is(err, apperrors.ErrSyncUnavailable) || ctx.Err() != nil {
				break
			}
		}
	}

	w.refreshUnsent(ctx)

	report.FinishedAt = time.Now()
	if runErr == nil && report.Failed > 0 {
		runErr = apperrors.ErrSyncFailed.WithMessage("%d rows failed to sync", report.Failed)
	}
	if runErr != nil {
		report.Error = runErr.Error()
	}

	if err := w.store.SetJSON(lastReportKey, report); err != nil {
		w.logger.Warn("Failed to store sync report", zap.Error(err))
	}
	if w.metrics != nil {
		w.metrics.RecordSync(report.FinishedAt.Sub(report.StartedAt), runErr)
	}

	w.logger.Info("Sync run finished",
		zap.String("backend", report.Backend),
		zap.Int("sent", report.Sent),
		zap.Int("failed", report.Failed),
		zap.Duration("duration", report.FinishedAt.Sub(report.StartedAt)),
	)

	return report, runErr
}

func (w *Worker) syncTable(ctx context.Context, installationID string, table store.Syncable) (TableReport, error) {
	tr := TableReport{Table: table.Table()}

	for {
		docs, err := table.UnsentDocs(ctx, w.batchSize)
		if err != nil {
			tr.Error = err.Error()
			return tr, apperrors.ErrSyncFailed.WithCause(err)
		}
		if len(docs) == 0 {
			return tr, nil
		}

		sent := make([]store.Doc, 0, len(docs))
		var firstErr error
		for _, doc := range docs {
			if err := w.mirror.Put(ctx, installationID, tr.Table, doc.ID, doc.Body); err != nil {
				tr.Failed++
				if firstErr == nil {
					firstErr = err
				}
				w.logger.Debug("Row sync failed",
					zap.String("table", tr.Table),
					zap.Uint("id", doc.ID),
					zap.Error(err),
				)
				if errors.Is(err, apperrors.ErrSyncUnavailable) || ctx.Err() != nil {
					firstErr = err
					break
				}
				continue
			}
			sent = append(sent, doc)
		}

		marked, err := table.MarkDocsSent(ctx, sent)
		if err != nil {
			tr.Error = err.Error()
			return tr, apperrors.ErrSyncFailed.WithCause(err)
		}
		tr.Sent += len(sent)
		if marked < len(sent) {
			w.logger.Debug("Rows edited during sync stay unsent",
				zap.String("table", tr.Table),
				zap.Int("count", len(sent)-marked),
			)
		}

		// Failed rows stay unsent; stop here so they are not fetched again in this run
		if firstErr != nil {
			tr.Error = firstErr.Error()
			return tr, firstErr
		}
		if len(docs) < w.batchSize {
			return tr, nil
		}
	}
}

func (w *Worker) refreshUnsent(ctx context.Context) {
	if w.metrics == nil {
		return
	}
	pending, err := w.Pending(ctx)
	if err != nil {
		w.logger.Debug("Failed to count unsent rows", zap.Error(err))
		return
	}
	for table, n := range pending {
		w.metrics.SetUnsent(table, n)
	}
}

// Pending returns the number of unsent rows per table
func (w *Worker) Pending(ctx context.Context) (map[string]int64, error) {
	out := make(map[string]int64)
	for _, table := range w.store.SyncTables() {
		n, err := table.CountUnsent(ctx)
		if err != nil {
			return nil, err
		}
		out[table.Table()] = n
	}
	return out, nil
}

// LastReport returns the report of the most recent run, or nil if none ran yet
func (w *Worker) LastReport() (*Report, error) {
	var r Report
	ok, err := w.store.GetJSON(lastReportKey, &r)
	if err != nil || !ok {
		return nil, err
	}
	return &r, nil
}

// Close releases the mirror
func (w *Worker) Close() error {
	return w.mirror.Close()
}
