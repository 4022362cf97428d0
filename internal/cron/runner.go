// Package cron runs the periodic background jobs: sync, weather sampling and log upload
package cron

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gmsas95/hemotrack/internal/metrics"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Config holds cron runner configuration
type Config struct {
	JobTimeout time.Duration // Upper bound for a single job run
}

// Job names registered by the daemon
const (
	JobSync      = "sync"
	JobWeather   = "weather"
	JobLogUpload = "log-upload"
)

// Job is a named unit of background work
type Job struct {
	Name string
	Spec string // robfig/cron spec, e.g. "@every 15m" or "0 3 * * *"
	Run  func(ctx context.Context) error
}

// JobStatus describes a registered job
type JobStatus struct {
	Name      string    `json:"name"`
	Spec      string    `json:"spec"`
	Next      time.Time `json:"next"`
	LastRun   time.Time `json:"last_run,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	Runs      int64     `json:"runs"`
}

type entry struct {
	job     Job
	id      cron.EntryID
	busy    atomic.Bool
	runs    atomic.Int64
	mu      sync.Mutex
	lastRun time.Time
	lastErr error
}

// Runner manages scheduled job execution
type Runner struct {
	config  Config
	cron    *cron.Cron
	logger  *zap.Logger
	metrics *metrics.Metrics
	ctx     context.Context
	cancel  context.CancelFunc

	mu      sync.RWMutex
	jobs    map[string]*entry
	running bool
}

// NewRunner creates a new cron runner
func NewRunner(config Config, logger *zap.Logger, m *metrics.Metrics) *Runner {
	ctx, cancel := context.WithCancel(context.Background())

	if config.JobTimeout <= 0 {
		config.JobTimeout = 5 * time.Minute
	}

	cl := zapCronLogger{logger: logger.Sugar()}
	return &Runner{
		config: config,
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger:  logger,
		metrics: m,
		ctx:     ctx,
		cancel:  cancel,
		jobs:    make(map[string]*entry),
	}
}

// AddJob registers job. Names must be unique.
func (r *Runner) AddJob(job Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[job.Name]; exists {
		return fmt.Errorf("job %q already registered", job.Name)
	}

	e := &entry{job: job}
	id, err := r.cron.AddFunc(job.Spec, func() {
		if err := r.execute(r.ctx, e); err != nil && !errors.Is(err, ErrBusy) {
			r.logger.Warn("Scheduled job failed", zap.String("job", job.Name), zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q for job %s: %w", job.Spec, job.Name, err)
	}
	e.id = id
	r.jobs[job.Name] = e

	r.logger.Info("Job registered", zap.String("job", job.Name), zap.String("spec", job.Spec))
	return nil
}

// Start starts the cron runner
func (r *Runner) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("cron runner already running")
	}
	r.running = true
	r.cron.Start()
	r.logger.Info("Cron runner started", zap.Int("jobs", len(r.jobs)))
	return nil
}

// Stop stops the cron runner and waits for running jobs
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	r.cancel()
	<-r.cron.Stop().Done()
	r.logger.Info("Cron runner stopped")
}

// IsRunning returns whether the runner is active
func (r *Runner) IsRunning() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}

// ErrBusy is returned by RunNow while the job is still running
var ErrBusy = errors.New("job is already running")

// ErrUnknownJob is returned by RunNow for unregistered names
var ErrUnknownJob = errors.New("unknown job")

// RunNow executes the named job immediately and returns its result
func (r *Runner) RunNow(ctx context.Context, name string) error {
	r.mu.RLock()
	e, ok := r.jobs[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownJob, name)
	}
	return r.execute(ctx, e)
}

func (r *Runner) execute(ctx context.Context, e *entry) error {
	if !e.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer e.busy.Store(false)

	ctx, cancel := context.WithTimeout(ctx, r.config.JobTimeout)
	defer cancel()

	start := time.Now()
	r.logger.Debug("Executing job", zap.String("job", e.job.Name))

	err := e.job.Run(ctx)

	d := time.Since(start)
	e.runs.Add(1)
	e.mu.Lock()
	e.lastRun = start
	e.lastErr = err
	e.mu.Unlock()

	if r.metrics != nil {
		r.metrics.RecordJob(e.job.Name, d, err)
	}
	if err == nil {
		r.logger.Info("Job completed", zap.String("job", e.job.Name), zap.Duration("duration", d))
	}
	return err
}

// Jobs returns the status of every registered job ordered by name
func (r *Runner) Jobs() []JobStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]JobStatus, 0, len(r.jobs))
	for _, e := range r.jobs {
		st := JobStatus{
			Name: e.job.Name,
			Spec: e.job.Spec,
			Next: r.cron.Entry(e.id).Next,
			Runs: e.runs.Load(),
		}
		e.mu.Lock()
		st.LastRun = e.lastRun
		if e.lastErr != nil {
			st.LastError = e.lastErr.Error()
		}
		e.mu.Unlock()
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// zapCronLogger adapts zap to cron.Logger
type zapCronLogger struct {
	logger *zap.SugaredLogger
}

func (l zapCronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw("cron: "+msg, keysAndValues...)
}

func (l zapCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
