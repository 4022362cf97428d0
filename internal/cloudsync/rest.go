package cloudsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gmsas95/hemotrack/internal/config"
	apperrors "github.com/gmsas95/hemotrack/internal/errors"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RESTMirror writes documents to a Firebase Realtime Database style REST API:
// PUT {base}/{root}/{installation}/{table}/{id}.json
type RESTMirror struct {
	client  *resty.Client
	root    string
	token   string
	breaker *gobreaker.CircuitBreaker[*resty.Response]
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewRESTMirror creates a REST mirror. ratePerSecond <= 0 disables throttling.
func NewRESTMirror(cfg config.RESTMirror, ratePerSecond float64, logger *zap.Logger) *RESTMirror {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	limit := rate.Inf
	burst := 1
	if ratePerSecond > 0 {
		limit = rate.Limit(ratePerSecond)
		burst = int(ratePerSecond)
		if burst < 1 {
			burst = 1
		}
	}

	m := &RESTMirror{
		client:  client,
		root:    cfg.Root,
		token:   cfg.AuthToken,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
	}

	m.breaker = gobreaker.NewCircuitBreaker[*resty.Response](gobreaker.Settings{
		Name:        "sync-rest",
		MaxRequests: 1,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Sync circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return m
}

func (m *RESTMirror) Name() string { return "rest" }

func (m *RESTMirror) path(installationID, table string, id uint) string {
	if m.root == "" {
		return fmt.Sprintf("/%s/%s/%d.json", installationID, table, id)
	}
	return fmt.Sprintf("/%s/%s/%s/%d.json", m.root, installationID, table, id)
}

// Put uploads doc, replacing any previous copy of the row
func (m *RESTMirror) Put(ctx context.Context, installationID, table string, id uint, doc interface{}) error {
	if err := m.limiter.Wait(ctx); err != nil {
		return err
	}

	_, err := m.breaker.Execute(func() (*resty.Response, error) {
		req := m.client.R().SetContext(ctx).SetBody(doc)
		if m.token != "" {
			req.SetQueryParam("auth", m.token)
		}
		resp, err := req.Put(m.path(installationID, table, id))
		if err != nil {
			return resp, err
		}
		if resp.IsError() {
			return resp, fmt.Errorf("remote returned %d: %s", resp.StatusCode(), truncate(resp.String(), 200))
		}
		return resp, nil
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return apperrors.ErrSyncUnavailable.WithCause(err)
	}
	return err
}

func (m *RESTMirror) Close() error { return nil }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
