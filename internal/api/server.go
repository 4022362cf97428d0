// Package api serves the local JSON API used by clients in place of the app screens
package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gmsas95/hemotrack/internal/cloudsync"
	"github.com/gmsas95/hemotrack/internal/config"
	"github.com/gmsas95/hemotrack/internal/cron"
	"github.com/gmsas95/hemotrack/internal/device"
	"github.com/gmsas95/hemotrack/internal/export"
	"github.com/gmsas95/hemotrack/internal/healthdata"
	"github.com/gmsas95/hemotrack/internal/metrics"
	"github.com/gmsas95/hemotrack/internal/notify"
	"github.com/gmsas95/hemotrack/internal/prophylaxis"
	"github.com/gmsas95/hemotrack/internal/remote"
	"github.com/gmsas95/hemotrack/internal/store"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Version is reported by the health endpoint
var Version = "0.1.0"

// Deps are the collaborators the server exposes. Sync, Jobs and Devices are
// nil when the corresponding feature is disabled.
type Deps struct {
	Config    *config.Config
	Store     *store.Store
	Scheduler *prophylaxis.Scheduler
	Hub       *notify.Hub
	Metrics   *metrics.Metrics
	Sync      *cloudsync.Worker
	Jobs      *cron.Runner
	Remote    *remote.Client
	Exporter  *export.Exporter
	Devices   *device.Gateway
	Health    *healthdata.Ingester
	Logger    *zap.Logger
}

// Server handles the HTTP API and WebSocket stream
type Server struct {
	app       *fiber.App
	config    *config.Config
	store     *store.Store
	scheduler *prophylaxis.Scheduler
	hub       *notify.Hub
	metrics   *metrics.Metrics
	sync      *cloudsync.Worker
	jobs      *cron.Runner
	remote    *remote.Client
	exporter  *export.Exporter
	devices   *device.Gateway
	health    *healthdata.Ingester
	logger    *zap.Logger
	started   time.Time
}

// New creates a new API server
func New(d Deps) *Server {
	readTimeout := time.Duration(d.Config.Server.ReadTimeout) * time.Second
	if readTimeout <= 0 {
		readTimeout = 30 * time.Second
	}
	writeTimeout := time.Duration(d.Config.Server.WriteTimeout) * time.Second
	if writeTimeout <= 0 {
		writeTimeout = 30 * time.Second
	}

	s := &Server{
		config:    d.Config,
		store:     d.Store,
		scheduler: d.Scheduler,
		hub:       d.Hub,
		metrics:   d.Metrics,
		sync:      d.Sync,
		jobs:      d.Jobs,
		remote:    d.Remote,
		exporter:  d.Exporter,
		devices:   d.Devices,
		health:    d.Health,
		logger:    d.Logger,
		started:   time.Now(),
	}
	if s.metrics == nil {
		s.metrics = metrics.Default()
	}

	s.app = fiber.New(fiber.Config{
		ReadTimeout:           readTimeout,
		WriteTimeout:          writeTimeout,
		IdleTimeout:           120 * time.Second,
		DisableStartupMessage: true,
		ErrorHandler:          s.errorHandler,
	})

	s.setupRoutes()
	return s
}

// App exposes the fiber app, mainly for tests
func (s *Server) App() *fiber.App {
	return s.app
}

// Start listens on the configured address until Shutdown
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Address, s.config.Server.Port)
	s.logger.Info("API listening", zap.String("addr", addr))
	return s.app.Listen(addr)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.app.ShutdownWithContext(ctx)
}

// errorHandler renders errors that escaped a handler, including fiber's own
func (s *Server) errorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(fiber.Map{"error": fe.Message})
	}
	return s.fail(c, err)
}
