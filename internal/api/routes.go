package api

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
)

func (s *Server) setupRoutes() {
	s.app.Use(recover.New())
	s.app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	origins := strings.Join(s.config.Security.AllowOrigins, ",")
	if origins == "" {
		origins = "*"
	}
	s.app.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))
	s.app.Use(s.metricsMiddleware())

	s.app.Get("/api/health", s.handleHealth)
	s.app.Get("/metrics", adaptor.HTTPHandler(s.metrics.Handler()))

	api := s.app.Group("/api")

	api.Post("/auth/login", limiter.New(limiter.Config{
		Max:        5,
		Expiration: time.Minute,
	}), s.handleLogin)

	protected := api.Use(s.authMiddleware())

	protected.Get("/bleeds", listRows(s, s.store.Bleeds))
	protected.Post("/bleeds", s.handleCreateBleed)
	protected.Get("/bleeds/:id", getRow(s, s.store.Bleeds))
	protected.Put("/bleeds/:id", s.handleUpdateBleed)
	protected.Delete("/bleeds/:id", deleteRow(s, s.store.Bleeds))

	protected.Get("/infusions", listRows(s, s.store.Infusions))
	protected.Post("/infusions", s.handleCreateInfusion)
	protected.Get("/infusions/:id", getRow(s, s.store.Infusions))
	protected.Put("/infusions/:id", s.handleUpdateInfusion)
	protected.Delete("/infusions/:id", deleteRow(s, s.store.Infusions))

	protected.Get("/steps", listRows(s, s.store.Steps))
	protected.Post("/steps", s.handleIngestSteps)
	protected.Get("/steps/daily", s.handleDailySteps)

	protected.Get("/weather", listRows(s, s.store.Weather))
	protected.Get("/vitals/heart-rate", listRows(s, s.store.HeartRates))
	protected.Get("/vitals/blood-oxygen", listRows(s, s.store.BloodOxygen))
	protected.Get("/vitals/skin-temperature", listRows(s, s.store.SkinTemps))

	protected.Get("/reminders", s.handleListReminders)
	protected.Delete("/reminders", s.handleCancelReminders)
	protected.Get("/reminders/pending", s.handlePendingAlarms)
	protected.Put("/reminders/:mode", s.handlePutReminder)
	protected.Get("/reminders/:mode/preview", s.handlePreviewReminder)

	protected.Get("/responses", s.handleListResponses)
	protected.Get("/responses/:id", getRow(s, s.store.Responses))
	protected.Post("/responses/:id/answer", s.handleAnswer)

	protected.Get("/permissions", s.handleGetPermissions)
	protected.Put("/permissions", s.handleSetPermissions)

	protected.Get("/devices", s.handleListDevices)
	protected.Post("/devices/scan", s.handleScanDevices)
	protected.Post("/devices/:serial/connect", s.handleConnectDevice)
	protected.Post("/devices/:serial/config", s.handleConfigureDevice)
	protected.Post("/devices/:serial/flush", s.handleFlushDevice)
	protected.Delete("/devices/:serial", s.handleDeleteDevice)

	protected.Get("/sync", s.handleSyncStatus)
	protected.Post("/sync", s.handleRunSync)
	protected.Get("/jobs", s.handleListJobs)
	protected.Post("/jobs/:name/run", s.handleRunJob)

	protected.Get("/export/csv/:table", s.handleExportCSV)
	protected.Get("/export/xlsx", s.handleExportXLSX)

	protected.Post("/remote/login", s.handleRemoteLogin)
	protected.Get("/remote/session", s.handleRemoteSession)
	protected.Delete("/remote/session", s.handleRemoteLogout)
	protected.Post("/remote/logs", s.handleUploadLogs)

	s.app.Get("/ws", s.authMiddleware(), wsUpgrade, websocket.New(s.handleWebSocket))
}
