package api

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/gmsas95/hemotrack/internal/errors"
	"github.com/gmsas95/hemotrack/internal/store"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// ==================== Devices ====================

func (s *Server) requireDevices() error {
	if s.devices == nil {
		return apperrors.ErrDeviceUnavailable.WithMessage("device gateway is disabled")
	}
	return nil
}

func (s *Server) requireBluetooth() error {
	perms, err := s.store.Permissions()
	if err != nil {
		return err
	}
	if !perms.Bluetooth {
		return apperrors.ErrForbidden.WithMessage("bluetooth permission not granted")
	}
	return nil
}

func (s *Server) handleListDevices(c *fiber.Ctx) error {
	ds, err := s.store.ListDevices(c.UserContext())
	if err != nil {
		return s.fail(c, err)
	}
	if ds == nil {
		ds = []store.Device{}
	}
	return c.JSON(ds)
}

func (s *Server) handleScanDevices(c *fiber.Ctx) error {
	if err := s.requireDevices(); err != nil {
		return s.fail(c, err)
	}
	if err := s.requireBluetooth(); err != nil {
		return s.fail(c, err)
	}
	d := time.Duration(c.QueryInt("duration", 10)) * time.Second
	if err := s.devices.Scan(c.UserContext(), d); err != nil {
		return s.fail(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"scanning": true, "duration_sec": int(d.Seconds())})
}

func (s *Server) handleConnectDevice(c *fiber.Ctx) error {
	if err := s.requireDevices(); err != nil {
		return s.fail(c, err)
	}
	if err := s.requireBluetooth(); err != nil {
		return s.fail(c, err)
	}
	d, err := s.devices.Connect(c.UserContext(), c.Params("serial"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(d)
}

func (s *Server) handleConfigureDevice(c *fiber.Ctx) error {
	if err := s.requireDevices(); err != nil {
		return s.fail(c, err)
	}
	var req ConfigureDeviceRequest
	if err := c.BodyParser(&req); err != nil {
		return s.fail(c, badRequest("invalid request"))
	}
	d, err := s.devices.Configure(c.UserContext(), c.Params("serial"), time.Duration(req.IntervalSec)*time.Second)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(d)
}

func (s *Server) handleFlushDevice(c *fiber.Ctx) error {
	if err := s.requireDevices(); err != nil {
		return s.fail(c, err)
	}
	if err := s.devices.Flush(c.UserContext(), c.Params("serial")); err != nil {
		return s.fail(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"flushing": true})
}

func (s *Server) handleDeleteDevice(c *fiber.Ctx) error {
	if err := s.requireDevices(); err != nil {
		return s.fail(c, err)
	}
	if err := s.devices.Delete(c.UserContext(), c.Params("serial")); err != nil {
		return s.fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ==================== Sync & Jobs ====================

func (s *Server) handleRunSync(c *fiber.Ctx) error {
	if s.sync == nil {
		return s.fail(c, apperrors.ErrSyncUnavailable.WithMessage("sync is disabled"))
	}
	report, err := s.sync.Run(c.UserContext())
	if err != nil {
		if report == nil {
			return s.fail(c, err)
		}
		// the report says which rows failed; still signal failure
		return c.Status(statusFor(err)).JSON(fiber.Map{
			"error":  err.Error(),
			"code":   apperrors.GetCode(err),
			"report": report,
		})
	}
	return c.JSON(report)
}

func (s *Server) handleSyncStatus(c *fiber.Ctx) error {
	if s.sync == nil {
		return c.JSON(fiber.Map{"enabled": false})
	}
	last, err := s.sync.LastReport()
	if err != nil {
		return s.fail(c, err)
	}
	pending, err := s.sync.Pending(c.UserContext())
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(fiber.Map{"enabled": true, "last": last, "pending": pending})
}

func (s *Server) handleListJobs(c *fiber.Ctx) error {
	if s.jobs == nil {
		return c.JSON([]interface{}{})
	}
	return c.JSON(s.jobs.Jobs())
}

func (s *Server) handleRunJob(c *fiber.Ctx) error {
	if s.jobs == nil {
		return s.fail(c, apperrors.ErrNotFound.WithMessage("no background jobs registered"))
	}
	name := c.Params("name")
	start := time.Now()
	if err := s.jobs.RunNow(c.UserContext(), name); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(fiber.Map{"job": name, "duration": time.Since(start).String()})
}

// ==================== Export ====================

func (s *Server) handleExportCSV(c *fiber.Ctx) error {
	table := c.Params("table")
	var buf bytes.Buffer
	n, err := s.exporter.WriteCSV(c.UserContext(), &buf, table)
	if err != nil {
		return s.fail(c, err)
	}
	s.logger.Debug("CSV exported", zap.String("table", table), zap.Int("rows", n))
	c.Set(fiber.HeaderContentType, "text/csv; charset=utf-8")
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s.csv"`, table))
	return c.Send(buf.Bytes())
}

func (s *Server) handleExportXLSX(c *fiber.Ctx) error {
	var tables []string
	if v := c.Query("tables"); v != "" {
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tables = append(tables, t)
			}
		}
	}

	var buf bytes.Buffer
	if _, err := s.exporter.WriteXLSX(c.UserContext(), &buf, tables); err != nil {
		return s.fail(c, err)
	}
	name := fmt.Sprintf("hemotrack-%s.xlsx", time.Now().Format("20060102"))
	c.Set(fiber.HeaderContentType, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s"`, name))
	return c.Send(buf.Bytes())
}

// ==================== Remote session ====================

func (s *Server) handleRemoteLogin(c *fiber.Ctx) error {
	var req RemoteLoginRequest
	if err := c.BodyParser(&req); err != nil || req.Username == "" || req.Password == "" {
		return s.fail(c, badRequest("username and password are required"))
	}
	sess, err := s.remote.Login(c.UserContext(), req.Username, req.Password)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(sess)
}

func (s *Server) handleRemoteSession(c *fiber.Ctx) error {
	sess, err := s.remote.Session()
	if err != nil {
		return s.fail(c, err)
	}
	if sess == nil {
		return s.fail(c, apperrors.ErrNoSession.WithMessage("not logged in to the remote backend"))
	}
	return c.JSON(sess)
}

func (s *Server) handleRemoteLogout(c *fiber.Ctx) error {
	if err := s.remote.Logout(); err != nil {
		return s.fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) handleUploadLogs(c *fiber.Ctx) error {
	n, err := s.remote.UploadLogs(c.UserContext())
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(fiber.Map{"uploaded": n})
}
