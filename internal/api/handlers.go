package api

import (
	"time"

	apperrors "github.com/gmsas95/hemotrack/internal/errors"
	"github.com/gmsas95/hemotrack/internal/healthdata"
	"github.com/gmsas95/hemotrack/internal/store"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "healthy",
		"version":   Version,
		"uptime":    time.Since(s.started).Round(time.Second).String(),
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) handleLogin(c *fiber.Ctx) error {
	var req struct {
		Password string `json:"password"`
	}
	if err := c.BodyParser(&req); err != nil {
		return s.fail(c, badRequest("invalid request"))
	}

	if s.config.Security.PasswordHash == "" {
		return s.fail(c, apperrors.ErrForbidden.WithMessage("no local password set, run onboarding first"))
	}
	if err := bcrypt.CompareHashAndPassword([]byte(s.config.Security.PasswordHash), []byte(req.Password)); err != nil {
		s.logger.Warn("Rejected local login")
		return s.fail(c, apperrors.ErrUnauthorized.WithMessage("wrong password"))
	}

	token, exp, err := s.issueToken(time.Now())
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(fiber.Map{"token": token, "expires_at": exp})
}

// listOptions reads since, until, limit and offset from the query string
func listOptions(c *fiber.Ctx) (store.ListOptions, error) {
	opts := store.ListOptions{
		Limit:  c.QueryInt("limit", 0),
		Offset: c.QueryInt("offset", 0),
	}
	if opts.Limit < 0 || opts.Offset < 0 {
		return opts, badRequest("limit and offset must not be negative")
	}
	for _, q := range []struct {
		name string
		dst  **time.Time
	}{{"since", &opts.Since}, {"until", &opts.Until}} {
		v := c.Query(q.name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return opts, badRequest("%s must be RFC3339, got %q", q.name, v)
		}
		*q.dst = &t
	}
	return opts, nil
}

func listRows[T store.Entity](s *Server, repo *store.Repo[T]) fiber.Handler {
	return func(c *fiber.Ctx) error {
		opts, err := listOptions(c)
		if err != nil {
			return s.fail(c, err)
		}
		rows, err := repo.List(c.UserContext(), opts)
		if err != nil {
			return s.fail(c, err)
		}
		if rows == nil {
			rows = []T{}
		}
		return c.JSON(rows)
	}
}

func getRow[T store.Entity](s *Server, repo *store.Repo[T]) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := paramID(c)
		if err != nil {
			return s.fail(c, err)
		}
		row, err := repo.Get(c.UserContext(), id)
		if err != nil {
			return s.fail(c, err)
		}
		if row == nil {
			return s.fail(c, apperrors.ErrNotFound.WithMessage("%s %d not found", repo.Table(), id))
		}
		return c.JSON(row)
	}
}

func deleteRow[T store.Entity](s *Server, repo *store.Repo[T]) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := paramID(c)
		if err != nil {
			return s.fail(c, err)
		}
		if err := repo.Delete(c.UserContext(), id); err != nil {
			return s.fail(c, err)
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// ==================== Bleeds ====================

func (s *Server) handleCreateBleed(c *fiber.Ctx) error {
	var req BleedRequest
	if err := c.BodyParser(&req); err != nil {
		return s.fail(c, badRequest("invalid request"))
	}
	if err := req.validate(); err != nil {
		return s.fail(c, err)
	}

	var e store.BleedingEvent
	req.apply(&e)
	if err := s.store.Bleeds.Create(c.UserContext(), &e); err != nil {
		return s.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(e)
}

func (s *Server) handleUpdateBleed(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return s.fail(c, err)
	}
	var req BleedRequest
	if err := c.BodyParser(&req); err != nil {
		return s.fail(c, badRequest("invalid request"))
	}
	if err := req.validate(); err != nil {
		return s.fail(c, err)
	}

	e, err := s.store.Bleeds.Get(c.UserContext(), id)
	if err != nil {
		return s.fail(c, err)
	}
	if e == nil {
		return s.fail(c, apperrors.ErrNotFound.WithMessage("bleed %d not found", id))
	}
	req.apply(e)
	if err := s.store.Bleeds.Update(c.UserContext(), e); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(e)
}

// ==================== Infusions ====================

func (s *Server) checkBleedLink(c *fiber.Ctx, id *uint) error {
	if id == nil {
		return nil
	}
	b, err := s.store.Bleeds.Get(c.UserContext(), *id)
	if err != nil {
		return err
	}
	if b == nil {
		return badRequest("bleeding event %d does not exist", *id)
	}
	return nil
}

func (s *Server) handleCreateInfusion(c *fiber.Ctx) error {
	var req InfusionRequest
	if err := c.BodyParser(&req); err != nil {
		return s.fail(c, badRequest("invalid request"))
	}
	if err := req.validate(); err != nil {
		return s.fail(c, err)
	}
	if err := s.checkBleedLink(c, req.BleedingEventID); err != nil {
		return s.fail(c, err)
	}

	var e store.InfusionEvent
	req.apply(&e)
	if err := s.store.Infusions.Create(c.UserContext(), &e); err != nil {
		return s.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(e)
}

func (s *Server) handleUpdateInfusion(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return s.fail(c, err)
	}
	var req InfusionRequest
	if err := c.BodyParser(&req); err != nil {
		return s.fail(c, badRequest("invalid request"))
	}
	if err := req.validate(); err != nil {
		return s.fail(c, err)
	}
	if err := s.checkBleedLink(c, req.BleedingEventID); err != nil {
		return s.fail(c, err)
	}

	e, err := s.store.Infusions.Get(c.UserContext(), id)
	if err != nil {
		return s.fail(c, err)
	}
	if e == nil {
		return s.fail(c, apperrors.ErrNotFound.WithMessage("infusion %d not found", id))
	}
	req.apply(e)
	if err := s.store.Infusions.Update(c.UserContext(), e); err != nil {
		return s.fail(c, err)
	}
	return c.JSON(e)
}

// ==================== Steps ====================

func (s *Server) handleIngestSteps(c *fiber.Ctx) error {
	var req struct {
		Samples []healthdata.StepSample `json:"samples"`
	}
	if err := c.BodyParser(&req); err != nil {
		return s.fail(c, badRequest("invalid request"))
	}
	perms, err := s.store.Permissions()
	if err != nil {
		return s.fail(c, err)
	}
	if !perms.HealthData {
		return s.fail(c, apperrors.ErrForbidden.WithMessage("health data permission not granted"))
	}

	res, err := s.health.IngestSteps(c.UserContext(), req.Samples)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(res)
}

func (s *Server) handleDailySteps(c *fiber.Ctx) error {
	loc := s.scheduler.Location()
	now := time.Now().In(loc)
	to := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, 1)
	from := to.AddDate(0, 0, -7)

	if v := c.Query("from"); v != "" {
		t, err := time.ParseInLocation("2006-01-02", v, loc)
		if err != nil {
			return s.fail(c, badRequest("from must be YYYY-MM-DD, got %q", v))
		}
		from = t
	}
	if v := c.Query("to"); v != "" {
		t, err := time.ParseInLocation("2006-01-02", v, loc)
		if err != nil {
			return s.fail(c, badRequest("to must be YYYY-MM-DD, got %q", v))
		}
		to = t.AddDate(0, 0, 1)
	}
	if !to.After(from) {
		return s.fail(c, badRequest("to must not precede from"))
	}

	totals, err := s.health.DailyTotals(c.UserContext(), from, to, loc)
	if err != nil {
		return s.fail(c, err)
	}
	if totals == nil {
		totals = []healthdata.DailyTotal{}
	}
	return c.JSON(totals)
}

// ==================== Permissions ====================

func (s *Server) handleGetPermissions(c *fiber.Ctx) error {
	p, err := s.store.Permissions()
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(p)
}

func (s *Server) handleSetPermissions(c *fiber.Ctx) error {
	var p store.Permissions
	if err := c.BodyParser(&p); err != nil {
		return s.fail(c, badRequest("invalid request"))
	}
	prev, err := s.store.Permissions()
	if err != nil {
		return s.fail(c, err)
	}
	if err := s.store.SetPermissions(p); err != nil {
		return s.fail(c, err)
	}

	// alarms registered while the permission was denied were dropped
	if p.ExactAlarms && !prev.ExactAlarms {
		if err := s.scheduler.ScheduleAll(c.UserContext()); err != nil {
			s.logger.Warn("Failed to reschedule reminders after permission grant", zap.Error(err))
		}
	}
	return c.JSON(p)
}
