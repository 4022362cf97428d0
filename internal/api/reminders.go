package api

import (
	"context"
	"time"

	apperrors "github.com/gmsas95/hemotrack/internal/errors"
	"github.com/gmsas95/hemotrack/internal/notify"
	"github.com/gmsas95/hemotrack/internal/prophylaxis"
	"github.com/gmsas95/hemotrack/internal/store"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

var reminderModes = []string{store.ModeWeekly, store.ModeInterval}

func (s *Server) nextAlarm(mode string) *time.Time {
	for _, a := range s.scheduler.Pending() {
		if a.Mode == mode {
			at := a.At
			return &at
		}
	}
	return nil
}

func (s *Server) handleListReminders(c *fiber.Ctx) error {
	out := make([]ReminderResponse, 0, len(reminderModes))
	for _, mode := range reminderModes {
		rc, err := s.store.ReminderByMode(c.UserContext(), mode)
		if err != nil {
			return s.fail(c, err)
		}
		if rc == nil {
			continue
		}
		out = append(out, ReminderResponse{Reminder: rc, NextAt: s.nextAlarm(mode)})
	}
	return c.JSON(out)
}

func (s *Server) handlePutReminder(c *fiber.Ctx) error {
	mode := c.Params("mode")
	if _, err := prophylaxis.AlarmID(mode); err != nil {
		return s.fail(c, err)
	}

	var req ReminderRequest
	if err := c.BodyParser(&req); err != nil {
		return s.fail(c, badRequest("invalid request"))
	}
	rc, err := req.config(mode, s.scheduler.Location())
	if err != nil {
		return s.fail(c, err)
	}

	if rc.Enabled {
		perms, err := s.store.Permissions()
		if err != nil {
			return s.fail(c, err)
		}
		if !perms.ExactAlarms {
			return s.fail(c, apperrors.ErrExactAlarmDenied.WithMessage("grant the exact_alarms permission before enabling reminders"))
		}
	}

	alarm, err := s.scheduler.Configure(c.UserContext(), rc)
	if err != nil {
		return s.fail(c, err)
	}

	resp := ReminderResponse{Reminder: rc}
	if alarm != nil {
		resp.NextAt = &alarm.At
	}
	return c.JSON(resp)
}

// handleCancelReminders cancels both alarms and disables the stored configs
// so that a restart does not bring them back
func (s *Server) handleCancelReminders(c *fiber.Ctx) error {
	s.scheduler.CancelAll()

	disabled := 0
	for _, mode := range reminderModes {
		rc, err := s.store.ReminderByMode(c.UserContext(), mode)
		if err != nil {
			return s.fail(c, err)
		}
		if rc == nil || !rc.Enabled {
			continue
		}
		rc.Enabled = false
		if err := s.store.UpsertReminder(c.UserContext(), rc); err != nil {
			return s.fail(c, err)
		}
		disabled++
	}
	return c.JSON(fiber.Map{"cancelled": true, "disabled": disabled})
}

func (s *Server) handlePendingAlarms(c *fiber.Ctx) error {
	return c.JSON(s.scheduler.Pending())
}

func (s *Server) handlePreviewReminder(c *fiber.Ctx) error {
	mode := c.Params("mode")
	if _, err := prophylaxis.AlarmID(mode); err != nil {
		return s.fail(c, err)
	}
	n := c.QueryInt("n", 5)
	if n < 1 || n > 52 {
		return s.fail(c, badRequest("n must be 1-52, got %d", n))
	}

	rc, err := s.store.ReminderByMode(c.UserContext(), mode)
	if err != nil {
		return s.fail(c, err)
	}
	if rc == nil {
		return s.fail(c, apperrors.ErrReminderNotFound.WithMessage("no %s reminder configured", mode))
	}
	times, err := s.scheduler.Preview(rc, n)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(fiber.Map{"mode": mode, "next": times})
}

// ==================== Responses ====================

func (s *Server) handleListResponses(c *fiber.Ctx) error {
	if c.QueryBool("open", false) {
		rs, err := s.store.OpenResponses(c.UserContext(), c.QueryInt("limit", 50))
		if err != nil {
			return s.fail(c, err)
		}
		if rs == nil {
			rs = []store.ProphylaxisResponse{}
		}
		return c.JSON(rs)
	}
	return listRows(s, s.store.Responses)(c)
}

func (s *Server) handleAnswer(c *fiber.Ctx) error {
	id, err := paramID(c)
	if err != nil {
		return s.fail(c, err)
	}
	var req AnswerRequest
	if err := c.BodyParser(&req); err != nil || req.Taken == nil {
		return s.fail(c, badRequest("body must be {\"taken\": true|false}"))
	}

	resp, err := s.scheduler.Answer(c.UserContext(), id, *req.Taken)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(resp)
}

// answerAction resolves a Yes/No button payload coming from any surface
func (s *Server) answerAction(ctx context.Context, data string) (*store.ProphylaxisResponse, error) {
	action, err := notify.ParseActionData(data)
	if err != nil {
		return nil, apperrors.ErrBadRequest.WithCause(err)
	}
	resp, err := s.scheduler.Answer(ctx, action.ResponseID, action.Taken)
	if err != nil {
		s.logger.Debug("Action not applied", zap.String("data", data), zap.Error(err))
		return nil, err
	}
	return resp, nil
}
