package api

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gmsas95/hemotrack/internal/cron"
	apperrors "github.com/gmsas95/hemotrack/internal/errors"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const tokenSubject = "patient"

func (s *Server) authMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString := strings.TrimPrefix(c.Get("Authorization"), "Bearer ")
		if tokenString == "" {
			// browsers cannot set headers on a WebSocket handshake
			tokenString = c.Query("token")
		}
		if tokenString == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing authorization header"})
		}

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			return []byte(s.config.Security.JWTSecret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithSubject(tokenSubject))

		if err != nil || !token.Valid {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid token"})
		}

		return c.Next()
	}
}

func (s *Server) issueToken(now time.Time) (string, time.Time, error) {
	ttl := time.Duration(s.config.Security.TokenTTLHours) * time.Hour
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	exp := now.Add(ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   tokenSubject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	signed, err := token.SignedString([]byte(s.config.Security.JWTSecret))
	return signed, exp, err
}

// metricsMiddleware records request counts and latency by route pattern
func (s *Server) metricsMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			var fe *fiber.Error
			if errors.As(err, &fe) {
				status = fe.Code
			} else {
				status = statusFor(err)
			}
		}
		s.metrics.RecordHTTP(c.Method(), c.Route().Path, status, time.Since(start))
		return err
	}
}

// statusFor maps domain errors onto HTTP statuses
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperrors.ErrNotFound),
		errors.Is(err, apperrors.ErrReminderNotFound),
		errors.Is(err, apperrors.ErrResponseNotFound),
		errors.Is(err, apperrors.ErrDeviceNotFound),
		errors.Is(err, cron.ErrUnknownJob):
		return fiber.StatusNotFound
	case errors.Is(err, apperrors.ErrBadRequest),
		errors.Is(err, apperrors.ErrInvalidPolicy),
		errors.Is(err, apperrors.ErrConfigInvalid):
		return fiber.StatusBadRequest
	case errors.Is(err, apperrors.ErrExactAlarmDenied),
		errors.Is(err, apperrors.ErrResponseAlreadyGiven),
		errors.Is(err, cron.ErrBusy):
		return fiber.StatusConflict
	case errors.Is(err, apperrors.ErrUnauthorized):
		return fiber.StatusUnauthorized
	case errors.Is(err, apperrors.ErrForbidden),
		errors.Is(err, apperrors.ErrLoginRejected):
		return fiber.StatusForbidden
	case errors.Is(err, apperrors.ErrNoSession):
		return fiber.StatusPreconditionFailed
	case errors.Is(err, apperrors.ErrSyncFailed):
		return fiber.StatusBadGateway
	case errors.Is(err, apperrors.ErrSyncUnavailable),
		errors.Is(err, apperrors.ErrDeviceUnavailable),
		errors.Is(err, apperrors.ErrChannelUnavailable),
		errors.Is(err, apperrors.ErrChannelNotConfigured):
		return fiber.StatusServiceUnavailable
	}
	return fiber.StatusInternalServerError
}

// fail writes err as a JSON error response
func (s *Server) fail(c *fiber.Ctx, err error) error {
	status := statusFor(err)
	if status == fiber.StatusInternalServerError {
		s.logger.Error("Request failed",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Error(err),
		)
		return c.Status(status).JSON(fiber.Map{"error": "internal error"})
	}
	return c.Status(status).JSON(fiber.Map{
		"error": err.Error(),
		"code":  apperrors.GetCode(err),
	})
}

func badRequest(format string, args ...interface{}) error {
	return apperrors.ErrBadRequest.WithMessage(format, args...)
}

func paramID(c *fiber.Ctx) (uint, error) {
	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, badRequest("invalid id %q", c.Params("id"))
	}
	return uint(id), nil
}
