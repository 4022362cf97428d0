package errors

import (
	stderrors "errors"
	"fmt"
)

type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches on Code so wrapped sentinels compare equal with errors.Is.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func New(code, message string, cause ...error) *AppError {
	var c error
	if len(cause) > 0 {
		c = cause[0]
	}
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   c,
	}
}

var (
	ErrConfigNotFound = &AppError{Code: "CONFIG_001", Message: "configuration not found"}
	ErrConfigInvalid  = &AppError{Code: "CONFIG_002", Message: "invalid configuration"}

	ErrInvalidPolicy        = &AppError{Code: "REMINDER_001", Message: "invalid reminder policy"}
	ErrExactAlarmDenied     = &AppError{Code: "REMINDER_002", Message: "exact alarm permission not granted"}
	ErrReminderNotFound     = &AppError{Code: "REMINDER_003", Message: "reminder not found"}
	ErrResponseNotFound     = &AppError{Code: "REMINDER_004", Message: "prophylaxis response not found"}
	ErrResponseAlreadyGiven = &AppError{Code: "REMINDER_005", Message: "prophylaxis response already answered"}

	ErrSyncFailed      = &AppError{Code: "SYNC_001", Message: "sync failed"}
	ErrSyncUnavailable = &AppError{Code: "SYNC_002", Message: "remote datastore unavailable"}

	ErrDeviceNotFound    = &AppError{Code: "DEVICE_001", Message: "device not found"}
	ErrDeviceUnavailable = &AppError{Code: "DEVICE_002", Message: "device gateway unavailable"}

	ErrChannelNotConfigured = &AppError{Code: "CHAN_001", Message: "channel not configured"}
	ErrChannelUnavailable   = &AppError{Code: "CHAN_002", Message: "channel unavailable"}

	ErrUnauthorized  = &AppError{Code: "AUTH_001", Message: "unauthorized"}
	ErrForbidden     = &AppError{Code: "AUTH_002", Message: "forbidden"}
	ErrNoSession     = &AppError{Code: "AUTH_003", Message: "no remote session"}
	ErrLoginRejected = &AppError{Code: "AUTH_004", Message: "login rejected"}

	ErrNotFound   = &AppError{Code: "GEN_001", Message: "resource not found"}
	ErrBadRequest = &AppError{Code: "GEN_002", Message: "bad request"}
	ErrInternal   = &AppError{Code: "GEN_003", Message: "internal error"}
)

func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

func GetCode(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return "UNKNOWN"
}

func Wrap(err error, code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// WithCause returns a copy of the sentinel carrying cause.
func (e *AppError) WithCause(cause error) *AppError {
	return &AppError{Code: e.Code, Message: e.Message, Cause: cause}
}

// WithMessage returns a copy of the sentinel with a more specific message.
func (e *AppError) WithMessage(format string, args ...interface{}) *AppError {
	return &AppError{Code: e.Code, Message: fmt.Sprintf(format, args...), Cause: e.Cause}
}
