package apperrors

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
)

// Kinds of failure surfaced by the service. Each maps to one HTTP status.
var (
	ErrValidation          = errors.New("validation failed")
	ErrNotFound            = errors.New("resource not found")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrForbidden           = errors.New("permission denied")
	ErrGatewayVerification = errors.New("payment verification failed")
	ErrConflict            = errors.New("conflict")
	ErrDatabase            = errors.New("database error")
)

// FieldError describes one invalid request field.
type FieldError struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

// AppError carries a kind, a human readable message and an optional cause.
type AppError struct {
	Kind    error
	Message string
	Fields  []FieldError
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	if e.Message != "" {
		return e.Message
	}
	return e.Kind.Error()
}

// Is lets errors.Is match on the kind sentinel.
func (e *AppError) Is(target error) bool {
	return e.Kind == target
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func newError(kind error, cause error, format string, args ...interface{}) *AppError {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	return &AppError{Kind: kind, Message: msg, Err: cause}
}

func Validation(format string, args ...interface{}) *AppError {
	return newError(ErrValidation, nil, format, args...)
}

// ValidationFields builds a validation error with per-field details.
func ValidationFields(msg string, fields []FieldError) *AppError {
	return &AppError{Kind: ErrValidation, Message: msg, Fields: fields}
}

func NotFound(format string, args ...interface{}) *AppError {
	return newError(ErrNotFound, nil, format, args...)
}

func Unauthorized(format string, args ...interface{}) *AppError {
	return newError(ErrUnauthorized, nil, format, args...)
}

func Forbidden(format string, args ...interface{}) *AppError {
	return newError(ErrForbidden, nil, format, args...)
}

func Conflict(format string, args ...interface{}) *AppError {
	return newError(ErrConflict, nil, format, args...)
}

func GatewayVerification(cause error, format string, args ...interface{}) *AppError {
	return newError(ErrGatewayVerification, cause, format, args...)
}

// Database wraps a storage failure. These are terminal for the request.
func Database(cause error, format string, args ...interface{}) *AppError {
	return newError(ErrDatabase, cause, format, args...)
}

// HTTPStatus maps any error to the status code the API answers with.
func HTTPStatus(err error) int {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, ErrGatewayVerification):
		return fiber.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, ErrUnauthorized):
		return fiber.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return fiber.StatusForbidden
	case errors.Is(err, ErrConflict):
		return fiber.StatusConflict
	default:
		return fiber.StatusInternalServerError
	}
}

// PublicMessage hides causes of internal failures from API clients.
func PublicMessage(err error) string {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Message
	}
	var ae *AppError
	if errors.As(err, &ae) {
		if errors.Is(ae, ErrDatabase) {
			return "Internal server error"
		}
		return ae.Error()
	}
	return "Internal Server Error"
}
