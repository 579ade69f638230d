// Package apperr defines the error codes returned to API clients and the
// Error type that carries them.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeUnauthorized     Code = "UNAUTHORIZED"
	CodeInvalidRequest   Code = "INVALID_REQUEST"
	CodeSessionNotFound  Code = "SESSION_NOT_FOUND"
	CodeSessionExpired   Code = "SESSION_EXPIRED"
	CodeAINoQuestion     Code = "AI_NO_QUESTION"
	CodeDatabaseNotSetup Code = "DATABASE_NOT_SETUP"
	CodeAIForbidden      Code = "AI_FORBIDDEN"
	CodeAIUnauthorized   Code = "AI_UNAUTHORIZED"
	CodeRateLimited      Code = "RATE_LIMITED"
	CodeNotFound         Code = "NOT_FOUND"
	CodeInternal         Code = "INTERNAL_ERROR"
)

// Error is an error with a client-facing code, message and HTTP status.
type Error struct {
	Err        error             `json:"-"`
	Code       Code              `json:"code"`
	Message    string            `json:"message"`
	HTTPStatus int               `json:"-"`
	Details    map[string]string `json:"details,omitempty"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// WithDetail returns e with key=value added to its details.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

func New(code Code, status int, message string) *Error {
	return &Error{Code: code, Message: message, HTTPStatus: status}
}

func Unauthorized(message string) *Error {
	return New(CodeUnauthorized, http.StatusUnauthorized, message)
}

func InvalidRequest(format string, args ...any) *Error {
	return New(CodeInvalidRequest, http.StatusBadRequest, fmt.Sprintf(format, args...))
}

func SessionNotFound(id string) *Error {
	return New(CodeSessionNotFound, http.StatusNotFound, "assessment session not found").WithDetail("session_id", id)
}

func SessionExpired(id string) *Error {
	return New(CodeSessionExpired, http.StatusGone, "assessment session has expired, please start a new one").WithDetail("session_id", id)
}

func NotFound(resource string) *Error {
	return New(CodeNotFound, http.StatusNotFound, resource+" not found")
}

func RateLimited() *Error {
	return New(CodeRateLimited, http.StatusTooManyRequests, "too many requests")
}

// DatabaseNotSetup reports missing backing tables. The wrapped error is kept
// in details so operators can see which relation is absent.
func DatabaseNotSetup(err error) *Error {
	e := New(CodeDatabaseNotSetup, http.StatusInternalServerError, "database tables are not set up, run migrations")
	e.Err = err
	if err != nil {
		e.WithDetail("cause", err.Error())
	}
	return e
}

func AINoQuestion() *Error {
	return New(CodeAINoQuestion, http.StatusInternalServerError, "reasoning backend produced neither a question nor a report")
}

func AIForbidden(err error) *Error {
	e := New(CodeAIForbidden, http.StatusBadGateway, "reasoning backend refused the request (403), check model access")
	e.Err = err
	return e
}

func AIUnauthorized(err error) *Error {
	e := New(CodeAIUnauthorized, http.StatusBadGateway, "reasoning backend rejected the API key (401)")
	e.Err = err
	return e
}

func Internal(err error) *Error {
	return &Error{Err: err, Code: CodeInternal, Message: "internal server error", HTTPStatus: http.StatusInternalServerError}
}

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
