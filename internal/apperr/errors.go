// Package apperr defines the error taxonomy shared by adapters, services and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindReauthRequired
	KindForbidden
	KindNotFound
	KindConflict
	KindQuotaExceeded
	KindUpstreamUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation_error"
	case KindReauthRequired:
		return "reauth_required"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindQuotaExceeded:
		return "quota_exceeded"
	case KindUpstreamUnavailable:
		return "upstream_unavailable"
	default:
		return "internal_error"
	}
}

// HTTPStatus maps a kind to the status code returned to API clients.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindReauthRequired:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindQuotaExceeded:
		return http.StatusTooManyRequests
	case KindUpstreamUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

const (
	CodeInvalidGrant = "invalid_grant"
	ActionReconnect  = "reconnect"
)

type Error struct {
	Kind     Kind
	Code     string
	Message  string
	Action   string
	Platform string
	Err      error
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

// WithPlatform returns a copy of e tagged with the platform it came from.
func (e *Error) WithPlatform(platform string) *Error {
	cp := *e
	cp.Platform = platform
	return &cp
}

func newError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Code: kind.String(), Message: msg, Err: err}
}

func Validation(msg string) *Error {
	return newError(KindValidation, msg, nil)
}

func Validationf(format string, args ...any) *Error {
	return newError(KindValidation, fmt.Sprintf(format, args...), nil)
}

func NotFound(msg string) *Error {
	return newError(KindNotFound, msg, nil)
}

func Conflict(msg string) *Error {
	return newError(KindConflict, msg, nil)
}

func Forbidden(msg string, err error) *Error {
	return newError(KindForbidden, msg, err)
}

func QuotaExceeded(msg string, err error) *Error {
	return newError(KindQuotaExceeded, msg, err)
}

func UpstreamUnavailable(msg string, err error) *Error {
	return newError(KindUpstreamUnavailable, msg, err)
}

func Internal(msg string, err error) *Error {
	return newError(KindInternal, msg, err)
}

// ReauthRequired signals that the stored credentials are no longer usable and the
// user has to go through the OAuth flow again.
func ReauthRequired(msg string, err error) *Error {
	e := newError(KindReauthRequired, msg, err)
	e.Action = ActionReconnect
	return e
}

// InvalidGrant is returned when the platform rejects an authorization code or refresh token.
func InvalidGrant(msg string, err error) *Error {
	e := ReauthRequired(msg, err)
	e.Code = CodeInvalidGrant
	return e
}

// KindOf reports the kind of the first *Error in err's chain, KindInternal otherwise.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

func Is(err error, kind Kind) bool {
	var appErr *Error
	return errors.As(err, &appErr) && appErr.Kind == kind
}

// Retryable reports whether a failed publish attempt may be tried again later.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindQuotaExceeded, KindUpstreamUnavailable:
		return true
	}
	return false
}

func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
