package service

import "errors"

// Sentinel errors for the service layer. Handlers map them to HTTP status
// codes; the admin console renders them as Error:<message> lines.
var (
	ErrBadRequest = errors.New("bad request")
	ErrForbidden  = errors.New("forbidden")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
)

// Error carries a client-facing message and the sentinel it belongs to.
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Kind
}

func badRequest(msg string) error {
	return &Error{Kind: ErrBadRequest, Message: msg}
}

func notFound(msg string) error {
	return &Error{Kind: ErrNotFound, Message: msg}
}

func conflict(msg string) error {
	return &Error{Kind: ErrConflict, Message: msg}
}
