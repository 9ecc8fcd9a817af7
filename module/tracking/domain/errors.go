package domain

import (
	"errors"
	"net/http"
)

type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindBadMessage
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindRateLimited
	KindQueueFull
	KindStale
	KindTransient
	KindFatal
)

var kindCodes = map[ErrorKind]string{
	KindUnknown:      "INTERNAL",
	KindBadMessage:   "BAD_MESSAGE",
	KindUnauthorized: "UNAUTHORIZED",
	KindForbidden:    "FORBIDDEN",
	KindNotFound:     "NOT_FOUND",
	KindRateLimited:  "RATE_LIMITED",
	KindQueueFull:    "QUEUE_FULL",
	KindStale:        "STALE",
	KindTransient:    "TRANSIENT",
	KindFatal:        "FATAL",
}

func (k ErrorKind) Code() string {
	if c, ok := kindCodes[k]; ok {
		return c
	}
	return kindCodes[KindUnknown]
}

func (k ErrorKind) HTTPStatus() int {
	switch k {
	case KindBadMessage, KindStale:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindTransient, KindQueueFull:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Surfaced reports whether an error raised on the evaluation path is replied
// to the client that sent the sample. Everything else is counted and logged.
func (k ErrorKind) Surfaced() bool {
	switch k {
	case KindBadMessage, KindUnauthorized, KindForbidden, KindStale:
		return true
	}
	return false
}

type Error struct {
	Kind    ErrorKind
	Message string
	Details map[string]any
	Err     error
}

func NewError(kind ErrorKind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func Wrap(kind ErrorKind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// KindOf extracts the kind of err, or KindUnknown when err carries none.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindUnknown
}

// MessageOf returns the client-safe message of err.
func MessageOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	return "internal error"
}
