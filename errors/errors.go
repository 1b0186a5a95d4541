package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

var (
	ErrWorkerPanic = fmt.Errorf("worker panic")
	ErrEmptyWords  = fmt.Errorf("no words have been found")

	ErrUnauthenticated = fmt.Errorf("unauthenticated")
	ErrForbidden       = fmt.Errorf("not a participant of this thread")
	ErrValidation      = fmt.Errorf("invalid payload")
	ErrUnknownEvent    = fmt.Errorf("%w: unknown event", ErrValidation)
	ErrEmptyBody       = fmt.Errorf("%w: message is empty", ErrValidation)
	ErrInvalidCursor   = fmt.Errorf("%w: invalid cursor", ErrValidation)
	ErrPersistence     = fmt.Errorf("persistence failure")
	ErrTransport       = fmt.Errorf("transport failure")
	ErrDuplicate       = fmt.Errorf("duplicate client message id")
	ErrThreadClosed    = fmt.Errorf("chat closed")
	ErrNotFound        = fmt.Errorf("not found")
	ErrRoomUnavailable = fmt.Errorf("room unavailable")
	ErrRateLimited     = fmt.Errorf("rate limit exceeded")
	ErrSlowConsumer    = fmt.Errorf("%w: slow consumer", ErrTransport)
	ErrFileTooLarge    = fmt.Errorf("%w: file too large", ErrValidation)
	ErrFileType        = fmt.Errorf("%w: file type not allowed", ErrValidation)
)

// Wire codes carried by the "error" event and REST error bodies.
const (
	CodeAuth        = "auth"
	CodeForbidden   = "forbidden"
	CodeValidation  = "validation"
	CodePersistence = "persistence"
	CodeClosed      = "closed"
	CodeNotFound    = "not_found"
	CodeUnavailable = "unavailable"
	CodeRateLimited = "rate_limited"
	CodeInternal    = "internal"
)

// Is and As re-export the standard helpers so callers only import this package.
func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }

func New(text string) error { return stderrors.New(text) }

// Code classifies err into one of the wire codes.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case Is(err, ErrUnauthenticated):
		return CodeAuth
	case Is(err, ErrForbidden):
		return CodeForbidden
	case Is(err, ErrThreadClosed):
		return CodeClosed
	case Is(err, ErrValidation):
		return CodeValidation
	case Is(err, ErrNotFound):
		return CodeNotFound
	case Is(err, ErrRateLimited):
		return CodeRateLimited
	case Is(err, ErrRoomUnavailable):
		return CodeUnavailable
	case Is(err, ErrPersistence):
		return CodePersistence
	default:
		return CodeInternal
	}
}

func HTTPStatus(err error) int {
	switch Code(err) {
	case "":
		return http.StatusOK
	case CodeAuth:
		return http.StatusUnauthorized
	case CodeForbidden, CodeClosed:
		return http.StatusForbidden
	case CodeValidation:
		if Is(err, ErrFileTooLarge) {
			return http.StatusRequestEntityTooLarge
		}
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// FromCode is the reverse of Code, used by clients reading error events and bodies.
func FromCode(code, message string) error {
	sentinel := map[string]error{
		CodeAuth:        ErrUnauthenticated,
		CodeForbidden:   ErrForbidden,
		CodeValidation:  ErrValidation,
		CodePersistence: ErrPersistence,
		CodeClosed:      ErrThreadClosed,
		CodeNotFound:    ErrNotFound,
		CodeUnavailable: ErrRoomUnavailable,
		CodeRateLimited: ErrRateLimited,
	}[code]
	if sentinel == nil {
		return fmt.Errorf("%s: %s", code, message)
	}
	if message == "" || message == sentinel.Error() {
		return sentinel
	}
	return fmt.Errorf("%w: %s", sentinel, message)
}
