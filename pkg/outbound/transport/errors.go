package transport

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	CodeNetwork     = "network"
	CodeStatus      = "status"
	CodeBreakerOpen = "breaker_open"
)

// Error is the typed failure of a call. Status is zero when no response was received.
type Error struct {
	Method string
	URL    string
	Status int
	Body   []byte
	Code   string
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Status != 0:
		return fmt.Sprintf("%s %s: %d %s", e.Method, e.URL, e.Status, http.StatusText(e.Status))
	case e.Err != nil:
		return fmt.Sprintf("%s %s: %s: %v", e.Method, e.URL, e.Code, e.Err)
	default:
		return fmt.Sprintf("%s %s: %s", e.Method, e.URL, e.Code)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// ClientError reports a 4xx response.
func (e *Error) ClientError() bool { return e.Status >= 400 && e.Status < 500 }

// ServerError reports a 5xx response.
func (e *Error) ServerError() bool { return e.Status >= 500 }

// AsError extracts the *Error from err's chain.
func AsError(err error) (*Error, bool) {
	var te *Error
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

// StatusOf returns the response status carried by err, or zero.
func StatusOf(err error) int {
	if te, ok := AsError(err); ok {
		return te.Status
	}
	return 0
}
