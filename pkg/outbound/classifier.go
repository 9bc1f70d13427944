package outbound

import (
	"net/http"
	"slices"

	"github.com/iota-uz/outbound/pkg/outbound/transport"
)

// Classifier reports whether a transport failure is terminal. A nil
// Classifier treats every failure as transient.
type Classifier func(err error) bool

// TerminalOnClientError flags 4xx responses except 408 and 429.
func TerminalOnClientError(err error) bool {
	te, ok := transport.AsError(err)
	if !ok || !te.ClientError() {
		return false
	}
	return te.Status != http.StatusRequestTimeout && te.Status != http.StatusTooManyRequests
}

// TerminalOnStatus flags responses with one of the given statuses.
func TerminalOnStatus(statuses ...int) Classifier {
	return func(err error) bool {
		return slices.Contains(statuses, transport.StatusOf(err))
	}
}

// AnyOf flags a failure when any of cs does.
func AnyOf(cs ...Classifier) Classifier {
	return func(err error) bool {
		for _, c := range cs {
			if c != nil && c(err) {
				return true
			}
		}
		return false
	}
}

// classify applies c, treating malformed requests as terminal regardless.
func classify(c Classifier, err error) bool {
	if te, ok := transport.AsError(err); ok && te.Code == transport.CodeInvalidRequest {
		return true
	}
	return c != nil && c(err)
}
