package outbound

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/iota-uz/outbound/pkg/jobqueue"
	"github.com/iota-uz/outbound/pkg/outbound/transport"
)

func statusErr(status int) error {
	return &transport.Error{Method: http.MethodGet, URL: "/x", Status: status, Code: transport.CodeStatus}
}

func TestTerminalOnClientError(t *testing.T) {
	t.Parallel()

	assert.True(t, TerminalOnClientError(statusErr(http.StatusBadRequest)))
	assert.True(t, TerminalOnClientError(statusErr(http.StatusNotFound)))
	assert.False(t, TerminalOnClientError(statusErr(http.StatusTooManyRequests)))
	assert.False(t, TerminalOnClientError(statusErr(http.StatusRequestTimeout)))
	assert.False(t, TerminalOnClientError(statusErr(http.StatusBadGateway)))
	assert.False(t, TerminalOnClientError(errors.New("dial tcp: refused")))
}

func TestTerminalOnStatusAndAnyOf(t *testing.T) {
	t.Parallel()

	c := AnyOf(nil, TerminalOnStatus(http.StatusConflict), TerminalOnStatus(http.StatusGone))
	assert.True(t, c(statusErr(http.StatusConflict)))
	assert.True(t, c(statusErr(http.StatusGone)))
	assert.False(t, c(statusErr(http.StatusNotFound)))
}

func TestClassifyDefaultsToTransient(t *testing.T) {
	t.Parallel()

	assert.False(t, classify(nil, statusErr(http.StatusBadRequest)))
	assert.True(t, classify(nil, &transport.Error{Code: transport.CodeInvalidRequest}))
}

func TestTerminalErrorIsUnrecoverable(t *testing.T) {
	t.Parallel()

	cause := statusErr(http.StatusNotFound)
	err := &TerminalError{Err: cause}
	assert.True(t, jobqueue.IsUnrecoverable(err))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, ReasonTerminal, reasonOf(err))
	assert.Equal(t, ReasonExhausted, reasonOf(cause))
	assert.Equal(t, ReasonExhausted, reasonOf(&jobqueue.UnrecoverableError{Err: jobqueue.ErrStalled}))
}
