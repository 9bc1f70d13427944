package transport

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_OpensAfterServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	next := Func(func(_ context.Context, req Request) (*Response, error) {
		calls.Add(1)
		return nil, &Error{Method: req.Method, URL: req.URL, Status: http.StatusBadGateway, Code: CodeStatus}
	})
	tr := WithCircuitBreaker(next, BreakerConfig{Name: "crm", ConsecutiveFailures: 3, Timeout: time.Minute})
	req := Request{Method: http.MethodGet, URL: "https://crm.example/ping"}

	for range 3 {
		_, err := tr.Do(context.Background(), req)
		assert.Equal(t, http.StatusBadGateway, StatusOf(err))
	}

	_, err := tr.Do(context.Background(), req)
	te, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, CodeBreakerOpen, te.Code)
	assert.Equal(t, int32(3), calls.Load())
}

func TestCircuitBreaker_IgnoresClientErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	next := Func(func(_ context.Context, req Request) (*Response, error) {
		calls.Add(1)
		return nil, &Error{Method: req.Method, URL: req.URL, Status: http.StatusNotFound, Code: CodeStatus}
	})
	tr := WithCircuitBreaker(next, BreakerConfig{Name: "crm", ConsecutiveFailures: 2})
	req := Request{Method: http.MethodGet, URL: "https://crm.example/missing"}

	for range 5 {
		_, err := tr.Do(context.Background(), req)
		assert.Equal(t, http.StatusNotFound, StatusOf(err))
	}
	assert.Equal(t, int32(5), calls.Load())
}

func TestCircuitBreaker_PassesResponse(t *testing.T) {
	t.Parallel()

	tr := WithCircuitBreaker(Func(func(context.Context, Request) (*Response, error) {
		return &Response{Status: http.StatusOK, Body: []byte("ok")}, nil
	}), BreakerConfig{Name: "crm"})

	resp, err := tr.Do(context.Background(), Request{Method: http.MethodGet, URL: "https://crm.example"})
	require.NoError(t, err)
	assert.Equal(t, "ok", string(resp.Body))
}
