package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/iota-uz/outbound/pkg/configuration"
	"github.com/iota-uz/outbound/pkg/logging"
	"github.com/iota-uz/outbound/pkg/outbound"
)

func TestDefault(t *testing.T) {
	t.Parallel()

	conf := &configuration.Configuration{
		Prometheus: configuration.PrometheusOptions{Enabled: true, Path: "/debug/prometheus"},
		Ops: configuration.OpsOptions{
			GuardEnabled:    true,
			GuardToken:      "s3cret",
			RequestIDHeader: "X-Request-ID",
		},
	}
	h := Default(&DefaultOptions{
		Logger:        logging.Nop(),
		Configuration: conf,
		Integrations:  outbound.NewRegistry(),
	}).Handler()

	get := func(path, token string) int {
		r := httptest.NewRequest(http.MethodGet, path, nil)
		if token != "" {
			r.Header.Set("X-Ops-Token", token)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, get("/health", ""))
	assert.Equal(t, http.StatusNotFound, get("/outbound", ""))
	assert.Equal(t, http.StatusOK, get("/outbound", "s3cret"))
	assert.Equal(t, http.StatusOK, get("/debug/prometheus", "s3cret"))
	// No scheduler: the run endpoint is not mounted.
	assert.Equal(t, http.StatusNotFound, get("/cron-scheduler/run", "s3cret"))
}
