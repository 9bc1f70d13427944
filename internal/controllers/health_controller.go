package controllers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/iota-uz/outbound/pkg/outbound"
	"github.com/iota-uz/outbound/pkg/scheduler"
	"github.com/iota-uz/outbound/pkg/server"
)

type HealthController struct {
	integrations scheduler.Integrations
}

func NewHealthController(integrations scheduler.Integrations) server.Controller {
	return &HealthController{integrations: integrations}
}

func (c *HealthController) Key() string {
	return "/health"
}

func (c *HealthController) Register(r *mux.Router) {
	r.HandleFunc("/health", c.Health).Methods(http.MethodGet)
}

type healthResponse struct {
	Status       string            `json:"status"`
	Integrations map[string]string `json:"integrations"`
}

// Health is unhealthy while any enabled integration is not ready.
func (c *HealthController) Health(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "ok", Integrations: map[string]string{}}
	for _, name := range c.integrations.Names() {
		client, err := c.integrations.Get(name)
		if err != nil {
			continue
		}
		state := client.State()
		if !client.Enabled() {
			resp.Integrations[name] = "disabled"
			continue
		}
		resp.Integrations[name] = state.String()
		if state != outbound.StateReady {
			resp.Status = "unavailable"
		}
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
