package controllers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/iota-uz/outbound/pkg/jobqueue"
	"github.com/iota-uz/outbound/pkg/outbound"
	"github.com/iota-uz/outbound/pkg/scheduler"
	"github.com/iota-uz/outbound/pkg/server"
)

const (
	defaultDeadLetterLimit = 50
	maxDeadLetterLimit     = 1000
)

// OutboundController exposes queue counts and dead-letter handling per integration.
type OutboundController struct {
	integrations scheduler.Integrations
	basePath     string
}

func NewOutboundController(integrations scheduler.Integrations) server.Controller {
	return &OutboundController{integrations: integrations, basePath: "/outbound"}
}

func (c *OutboundController) Key() string {
	return c.basePath
}

func (c *OutboundController) Register(r *mux.Router) {
	router := r.PathPrefix(c.basePath).Subrouter()
	router.HandleFunc("", c.List).Methods(http.MethodGet)
	router.HandleFunc("/{integration}/stats", c.Stats).Methods(http.MethodGet)
	router.HandleFunc("/{integration}/dead-letters", c.DeadLetters).Methods(http.MethodGet)
	router.HandleFunc("/{integration}/dead-letters", c.PurgeDeadLetters).Methods(http.MethodDelete)
	router.HandleFunc("/{integration}/dead-letters/{id}/replay", c.Replay).Methods(http.MethodPost)
}

type integrationDTO struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
	State   string `json:"state"`
	Queue   string `json:"queue"`
}

type statsDTO struct {
	integrationDTO
	Counts jobqueue.Counts `json:"counts"`
}

func toIntegrationDTO(client outbound.Client) integrationDTO {
	return integrationDTO{
		Name:    client.Name(),
		Enabled: client.Enabled(),
		State:   client.State().String(),
		Queue:   outbound.QueueName(client.Name()),
	}
}

func (c *OutboundController) client(w http.ResponseWriter, r *http.Request) (outbound.Client, bool) {
	client, err := c.integrations.Get(mux.Vars(r)["integration"])
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	return client, true
}

func (c *OutboundController) List(w http.ResponseWriter, _ *http.Request) {
	out := make([]integrationDTO, 0)
	for _, name := range c.integrations.Names() {
		if client, err := c.integrations.Get(name); err == nil {
			out = append(out, toIntegrationDTO(client))
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (c *OutboundController) Stats(w http.ResponseWriter, r *http.Request) {
	client, ok := c.client(w, r)
	if !ok {
		return
	}
	counts, err := client.Counts(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statsDTO{integrationDTO: toIntegrationDTO(client), Counts: counts})
}

func (c *OutboundController) DeadLetters(w http.ResponseWriter, r *http.Request) {
	client, ok := c.client(w, r)
	if !ok {
		return
	}

	limit := defaultDeadLetterLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeAPIError(w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer")
			return
		}
		limit = min(n, maxDeadLetterLimit)
	}

	letters, err := client.DeadLetters(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if letters == nil {
		letters = []jobqueue.DeadLetter{}
	}
	writeJSON(w, http.StatusOK, letters)
}

func (c *OutboundController) Replay(w http.ResponseWriter, r *http.Request) {
	client, ok := c.client(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]
	job, err := client.ReplayDeadLetter(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

// PurgeDeadLetters drops dead letters older than ?older_than, either an
// RFC 3339 timestamp or a duration such as 72h. Without it every dead letter goes.
func (c *OutboundController) PurgeDeadLetters(w http.ResponseWriter, r *http.Request) {
	client, ok := c.client(w, r)
	if !ok {
		return
	}

	var olderThan time.Time
	if raw := r.URL.Query().Get("older_than"); raw != "" {
		t, err := parseOlderThan(raw, time.Now())
		if err != nil {
			writeAPIError(w, http.StatusBadRequest, "INVALID_OLDER_THAN", err.Error())
			return
		}
		olderThan = t
	}

	n, err := client.PurgeDeadLetters(r.Context(), olderThan)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"purged": n})
}

func parseOlderThan(raw string, now time.Time) (time.Time, error) {
	if d, err := time.ParseDuration(raw); err == nil {
		return now.Add(-d), nil
	}
	return time.Parse(time.RFC3339, raw)
}
