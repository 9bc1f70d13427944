package controllers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/iota-uz/outbound/pkg/jobqueue"
	"github.com/iota-uz/outbound/pkg/server"
)

// JobRunner enqueues an immediate run of a scheduled job.
type JobRunner interface {
	RunJob(ctx context.Context, name string) (*jobqueue.Job, error)
}

type CronController struct {
	runner JobRunner
}

func NewCronController(runner JobRunner) server.Controller {
	return &CronController{runner: runner}
}

func (c *CronController) Key() string {
	return "/cron-scheduler"
}

func (c *CronController) Register(r *mux.Router) {
	r.HandleFunc("/cron-scheduler/run", c.Run).Methods(http.MethodPost)
}

type runJobRequest struct {
	JobName string `json:"jobName"`
}

type runJobResponse struct {
	JobID   string `json:"jobId"`
	JobName string `json:"jobName"`
}

func (c *CronController) Run(w http.ResponseWriter, r *http.Request) {
	var req runJobRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, "INVALID_BODY", "body must be {\"jobName\": \"...\"}")
		return
	}
	if req.JobName == "" {
		writeAPIError(w, http.StatusBadRequest, "INVALID_BODY", "jobName is required")
		return
	}

	job, err := c.runner.RunJob(r.Context(), req.JobName)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, runJobResponse{JobID: job.ID, JobName: job.Name})
}
