package outbound

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/iota-uz/outbound/pkg/jobqueue"
	"github.com/iota-uz/outbound/pkg/outbound/transport"
)

// process performs the call carried by job. Failures the classifier flags come
// back as *TerminalError so the worker skips the remaining attempts.
func (d *Dispatcher) process(ctx context.Context, job *jobqueue.Job) error {
	var req Request
	if err := json.Unmarshal(job.Payload, &req); err != nil {
		return &TerminalError{Err: fmt.Errorf("decode request: %w", err)}
	}

	_, err := d.transport.Do(ctx, req)
	d.m.requestsTotal.WithLabelValues(d.cfg.Name, req.Method, statusClass(err)).Inc()
	if err == nil {
		return nil
	}
	if classify(d.cfg.Classifier, err) {
		return &TerminalError{Err: err}
	}
	return err
}

func statusClass(err error) string {
	if err == nil {
		return "2xx"
	}
	te, ok := transport.AsError(err)
	if !ok {
		return "error"
	}
	if te.Status != 0 {
		return fmt.Sprintf("%dxx", te.Status/100)
	}
	return te.Code
}
