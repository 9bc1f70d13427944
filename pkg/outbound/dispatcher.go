package outbound

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iota-uz/outbound/pkg/jobqueue"
	"github.com/iota-uz/outbound/pkg/logging"
	"github.com/iota-uz/outbound/pkg/outbound/transport"
)

// Dispatcher owns one integration's queue and worker handles.
type Dispatcher struct {
	verbs

	cfg       Config
	connect   jobqueue.Connector
	transport transport.Transport
	queueName string
	log       *logrus.Entry
	m         *metrics

	mu     sync.RWMutex
	state  State
	queue  *jobqueue.Queue
	worker *jobqueue.Worker
}

var (
	_ Client = (*Dispatcher)(nil)
	_ Client = (*noopClient)(nil)
)

// New validates cfg and builds the integration's Client. A disabled
// integration yields a no-op Client that opens no connection.
func New(cfg Config, deps Dependencies) (Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	queueName := QueueName(cfg.Name)
	log := logging.OrNop(deps.Logger).WithFields(logrus.Fields{
		"integration": cfg.Name,
		"queue":       queueName,
	})

	if !cfg.Enabled {
		log.Info("outbound: integration is disabled")
		return newNoop(cfg.Name), nil
	}
	if deps.Connector == nil {
		return nil, invalidConfig("%s: broker connector is required", cfg.Name)
	}

	tr := deps.Transport
	if tr == nil {
		h, err := transport.NewHTTP(cfg.Transport)
		if err != nil {
			return nil, invalidConfig("%s: %v", cfg.Name, err)
		}
		tr = h
	}
	if cfg.SigningSecret != "" {
		tr = transport.WithSigner(tr, transport.SignerConfig{Secret: []byte(cfg.SigningSecret)})
	}
	if cfg.Breaker != nil {
		bc := *cfg.Breaker
		if bc.Name == "" {
			bc.Name = cfg.Name
		}
		if bc.Logger == nil {
			bc.Logger = log
		}
		tr = transport.WithCircuitBreaker(tr, bc)
	}

	if cfg.Debug {
		log.Info("outbound: integration is in debug mode")
	}

	d := &Dispatcher{
		cfg:       cfg,
		connect:   deps.Connector,
		transport: tr,
		queueName: queueName,
		log:       log,
		m:         getMetrics(),
	}
	d.verbs = verbs{enqueue: d.Enqueue}
	return d, nil
}

// Name returns the integration name the dispatcher was configured with.
func (d *Dispatcher) Name() string { return d.cfg.Name }

// Enabled reports true; disabled integrations get the no-op client.
func (d *Dispatcher) Enabled() bool { return true }

// QueueName returns the namespaced queue the dispatcher enqueues into.
func (d *Dispatcher) QueueName() string { return d.queueName }

// State returns the current lifecycle state.
func (d *Dispatcher) State() State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

// Start opens the queue and, unless DisableWorker is set, starts the worker.
// Calling it again while ready is a no-op. After Close it returns
// jobqueue.ErrClosed.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.state {
	case StateReady:
		return nil
	case StateDraining, StateClosed:
		return jobqueue.ErrClosed
	}

	qs, err := d.connect(jobqueue.RoleQueue)
	if err != nil {
		return fmt.Errorf("outbound %s: open queue connection: %w", d.cfg.Name, err)
	}
	q, err := jobqueue.NewQueue(d.queueName, qs, jobqueue.QueueOptions{
		DefaultJobOptions: d.cfg.jobDefaults(),
		Logger:            d.log,
	})
	if err != nil {
		_ = qs.Close()
		return err
	}

	if !d.cfg.DisableWorker {
		w, err := d.startWorker(ctx)
		if err != nil {
			_ = q.Close()
			return err
		}
		d.worker = w
	} else {
		d.log.Info("outbound: worker disabled for this process")
	}

	d.queue = q
	d.state = StateReady
	return nil
}

func (d *Dispatcher) startWorker(ctx context.Context) (*jobqueue.Worker, error) {
	ws, err := d.connect(jobqueue.RoleWorker)
	if err != nil {
		return nil, fmt.Errorf("outbound %s: open worker connection: %w", d.cfg.Name, err)
	}
	w, err := jobqueue.NewWorker(d.queueName, ws, d.process, d.cfg.Worker.options(d.log))
	if err != nil {
		_ = ws.Close()
		return nil, err
	}
	w.OnCompleted(d.onCompleted).OnFailed(func(job *jobqueue.Job, err error) {
		d.onFailed(w, job, err)
	})
	if err := w.Start(ctx); err != nil {
		_ = w.Close(ctx)
		return nil, err
	}
	return w, nil
}

// Close drains the worker within ctx, then closes the queue. Later calls
// return nil.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	switch d.state {
	case StateDraining, StateClosed:
		d.mu.Unlock()
		return nil
	case StateUninitialized:
		d.state = StateClosed
		d.mu.Unlock()
		return nil
	}
	d.state = StateDraining
	w, q := d.worker, d.queue
	d.mu.Unlock()

	var errs []error
	// The worker goes first: it still needs the broker for in-flight jobs.
	if w != nil {
		if err := w.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close worker: %w", err))
		}
	}
	if err := q.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close queue: %w", err))
	}

	d.mu.Lock()
	d.state = StateClosed
	d.mu.Unlock()

	d.log.Info("outbound: integration closed")
	return errors.Join(errs...)
}

// Enqueue validates req, applies the call options over the integration
// defaults and adds it as a job. It returns ErrNotStarted before Start and
// jobqueue.ErrClosed after Close.
func (d *Dispatcher) Enqueue(ctx context.Context, req Request, opts ...CallOption) (*jobqueue.Job, error) {
	req, layers := applyCallOptions(req, opts)
	req.Method = strings.ToUpper(strings.TrimSpace(req.Method))
	if req.Method == "" || strings.TrimSpace(req.URL) == "" {
		return nil, fmt.Errorf("outbound %s: method and url are required", d.cfg.Name)
	}

	q, err := d.openQueue()
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("outbound %s: encode request: %w", d.cfg.Name, err)
	}
	if d.cfg.Worker.BackoffStrategy != nil {
		layers = append(layers, jobqueue.Overrides{Backoff: &jobqueue.Backoff{Kind: jobqueue.BackoffCustom}})
	}

	job, err := q.Add(ctx, req.Method, payload, layers...)
	if err != nil {
		return nil, fmt.Errorf("outbound %s: enqueue %s %s: %w", d.cfg.Name, req.Method, req.URL, err)
	}

	d.m.enqueueTotal.WithLabelValues(d.cfg.Name, req.Method).Inc()
	d.log.WithFields(jobFields(job)).Debug("outbound: request enqueued")
	return job, nil
}

func (d *Dispatcher) openQueue() (*jobqueue.Queue, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	switch d.state {
	case StateUninitialized:
		return nil, ErrNotStarted
	case StateClosed:
		return nil, jobqueue.ErrClosed
	}
	return d.queue, nil
}

// Counts returns the number of jobs in each state.
func (d *Dispatcher) Counts(ctx context.Context) (jobqueue.Counts, error) {
	q, err := d.openQueue()
	if err != nil {
		return jobqueue.Counts{}, err
	}
	return q.Counts(ctx)
}

// DeadLetters lists up to limit dead letters, newest first.
func (d *Dispatcher) DeadLetters(ctx context.Context, limit int) ([]jobqueue.DeadLetter, error) {
	q, err := d.openQueue()
	if err != nil {
		return nil, err
	}
	return q.Store().DeadLetters(ctx, d.queueName, limit)
}

// ReplayDeadLetter re-enqueues a dead job with its attempt counter reset.
func (d *Dispatcher) ReplayDeadLetter(ctx context.Context, jobID string) (*jobqueue.Job, error) {
	q, err := d.openQueue()
	if err != nil {
		return nil, err
	}
	job, err := q.Store().ReplayDeadLetter(ctx, d.queueName, jobID)
	if err != nil {
		return nil, err
	}
	d.log.WithFields(jobFields(job)).Info("outbound: dead letter replayed")
	return job, nil
}

// PurgeDeadLetters removes dead letters that failed before olderThan and
// returns how many were removed.
func (d *Dispatcher) PurgeDeadLetters(ctx context.Context, olderThan time.Time) (int, error) {
	q, err := d.openQueue()
	if err != nil {
		return 0, err
	}
	return q.Store().PurgeDeadLetters(ctx, d.queueName, olderThan)
}

func jobFields(job *jobqueue.Job) logrus.Fields {
	return logrus.Fields{
		"job_id":        job.ID,
		"attempts_made": job.AttemptsMade,
		"attempts":      job.Opts.Attempts,
	}
}
