// Package dispatch provides a bounded-concurrency admission gate for
// outbound requests, with retry support and per-request tracking.
package dispatch

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"streamcal/internal/retry"
)

// Status describes the lifecycle of a dispatched request.
type Status string

// Request statuses.
const (
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Request is the tracked descriptor of one dispatched task.
type Request struct {
	// ID is a unique identifier assigned at admission.
	ID string
	// Name is the caller-supplied task label.
	Name string
	// Status is the current lifecycle state.
	Status Status
	// StartedAt is when the task was admitted.
	StartedAt time.Time
	// FinishedAt is when the task completed, zero while running.
	FinishedAt time.Time
	// Error holds the failure message when Status is StatusFailed.
	Error string
}

// Task is an asynchronous unit of work executed under the dispatcher.
type Task func(ctx context.Context) error

// NamedTask pairs a task with a label used in request tracking and logs.
type NamedTask struct {
	Name string
	Run  Task
}

// Config holds dispatcher configuration.
type Config struct {
	// Concurrency is the maximum number of in-flight tasks.
	Concurrency int
	// Retry configures backoff between attempts in Retry.
	Retry retry.Config
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency: 10,
		Retry:       retry.DefaultConfig(),
	}
}

// Dispatcher limits the number of concurrently running tasks. Callers
// blocked on admission are released in FIFO order as running tasks
// complete. No ordering guarantee is made between tasks admitted
// concurrently.
type Dispatcher struct {
	config Config
	logger zerolog.Logger

	mu       sync.Mutex
	running  int
	waiters  []chan struct{}
	requests map[string]*Request
}

// New creates a dispatcher with the given configuration.
func New(cfg Config, logger zerolog.Logger) *Dispatcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConfig().Concurrency
	}
	return &Dispatcher{
		config:   cfg,
		logger:   logger,
		requests: make(map[string]*Request),
	}
}

// Run executes task, blocking until a slot is available if the number of
// in-flight tasks equals the concurrency limit. The task's own error is
// returned unmodified.
func (d *Dispatcher) Run(ctx context.Context, name string, task Task) error {
	if err := d.acquire(ctx); err != nil {
		return err
	}
	defer d.release()

	id := d.track(name)
	d.logger.Debug().Str("task", name).Str("request_id", id).Msg("task admitted")

	err := task(ctx)
	d.finish(id, err)

	if err != nil {
		d.logger.Debug().Str("task", name).Str("request_id", id).Err(err).Msg("task failed")
	}
	return err
}

// Retry re-invokes task up to limit times when it fails, surfacing the
// last error once the limit is exhausted. A limit <= 0 retries forever.
// Each attempt is admitted through Run, so a retrying task does not hold
// its slot while backing off.
func (d *Dispatcher) Retry(ctx context.Context, limit int, name string, task Task) error {
	cfg := d.config.Retry
	if limit <= 0 {
		cfg.MaxRetries = -1
	} else {
		cfg.MaxRetries = limit - 1
	}

	return retry.Do(ctx, cfg, nil, func(ctx context.Context) error {
		return d.Run(ctx, name, task)
	})
}

// All runs every task concurrently through the dispatcher and waits for
// the whole batch. The first error in submission order is returned;
// completed tasks are not rolled back.
func (d *Dispatcher) All(ctx context.Context, tasks []NamedTask) error {
	errs := make([]error, len(tasks))

	var wg sync.WaitGroup
	for i, t := range tasks {
		wg.Add(1)
		go func(i int, t NamedTask) {
			defer wg.Done()
			errs[i] = d.Run(ctx, t.Name, t.Run)
		}(i, t)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// InFlight returns the number of currently running tasks.
func (d *Dispatcher) InFlight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Requests returns a snapshot of all tracked request descriptors,
// ordered by admission time.
func (d *Dispatcher) Requests() []Request {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]Request, 0, len(d.requests))
	for _, r := range d.requests {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// acquire takes an admission slot, queueing behind earlier waiters when
// the limit is reached.
func (d *Dispatcher) acquire(ctx context.Context) error {
	d.mu.Lock()
	if d.running < d.config.Concurrency {
		d.running++
		d.mu.Unlock()
		return nil
	}

	ch := make(chan struct{})
	d.waiters = append(d.waiters, ch)
	d.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		d.mu.Lock()
		for i, w := range d.waiters {
			if w == ch {
				d.waiters = append(d.waiters[:i], d.waiters[i+1:]...)
				d.mu.Unlock()
				return ctx.Err()
			}
		}
		d.mu.Unlock()
		// The slot was handed over concurrently with cancellation;
		// give it back before reporting the error.
		d.release()
		return ctx.Err()
	}
}

// release hands the slot to the earliest waiter, or frees it when the
// queue is empty. The handoff keeps the running count constant, so FIFO
// order among waiters cannot be overtaken by a fresh caller.
func (d *Dispatcher) release() {
	d.mu.Lock()
	if len(d.waiters) > 0 {
		ch := d.waiters[0]
		d.waiters = d.waiters[1:]
		d.mu.Unlock()
		close(ch)
		return
	}
	d.running--
	d.mu.Unlock()
}

func (d *Dispatcher) track(name string) string {
	r := &Request{
		ID:        uuid.NewString(),
		Name:      name,
		Status:    StatusRunning,
		StartedAt: time.Now(),
	}

	d.mu.Lock()
	d.requests[r.ID] = r
	d.mu.Unlock()
	return r.ID
}

func (d *Dispatcher) finish(id string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	r, ok := d.requests[id]
	if !ok {
		return
	}
	r.FinishedAt = time.Now()
	if err != nil {
		r.Status = StatusFailed
		r.Error = err.Error()
	} else {
		r.Status = StatusSuccess
	}
}
