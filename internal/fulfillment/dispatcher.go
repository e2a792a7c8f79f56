package fulfillment

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"voicebridge/internal/domain"
	"voicebridge/internal/metrics"

	"github.com/google/uuid"
)

// TaskStatus represents the status of a background task.
type TaskStatus string

const (
	TaskPending  TaskStatus = "pending"
	TaskRunning  TaskStatus = "running"
	TaskComplete TaskStatus = "complete"
	TaskFailed   TaskStatus = "failed"
)

// Task is a fire-and-forget unit of work tracked by the Dispatcher.
type Task struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Status    TaskStatus `json:"status"`
	Error     string     `json:"error,omitempty"`
	StartedAt time.Time  `json:"started_at"`
	DoneAt    time.Time  `json:"done_at,omitempty"`
}

// TaskFunc is the body of a task.
type TaskFunc func(ctx context.Context) error

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	Worker        *Worker
	MaxConcurrent int           // running tasks; excess tasks wait their turn
	Timeout       time.Duration // per task
	Logger        *slog.Logger
}

// Dispatcher runs tasks in background goroutines that are never awaited by
// the submitter. Panics and errors stay inside the task.
type Dispatcher struct {
	worker  *Worker
	timeout time.Duration
	sem     chan struct{}
	wg      sync.WaitGroup

	mu     sync.RWMutex
	tasks  map[string]*Task
	logger *slog.Logger
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 8
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	return &Dispatcher{
		worker:  cfg.Worker,
		timeout: cfg.Timeout,
		sem:     make(chan struct{}, cfg.MaxConcurrent),
		tasks:   make(map[string]*Task),
		logger:  cfg.Logger,
	}
}

// Start submits a fulfillment for req. It implements interaction.Starter.
func (d *Dispatcher) Start(ctx context.Context, gw domain.Gateway, req domain.FulfillmentRequest) string {
	metrics.FulfillmentsStarted.Inc()
	name := fmt.Sprintf("fulfill %s/%s", req.OriginalMessageID, req.TargetLanguage)
	return d.Submit(ctx, name, func(ctx context.Context) error {
		return d.worker.Run(ctx, gw, req)
	})
}

// Submit runs fn in the background and returns its task ID immediately.
// Cancelling ctx does not stop the task; only the dispatcher timeout does.
func (d *Dispatcher) Submit(ctx context.Context, name string, fn TaskFunc) string {
	id := uuid.NewString()
	task := &Task{
		ID:        id,
		Name:      name,
		Status:    TaskPending,
		StartedAt: time.Now(),
	}

	d.mu.Lock()
	d.tasks[id] = task
	d.mu.Unlock()
	d.wg.Add(1)

	d.logger.Debug("task submitted", "id", id, "name", name)

	go func() {
		defer d.wg.Done()

		d.sem <- struct{}{}
		defer func() { <-d.sem }()

		d.setStatus(task, TaskRunning, nil)

		taskCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()

		err := d.run(taskCtx, fn)
		if err != nil {
			metrics.FulfillmentsFailed.Inc()
			d.logger.Error("task failed", "id", id, "name", name, "err", err)
			d.setStatus(task, TaskFailed, err)
			return
		}
		d.logger.Debug("task completed", "id", id, "name", name)
		d.setStatus(task, TaskComplete, nil)
	}()

	return id
}

func (d *Dispatcher) run(ctx context.Context, fn TaskFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panic: %v", r)
		}
	}()
	return fn(ctx)
}

func (d *Dispatcher) setStatus(task *Task, status TaskStatus, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	task.Status = status
	if err != nil {
		task.Error = err.Error()
	}
	if status == TaskComplete || status == TaskFailed {
		task.DoneAt = time.Now()
	}
}

// Get returns a copy of the task.
func (d *Dispatcher) Get(id string) (Task, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	task, ok := d.tasks[id]
	if !ok {
		return Task{}, false
	}
	return *task, true
}

// ListActive returns tasks that are pending or running.
func (d *Dispatcher) ListActive() []Task {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var result []Task
	for _, t := range d.tasks {
		if t.Status == TaskPending || t.Status == TaskRunning {
			result = append(result, *t)
		}
	}
	return result
}

// Clean forgets finished tasks older than maxAge and returns how many were removed.
func (d *Dispatcher) Clean(maxAge time.Duration) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for id, t := range d.tasks {
		if (t.Status == TaskComplete || t.Status == TaskFailed) && !t.DoneAt.After(cutoff) {
			delete(d.tasks, id)
			removed++
		}
	}
	return removed
}

// Wait blocks until every submitted task has finished or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
