package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	maxConcurrentGeneration = 5
	defaultQueueSize        = 100
)

// ErrTaskNotFound is returned when canceling a task that is neither queued nor running.
var ErrTaskNotFound = errors.New("task not found")

// BackgroundProcessor runs tasks outside the request that submitted them
type BackgroundProcessor interface {
	SubmitTask(ctx context.Context, task Task) error
	CancelTask(taskID string) error
	GetTaskStatus(taskID string) TaskStatus
}

// Task is a unit of background work
type Task struct {
	ID      string
	Type    TaskType
	Data    interface{}
	Timeout time.Duration
}

// TaskType selects the handler of a task
type TaskType string

const (
	TaskTypeReportGeneration TaskType = "report_generation"
)

// TaskStatus is the state of a submitted task
type TaskStatus string

const (
	TaskStatusUnknown   TaskStatus = "unknown"
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCanceled  TaskStatus = "canceled"
)

// TaskHandler executes one task.
type TaskHandler func(ctx context.Context, task Task) error

// QueueProcessor is a buffered task queue drained by a bounded number of goroutines
type QueueProcessor struct {
	logger   *logrus.Logger
	tasks    chan Task
	handlers map[TaskType]TaskHandler
	slots    chan struct{}

	cancellations sync.Map // task ID -> context.CancelFunc
	statuses      sync.Map // task ID -> TaskStatus
	wg            sync.WaitGroup
}

// NewQueueProcessor creates a processor with the given queue size
func NewQueueProcessor(queueSize int, logger *logrus.Logger) *QueueProcessor {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &QueueProcessor{
		logger:   logger,
		tasks:    make(chan Task, queueSize),
		handlers: make(map[TaskType]TaskHandler),
		slots:    make(chan struct{}, maxConcurrentGeneration),
	}
}

// Handle registers the handler for a task type. Call before Start.
func (p *QueueProcessor) Handle(taskType TaskType, handler TaskHandler) {
	p.handlers[taskType] = handler
}

// SubmitTask queues a task; it fails when the queue is full or the task is
// already queued or running.
func (p *QueueProcessor) SubmitTask(ctx context.Context, task Task) error {
	if err := p.claim(task.ID); err != nil {
		return err
	}

	select {
	case p.tasks <- task:
		return nil
	case <-ctx.Done():
		p.statuses.CompareAndDelete(task.ID, TaskStatusPending)
		return ctx.Err()
	default:
		p.statuses.CompareAndDelete(task.ID, TaskStatusPending)
		return fmt.Errorf("task queue is full")
	}
}

// claim marks a task pending unless it is already pending or running.
func (p *QueueProcessor) claim(taskID string) error {
	for {
		actual, loaded := p.statuses.LoadOrStore(taskID, TaskStatusPending)
		if !loaded {
			return nil
		}
		status := actual.(TaskStatus)
		if status == TaskStatusPending || status == TaskStatusRunning {
			return fmt.Errorf("task %s is already %s", taskID, status)
		}
		if p.statuses.CompareAndSwap(taskID, status, TaskStatusPending) {
			return nil
		}
	}
}

// CancelTask cancels a queued or running task
func (p *QueueProcessor) CancelTask(taskID string) error {
	if p.statuses.CompareAndSwap(taskID, TaskStatusPending, TaskStatusCanceled) {
		return nil
	}
	// a running task publishes its cancel func before leaving pending
	if cancel, exists := p.cancellations.Load(taskID); exists {
		cancel.(context.CancelFunc)()
		return nil
	}
	return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
}

// GetTaskStatus returns the last known status of a task
func (p *QueueProcessor) GetTaskStatus(taskID string) TaskStatus {
	if status, ok := p.statuses.Load(taskID); ok {
		return status.(TaskStatus)
	}
	return TaskStatusUnknown
}

// Start drains the queue until ctx is done, then waits for running tasks.
func (p *QueueProcessor) Start(ctx context.Context) {
	p.logger.Info("Background processor started")
	defer p.logger.Info("Background processor stopped")

	for {
		select {
		case <-ctx.Done():
			p.wg.Wait()
			return
		case task := <-p.tasks:
			select {
			case p.slots <- struct{}{}:
			case <-ctx.Done():
				p.wg.Wait()
				return
			}
			p.wg.Add(1)
			go func() {
				defer p.wg.Done()
				defer func() { <-p.slots }()
				p.processTask(ctx, task)
			}()
		}
	}
}

func (p *QueueProcessor) processTask(parent context.Context, task Task) {
	logger := p.logger.WithFields(logrus.Fields{"task_id": task.ID, "task_type": task.Type})

	handler, ok := p.handlers[task.Type]
	if !ok {
		logger.Warn("Unknown task type")
		p.statuses.CompareAndSwap(task.ID, TaskStatusPending, TaskStatusFailed)
		return
	}

	timeout := task.Timeout
	if timeout <= 0 {
		timeout = defaultGenerationTimeout
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	// a duplicate queue entry of a resubmitted task may meet the running one
	if _, busy := p.cancellations.LoadOrStore(task.ID, cancel); busy {
		logger.Info("Skipping task, already running")
		return
	}

	// canceled while queued, or already run by an earlier queue entry
	if !p.statuses.CompareAndSwap(task.ID, TaskStatusPending, TaskStatusRunning) {
		p.cancellations.Delete(task.ID)
		logger.WithField("status", p.GetTaskStatus(task.ID)).Info("Skipping task")
		return
	}

	err := p.run(ctx, handler, task)
	// unregister before the final status is visible
	p.cancellations.Delete(task.ID)
	switch {
	case err == nil:
		p.statuses.Store(task.ID, TaskStatusCompleted)
	case errors.Is(ctx.Err(), context.Canceled) && parent.Err() == nil:
		logger.Info("Task canceled")
		p.statuses.Store(task.ID, TaskStatusCanceled)
	default:
		logger.WithError(err).Error("Task failed")
		p.statuses.Store(task.ID, TaskStatusFailed)
	}
}

// run calls handler, turning a panic into an error.
func (p *QueueProcessor) run(ctx context.Context, handler TaskHandler, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", task.ID, r)
		}
	}()
	return handler(ctx, task)
}
