package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// WorkerConfig contains configuration for the scheduler worker
type WorkerConfig struct {
	// CheckInterval is how often to check for due schedulers
	CheckInterval time.Duration
	Enabled       bool
}

// DefaultWorkerConfig returns the default worker configuration
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		CheckInterval: 30 * time.Second,
		Enabled:       true,
	}
}

type dueRunner interface {
	RunDue(ctx context.Context) (int, error)
}

// Worker periodically runs due schedulers
type Worker struct {
	runner dueRunner
	config WorkerConfig
	logger *logrus.Logger

	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
}

// NewWorker creates a new scheduler worker
func NewWorker(svc *Service, config WorkerConfig, logger *logrus.Logger) *Worker {
	return newWorker(svc, config, logger)
}

func newWorker(runner dueRunner, config WorkerConfig, logger *logrus.Logger) *Worker {
	if config.CheckInterval <= 0 {
		config.CheckInterval = DefaultWorkerConfig().CheckInterval
	}
	return &Worker{
		runner: runner,
		config: config,
		logger: logger,
	}
}

// Start begins the worker loop. It is a no-op when the worker is disabled or already running.
func (w *Worker) Start(ctx context.Context) error {
	if !w.config.Enabled {
		w.logger.Info("Scheduler worker disabled")
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}
	w.running = true
	w.stopCh = make(chan struct{})

	w.wg.Add(1)
	go w.run(ctx, w.stopCh)

	w.logger.WithField("check_interval", w.config.CheckInterval).Info("Scheduler worker started")
	return nil
}

// Stop gracefully stops the worker and waits for the current tick to finish
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopCh)
	w.mu.Unlock()

	w.wg.Wait()
	w.logger.Info("Scheduler worker stopped")
}

func (w *Worker) run(ctx context.Context, stopCh <-chan struct{}) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.CheckInterval)
	defer ticker.Stop()

	// Run immediately on start
	w.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("Scheduler worker context done")
			return
		case <-stopCh:
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *Worker) tick(ctx context.Context) {
	n, err := w.runner.RunDue(ctx)
	if err != nil {
		w.logger.WithError(err).Error("Failed to run due schedulers")
		return
	}
	if n > 0 {
		w.logger.WithField("count", n).Info("Ran due schedulers")
	}
}
