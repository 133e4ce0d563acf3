// Package workers provides the worker pool that drains the extraction
// queue through the orchestrator.
package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	lexerrors "github.com/casemark/lexext-cli/pkg/errors"
	"github.com/casemark/lexext-cli/pkg/logging"
	"github.com/casemark/lexext-cli/pkg/queues"
)

// WorkerStatus represents the worker's current status.
type WorkerStatus string

const (
	WorkerStatusStarting WorkerStatus = "starting"
	WorkerStatusHealthy  WorkerStatus = "healthy"
	WorkerStatusDraining WorkerStatus = "draining"
	WorkerStatusStopped  WorkerStatus = "stopped"
)

// MessageHandler processes one queue message.
type MessageHandler func(ctx context.Context, msg queues.Message) error

// WorkerConfig configures the extraction workers.
type WorkerConfig struct {
	Count             int           `yaml:"count"`
	BatchSize         int           `yaml:"batch_size"`
	VisibilityTimeout time.Duration `yaml:"visibility_timeout"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	RecoveryInterval  time.Duration `yaml:"recovery_interval"`
}

// DefaultWorkerConfig returns the default extraction worker configuration.
// Batch size is 1: one document can hold a worker for minutes.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		Count:             4,
		BatchSize:         1,
		VisibilityTimeout: 300 * time.Second,
		PollInterval:      1 * time.Second,
		ShutdownTimeout:   120 * time.Second,
		RecoveryInterval:  60 * time.Second,
	}
}

// Worker processes extraction messages from the queue.
type Worker struct {
	ID           string
	Config       WorkerConfig
	Status       WorkerStatus
	Queue        queues.Queue
	Handler      MessageHandler
	StartedAt    time.Time
	LastActivity time.Time

	ProcessedCount atomic.Int64
	FailedCount    atomic.Int64

	logger     logging.Logger
	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         *sync.WaitGroup
}

// NewWorker creates a new worker.
func NewWorker(config WorkerConfig, queue queues.Queue, handler MessageHandler, logger logging.Logger) *Worker {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.New().String()
	return &Worker{
		ID:         id,
		Config:     config,
		Status:     WorkerStatusStarting,
		Queue:      queue,
		Handler:    handler,
		logger:     logger.With(logging.F("worker_id", id)),
		ctx:        ctx,
		cancelFunc: cancel,
		wg:         &sync.WaitGroup{},
	}
}

// Start begins processing messages.
func (w *Worker) Start() {
	w.StartedAt = time.Now()
	w.Status = WorkerStatusHealthy
	w.wg.Add(1)

	go func() {
		defer w.wg.Done()
		w.processLoop()
	}()
}

// Stop gracefully stops the worker, waiting up to ShutdownTimeout for the
// in-flight document to finish.
func (w *Worker) Stop() {
	w.Status = WorkerStatusDraining
	w.cancelFunc()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(w.Config.ShutdownTimeout):
		w.logger.Warn("worker shutdown timed out")
	}
	w.Status = WorkerStatusStopped
}

func (w *Worker) processLoop() {
	for {
		select {
		case <-w.ctx.Done():
			return
		default:
			messages, err := w.Queue.Dequeue(w.Config.BatchSize, w.Config.PollInterval)
			if err != nil {
				if w.ctx.Err() != nil {
					return
				}
				w.logger.Warn("dequeue failed", logging.Err(err))
				time.Sleep(w.Config.PollInterval)
				continue
			}

			for _, qm := range messages {
				if w.ctx.Err() != nil {
					return
				}
				w.processMessage(qm)
			}
		}
	}
}

func (w *Worker) processMessage(qm *queues.QueuedMessage) {
	w.LastActivity = time.Now()

	msg, err := qm.ParseMessage()
	if err != nil {
		// Undecodable payload; retrying cannot help.
		w.Queue.MoveToDeadLetter(qm.ID, fmt.Sprintf("parse error: %v", err))
		w.FailedCount.Add(1)
		return
	}

	// Finish before the visibility timeout hands the message to another
	// worker.
	ctx, cancel := context.WithTimeout(w.ctx, w.Config.VisibilityTimeout-10*time.Second)
	defer cancel()

	err = w.Handler(ctx, msg)
	if err != nil {
		var procErr *lexerrors.ProcessingError
		if errors.As(err, &procErr) && !procErr.IsRetryable() {
			w.Queue.MoveToDeadLetter(qm.ID, procErr.Error())
		} else {
			w.Queue.Nack(qm.ID)
		}
		w.FailedCount.Add(1)
		w.logger.Warn("extraction message failed",
			logging.F("message_id", qm.ID),
			logging.F("document_id", msg.GetDocumentID()),
			logging.Err(err))
		return
	}

	w.Queue.Ack(qm.ID)
	w.ProcessedCount.Add(1)
}

// staleRecoverer is implemented by queues that can reclaim messages whose
// visibility timeout lapsed. *queues.RedisQueue satisfies it.
type staleRecoverer interface {
	RecoverStaleMessages() error
}

// Pool manages a pool of extraction workers.
type Pool struct {
	Config  WorkerConfig
	Workers []*Worker
	Queue   queues.Queue
	Handler MessageHandler

	logger logging.Logger
	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPool creates a new worker pool.
func NewPool(config WorkerConfig, queue queues.Queue, handler MessageHandler, logger logging.Logger) *Pool {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		Config:  config,
		Queue:   queue,
		Handler: handler,
		Workers: make([]*Worker, 0, config.Count),
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start starts all workers and, when the queue supports it, the periodic
// stale-message recovery loop.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := 0; i < p.Config.Count; i++ {
		worker := NewWorker(p.Config, p.Queue, p.Handler, p.logger)
		worker.Start()
		p.Workers = append(p.Workers, worker)
	}
	p.logger.Info("worker pool started", logging.F("workers", p.Config.Count))

	if recoverer, ok := p.Queue.(staleRecoverer); ok && p.Config.RecoveryInterval > 0 {
		p.wg.Add(1)
		go p.recoveryLoop(recoverer)
	}
}

func (p *Pool) recoveryLoop(recoverer staleRecoverer) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.Config.RecoveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			if err := recoverer.RecoverStaleMessages(); err != nil {
				p.logger.Warn("stale message recovery failed", logging.Err(err))
			}
		}
	}
}

// Stop gracefully stops all workers.
func (p *Pool) Stop() {
	p.cancel()

	p.mu.Lock()
	defer p.mu.Unlock()

	var wg sync.WaitGroup
	for _, worker := range p.Workers {
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			w.Stop()
		}(worker)
	}
	wg.Wait()
	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}

// Stats returns pool statistics.
func (p *Pool) Stats() PoolStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := PoolStats{WorkerCount: len(p.Workers)}
	for _, w := range p.Workers {
		if w.Status == WorkerStatusHealthy {
			stats.ActiveCount++
		}
		stats.Processed += w.ProcessedCount.Load()
		stats.Failed += w.FailedCount.Load()
	}
	return stats
}

// PoolStats contains pool statistics.
type PoolStats struct {
	WorkerCount int
	ActiveCount int
	Processed   int64
	Failed      int64
}
