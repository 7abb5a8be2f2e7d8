package notify

import (
	"context"
	"sync"

	"github.com/klinikgigi/queue-engine/pkg/logging"
)

// InlineDispatcher delivers jobs on a fixed pool of goroutines in the same
// process. Enqueue never blocks; a full buffer rejects the job.
type InlineDispatcher struct {
	jobs    chan Job
	handler Handler
	logger  *logging.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewInlineDispatcher(handler Handler, workers, buffer int, logger *logging.Logger) *InlineDispatcher {
	if workers <= 0 {
		workers = 4
	}
	if buffer <= 0 {
		buffer = 256
	}
	if logger == nil {
		logger = logging.Default()
	}
	d := &InlineDispatcher{
		jobs:    make(chan Job, buffer),
		handler: handler,
		logger:  logger,
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.run()
	}
	return d
}

func (d *InlineDispatcher) run() {
	defer d.wg.Done()
	for job := range d.jobs {
		d.handler(context.Background(), job)
	}
}

func (d *InlineDispatcher) Enqueue(_ context.Context, job Job) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrQueueFull
	}
	select {
	case d.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting jobs and waits for queued ones to finish.
func (d *InlineDispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.jobs)
	d.mu.Unlock()

	d.wg.Wait()
	d.logger.Info("inline notification dispatcher drained")
}
