package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/tiered-checkout/internal/core/domain"
	"github.com/rl1809/tiered-checkout/internal/port"
)

var (
	ErrAuditQueueFull = errors.New("audit queue full")
	ErrAuditClosed    = errors.New("audit forwarder closed")
)

const forwardTimeout = 5 * time.Second

// AuditForwarder queues audit records that are already persisted and hands
// them to a downstream publisher from a pool of workers, so inventory
// mutations never wait on the sink.
type AuditForwarder struct {
	sink   port.AuditPublisher
	queue  chan []domain.AuditRecord
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

var _ port.AuditPublisher = (*AuditForwarder)(nil)

func NewAuditForwarder(sink port.AuditPublisher, queueSize, workers int, logger *zap.Logger) *AuditForwarder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if workers < 1 {
		workers = 1
	}
	f := &AuditForwarder{
		sink:   sink,
		queue:  make(chan []domain.AuditRecord, queueSize),
		logger: logger,
	}
	for i := 0; i < workers; i++ {
		f.wg.Add(1)
		go func(id int) {
			defer f.wg.Done()
			f.workerLoop(id)
		}(i)
	}
	return f
}

// Publish enqueues records without blocking.
func (f *AuditForwarder) Publish(ctx context.Context, records ...domain.AuditRecord) error {
	if len(records) == 0 {
		return nil
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return ErrAuditClosed
	}

	select {
	case f.queue <- records:
		return nil
	default:
		return ErrAuditQueueFull
	}
}

// Close stops accepting records and waits until the queue is drained.
func (f *AuditForwarder) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	close(f.queue)
	f.mu.Unlock()

	f.wg.Wait()
}

func (f *AuditForwarder) workerLoop(id int) {
	for batch := range f.queue {
		ctx, cancel := context.WithTimeout(context.Background(), forwardTimeout)

		if err := f.sink.Publish(ctx, batch...); err != nil {
			ids := make([]string, len(batch))
			for i, r := range batch {
				ids[i] = r.ID
			}
			f.logger.Error("failed to forward audit records",
				zap.Int("worker", id),
				zap.Strings("audit_ids", ids),
				zap.Error(err),
			)
		}

		cancel()
	}
}
