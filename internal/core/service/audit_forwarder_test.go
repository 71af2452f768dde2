package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/tiered-checkout/internal/core/domain"
)

type recordingPublisher struct {
	mu      sync.Mutex
	records []domain.AuditRecord
	err     error
	block   chan struct{}
}

func (p *recordingPublisher) Publish(ctx context.Context, records ...domain.AuditRecord) error {
	if p.block != nil {
		<-p.block
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.records = append(p.records, records...)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.records)
}

func TestAuditForwarder_DeliversOnClose(t *testing.T) {
	sink := &recordingPublisher{}
	f := NewAuditForwarder(sink, 100, 4, nil)

	for i := 0; i < 50; i++ {
		require.NoError(t, f.Publish(context.Background(), domain.AuditRecord{ID: "a"}, domain.AuditRecord{ID: "b"}))
	}
	f.Close()

	assert.Equal(t, 100, sink.count())
	assert.ErrorIs(t, f.Publish(context.Background(), domain.AuditRecord{ID: "late"}), ErrAuditClosed)

	// Closing twice is harmless.
	f.Close()
}

func TestAuditForwarder_QueueFull(t *testing.T) {
	sink := &recordingPublisher{block: make(chan struct{})}
	f := NewAuditForwarder(sink, 1, 1, nil)

	// One batch is taken by the blocked worker, one fills the queue.
	var full bool
	for i := 0; i < 3; i++ {
		if err := f.Publish(context.Background(), domain.AuditRecord{ID: "x"}); errors.Is(err, ErrAuditQueueFull) {
			full = true
		}
	}
	assert.True(t, full)

	close(sink.block)
	f.Close()
}

func TestAuditForwarder_SinkErrorIsLogged(t *testing.T) {
	sink := &recordingPublisher{err: errors.New("broker down")}
	f := NewAuditForwarder(sink, 10, 1, nil)

	require.NoError(t, f.Publish(context.Background(), domain.AuditRecord{ID: "a"}))
	require.NoError(t, f.Publish(context.Background()))
	f.Close()

	assert.Equal(t, 0, sink.count())
}
