package app

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/PerplFoundation/perpl-go/internal/domain"
)

type memFillStore struct {
	mu   sync.Mutex
	rows []domain.Fill
}

func (s *memFillStore) Insert(_ context.Context, f domain.Fill) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, f)
	return nil
}

func (s *memFillStore) ListByOrder(context.Context, int64) ([]domain.Fill, error) {
	return nil, nil
}
func (s *memFillStore) ListBefore(context.Context, time.Time, int) ([]domain.Fill, error) {
	return nil, nil
}
func (s *memFillStore) DeleteIDs(context.Context, []int64) (int64, error) { return 0, nil }

func (s *memFillStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

func TestRecorderPersistsQueuedRecords(t *testing.T) {
	orders := newMemOrderStore()
	fills := &memFillStore{}
	rec := NewRecorder(orders, fills, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = rec.Run(ctx)
	}()

	rec.RecordOrder(domain.Order{OrderID: 1, RequestID: 7, Status: domain.OrderStatusOpen})
	rec.RecordFill(domain.Fill{FillID: 5, OrderID: 1})

	require.Eventually(t, func() bool {
		_, err := orders.GetByID(context.Background(), 1)
		return err == nil && fills.count() == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("recorder did not stop on cancel")
	}
}

func TestRecorderNeverBlocksWhenQueueFull(t *testing.T) {
	// No Run goroutine: the queues fill up and further records are dropped
	// instead of blocking the caller.
	rec := NewRecorder(newMemOrderStore(), &memFillStore{}, slog.Default())

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		for i := 0; i < recorderBuffer+100; i++ {
			rec.RecordOrder(domain.Order{OrderID: int64(i)})
		}
	}()

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("RecordOrder blocked on a full queue")
	}
}
