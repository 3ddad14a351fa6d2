package s3blob

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/PerplFoundation/perpl-go/internal/domain"
)

type memOrderStore struct {
	rows    []domain.Order
	deleted bool
}

func (s *memOrderStore) Upsert(context.Context, domain.Order) error { return nil }
func (s *memOrderStore) GetByID(context.Context, int64) (domain.Order, error) {
	return domain.Order{}, domain.ErrNotFound
}
func (s *memOrderStore) GetByRequestID(context.Context, uint64) (domain.Order, error) {
	return domain.Order{}, domain.ErrNotFound
}
func (s *memOrderStore) ListOpen(context.Context, string) ([]domain.Order, error) { return nil, nil }
func (s *memOrderStore) ListByMarket(context.Context, domain.MarketID, domain.ListOpts) ([]domain.Order, error) {
	return nil, nil
}
func (s *memOrderStore) ListBefore(_ context.Context, cutoff time.Time, limit int) ([]domain.Order, error) {
	var out []domain.Order
	for _, o := range s.rows {
		if o.UpdatedAt.Before(cutoff) {
			out = append(out, o)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}
func (s *memOrderStore) DeleteIDs(_ context.Context, orderIDs []int64) (int64, error) {
	s.deleted = true
	drop := make(map[int64]bool, len(orderIDs))
	for _, id := range orderIDs {
		drop[id] = true
	}
	kept := s.rows[:0]
	var n int64
	for _, o := range s.rows {
		if drop[o.OrderID] {
			n++
			continue
		}
		kept = append(kept, o)
	}
	s.rows = kept
	return n, nil
}

type memFillStore struct {
	rows    []domain.Fill
	deleted bool
}

func (s *memFillStore) Insert(context.Context, domain.Fill) error { return nil }
func (s *memFillStore) ListByOrder(context.Context, int64) ([]domain.Fill, error) {
	return nil, nil
}
func (s *memFillStore) ListBefore(_ context.Context, cutoff time.Time, limit int) ([]domain.Fill, error) {
	var out []domain.Fill
	for _, f := range s.rows {
		if f.Time.Before(cutoff) {
			out = append(out, f)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}
func (s *memFillStore) DeleteIDs(_ context.Context, fillIDs []int64) (int64, error) {
	s.deleted = true
	drop := make(map[int64]bool, len(fillIDs))
	for _, id := range fillIDs {
		drop[id] = true
	}
	var n int64
	kept := s.rows[:0]
	for _, f := range s.rows {
		if drop[f.FillID] {
			n++
			continue
		}
		kept = append(kept, f)
	}
	s.rows = kept
	return n, nil
}

type memWriter struct {
	objects map[string][]byte
	err     error
}

func (w *memWriter) Write(_ context.Context, key string, data []byte, _ string) error {
	if w.err != nil {
		return w.err
	}
	if w.objects == nil {
		w.objects = make(map[string][]byte)
	}
	w.objects[key] = data
	return nil
}

func TestArchiveBeforeMovesAgedRows(t *testing.T) {
	cutoff := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	old := cutoff.Add(-24 * time.Hour)
	fresh := cutoff.Add(24 * time.Hour)

	orders := &memOrderStore{rows: []domain.Order{
		{OrderID: 1, Status: domain.OrderStatusFilled, UpdatedAt: old},
		{OrderID: 2, Status: domain.OrderStatusCancelled, UpdatedAt: old},
		{OrderID: 3, Status: domain.OrderStatusOpen, UpdatedAt: fresh},
	}}
	fills := &memFillStore{rows: []domain.Fill{
		{FillID: 10, OrderID: 1, Time: old},
	}}
	writer := &memWriter{}

	a := NewArchiver(writer, orders, fills)
	moved, err := a.ArchiveBefore(context.Background(), cutoff)
	require.NoError(t, err)
	require.Equal(t, 3, moved)

	// Objects are partitioned by the cutoff's year-month and keyed by the
	// batch's id range.
	ordersBlob, ok := writer.objects["archive/orders/2026-08/1-2.jsonl"]
	require.True(t, ok)
	require.Equal(t, 2, bytes.Count(ordersBlob, []byte("\n")))

	fillsBlob, ok := writer.objects["archive/fills/2026-08/10-10.jsonl"]
	require.True(t, ok)
	require.Equal(t, 1, bytes.Count(fillsBlob, []byte("\n")))

	// The fresh row survived.
	require.Len(t, orders.rows, 1)
	require.Equal(t, int64(3), orders.rows[0].OrderID)
	require.Empty(t, fills.rows)
}

func TestArchiveBeforeDrainsPastOneBatch(t *testing.T) {
	cutoff := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	old := cutoff.Add(-time.Hour)

	rows := make([]domain.Order, archiveBatch+500)
	for i := range rows {
		rows[i] = domain.Order{
			OrderID:   int64(i + 1),
			Status:    domain.OrderStatusFilled,
			UpdatedAt: old,
		}
	}
	orders := &memOrderStore{rows: rows}
	writer := &memWriter{}

	a := NewArchiver(writer, orders, &memFillStore{})
	moved, err := a.ArchiveBefore(context.Background(), cutoff)
	require.NoError(t, err)
	require.Equal(t, archiveBatch+500, moved)

	// Every aged row was uploaded before anything was deleted; nothing is
	// dropped past the first batch.
	require.Empty(t, orders.rows)
	require.Len(t, writer.objects, 2)
	total := 0
	for _, blob := range writer.objects {
		total += bytes.Count(blob, []byte("\n"))
	}
	require.Equal(t, archiveBatch+500, total)
}

func TestArchiveBeforeNothingToDo(t *testing.T) {
	a := NewArchiver(&memWriter{}, &memOrderStore{}, &memFillStore{})
	moved, err := a.ArchiveBefore(context.Background(), time.Now())
	require.NoError(t, err)
	require.Zero(t, moved)
}

func TestArchiveBeforeKeepsRowsOnUploadFailure(t *testing.T) {
	cutoff := time.Now()
	orders := &memOrderStore{rows: []domain.Order{
		{OrderID: 1, UpdatedAt: cutoff.Add(-time.Hour)},
	}}
	writer := &memWriter{err: errors.New("bucket unavailable")}

	a := NewArchiver(writer, orders, &memFillStore{})
	_, err := a.ArchiveBefore(context.Background(), cutoff)
	require.Error(t, err)

	// Deletion never ran, so a later pass can retry.
	require.False(t, orders.deleted)
	require.Len(t, orders.rows, 1)
}
