package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/PerplFoundation/perpl-go/internal/domain"
)

// archiveBatch bounds how many rows one archive pass reads per table.
const archiveBatch = 10_000

// Archiver implements domain.Archiver: it moves aged order and fill rows out
// of the primary store into JSONL objects, partitioned by the year-month of
// the cutoff.
type Archiver struct {
	writer domain.BlobWriter
	orders domain.OrderStore
	fills  domain.FillStore
}

var _ domain.Archiver = (*Archiver)(nil)

// NewArchiver creates an Archiver over the given writer and stores.
func NewArchiver(writer domain.BlobWriter, orders domain.OrderStore, fills domain.FillStore) *Archiver {
	return &Archiver{writer: writer, orders: orders, fills: fills}
}

// ArchiveBefore uploads order and fill rows older than the cutoff as JSONL,
// one object per batch, and deletes exactly the uploaded rows after each
// successful upload. Rows that were never read stay in the store, so a
// failed or interrupted pass can be retried without data loss. Returns the
// total number of rows archived.
func (a *Archiver) ArchiveBefore(ctx context.Context, cutoff time.Time) (int, error) {
	archived := 0

	for {
		orders, err := a.orders.ListBefore(ctx, cutoff, archiveBatch)
		if err != nil {
			return archived, fmt.Errorf("s3blob: archive orders query: %w", err)
		}
		if len(orders) == 0 {
			break
		}
		buf, err := marshalJSONL(orders)
		if err != nil {
			return archived, fmt.Errorf("s3blob: archive orders marshal: %w", err)
		}
		key := archivePath("orders", cutoff, orders[0].OrderID, orders[len(orders)-1].OrderID)
		if err := a.writer.Write(ctx, key, buf, "application/x-ndjson"); err != nil {
			return archived, fmt.Errorf("s3blob: archive orders upload: %w", err)
		}
		ids := make([]int64, len(orders))
		for i, o := range orders {
			ids[i] = o.OrderID
		}
		if _, err := a.orders.DeleteIDs(ctx, ids); err != nil {
			return archived, fmt.Errorf("s3blob: archive orders delete: %w", err)
		}
		archived += len(orders)
		if len(orders) < archiveBatch {
			break
		}
	}

	for {
		fills, err := a.fills.ListBefore(ctx, cutoff, archiveBatch)
		if err != nil {
			return archived, fmt.Errorf("s3blob: archive fills query: %w", err)
		}
		if len(fills) == 0 {
			break
		}
		buf, err := marshalJSONL(fills)
		if err != nil {
			return archived, fmt.Errorf("s3blob: archive fills marshal: %w", err)
		}
		key := archivePath("fills", cutoff, fills[0].FillID, fills[len(fills)-1].FillID)
		if err := a.writer.Write(ctx, key, buf, "application/x-ndjson"); err != nil {
			return archived, fmt.Errorf("s3blob: archive fills upload: %w", err)
		}
		ids := make([]int64, len(fills))
		for i, f := range fills {
			ids[i] = f.FillID
		}
		if _, err := a.fills.DeleteIDs(ctx, ids); err != nil {
			return archived, fmt.Errorf("s3blob: archive fills delete: %w", err)
		}
		archived += len(fills)
		if len(fills) < archiveBatch {
			break
		}
	}

	return archived, nil
}

// archivePath builds the object key for one archive batch, partitioned by
// the year-month of the cutoff and suffixed with the batch's first and last
// row id so batches never overwrite each other:
//
//	archive/orders/2026-08/1-10000.jsonl
//	archive/fills/2026-08/17-17.jsonl
func archivePath(kind string, before time.Time, firstID, lastID int64) string {
	return fmt.Sprintf("archive/%s/%s/%d-%d.jsonl", kind, before.Format("2006-01"), firstID, lastID)
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
