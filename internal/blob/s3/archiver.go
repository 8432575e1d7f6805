package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/quantleap/chronosim/internal/domain"
)

// archiveBatch bounds how many ledger rows one archive run exports.
const archiveBatch = 50000

// multipartThreshold is the segment size above which the upload switches to
// the multipart path.
const multipartThreshold = 32 * 1024 * 1024

// Archiver implements domain.Archiver by querying the flap ledger for aged
// entries, serializing them to JSONL, and uploading the result to cold
// storage.
//
// Deletion of the archived rows from the primary store is intentionally NOT
// performed here; that is a separate, explicit step to be executed after the
// archive has been verified.
type Archiver struct {
	writer domain.BlobWriter
	flaps  domain.FlapStore
}

// NewArchiver creates an Archiver over the given writer and ledger.
func NewArchiver(writer domain.BlobWriter, flaps domain.FlapStore) *Archiver {
	return &Archiver{writer: writer, flaps: flaps}
}

// archivedFlap is the JSONL row format for exported ledger entries.
type archivedFlap struct {
	ID             string          `json:"id"`
	Seq            int64           `json:"seq"`
	TimelineID     string          `json:"timeline_id"`
	ActorID        string          `json:"actor_id,omitempty"`
	Kind           domain.FlapKind `json:"kind"`
	Payload        json.RawMessage `json:"payload"`
	StabilityDelta float64         `json:"stability_delta"`
	Prices         []float64       `json:"prices"`
	CreatedAt      time.Time       `json:"created_at"`
}

// ArchiveFlaps exports every flap created strictly before the cutoff as one
// JSONL object keyed by the cutoff timestamp. It returns the number of rows
// exported and the object key; zero rows means no upload.
func (a *Archiver) ArchiveFlaps(ctx context.Context, before time.Time) (int, string, error) {
	flaps, err := a.flaps.ListBefore(ctx, before, archiveBatch)
	if err != nil {
		return 0, "", fmt.Errorf("s3blob: list flaps before %s: %w", before.Format(time.RFC3339), err)
	}
	if len(flaps) == 0 {
		return 0, "", nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, f := range flaps {
		payload, err := domain.MarshalPayload(f.Payload)
		if err != nil {
			return 0, "", fmt.Errorf("s3blob: encode flap %s: %w", f.ID, err)
		}
		row := archivedFlap{
			ID:             f.ID,
			Seq:            f.Seq,
			TimelineID:     f.TimelineID,
			ActorID:        f.ActorID,
			Kind:           f.Kind,
			Payload:        payload,
			StabilityDelta: f.StabilityDelta,
			Prices:         f.Prices,
			CreatedAt:      f.CreatedAt,
		}
		if err := enc.Encode(row); err != nil {
			return 0, "", fmt.Errorf("s3blob: encode flap %s: %w", f.ID, err)
		}
	}

	key := archiveKey(before)
	if buf.Len() > multipartThreshold {
		err = a.writer.PutMultipart(ctx, key, &buf, 0)
	} else {
		err = a.writer.Put(ctx, key, &buf, "application/x-ndjson")
	}
	if err != nil {
		return 0, "", fmt.Errorf("s3blob: upload archive %s: %w", key, err)
	}
	return len(flaps), key, nil
}

// archiveKey builds the object key for one archive run, partitioned by day
// for cheap prefix listing.
func archiveKey(before time.Time) string {
	return fmt.Sprintf("flaps/%s/archive-%d.jsonl",
		before.UTC().Format("2006/01/02"), before.UTC().Unix())
}

// Compile-time interface check.
var _ domain.Archiver = (*Archiver)(nil)
