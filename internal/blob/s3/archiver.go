package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/barwars/ledgerd/internal/domain"
)

// SettlementArchiveStore provides read access to settled rounds for archival
// purposes. The Postgres settlement store satisfies it through ListBefore.
type SettlementArchiveStore interface {
	// ListBefore returns all settlements settled strictly before the given
	// cutoff time.
	ListBefore(ctx context.Context, before time.Time) ([]domain.SettlementRecord, error)
}

// Archiver uploads settled rounds older than a cutoff to blob storage as
// JSONL, partitioned by year-month.
//
// Deletion of archived records from the primary store is intentionally NOT
// performed here -- that is a separate, explicit step to be executed after
// the archive has been verified.
type Archiver struct {
	writer      domain.BlobWriter
	settlements SettlementArchiveStore
	log         *slog.Logger
}

// NewArchiver creates an Archiver backed by the given writer and store.
func NewArchiver(writer domain.BlobWriter, settlements SettlementArchiveStore, log *slog.Logger) *Archiver {
	return &Archiver{
		writer:      writer,
		settlements: settlements,
		log:         log.With("component", "archiver"),
	}
}

// ArchiveSettlements queries all settlements before the cutoff, serializes
// them to JSONL, and uploads the file at archive/settlements/YYYY-MM.jsonl.
// It returns the number of archived records.
func (a *Archiver) ArchiveSettlements(ctx context.Context, before time.Time) (int64, error) {
	recs, err := a.settlements.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive settlements query: %w", err)
	}
	if len(recs) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(recs)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive settlements marshal: %w", err)
	}

	path := archivePath("settlements", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive settlements upload: %w", err)
	}

	count := int64(len(recs))
	a.log.Info("settlements archived",
		"path", path,
		"count", count,
		"before", before.Format(time.RFC3339))

	return count, nil
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/settlements/2026-08.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON. Each
// element is marshalled as a single compact JSON line followed by '\n'.
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
