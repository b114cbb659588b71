package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ubiquity/arbitrage-bot/internal/domain"
)

// The archiver only needs the time-ranged query from each store, so it
// declares the slice it uses rather than the full store interfaces. The
// Postgres stores satisfy these implicitly.

// OpportunityArchiveStore provides read access to opportunities for archival.
type OpportunityArchiveStore interface {
	// ListBefore returns all opportunities detected strictly before the
	// cutoff time.
	ListBefore(ctx context.Context, before time.Time) ([]domain.Opportunity, error)
}

// SettlementArchiveStore provides read access to settlements for archival.
type SettlementArchiveStore interface {
	// ListBefore returns all settlements started strictly before the cutoff
	// time.
	ListBefore(ctx context.Context, before time.Time) ([]domain.Settlement, error)
}

// multipartThreshold is the batch size above which the archiver switches to
// multipart upload.
const multipartThreshold = 8 * 1024 * 1024

// ArchiveImpl implements domain.Archiver by querying the stores for old
// records, serializing them to JSONL, and uploading the result to object
// storage.
//
// Deletion of the archived rows from the primary store is intentionally NOT
// performed here; that is a separate, explicit step to be executed after the
// archive has been verified.
type ArchiveImpl struct {
	writer        domain.BlobWriter
	opportunities OpportunityArchiveStore
	settlements   SettlementArchiveStore
	logger        *slog.Logger

	// partThreshold is overridable in tests.
	partThreshold int
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(
	writer domain.BlobWriter,
	opportunities OpportunityArchiveStore,
	settlements SettlementArchiveStore,
	logger *slog.Logger,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer:        writer,
		opportunities: opportunities,
		settlements:   settlements,
		logger:        logger.With(slog.String("component", "archiver")),
		partThreshold: multipartThreshold,
	}
}

var _ domain.Archiver = (*ArchiveImpl)(nil)

// ArchiveOpportunities uploads all opportunities detected before the cutoff
// as JSONL at archive/opportunities/YYYY-MM.jsonl and returns the row count.
func (a *ArchiveImpl) ArchiveOpportunities(ctx context.Context, before time.Time) (int64, error) {
	opps, err := a.opportunities.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive opportunities query: %w", err)
	}
	buf, err := marshalJSONL(opps)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive opportunities marshal: %w", err)
	}
	return a.upload(ctx, "opportunities", before, buf, int64(len(opps)))
}

// ArchiveSettlements uploads all settlements started before the cutoff as
// JSONL at archive/settlements/YYYY-MM.jsonl and returns the row count.
func (a *ArchiveImpl) ArchiveSettlements(ctx context.Context, before time.Time) (int64, error) {
	sts, err := a.settlements.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive settlements query: %w", err)
	}
	buf, err := marshalJSONL(sts)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive settlements marshal: %w", err)
	}
	return a.upload(ctx, "settlements", before, buf, int64(len(sts)))
}

func (a *ArchiveImpl) upload(ctx context.Context, kind string, before time.Time, buf []byte, count int64) (int64, error) {
	if count == 0 {
		return 0, nil
	}

	var err error
	path := archivePath(kind, before)
	if len(buf) >= a.partThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), int64(a.partThreshold))
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}

	a.logger.InfoContext(ctx, "records archived",
		slog.String("kind", kind),
		slog.String("path", path),
		slog.Int64("count", count),
		slog.String("before", before.Format(time.RFC3339)),
	)
	return count, nil
}

// archivePath builds the object key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/opportunities/2025-01.jsonl
//	archive/settlements/2025-01.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
// Each element is marshalled as a single compact JSON line followed by '\n'.
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
