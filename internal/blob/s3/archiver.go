package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/alanyoungcy/vaultswap/internal/domain"
)

const (
	historyKind = "market_history"

	// Archives larger than this go through the multipart uploader.
	multipartThreshold = 16 << 20
)

// HistorySource is the part of the history store the archiver reads.
type HistorySource interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.MarketEvent, error)
}

// HistoryPruner drops archived history from the primary store.
type HistoryPruner interface {
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// BlobStore is the object store the archive files live in.
type BlobStore interface {
	domain.BlobWriter
	domain.BlobReader
}

// ArchiveImpl implements domain.Archiver. Events are grouped by the month
// they occurred in and appended to archive/market_history/YYYY-MM.jsonl,
// merging with whatever an earlier run already wrote for that month.
type ArchiveImpl struct {
	blobs   BlobStore
	history HistorySource
	pruner  HistoryPruner
	audit   domain.AuditStore
}

// NewArchiver creates an ArchiveImpl. pruner may be nil, in which case the
// primary store keeps archived events.
func NewArchiver(blobs BlobStore, history HistorySource, pruner HistoryPruner, audit domain.AuditStore) *ArchiveImpl {
	return &ArchiveImpl{blobs: blobs, history: history, pruner: pruner, audit: audit}
}

// ArchiveHistory uploads every event that occurred before the cutoff and
// returns how many were archived.
func (a *ArchiveImpl) ArchiveHistory(ctx context.Context, before time.Time) (int64, error) {
	events, err := a.history.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive history query: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	byMonth := make(map[string][]domain.MarketEvent)
	for _, e := range events {
		p := archivePath(historyKind, e.At)
		byMonth[p] = append(byMonth[p], e)
	}
	paths := make([]string, 0, len(byMonth))
	for p := range byMonth {
		paths = append(paths, p)
	}
	slices.Sort(paths)

	for _, path := range paths {
		if err := a.appendMonth(ctx, path, byMonth[path]); err != nil {
			return 0, err
		}
	}

	count := int64(len(events))
	if err := a.audit.Log(ctx, "archive."+historyKind, map[string]any{
		"paths":  paths,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive history audit log: %w", err)
	}

	if a.pruner != nil {
		if _, err := a.pruner.DeleteBefore(ctx, before); err != nil {
			return count, fmt.Errorf("s3blob: prune archived history: %w", err)
		}
	}
	return count, nil
}

// Archives lists the history files written so far.
func (a *ArchiveImpl) Archives(ctx context.Context) ([]domain.BlobInfo, error) {
	return a.blobs.List(ctx, "archive/"+historyKind+"/")
}

func (a *ArchiveImpl) appendMonth(ctx context.Context, path string, events []domain.MarketEvent) error {
	existing, err := a.readMonth(ctx, path)
	if err != nil {
		return err
	}

	seen := make(map[string]bool, len(existing))
	for _, e := range existing {
		seen[e.ID] = true
	}
	merged := existing
	for _, e := range events {
		if !seen[e.ID] {
			seen[e.ID] = true
			merged = append(merged, e)
		}
	}
	slices.SortStableFunc(merged, func(x, y domain.MarketEvent) int {
		return x.At.Compare(y.At)
	})

	buf, err := marshalJSONL(merged)
	if err != nil {
		return fmt.Errorf("s3blob: archive history marshal: %w", err)
	}
	if len(buf) > multipartThreshold {
		err = a.blobs.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.blobs.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return fmt.Errorf("s3blob: archive history upload: %w", err)
	}
	return nil
}

func (a *ArchiveImpl) readMonth(ctx context.Context, path string) ([]domain.MarketEvent, error) {
	ok, err := a.blobs.Exists(ctx, path)
	if err != nil || !ok {
		return nil, err
	}
	body, err := a.blobs.Get(ctx, path)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer body.Close()

	events, err := unmarshalJSONL[domain.MarketEvent](body)
	if err != nil {
		return nil, fmt.Errorf("s3blob: read archive %s: %w", path, err)
	}
	return events, nil
}

// archivePath partitions archive files by the year and month of t.
//
//	archive/market_history/2026-09.jsonl
func archivePath(kind string, t time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, t.UTC().Format("2006-01"))
}

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

func unmarshalJSONL[T any](r io.Reader) ([]T, error) {
	var out []T
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), 4<<20)
	for line := 1; sc.Scan(); line++ {
		if len(bytes.TrimSpace(sc.Bytes())) == 0 {
			continue
		}
		var rec T
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("jsonl decode line %d: %w", line, err)
		}
		out = append(out, rec)
	}
	return out, sc.Err()
}

var _ domain.Archiver = (*ArchiveImpl)(nil)
