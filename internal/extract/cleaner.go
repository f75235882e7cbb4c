package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"docfill/internal/logger"
	"docfill/internal/models"
	"docfill/internal/store"
)

const (
	DefaultUploadRetention   = 24 * time.Hour
	DefaultUploadCleanPeriod = time.Hour
)

// Cleaner removes uploaded source files once their document is finished.
// The extracted text stays in the store, so rendering is unaffected.
type Cleaner struct {
	store     store.Store
	retention time.Duration
	now       func() time.Time
	log       *logger.Logger
}

func NewCleaner(st store.Store, retention time.Duration, log *logger.Logger) *Cleaner {
	if retention <= 0 {
		retention = DefaultUploadRetention
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Cleaner{store: st, retention: retention, now: time.Now, log: log.With("component", "extract.cleaner")}
}

// Start sweeps every interval until ctx is done.
func (c *Cleaner) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultUploadCleanPeriod
	}
	go c.loop(ctx, interval)
}

func (c *Cleaner) loop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := c.Sweep(ctx); err != nil {
				c.log.Warn("upload cleanup failed", "error", err)
			} else if n > 0 {
				c.log.Info("removed expired uploads", "count", n)
			}
		}
	}
}

// Sweep removes every expired upload and returns how many were removed.
func (c *Cleaner) Sweep(ctx context.Context) (int, error) {
	docs, err := c.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list documents: %w", err)
	}
	cutoff := c.now().Add(-c.retention)
	removed := 0
	for _, doc := range docs {
		if !c.expired(doc, cutoff) {
			continue
		}
		if err := os.Remove(doc.FilePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			c.log.Warn("remove upload failed", "document_id", doc.ID, "path", doc.FilePath, "error", err)
			continue
		}
		// prune the per-document directory once it is empty
		_ = os.Remove(filepath.Dir(doc.FilePath))

		if _, err := c.store.Mutate(ctx, doc.ID, func(d *models.Document) error {
			d.FilePath = ""
			return nil
		}); err != nil {
			c.log.Warn("clear upload path failed", "document_id", doc.ID, "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}

func (c *Cleaner) expired(doc *models.Document, cutoff time.Time) bool {
	if doc.FilePath == "" {
		return false
	}
	switch doc.Status {
	case models.StatusCompleted:
		finished := doc.CreatedAt
		if doc.CompletedAt != nil {
			finished = *doc.CompletedAt
		}
		return finished.Before(cutoff)
	case models.StatusError:
		return doc.CreatedAt.Before(cutoff)
	default:
		return false
	}
}
