package extract

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"docfill/internal/fill"
	"docfill/internal/logger"
	"docfill/internal/models"
	"docfill/internal/store"
)

var ErrNoPlaceholders = errors.New("no placeholders found")

type ContentLoader interface {
	Load(ctx context.Context, path string) (string, error)
}

// Proposer suggests fields for a document, typically backed by a model.
type Proposer interface {
	ProposeFields(ctx context.Context, content string) ([]Proposal, error)
}

// Processor turns uploaded documents into fillable ones in the background.
type Processor struct {
	store    store.Store
	loader   ContentLoader
	proposer Proposer
	sem      *semaphore.Weighted
	log      *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewProcessor(st store.Store, loader ContentLoader, proposer Proposer, maxConcurrent int64, log *logger.Logger) *Processor {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	if log == nil {
		log = logger.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Processor{
		store:    st,
		loader:   loader,
		proposer: proposer,
		sem:      semaphore.NewWeighted(maxConcurrent),
		log:      log.With("component", "extract"),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Submit schedules extraction for a document and returns immediately.
func (p *Processor) Submit(documentID string) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.Process(p.ctx, documentID); err != nil {
			p.log.Warn("extraction failed", "document_id", documentID, "error", err)
		}
	}()
}

// Process extracts fields for one document and moves it to Ready, or to
// Error when nothing fillable was found.
func (p *Processor) Process(ctx context.Context, documentID string) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)

	doc, err := store.Transition(ctx, p.store, documentID, models.StatusProcessing)
	if err != nil {
		return fmt.Errorf("start processing: %w", err)
	}

	content := doc.OriginalContent
	if content == "" && doc.FilePath != "" {
		if p.loader == nil {
			return p.fail(ctx, documentID, errors.New("no file loader configured"))
		}
		if content, err = p.loader.Load(ctx, doc.FilePath); err != nil {
			return p.fail(ctx, documentID, err)
		}
	}

	fields := BuildFields(documentID, content, p.propose(ctx, documentID, content))
	if len(fields) == 0 {
		return p.fail(ctx, documentID, ErrNoPlaceholders)
	}

	_, err = p.store.Mutate(ctx, documentID, func(d *models.Document) error {
		if !d.Status.CanTransitionTo(models.StatusReady) {
			return fmt.Errorf("document %s moved to %s during extraction", documentID, d.Status)
		}
		if err := fill.ValidateFields(fields); err != nil {
			return err
		}
		d.OriginalContent = content
		d.Fields = fields
		d.Status = models.StatusReady
		return nil
	})
	if err != nil {
		return fmt.Errorf("store fields: %w", err)
	}
	p.log.Info("document ready", "document_id", documentID, "fields", len(fields))
	return nil
}

// Wait blocks until every submitted extraction has finished.
func (p *Processor) Wait() {
	p.wg.Wait()
}

// Close cancels pending extractions and waits for running ones.
func (p *Processor) Close() {
	p.cancel()
	p.wg.Wait()
}

func (p *Processor) propose(ctx context.Context, documentID, content string) []Proposal {
	if p.proposer != nil {
		proposals, err := p.proposer.ProposeFields(ctx, content)
		if err == nil && len(BuildFields(documentID, content, proposals)) > 0 {
			return proposals
		}
		p.log.Warn("model field proposal unusable, using pattern discovery", "document_id", documentID, "error", err)
	}
	return Discover(content)
}

func (p *Processor) fail(ctx context.Context, documentID string, cause error) error {
	if _, err := store.Transition(ctx, p.store, documentID, models.StatusError); err != nil {
		p.log.Error("mark document failed", "document_id", documentID, "error", err)
	}
	return fmt.Errorf("extract %s: %w", documentID, cause)
}
