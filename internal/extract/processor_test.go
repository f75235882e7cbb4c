package extract

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"docfill/internal/fill"
	"docfill/internal/logger"
	"docfill/internal/models"
	"docfill/internal/store"
)

type stubProposer struct {
	proposals []Proposal
	err       error
}

func (s stubProposer) ProposeFields(context.Context, string) ([]Proposal, error) {
	return s.proposals, s.err
}

func newUploadedDocument(t *testing.T, st store.Store, id, content, path string) {
	t.Helper()
	doc := &models.Document{
		ID:              id,
		Filename:        "template.txt",
		OriginalContent: content,
		FilePath:        path,
		Status:          models.StatusUploading,
		CreatedAt:       time.Now().UTC(),
	}
	if err := st.Create(context.Background(), doc); err != nil {
		t.Fatalf("create: %v", err)
	}
}

func TestProcessFromFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "template.txt")
	if err := os.WriteFile(path, []byte("Hello [NAME], due {DUE_DATE}."), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	loader, err := NewFileLoader(ctx)
	if err != nil {
		t.Fatalf("loader: %v", err)
	}
	st := store.NewMemoryStore()
	newUploadedDocument(t, st, "d1", "", path)

	p := NewProcessor(st, loader, nil, 2, logger.Nop())
	defer p.Close()
	if err := p.Process(ctx, "d1"); err != nil {
		t.Fatalf("process: %v", err)
	}
	doc, _ := st.Get(ctx, "d1")
	if doc.Status != models.StatusReady || len(doc.Fields) != 2 {
		t.Fatalf("unexpected document %+v", doc)
	}
	if doc.OriginalContent != "Hello [NAME], due {DUE_DATE}." {
		t.Fatalf("content not stored: %q", doc.OriginalContent)
	}
	if doc.Fields[1].Type != models.FieldDate {
		t.Fatalf("type not guessed: %+v", doc.Fields[1])
	}
}

func TestProcessWithoutPlaceholdersFails(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	newUploadedDocument(t, st, "d1", "nothing to fill", "")
	p := NewProcessor(st, nil, nil, 1, logger.Nop())
	defer p.Close()
	if err := p.Process(ctx, "d1"); !errors.Is(err, ErrNoPlaceholders) {
		t.Fatalf("expected no placeholders, got %v", err)
	}
	doc, _ := st.Get(ctx, "d1")
	if doc.Status != models.StatusError {
		t.Fatalf("expected error status, got %s", doc.Status)
	}
}

func TestProcessPrefersProposerAndFallsBack(t *testing.T) {
	ctx := context.Background()
	content := "[A] and [B]"

	st := store.NewMemoryStore()
	newUploadedDocument(t, st, "d1", content, "")
	p := NewProcessor(st, nil, stubProposer{proposals: []Proposal{
		{Name: "Second", Placeholder: "[B]", Order: 1},
		{Name: "First", Placeholder: "[A]", Order: 2},
	}}, 1, logger.Nop())
	if err := p.Process(ctx, "d1"); err != nil {
		t.Fatalf("process: %v", err)
	}
	doc, _ := st.Get(ctx, "d1")
	next, _ := fill.NextPending(doc.Fields)
	if next.Name != "Second" {
		t.Fatalf("proposal order ignored, next is %s", next.Name)
	}

	newUploadedDocument(t, st, "d2", content, "")
	p = NewProcessor(st, nil, stubProposer{err: errors.New("offline")}, 1, logger.Nop())
	if err := p.Process(ctx, "d2"); err != nil {
		t.Fatalf("process fallback: %v", err)
	}
	doc, _ = st.Get(ctx, "d2")
	if len(doc.Fields) != 2 || doc.Fields[0].Name != "A" {
		t.Fatalf("expected pattern discovery fallback, got %+v", doc.Fields)
	}
}

func TestSubmitRunsInBackground(t *testing.T) {
	st := store.NewMemoryStore()
	newUploadedDocument(t, st, "d1", "[X]", "")
	p := NewProcessor(st, nil, nil, 1, logger.Nop())
	defer p.Close()
	p.Submit("d1")
	p.Wait()
	doc, _ := st.Get(context.Background(), "d1")
	if doc.Status != models.StatusReady {
		t.Fatalf("expected ready after background extraction, got %s", doc.Status)
	}
}
