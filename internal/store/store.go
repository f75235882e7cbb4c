// Package store holds the authoritative field state of every document.
//
// All writes go through Mutate, which runs a caller function against a
// private copy of one document while holding that document's lock and
// publishes the result in one step. Readers receive deep copies, so they
// never observe a half-applied update.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"docfill/internal/fill"
	"docfill/internal/models"
)

type Store interface {
	Create(ctx context.Context, doc *models.Document) error
	Get(ctx context.Context, id string) (*models.Document, error)
	List(ctx context.Context) ([]*models.Document, error)
	// Mutate applies fn to a copy of the document and commits it if fn
	// returns nil. The committed snapshot is returned.
	Mutate(ctx context.Context, id string, fn func(doc *models.Document) error) (*models.Document, error)
	AppendMessage(ctx context.Context, msg *models.ChatMessage) error
	Messages(ctx context.Context, documentID string) ([]*models.ChatMessage, error)
	Close() error
}

// Clock is swapped in tests.
var Clock = func() time.Time { return time.Now().UTC() }

// SetFieldValue fills one field and recomputes the document status as a
// single atomic update.
func SetFieldValue(ctx context.Context, st Store, documentID, fieldID, value string) (*models.Document, error) {
	if strings.TrimSpace(value) == "" {
		return nil, fill.ErrInvalidAnswer
	}
	doc, err := st.Mutate(ctx, documentID, func(doc *models.Document) error {
		return fill.SetValue(doc, fieldID, value, Clock())
	})
	if err != nil {
		return nil, fmt.Errorf("set field value: %w", err)
	}
	return doc, nil
}

// Transition moves a document to next, enforcing the status table.
func Transition(ctx context.Context, st Store, documentID string, next models.DocumentStatus) (*models.Document, error) {
	return st.Mutate(ctx, documentID, func(doc *models.Document) error {
		if doc.Status == next {
			return nil
		}
		if !doc.Status.CanTransitionTo(next) {
			return fmt.Errorf("%w: %s -> %s", fill.ErrInvalidTransition, doc.Status, next)
		}
		doc.Status = next
		return nil
	})
}

func validateNew(doc *models.Document) error {
	if doc == nil || doc.ID == "" {
		return fmt.Errorf("%w: document id is required", fill.ErrInvalidFields)
	}
	if !doc.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", fill.ErrInvalidTransition, doc.Status)
	}
	for i := range doc.Fields {
		doc.Fields[i].DocumentID = doc.ID
	}
	return fill.ValidateFields(doc.Fields)
}

func notFound(id string) error {
	return fmt.Errorf("document %s: %w", id, fill.ErrDocumentNotFound)
}
