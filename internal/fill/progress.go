package fill

import (
	"fmt"
	"math"
	"time"

	"docfill/internal/models"
)

type Progress struct {
	Completed  int `json:"completed"`
	Total      int `json:"total"`
	Percentage int `json:"percentage"`
}

func ComputeProgress(fields []models.Field) Progress {
	p := Progress{Total: len(fields)}
	for _, f := range fields {
		if f.Status == models.FieldFilled {
			p.Completed++
		}
	}
	if p.Total > 0 {
		p.Percentage = int(math.Round(100 * float64(p.Completed) / float64(p.Total)))
	}
	return p
}

// DeriveStatus maps progress onto a document status. With nothing filled
// the current status is kept.
func DeriveStatus(current models.DocumentStatus, p Progress) models.DocumentStatus {
	switch {
	case p.Total > 0 && p.Completed == p.Total:
		return models.StatusCompleted
	case p.Completed > 0:
		return models.StatusFilling
	default:
		return current
	}
}

// ApplyProgress recomputes doc.Status from its fields and stamps
// CompletedAt on the move into Completed.
func ApplyProgress(doc *models.Document, now time.Time) (Progress, error) {
	p := ComputeProgress(doc.Fields)
	next := DeriveStatus(doc.Status, p)
	if next == doc.Status {
		return p, nil
	}
	if !doc.Status.CanTransitionTo(next) {
		return p, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, doc.Status, next)
	}
	if next == models.StatusCompleted {
		at := now
		doc.CompletedAt = &at
	}
	doc.Status = next
	return p, nil
}

// SetValue fills one field of doc and recomputes the document status as a
// single step on the caller's copy.
func SetValue(doc *models.Document, fieldID, value string, now time.Time) error {
	f := doc.FieldByID(fieldID)
	if f == nil {
		return fmt.Errorf("set field %s: %w", fieldID, ErrFieldNotFound)
	}
	if !f.Status.CanTransitionTo(models.FieldFilled) {
		return fmt.Errorf("set field %s: %w: %s -> %s", fieldID, ErrInvalidTransition, f.Status, models.FieldFilled)
	}
	prev := *f
	v := value
	f.Value = &v
	f.Status = models.FieldFilled
	if _, err := ApplyProgress(doc, now); err != nil {
		*f = prev
		return fmt.Errorf("set field %s: %w", fieldID, err)
	}
	return nil
}
