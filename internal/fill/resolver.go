package fill

import (
	"fmt"
	"sort"

	"docfill/internal/models"
)

// Ordered returns a copy of fields sorted by Order. Fields sharing an Order
// keep their relative position.
func Ordered(fields []models.Field) []models.Field {
	out := make([]models.Field, len(fields))
	copy(out, fields)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Order < out[j].Order
	})
	return out
}

// NextPending returns the lowest-order pending field. The boolean is false
// when every field is filled.
func NextPending(fields []models.Field) (models.Field, bool) {
	for _, f := range Ordered(fields) {
		if f.Status == models.FieldPending {
			return f, true
		}
	}
	return models.Field{}, false
}

// ValidateFields checks the structural invariants of a field list: unique
// ids, known statuses and, per placeholder, occurrence indices that cover
// 0..n-1 exactly once.
func ValidateFields(fields []models.Field) error {
	ids := make(map[string]struct{}, len(fields))
	occurrences := make(map[string][]bool)
	counts := make(map[string]int)
	for _, f := range fields {
		if f.ID == "" {
			return fmt.Errorf("%w: field id is required", ErrInvalidFields)
		}
		if _, dup := ids[f.ID]; dup {
			return fmt.Errorf("%w: duplicate field id %s", ErrInvalidFields, f.ID)
		}
		ids[f.ID] = struct{}{}
		if f.Placeholder == "" {
			return fmt.Errorf("%w: field %s has no placeholder", ErrInvalidFields, f.ID)
		}
		if !f.Status.Valid() {
			return fmt.Errorf("%w: field %s has status %q", ErrInvalidFields, f.ID, f.Status)
		}
		if f.Status == models.FieldFilled && f.Value == nil {
			return fmt.Errorf("%w: filled field %s has no value", ErrInvalidFields, f.ID)
		}
		counts[f.Placeholder]++
	}
	for _, f := range fields {
		seen, ok := occurrences[f.Placeholder]
		if !ok {
			seen = make([]bool, counts[f.Placeholder])
			occurrences[f.Placeholder] = seen
		}
		if f.OccurrenceIndex < 0 || f.OccurrenceIndex >= len(seen) {
			return fmt.Errorf("%w: field %s occurrence %d outside 0..%d for %s",
				ErrInvalidFields, f.ID, f.OccurrenceIndex, len(seen)-1, f.Placeholder)
		}
		if seen[f.OccurrenceIndex] {
			return fmt.Errorf("%w: occurrence %d of %s claimed twice", ErrInvalidFields, f.OccurrenceIndex, f.Placeholder)
		}
		seen[f.OccurrenceIndex] = true
	}
	return nil
}
