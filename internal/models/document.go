package models

import "time"

// FieldType is a hint used when phrasing the question for a field.
type FieldType string

const (
	FieldText    FieldType = "text"
	FieldDate    FieldType = "date"
	FieldEmail   FieldType = "email"
	FieldPhone   FieldType = "phone"
	FieldAddress FieldType = "address"
	FieldNumber  FieldType = "number"
)

// Field binds one occurrence of a placeholder token to an answer.
type Field struct {
	ID              string      `json:"id"`
	DocumentID      string      `json:"documentId"`
	Name            string      `json:"name"`
	Placeholder     string      `json:"placeholder"`
	OccurrenceIndex int         `json:"occurrenceIndex"`
	Value           *string     `json:"value"`
	Status          FieldStatus `json:"status"`
	Order           int         `json:"order"`
	Type            FieldType   `json:"type,omitempty"`
}

func (f Field) Filled() bool {
	return f.Status == FieldFilled
}

// Document owns its fields; a snapshot returned by a store is a deep copy.
type Document struct {
	ID              string         `json:"id"`
	Filename        string         `json:"filename"`
	OriginalContent string         `json:"originalContent"`
	FilePath        string         `json:"filePath,omitempty"`
	Status          DocumentStatus `json:"status"`
	CreatedAt       time.Time      `json:"createdAt"`
	CompletedAt     *time.Time     `json:"completedAt,omitempty"`
	Fields          []Field        `json:"fields"`
}

// Clone returns a copy that shares no mutable state with d.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	out := *d
	if d.CompletedAt != nil {
		at := *d.CompletedAt
		out.CompletedAt = &at
	}
	out.Fields = make([]Field, len(d.Fields))
	for i, f := range d.Fields {
		if f.Value != nil {
			v := *f.Value
			f.Value = &v
		}
		out.Fields[i] = f
	}
	return &out
}

// FieldByID returns a pointer into d.Fields, or nil.
func (d *Document) FieldByID(id string) *Field {
	for i := range d.Fields {
		if d.Fields[i].ID == id {
			return &d.Fields[i]
		}
	}
	return nil
}
