package models

import (
	"encoding/json"
	"fmt"
)

// DocumentStatus is the lifecycle phase of a document.
type DocumentStatus string

const (
	StatusUploading  DocumentStatus = "uploading"
	StatusProcessing DocumentStatus = "processing"
	StatusReady      DocumentStatus = "ready"
	StatusFilling    DocumentStatus = "filling"
	StatusCompleted  DocumentStatus = "completed"
	StatusError      DocumentStatus = "error"
)

// documentTransitions lists every permitted move. A status absent from a
// row's targets cannot be reached from that row.
var documentTransitions = map[DocumentStatus][]DocumentStatus{
	StatusUploading:  {StatusProcessing, StatusReady, StatusError},
	StatusProcessing: {StatusReady, StatusFilling, StatusCompleted, StatusError},
	StatusReady:      {StatusFilling, StatusCompleted, StatusError},
	StatusFilling:    {StatusFilling, StatusCompleted, StatusError},
	StatusCompleted:  {StatusCompleted},
	StatusError:      {},
}

func (s DocumentStatus) Valid() bool {
	_, ok := documentTransitions[s]
	return ok
}

// CanTransitionTo reports whether s may move to next.
func (s DocumentStatus) CanTransitionTo(next DocumentStatus) bool {
	for _, candidate := range documentTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// Fillable reports whether the conversation may run against the document.
func (s DocumentStatus) Fillable() bool {
	switch s {
	case StatusReady, StatusFilling, StatusCompleted:
		return true
	case StatusUploading, StatusProcessing, StatusError:
		return false
	}
	return false
}

func ParseDocumentStatus(s string) (DocumentStatus, error) {
	status := DocumentStatus(s)
	if !status.Valid() {
		return "", fmt.Errorf("unknown document status %q", s)
	}
	return status, nil
}

func (s *DocumentStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseDocumentStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// FieldStatus is the answer state of a single field.
type FieldStatus string

const (
	FieldPending FieldStatus = "pending"
	FieldFilled  FieldStatus = "filled"
)

var fieldTransitions = map[FieldStatus][]FieldStatus{
	FieldPending: {FieldFilled},
	FieldFilled:  {FieldFilled},
}

func (s FieldStatus) Valid() bool {
	_, ok := fieldTransitions[s]
	return ok
}

func (s FieldStatus) CanTransitionTo(next FieldStatus) bool {
	for _, candidate := range fieldTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

func ParseFieldStatus(s string) (FieldStatus, error) {
	status := FieldStatus(s)
	if !status.Valid() {
		return "", fmt.Errorf("unknown field status %q", s)
	}
	return status, nil
}

func (s *FieldStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseFieldStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
