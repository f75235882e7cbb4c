package models

import (
	"fmt"
	"time"
)

type Role string

const (
	RoleBot  Role = "bot"
	RoleUser Role = "user"
)

// ParseRole validates a stored role string.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleBot, RoleUser:
		return Role(s), nil
	default:
		return "", fmt.Errorf("unknown chat role %q", s)
	}
}

// ChatMessage is one entry of a document's append-only filling transcript.
type ChatMessage struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"documentId"`
	Role       Role      `json:"role"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
	FieldID    *string   `json:"fieldId,omitempty"`
}
