package logger

import "testing"

func TestRedactMasksSecrets(t *testing.T) {
	got := redact([]interface{}{"api_key", "sk-123", "document_id", "d1", "dangling"})
	if len(got) != 5 {
		t.Fatalf("unexpected length %d", len(got))
	}
	if got[1] != "[REDACTED]" {
		t.Fatalf("api key not redacted: %v", got[1])
	}
	if got[3] != "d1" {
		t.Fatalf("document id altered: %v", got[3])
	}
	if got[4] != "dangling" {
		t.Fatalf("odd trailing key dropped")
	}
}

func TestNewModes(t *testing.T) {
	for _, mode := range []string{"development", "production"} {
		l, err := New(mode)
		if err != nil {
			t.Fatalf("%s: %v", mode, err)
		}
		l.With("component", "test").Debug("hello", "k", "v")
	}
	Nop().Info("discarded")
}
