package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"docfill/internal/config"
	"docfill/internal/fill"
	"docfill/internal/models"
	"docfill/internal/storage"
)

type storeFactory func(t *testing.T) Store

func newSQLiteStore(t *testing.T) Store {
	t.Helper()
	cfg := &config.Config{Databases: map[string]config.DatabaseConfig{"sqlite3": {DSN: ":memory:"}}}
	db, err := storage.Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	st := NewSQLStore(db)
	t.Cleanup(func() { st.Close() })
	return st
}

func stores() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"sqlite": newSQLiteStore,
	}
}

func sampleDocument(id string) *models.Document {
	return &models.Document{
		ID:              id,
		Filename:        "lease.txt",
		OriginalContent: "Tenant [NAME] signs on [DATE]. [NAME] agrees.",
		Status:          models.StatusReady,
		CreatedAt:       time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC),
		Fields: []models.Field{
			{ID: "f1", Name: "Name", Placeholder: "[NAME]", OccurrenceIndex: 0, Status: models.FieldPending, Order: 1, Type: models.FieldText},
			{ID: "f2", Name: "Date", Placeholder: "[DATE]", OccurrenceIndex: 0, Status: models.FieldPending, Order: 2, Type: models.FieldDate},
			{ID: "f3", Name: "Name (2)", Placeholder: "[NAME]", OccurrenceIndex: 1, Status: models.FieldPending, Order: 3, Type: models.FieldText},
		},
	}
}

func TestStoreCreateAndGet(t *testing.T) {
	for name, factory := range stores() {
		t.Run(name, func(t *testing.T) {
			st := factory(t)
			ctx := context.Background()
			if err := st.Create(ctx, sampleDocument("d1")); err != nil {
				t.Fatalf("create: %v", err)
			}
			doc, err := st.Get(ctx, "d1")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if doc.Filename != "lease.txt" || len(doc.Fields) != 3 || doc.Status != models.StatusReady {
				t.Fatalf("unexpected document: %+v", doc)
			}
			if doc.Fields[1].Type != models.FieldDate || doc.Fields[2].OccurrenceIndex != 1 {
				t.Fatalf("fields not round-tripped: %+v", doc.Fields)
			}
			if doc.Fields[0].DocumentID != "d1" {
				t.Fatalf("document id not propagated to fields")
			}

			if _, err := st.Get(ctx, "missing"); !errors.Is(err, fill.ErrDocumentNotFound) {
				t.Fatalf("expected not found, got %v", err)
			}
			list, err := st.List(ctx)
			if err != nil || len(list) != 1 {
				t.Fatalf("list: %v %d", err, len(list))
			}
		})
	}
}

func TestStoreRejectsBrokenFieldList(t *testing.T) {
	for name, factory := range stores() {
		t.Run(name, func(t *testing.T) {
			st := factory(t)
			doc := sampleDocument("d1")
			doc.Fields[2].OccurrenceIndex = 0
			if err := st.Create(context.Background(), doc); !errors.Is(err, fill.ErrInvalidFields) {
				t.Fatalf("expected invalid fields, got %v", err)
			}
		})
	}
}

func TestSetFieldValueDerivesStatus(t *testing.T) {
	for name, factory := range stores() {
		t.Run(name, func(t *testing.T) {
			st := factory(t)
			ctx := context.Background()
			if err := st.Create(ctx, sampleDocument("d1")); err != nil {
				t.Fatalf("create: %v", err)
			}
			doc, err := SetFieldValue(ctx, st, "d1", "f1", "Jane")
			if err != nil {
				t.Fatalf("set f1: %v", err)
			}
			if doc.Status != models.StatusFilling {
				t.Fatalf("expected filling, got %s", doc.Status)
			}
			for _, id := range []string{"f2", "f3"} {
				if doc, err = SetFieldValue(ctx, st, "d1", id, "v-"+id); err != nil {
					t.Fatalf("set %s: %v", id, err)
				}
			}
			stored, err := st.Get(ctx, "d1")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if stored.Status != models.StatusCompleted || stored.CompletedAt == nil {
				t.Fatalf("expected completed with timestamp, got %s %v", stored.Status, stored.CompletedAt)
			}
			if got := fill.Render(stored.OriginalContent, stored.Fields).Text(); got != "Tenant Jane signs on v-f2. v-f3 agrees." {
				t.Fatalf("unexpected render %q", got)
			}
		})
	}
}

func TestSetFieldValueErrors(t *testing.T) {
	for name, factory := range stores() {
		t.Run(name, func(t *testing.T) {
			st := factory(t)
			ctx := context.Background()
			if err := st.Create(ctx, sampleDocument("d1")); err != nil {
				t.Fatalf("create: %v", err)
			}
			if _, err := SetFieldValue(ctx, st, "nope", "f1", "x"); !errors.Is(err, fill.ErrDocumentNotFound) {
				t.Fatalf("expected document not found, got %v", err)
			}
			if _, err := SetFieldValue(ctx, st, "d1", "nope", "x"); !errors.Is(err, fill.ErrFieldNotFound) {
				t.Fatalf("expected field not found, got %v", err)
			}
			if _, err := SetFieldValue(ctx, st, "d1", "f1", "   "); !errors.Is(err, fill.ErrInvalidAnswer) {
				t.Fatalf("expected invalid answer, got %v", err)
			}
			doc, _ := st.Get(ctx, "d1")
			if doc.Status != models.StatusReady || doc.Fields[0].Value != nil {
				t.Fatalf("failed updates must leave state unchanged: %+v", doc)
			}
		})
	}
}

func TestConcurrentSetFieldValue(t *testing.T) {
	for name, factory := range stores() {
		t.Run(name, func(t *testing.T) {
			st := factory(t)
			ctx := context.Background()
			doc := &models.Document{ID: "big", Filename: "big.txt", Status: models.StatusReady, CreatedAt: time.Now().UTC()}
			const n = 20
			for i := 0; i < n; i++ {
				doc.Fields = append(doc.Fields, models.Field{
					ID: fmt.Sprintf("f%d", i), Name: "X", Placeholder: "[X]", OccurrenceIndex: i, Status: models.FieldPending, Order: i,
				})
			}
			if err := st.Create(ctx, doc); err != nil {
				t.Fatalf("create: %v", err)
			}
			var wg sync.WaitGroup
			errs := make(chan error, n)
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					if _, err := SetFieldValue(ctx, st, "big", fmt.Sprintf("f%d", i), "v"); err != nil {
						errs <- err
					}
				}(i)
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				t.Fatalf("concurrent set: %v", err)
			}
			got, _ := st.Get(ctx, "big")
			if p := fill.ComputeProgress(got.Fields); p.Completed != n {
				t.Fatalf("lost updates: %+v", p)
			}
			if got.Status != models.StatusCompleted || got.CompletedAt == nil {
				t.Fatalf("expected completed, got %s", got.Status)
			}
		})
	}
}

// Two stores over one database file stand in for two service processes:
// their in-process locks never see each other, so only the database lock
// keeps their writes from overwriting one another.
func TestSQLStoreMutateSerializesAcrossProcesses(t *testing.T) {
	ctx := context.Background()
	cfg := &config.Config{Databases: map[string]config.DatabaseConfig{
		"sqlite3": {DSN: "file:" + filepath.Join(t.TempDir(), "shared.db")},
	}}
	open := func() *SQLStore {
		db, err := storage.Open("sqlite3", cfg)
		if err != nil {
			t.Fatalf("open sqlite: %v", err)
		}
		if err := storage.Migrate(db, "sqlite3"); err != nil {
			t.Fatalf("migrate: %v", err)
		}
		st := NewSQLStore(db)
		t.Cleanup(func() { st.Close() })
		return st
	}
	instances := []*SQLStore{open(), open()}

	doc := &models.Document{ID: "shared", Filename: "shared.txt", Status: models.StatusReady, CreatedAt: time.Now().UTC()}
	const n = 10
	for i := 0; i < n; i++ {
		doc.Fields = append(doc.Fields, models.Field{
			ID: fmt.Sprintf("f%d", i), Name: "X", Placeholder: "[X]", OccurrenceIndex: i, Status: models.FieldPending, Order: i,
		})
	}
	if err := instances[0].Create(ctx, doc); err != nil {
		t.Fatalf("create: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			st := instances[i%len(instances)]
			if _, err := SetFieldValue(ctx, st, "shared", fmt.Sprintf("f%d", i), "v"); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("set across instances: %v", err)
	}

	for _, st := range instances {
		got, err := st.Get(ctx, "shared")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if p := fill.ComputeProgress(got.Fields); p.Completed != n {
			t.Fatalf("lost updates across instances: %+v", p)
		}
		if got.Status != models.StatusCompleted {
			t.Fatalf("expected completed, got %s", got.Status)
		}
	}
}

func TestMessagesAppendOnly(t *testing.T) {
	for name, factory := range stores() {
		t.Run(name, func(t *testing.T) {
			st := factory(t)
			ctx := context.Background()
			if err := st.Create(ctx, sampleDocument("d1")); err != nil {
				t.Fatalf("create: %v", err)
			}
			fieldID := "f1"
			now := time.Now().UTC()
			msgs := []*models.ChatMessage{
				{ID: "m1", DocumentID: "d1", Role: models.RoleBot, Content: "What is the Name?", Timestamp: now, FieldID: &fieldID},
				{ID: "m2", DocumentID: "d1", Role: models.RoleUser, Content: "Jane", Timestamp: now},
			}
			for _, m := range msgs {
				if err := st.AppendMessage(ctx, m); err != nil {
					t.Fatalf("append: %v", err)
				}
			}
			got, err := st.Messages(ctx, "d1")
			if err != nil {
				t.Fatalf("messages: %v", err)
			}
			if len(got) != 2 || got[0].ID != "m1" || got[1].Role != models.RoleUser {
				t.Fatalf("unexpected history: %+v", got)
			}
			if got[0].FieldID == nil || *got[0].FieldID != "f1" {
				t.Fatalf("field id lost")
			}
			if err := st.AppendMessage(ctx, &models.ChatMessage{ID: "m3", DocumentID: "nope", Role: models.RoleBot}); !errors.Is(err, fill.ErrDocumentNotFound) {
				t.Fatalf("expected not found, got %v", err)
			}
		})
	}
}

func TestTransitionEnforcesTable(t *testing.T) {
	st := NewMemoryStore()
	ctx := context.Background()
	doc := sampleDocument("d1")
	doc.Status = models.StatusProcessing
	if err := st.Create(ctx, doc); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := Transition(ctx, st, "d1", models.StatusError); err != nil {
		t.Fatalf("processing -> error: %v", err)
	}
	if _, err := Transition(ctx, st, "d1", models.StatusReady); !errors.Is(err, fill.ErrInvalidTransition) {
		t.Fatalf("error is terminal, got %v", err)
	}
}
