package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"docfill/internal/models"
)

// MemoryStore keeps documents in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	docs     map[string]*models.Document
	messages map[string][]*models.ChatMessage
	locks    *keyedMutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:     make(map[string]*models.Document),
		messages: make(map[string][]*models.ChatMessage),
		locks:    newKeyedMutex(),
	}
}

func (s *MemoryStore) Create(ctx context.Context, doc *models.Document) error {
	if err := validateNew(doc); err != nil {
		return fmt.Errorf("create document: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.docs[doc.ID]; exists {
		return fmt.Errorf("create document: %s already exists", doc.ID)
	}
	s.docs[doc.ID] = doc.Clone()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, notFound(id)
	}
	return doc.Clone(), nil
}

func (s *MemoryStore) List(ctx context.Context) ([]*models.Document, error) {
	s.mu.RLock()
	out := make([]*models.Document, 0, len(s.docs))
	for _, doc := range s.docs {
		out = append(out, doc.Clone())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) Mutate(ctx context.Context, id string, fn func(doc *models.Document) error) (*models.Document, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	working, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(working); err != nil {
		return nil, err
	}
	working.ID = id

	s.mu.Lock()
	s.docs[id] = working
	s.mu.Unlock()
	return working.Clone(), nil
}

func (s *MemoryStore) AppendMessage(ctx context.Context, msg *models.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[msg.DocumentID]; !ok {
		return notFound(msg.DocumentID)
	}
	cp := *msg
	s.messages[msg.DocumentID] = append(s.messages[msg.DocumentID], &cp)
	return nil
}

func (s *MemoryStore) Messages(ctx context.Context, documentID string) ([]*models.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.docs[documentID]; !ok {
		return nil, notFound(documentID)
	}
	history := s.messages[documentID]
	out := make([]*models.ChatMessage, len(history))
	for i, m := range history {
		cp := *m
		out[i] = &cp
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
