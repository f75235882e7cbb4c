package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"docfill/internal/logger"
	"docfill/internal/models"
	"docfill/internal/redis"
)

const (
	invalidateChannel = "docfill:invalidate"
	documentKeyPrefix = "docfill:document:"
)

type invalidateMessage struct {
	DocumentID string `json:"document_id"`
	Origin     string `json:"origin"`
}

// CachedStore fronts another Store with a redis snapshot cache. Every
// committed mutation refreshes the snapshot and is announced on a pub/sub
// channel so other instances can drop state derived from it.
type CachedStore struct {
	inner    Store
	client   *redis.Client
	ttl      time.Duration
	instance string
	log      *logger.Logger
}

func NewCachedStore(inner Store, client *redis.Client, ttl time.Duration, log *logger.Logger) *CachedStore {
	if log == nil {
		log = logger.Nop()
	}
	return &CachedStore{
		inner:    inner,
		client:   client,
		ttl:      ttl,
		instance: uuid.NewString(),
		log:      log.With("component", "store.cache"),
	}
}

func documentKey(id string) string {
	return documentKeyPrefix + id
}

func (s *CachedStore) Create(ctx context.Context, doc *models.Document) error {
	if err := s.inner.Create(ctx, doc); err != nil {
		return err
	}
	s.cache(ctx, doc)
	return nil
}

func (s *CachedStore) Get(ctx context.Context, id string) (*models.Document, error) {
	raw, err := s.client.Get(ctx, documentKey(id))
	switch {
	case err == nil:
		var doc models.Document
		decErr := json.Unmarshal([]byte(raw), &doc)
		if decErr == nil {
			return &doc, nil
		}
		s.log.Warn("decode cached document failed", "document_id", id, "error", decErr)
	case !errors.Is(err, redis.ErrCacheMiss):
		s.log.Warn("read cached document failed", "document_id", id, "error", err)
	}

	doc, err := s.inner.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, doc)
	return doc, nil
}

func (s *CachedStore) List(ctx context.Context) ([]*models.Document, error) {
	return s.inner.List(ctx)
}

func (s *CachedStore) Mutate(ctx context.Context, id string, fn func(doc *models.Document) error) (*models.Document, error) {
	doc, err := s.inner.Mutate(ctx, id, fn)
	if err != nil {
		return nil, err
	}
	s.cache(ctx, doc)
	s.publish(ctx, id)
	return doc, nil
}

func (s *CachedStore) AppendMessage(ctx context.Context, msg *models.ChatMessage) error {
	return s.inner.AppendMessage(ctx, msg)
}

func (s *CachedStore) Messages(ctx context.Context, documentID string) ([]*models.ChatMessage, error) {
	return s.inner.Messages(ctx, documentID)
}

func (s *CachedStore) Close() error {
	return s.inner.Close()
}

// Subscribe calls handler with the id of every document mutated by another
// instance, until ctx is cancelled.
func (s *CachedStore) Subscribe(ctx context.Context, handler func(documentID string)) error {
	return s.client.Subscribe(ctx, invalidateChannel, func(payload string) {
		var msg invalidateMessage
		if err := json.Unmarshal([]byte(payload), &msg); err != nil {
			s.log.Warn("decode invalidation failed", "error", err)
			return
		}
		if msg.Origin == s.instance {
			return
		}
		handler(msg.DocumentID)
	})
}

func (s *CachedStore) cache(ctx context.Context, doc *models.Document) {
	data, err := json.Marshal(doc)
	if err != nil {
		s.log.Warn("encode document failed", "document_id", doc.ID, "error", err)
		return
	}
	if err := s.client.Set(ctx, documentKey(doc.ID), data, s.ttl); err != nil {
		s.log.Warn("cache document failed", "document_id", doc.ID, "error", err)
	}
}

func (s *CachedStore) publish(ctx context.Context, id string) {
	payload, err := json.Marshal(invalidateMessage{DocumentID: id, Origin: s.instance})
	if err != nil {
		s.log.Warn("encode invalidation failed", "error", err)
		return
	}
	if err := s.client.Publish(ctx, invalidateChannel, payload); err != nil {
		s.log.Warn(fmt.Sprintf("publish invalidation on %s failed", invalidateChannel), "document_id", id, "error", err)
	}
}
