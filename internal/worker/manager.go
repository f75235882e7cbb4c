// Package worker runs every write for a document on a goroutine owned by
// that document, so answers for one document are applied strictly one at a
// time while different documents proceed in parallel.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"docfill/internal/logger"
)

const (
	defaultQueueLen    = 16
	defaultIdleTimeout = 5 * time.Minute
)

var (
	ErrQueueFull = errors.New("document queue full")
	ErrStopped   = errors.New("worker manager stopped")
)

type Config struct {
	QueueSize   int
	IdleTimeout time.Duration
}

type Manager struct {
	cfg Config
	log *logger.Logger

	mu      sync.Mutex
	workers map[string]*documentWorker
	stopped bool
	retired func(documentID string)
	wg      sync.WaitGroup
}

func NewManager(cfg Config, log *logger.Logger) *Manager {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueLen
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Manager{
		cfg:     cfg,
		log:     log.With("component", "worker"),
		workers: make(map[string]*documentWorker),
	}
}

// Run executes fn on the document's worker and waits for it. A full queue
// fails fast with ErrQueueFull. If ctx ends first Run returns ctx.Err()
// and a task that has not started yet is dropped.
func (m *Manager) Run(ctx context.Context, documentID string, fn func() error) error {
	t := task{ctx: ctx, fn: fn, done: make(chan error, 1)}

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return ErrStopped
	}
	w := m.ensureWorker(documentID)
	select {
	case w.tasks <- t:
	default:
		m.mu.Unlock()
		return fmt.Errorf("document %s: %w", documentID, ErrQueueFull)
	}
	m.mu.Unlock()

	select {
	case err := <-t.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnRetire registers fn to be called after an idle document worker has
// been retired. Per-document state kept alongside the worker can be
// released there.
func (m *Manager) OnRetire(fn func(documentID string)) {
	m.mu.Lock()
	m.retired = fn
	m.mu.Unlock()
}

// Active reports how many documents currently have a live worker.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.workers)
}

// Stop retires every worker. Queued tasks fail with ErrStopped.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	for _, w := range m.workers {
		close(w.stop)
	}
	m.mu.Unlock()
	m.wg.Wait()
}

// ensureWorker must be called with m.mu held.
func (m *Manager) ensureWorker(documentID string) *documentWorker {
	if w, ok := m.workers[documentID]; ok {
		return w
	}
	w := newDocumentWorker(documentID, m.cfg.QueueSize)
	m.workers[documentID] = w
	m.wg.Add(1)
	go m.runWorker(w)
	return w
}

func (m *Manager) runWorker(w *documentWorker) {
	defer m.wg.Done()
	idle := time.NewTimer(m.cfg.IdleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-w.stop:
			w.drain(ErrStopped)
			m.log.Debug("document worker stopped", "document_id", w.documentID)
			return
		case t := <-w.tasks:
			w.execute(t, m.log)
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(m.cfg.IdleTimeout)
		case <-idle.C:
			if ok, hook := m.retire(w); ok {
				m.log.Debug("document worker retired", "document_id", w.documentID)
				if hook != nil {
					hook(w.documentID)
				}
				return
			}
			idle.Reset(m.cfg.IdleTimeout)
		}
	}
}

// retire removes an idle worker unless a task slipped in; enqueueing
// happens under m.mu so nothing can be lost between the check and delete.
func (m *Manager) retire(w *documentWorker) (bool, func(string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(w.tasks) > 0 || m.stopped {
		return false, nil
	}
	delete(m.workers, w.documentID)
	return true, m.retired
}
