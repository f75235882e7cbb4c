package worker

import (
	"context"
	"fmt"

	"docfill/internal/logger"
)

type task struct {
	ctx  context.Context
	fn   func() error
	done chan error
}

type documentWorker struct {
	documentID string
	tasks      chan task
	stop       chan struct{}
}

func newDocumentWorker(documentID string, queueLen int) *documentWorker {
	return &documentWorker{
		documentID: documentID,
		tasks:      make(chan task, queueLen),
		stop:       make(chan struct{}),
	}
}

func (w *documentWorker) execute(t task, log *logger.Logger) {
	if t.ctx != nil {
		if err := t.ctx.Err(); err != nil {
			t.done <- err
			return
		}
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error("document task panicked", "document_id", w.documentID, "panic", r)
			t.done <- fmt.Errorf("document %s task panicked: %v", w.documentID, r)
		}
	}()
	t.done <- t.fn()
}

func (w *documentWorker) drain(err error) {
	for {
		select {
		case t := <-w.tasks:
			t.done <- err
		default:
			return
		}
	}
}
