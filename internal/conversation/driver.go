// Package conversation sequences one question per pending field and turns
// answers into field updates.
//
// The driver walks AwaitingFirstQuestion -> AwaitingAnswer(field) ->
// Answered -> ... -> Complete. Every question appends exactly one bot
// message and every stored answer one user message, which is what lets a
// forgotten session be rebuilt from the transcript. All work for a
// document runs through an Executor so two answers for the same document
// never interleave.
package conversation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"docfill/internal/fill"
	"docfill/internal/logger"
	"docfill/internal/models"
	"docfill/internal/store"
)

// Executor serializes work per document.
type Executor interface {
	Run(ctx context.Context, documentID string, fn func() error) error
}

// retirer is implemented by executors that release idle documents.
type retirer interface {
	OnRetire(fn func(documentID string))
}

type Question struct {
	Question  string  `json:"question"`
	FieldID   *string `json:"fieldId"`
	FieldName *string `json:"fieldName"`
}

type SubmitResult struct {
	Success      bool    `json:"success"`
	NextQuestion *string `json:"nextQuestion"`
	NextFieldID  *string `json:"nextFieldId"`
}

type Options struct {
	// QuestionTimeout bounds a single Questioner call.
	QuestionTimeout time.Duration
}

type Driver struct {
	store     store.Store
	exec      Executor
	questions Questioner
	log       *logger.Logger
	timeout   time.Duration

	mu       sync.Mutex
	sessions map[string]*session
}

func NewDriver(st store.Store, exec Executor, questions Questioner, log *logger.Logger, opts Options) *Driver {
	if questions == nil {
		questions = TemplateQuestioner{}
	}
	if log == nil {
		log = logger.Nop()
	}
	if opts.QuestionTimeout <= 0 {
		opts.QuestionTimeout = 10 * time.Second
	}
	d := &Driver{
		store:     st,
		exec:      exec,
		questions: questions,
		log:       log.With("component", "conversation"),
		timeout:   opts.QuestionTimeout,
		sessions:  make(map[string]*session),
	}
	// sessions live as long as the document's worker
	if r, ok := exec.(retirer); ok {
		r.OnRetire(d.Forget)
	}
	return d
}

// Next returns the question currently awaiting an answer, asking a new one
// if needed. Once every field is filled it returns the completion shape
// with a nil FieldID.
func (d *Driver) Next(ctx context.Context, documentID string) (Question, error) {
	var out Question
	err := d.exec.Run(ctx, documentID, func() error {
		doc, err := d.fillable(ctx, documentID)
		if err != nil {
			return err
		}
		sess, err := d.session(ctx, documentID)
		if err != nil {
			return err
		}
		if sess.state == AwaitingAnswer {
			if field := doc.FieldByID(sess.awaiting); field != nil {
				out = questionFor(sess.question, *field)
				return nil
			}
		}
		out, err = d.advance(ctx, doc, sess)
		return err
	})
	return out, err
}

// Submit records an answer for the awaited field and moves to the next
// pending one. Answers for any other field are rejected without touching
// the store. The value is stored before the answer is written to the
// transcript; if a later step fails the session is left answered, so the
// following Next resolves the next pending field.
func (d *Driver) Submit(ctx context.Context, documentID, fieldID, value string) (SubmitResult, error) {
	if strings.TrimSpace(value) == "" {
		return SubmitResult{}, fill.ErrInvalidAnswer
	}
	var out SubmitResult
	err := d.exec.Run(ctx, documentID, func() error {
		doc, err := d.fillable(ctx, documentID)
		if err != nil {
			return err
		}
		if doc.FieldByID(fieldID) == nil {
			return fmt.Errorf("submit answer for %s: %w", fieldID, fill.ErrFieldNotFound)
		}
		sess, err := d.session(ctx, documentID)
		if err != nil {
			return err
		}
		if sess.state != AwaitingAnswer || sess.awaiting != fieldID {
			return fmt.Errorf("submit answer for %s: %w", fieldID, fill.ErrFieldNotAwaited)
		}

		updated, err := store.SetFieldValue(ctx, d.store, documentID, fieldID, value)
		if err != nil {
			return err
		}
		sess.state = Answered
		sess.awaiting = ""
		d.log.Info("field answered", "document_id", documentID, "field_id", fieldID, "status", updated.Status)

		fid := fieldID
		if err := d.emit(ctx, documentID, models.RoleUser, value, &fid); err != nil {
			return err
		}

		next, err := d.advance(ctx, updated, sess)
		if err != nil {
			return err
		}
		out = SubmitResult{Success: true}
		if next.FieldID != nil {
			q := next.Question
			out.NextQuestion = &q
			out.NextFieldID = next.FieldID
		}
		return nil
	})
	return out, err
}

// Edit re-opens a field out of sequence. The next answer for it resumes
// normal resolution afterwards.
func (d *Driver) Edit(ctx context.Context, documentID, fieldID string) (Question, error) {
	var out Question
	err := d.exec.Run(ctx, documentID, func() error {
		doc, err := d.fillable(ctx, documentID)
		if err != nil {
			return err
		}
		field := doc.FieldByID(fieldID)
		if field == nil {
			return fmt.Errorf("edit %s: %w", fieldID, fill.ErrFieldNotFound)
		}
		sess, err := d.session(ctx, documentID)
		if err != nil {
			return err
		}
		prompt := editPrompt(*field)
		if err := d.enter(ctx, documentID, sess, *field, prompt); err != nil {
			return err
		}
		out = questionFor(prompt, *field)
		return nil
	})
	return out, err
}

// History returns the chat transcript in append order.
func (d *Driver) History(ctx context.Context, documentID string) ([]*models.ChatMessage, error) {
	return d.store.Messages(ctx, documentID)
}

// Forget drops the cached session so it is rebuilt from the transcript on
// next use.
func (d *Driver) Forget(documentID string) {
	d.mu.Lock()
	delete(d.sessions, documentID)
	d.mu.Unlock()
}

// advance asks the next pending field or completes the conversation.
func (d *Driver) advance(ctx context.Context, doc *models.Document, sess *session) (Question, error) {
	field, ok := fill.NextPending(doc.Fields)
	if !ok {
		return d.complete(ctx, doc.ID, sess)
	}
	text := d.phrase(ctx, doc, field)
	if sess.state == AwaitingFirstQuestion {
		text = greeting(doc, text)
	}
	if err := d.enter(ctx, doc.ID, sess, field, text); err != nil {
		return Question{}, err
	}
	return questionFor(text, field), nil
}

func (d *Driver) complete(ctx context.Context, documentID string, sess *session) (Question, error) {
	if sess.state != Complete {
		if err := d.emit(ctx, documentID, models.RoleBot, CompletionMessage, nil); err != nil {
			return Question{}, err
		}
		sess.state = Complete
		sess.awaiting = ""
		sess.question = CompletionMessage
		d.log.Info("conversation complete", "document_id", documentID)
	}
	return Question{Question: CompletionMessage}, nil
}

func (d *Driver) enter(ctx context.Context, documentID string, sess *session, field models.Field, text string) error {
	fid := field.ID
	if err := d.emit(ctx, documentID, models.RoleBot, text, &fid); err != nil {
		return err
	}
	sess.state = AwaitingAnswer
	sess.awaiting = field.ID
	sess.question = text
	return nil
}

func (d *Driver) phrase(ctx context.Context, doc *models.Document, field models.Field) string {
	qctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	text, err := d.questions.Question(qctx, doc, field)
	if err != nil || strings.TrimSpace(text) == "" {
		if err != nil {
			d.log.Warn("question generation failed, using template", "document_id", doc.ID, "field_id", field.ID, "error", err)
		}
		return TemplateQuestion(field)
	}
	return strings.TrimSpace(text)
}

func (d *Driver) emit(ctx context.Context, documentID string, role models.Role, content string, fieldID *string) error {
	msg := &models.ChatMessage{
		ID:         uuid.NewString(),
		DocumentID: documentID,
		Role:       role,
		Content:    content,
		Timestamp:  store.Clock(),
		FieldID:    fieldID,
	}
	if err := d.store.AppendMessage(ctx, msg); err != nil {
		return fmt.Errorf("append %s message: %w", role, err)
	}
	return nil
}

func (d *Driver) fillable(ctx context.Context, documentID string) (*models.Document, error) {
	doc, err := d.store.Get(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if !doc.Status.Fillable() {
		return nil, fmt.Errorf("document %s is %s: %w", documentID, doc.Status, fill.ErrDocumentNotReady)
	}
	return doc, nil
}

// session must be called from inside the document's executor.
func (d *Driver) session(ctx context.Context, documentID string) (*session, error) {
	d.mu.Lock()
	sess, ok := d.sessions[documentID]
	d.mu.Unlock()
	if ok {
		return sess, nil
	}
	history, err := d.store.Messages(ctx, documentID)
	if err != nil {
		return nil, err
	}
	sess = restoreSession(history)
	d.mu.Lock()
	d.sessions[documentID] = sess
	d.mu.Unlock()
	return sess, nil
}

func questionFor(text string, field models.Field) Question {
	id, name := field.ID, field.Name
	return Question{Question: text, FieldID: &id, FieldName: &name}
}
