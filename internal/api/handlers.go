package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"docfill/internal/conversation"
	"docfill/internal/extract"
	"docfill/internal/fill"
	"docfill/internal/logger"
	"docfill/internal/models"
	"docfill/internal/store"
	"docfill/internal/worker"
)

// Conversation is the part of the driver the HTTP layer talks to.
type Conversation interface {
	Next(ctx context.Context, documentID string) (conversation.Question, error)
	Submit(ctx context.Context, documentID, fieldID, value string) (conversation.SubmitResult, error)
	Edit(ctx context.Context, documentID, fieldID string) (conversation.Question, error)
	History(ctx context.Context, documentID string) ([]*models.ChatMessage, error)
}

// Extractor discovers fields for a freshly created document.
type Extractor interface {
	Submit(documentID string)
}

// Handler wires HTTP routes to the field store and the conversation driver.
type Handler struct {
	store     store.Store
	chat      Conversation
	extractor Extractor
	log       *logger.Logger
	fileBase  string
	maxUpload int64
}

// NewHandler constructs a Handler instance.
func NewHandler(st store.Store, chat Conversation, extractor Extractor, fileBase string, maxUpload int64, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	if maxUpload <= 0 {
		maxUpload = 10 << 20
	}
	return &Handler{
		store:     st,
		chat:      chat,
		extractor: extractor,
		log:       log.With("component", "api"),
		fileBase:  fileBase,
		maxUpload: maxUpload,
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/healthz", h.health)

	api := router.Group("/api")
	api.POST("/upload", h.uploadDocument)
	api.POST("/documents", h.createDocument)

	docs := api.Group("/documents/:id")
	docs.GET("/status", h.documentStatus)
	docs.GET("/fields", h.documentFields)
	docs.POST("/fields", h.submitField)
	docs.GET("/preview", h.preview)
	docs.GET("/preview-completed", h.previewCompleted)
	docs.GET("/summary", h.summary)
	docs.GET("/download", h.download)

	chat := api.Group("/chat/:id")
	chat.GET("/next", h.nextQuestion)
	chat.GET("/history", h.history)
	chat.POST("/edit", h.editField)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// respondError translates engine errors into a status code.
func (h *Handler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, fill.ErrDocumentNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
	case errors.Is(err, fill.ErrFieldNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "field not found"})
	case errors.Is(err, fill.ErrInvalidAnswer):
		c.JSON(http.StatusBadRequest, gin.H{"error": "value is required"})
	case errors.Is(err, fill.ErrFieldNotAwaited):
		c.JSON(http.StatusConflict, gin.H{"error": "field is not the one currently being asked"})
	case errors.Is(err, fill.ErrDocumentNotReady):
		c.JSON(http.StatusConflict, gin.H{"error": "document is not ready for filling"})
	case errors.Is(err, worker.ErrQueueFull):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "document is busy, please retry"})
	default:
		h.log.Error("request failed", "path", c.FullPath(), "document_id", c.Param("id"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func (h *Handler) loadDocument(c *gin.Context) (*models.Document, bool) {
	doc, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return nil, false
	}
	return doc, true
}

// Document creation

type createdResponse struct {
	DocumentID string                `json:"documentId"`
	Filename   string                `json:"filename"`
	Status     models.DocumentStatus `json:"status"`
}

func (h *Handler) register(c *gin.Context, doc *models.Document) {
	if err := h.store.Create(c.Request.Context(), doc); err != nil {
		h.respondError(c, err)
		return
	}
	h.log.Info("document created", "document_id", doc.ID, "filename", doc.Filename)
	h.extractor.Submit(doc.ID)
	c.JSON(http.StatusCreated, createdResponse{DocumentID: doc.ID, Filename: doc.Filename, Status: doc.Status})
}

func newDocument(filename string) *models.Document {
	return &models.Document{
		ID:        uuid.NewString(),
		Filename:  filename,
		Status:    models.StatusUploading,
		CreatedAt: time.Now().UTC(),
		Fields:    []models.Field{},
	}
}

type createDocumentRequest struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
}

func (h *Handler) createDocument(c *gin.Context) {
	var req createDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content is required"})
		return
	}
	if int64(len(req.Content)) > h.maxUpload {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "content too large"})
		return
	}
	filename := filepath.Base(strings.TrimSpace(req.Filename))
	if filename == "" || filename == "." || filename == string(filepath.Separator) {
		filename = "untitled.txt"
	}
	doc := newDocument(filename)
	doc.OriginalContent = req.Content
	h.register(c, doc)
}

func (h *Handler) uploadDocument(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload+(1<<20))
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	if file.Size > h.maxUpload {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return
	}
	filename := filepath.Base(file.Filename)
	if !extract.Supported(filename) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported file type"})
		return
	}
	f, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "open file failed"})
		return
	}
	buf := make([]byte, 512)
	n, _ := f.Read(buf)
	_ = f.Close()
	if ct := http.DetectContentType(buf[:n]); !strings.HasPrefix(ct, "text/plain") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported file type"})
		return
	}

	doc := newDocument(filename)
	destDir := filepath.Join(h.fileBase, doc.ID)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		h.log.Error("create upload directory failed", "dir", destDir, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create directory failed"})
		return
	}
	doc.FilePath = filepath.Join(destDir, filename)
	if err := c.SaveUploadedFile(file, doc.FilePath); err != nil {
		h.log.Error("save upload failed", "path", doc.FilePath, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save file failed"})
		return
	}
	h.register(c, doc)
}

// Document state

var statusMessages = map[models.DocumentStatus]string{
	models.StatusUploading:  "Uploading document...",
	models.StatusProcessing: "Extracting text and identifying placeholders...",
	models.StatusReady:      "Document is ready for filling",
	models.StatusCompleted:  "All fields completed!",
	models.StatusError:      "An error occurred during processing",
}

func statusMessage(status models.DocumentStatus, p fill.Progress) string {
	if status == models.StatusFilling {
		return fmt.Sprintf("Filling in progress (%d/%d fields completed)", p.Completed, p.Total)
	}
	if msg, ok := statusMessages[status]; ok {
		return msg
	}
	return "Processing..."
}

func (h *Handler) documentStatus(c *gin.Context) {
	doc, ok := h.loadDocument(c)
	if !ok {
		return
	}
	p := fill.ComputeProgress(doc.Fields)
	c.JSON(http.StatusOK, gin.H{
		"status":   doc.Status,
		"progress": p.Percentage,
		"message":  statusMessage(doc.Status, p),
	})
}

func (h *Handler) documentFields(c *gin.Context) {
	doc, ok := h.loadDocument(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"fields":   fill.Ordered(doc.Fields),
		"filename": doc.Filename,
	})
}

type submitFieldRequest struct {
	FieldID string  `json:"fieldId"`
	Value   *string `json:"value"`
}

func (h *Handler) submitField(c *gin.Context) {
	var req submitFieldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.FieldID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "fieldId is required"})
		return
	}
	value := ""
	if req.Value != nil {
		value = *req.Value
	}
	res, err := h.chat.Submit(c.Request.Context(), c.Param("id"), req.FieldID, value)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// render builds the display form of a document and reports every
// occurrence that could not be placed.
func (h *Handler) render(doc *models.Document) fill.Preview {
	preview := fill.Render(doc.OriginalContent, fill.Ordered(doc.Fields))
	for _, s := range preview.Skipped {
		h.log.Warn("field occurrence skipped",
			"document_id", doc.ID,
			"field_id", s.FieldID,
			"placeholder", s.Placeholder,
			"occurrence_index", s.OccurrenceIndex,
			"found", s.Found,
			"reason", s.Reason,
		)
	}
	return preview
}

func (h *Handler) preview(c *gin.Context) {
	doc, ok := h.loadDocument(c)
	if !ok {
		return
	}
	preview := h.render(doc)
	c.JSON(http.StatusOK, gin.H{
		"content":              preview.Text(),
		"segments":             preview.Segments,
		"skipped":              preview.Skipped,
		"fields":               fill.Ordered(doc.Fields),
		"completionPercentage": fill.ComputeProgress(doc.Fields).Percentage,
	})
}

func (h *Handler) previewCompleted(c *gin.Context) {
	doc, ok := h.loadDocument(c)
	if !ok {
		return
	}
	c.String(http.StatusOK, h.render(doc).Text())
}

func (h *Handler) download(c *gin.Context) {
	doc, ok := h.loadDocument(c)
	if !ok {
		return
	}
	name := "completed_" + doc.Filename
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(h.render(doc).Text()))
}

// formatElapsed renders a duration as "N minutes M seconds".
func formatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64(d / time.Second)
	return fmt.Sprintf("%d minutes %d seconds", secs/60, secs%60)
}

func (h *Handler) summary(c *gin.Context) {
	doc, ok := h.loadDocument(c)
	if !ok {
		return
	}
	end := time.Now().UTC()
	if doc.CompletedAt != nil {
		end = *doc.CompletedAt
	}
	p := fill.ComputeProgress(doc.Fields)
	c.JSON(http.StatusOK, gin.H{
		"filename":        doc.Filename,
		"fieldsCompleted": p.Completed,
		"totalFields":     p.Total,
		"completionTime":  formatElapsed(end.Sub(doc.CreatedAt)),
	})
}

// Conversation

func (h *Handler) nextQuestion(c *gin.Context) {
	q, err := h.chat.Next(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, q)
}

func (h *Handler) history(c *gin.Context) {
	msgs, err := h.chat.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if msgs == nil {
		msgs = []*models.ChatMessage{}
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

type editFieldRequest struct {
	FieldID string `json:"fieldId"`
}

func (h *Handler) editField(c *gin.Context) {
	var req editFieldRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.FieldID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "fieldId is required"})
		return
	}
	q, err := h.chat.Edit(c.Request.Context(), c.Param("id"), req.FieldID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, q)
}
