package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"docfill/internal/config"
	"docfill/internal/extract"
	"docfill/internal/fill"
	"docfill/internal/logger"
	"docfill/internal/models"
)

// Service phrases questions and proposes fields with a chat model.
type Service struct {
	chat     model.BaseChatModel
	provider string
	log      *logger.Logger
}

// NewService builds the chat model for a configured provider.
func NewService(ctx context.Context, provider string, provCfg config.ProviderConfig, log *logger.Logger) (*Service, error) {
	if provCfg.APIKey == "" {
		return nil, fmt.Errorf("provider %s has no api key", provider)
	}
	var (
		chatModel model.BaseChatModel
		err       error
	)
	switch provider {
	case "openai":
		chatModel, err = openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: provCfg.BaseURL,
			Model:   provCfg.Model,
			APIKey:  provCfg.APIKey,
		})
	case "gemini":
		var client *genai.Client
		client, err = genai.NewClient(ctx, &genai.ClientConfig{APIKey: provCfg.APIKey})
		if err != nil {
			return nil, fmt.Errorf("init gemini client: %w", err)
		}
		chatModel, err = gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  provCfg.Model,
		})
	case "claude":
		var baseURLPtr *string
		if provCfg.BaseURL != "" {
			baseURLPtr = &provCfg.BaseURL
		}
		chatModel, err = claude.NewChatModel(ctx, &claude.Config{
			APIKey:    provCfg.APIKey,
			Model:     provCfg.Model,
			BaseURL:   baseURLPtr,
			MaxTokens: 1024,
		})
	default:
		return nil, fmt.Errorf("invalid provider: %s", provider)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s chat model: %w", provider, err)
	}
	return NewWithModel(provider, chatModel, log), nil
}

// NewWithModel wraps an existing chat model.
func NewWithModel(provider string, chat model.BaseChatModel, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{chat: chat, provider: provider, log: log.With("component", "ai", "provider", provider)}
}

const questionSystemPrompt = `You are a friendly assistant helping someone fill out a document.
Generate one clear, conversational question asking for the requested field.
Be natural, explain what is needed, include a format hint when useful (for example MM/DD/YYYY for dates),
and keep it to one or two sentences. Return only the question text.`

// Question implements conversation.Questioner.
func (s *Service) Question(ctx context.Context, doc *models.Document, field models.Field) (string, error) {
	excerpt := fill.Excerpt(doc.OriginalContent, field.Placeholder, field.OccurrenceIndex, fill.ExcerptRadius)
	if excerpt == "" {
		excerpt = "No additional context"
	}
	typ := field.Type
	if typ == "" {
		typ = models.FieldText
	}
	prompt := fmt.Sprintf("Field to fill: %s\nField type: %s\nPlaceholder in document: %s\n\nContext (nearby text from document):\n%s",
		field.Name, typ, field.Placeholder, excerpt)

	reply, err := s.chat.Generate(ctx, []*schema.Message{
		schema.SystemMessage(questionSystemPrompt),
		schema.UserMessage(prompt),
	})
	if err != nil {
		return "", fmt.Errorf("generate question: %w", err)
	}
	question := strings.Trim(strings.TrimSpace(reply.Content), `"'`)
	if question == "" {
		return "", errors.New("model returned an empty question")
	}
	return question, nil
}

const extractSystemPrompt = `You analyze document templates and identify every placeholder that needs to be filled in.
Placeholders are usually written like [PLACEHOLDER], {PLACEHOLDER} or <PLACEHOLDER>.
Return only a JSON array, no other text, where each element is
{"name": "Field name in plain English", "placeholder": "exact placeholder text", "type": "text|date|number|email|phone|address", "order": 1}
List each distinct placeholder once, preserve its exact text and order fields logically.`

var codeFence = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// ProposeFields implements extract.Proposer.
func (s *Service) ProposeFields(ctx context.Context, content string) ([]extract.Proposal, error) {
	reply, err := s.chat.Generate(ctx, []*schema.Message{
		schema.SystemMessage(extractSystemPrompt),
		schema.UserMessage("Document:\n" + content),
	})
	if err != nil {
		return nil, fmt.Errorf("generate field proposals: %w", err)
	}
	return parseProposals(reply.Content)
}

func parseProposals(raw string) ([]extract.Proposal, error) {
	text := strings.TrimSpace(raw)
	if m := codeFence.FindStringSubmatch(text); m != nil {
		text = m[1]
	}
	var proposals []extract.Proposal
	if err := json.Unmarshal([]byte(text), &proposals); err != nil {
		return nil, fmt.Errorf("decode field proposals: %w", err)
	}
	out := proposals[:0]
	for _, p := range proposals {
		switch p.Type {
		case models.FieldText, models.FieldDate, models.FieldNumber, models.FieldEmail, models.FieldPhone, models.FieldAddress:
		default:
			p.Type = models.FieldText
		}
		if strings.TrimSpace(p.Placeholder) != "" {
			out = append(out, p)
		}
	}
	return out, nil
}
