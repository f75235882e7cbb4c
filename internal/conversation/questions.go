package conversation

import (
	"context"
	"fmt"

	"docfill/internal/models"
)

// Questioner phrases the question for a field.
type Questioner interface {
	Question(ctx context.Context, doc *models.Document, field models.Field) (string, error)
}

// TemplateQuestioner asks "What is the <name>?".
type TemplateQuestioner struct{}

func (TemplateQuestioner) Question(_ context.Context, _ *models.Document, field models.Field) (string, error) {
	return TemplateQuestion(field), nil
}

var typeHints = map[models.FieldType]string{
	models.FieldDate:   " (MM/DD/YYYY)",
	models.FieldEmail:  " (example@email.com)",
	models.FieldPhone:  " (XXX-XXX-XXXX)",
	models.FieldNumber: " (numbers only)",
}

// TemplateQuestion is the fallback phrasing, with a format hint for typed
// fields.
func TemplateQuestion(field models.Field) string {
	return fmt.Sprintf("What is the %s?%s", field.Name, typeHints[field.Type])
}

const CompletionMessage = "All fields have been completed!"

func greeting(doc *models.Document, question string) string {
	noun := "fields"
	if len(doc.Fields) == 1 {
		noun = "field"
	}
	return fmt.Sprintf("Hi! I'll help you fill in %q. There are %d %s to complete.\n\n%s",
		doc.Filename, len(doc.Fields), noun, question)
}

func editPrompt(field models.Field) string {
	return fmt.Sprintf("Let's update the %s. What should the new value be?", field.Name)
}
