package conversation

import "docfill/internal/models"

type State int

const (
	AwaitingFirstQuestion State = iota
	AwaitingAnswer
	// Answered means the awaited field was stored but no follow-up
	// question has been asked yet.
	Answered
	Complete
)

func (s State) String() string {
	switch s {
	case AwaitingFirstQuestion:
		return "awaiting_first_question"
	case AwaitingAnswer:
		return "awaiting_answer"
	case Answered:
		return "answered"
	case Complete:
		return "complete"
	}
	return "unknown"
}

type session struct {
	state    State
	awaiting string
	question string
}

// restoreSession rebuilds the state machine position from the transcript:
// every transition emits exactly one bot message, so the last one tells
// where the conversation stands. A trailing user message means its answer
// was stored but the next question was never asked.
func restoreSession(history []*models.ChatMessage) *session {
	if n := len(history); n > 0 && history[n-1].Role == models.RoleUser {
		return &session{state: Answered}
	}
	for i := len(history) - 1; i >= 0; i-- {
		msg := history[i]
		if msg.Role != models.RoleBot {
			continue
		}
		if msg.FieldID != nil {
			return &session{state: AwaitingAnswer, awaiting: *msg.FieldID, question: msg.Content}
		}
		return &session{state: Complete, question: msg.Content}
	}
	return &session{state: AwaitingFirstQuestion}
}
