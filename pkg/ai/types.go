package ai

import "context"

// Chat roles understood by the reasoning service.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a chat prompt.
type Message struct {
	Role    string
	Content string
}

// CompletionRequest is a prompt sent to the reasoning service.
type CompletionRequest struct {
	Messages []Message
	// JSON asks the service to answer with a single JSON object.
	JSON bool
}

// Completion is the free-text answer of the reasoning service.
type Completion struct {
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// Completer describes a reasoning service able to answer grading prompts.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (Completion, error)
}

// ModerationResult is the verdict of the content policy service.
type ModerationResult struct {
	Flagged    bool
	Categories []string
}

// Moderator describes a content policy service.
type Moderator interface {
	Moderate(ctx context.Context, text string) (ModerationResult, error)
}
