package llm

import "context"

type Message struct {
	Role    string
	Content string
}

type Response struct {
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Client phrases text. It only ever sees aggregate counts, never mail.
type Client interface {
	Generate(ctx context.Context, messages []Message) (Response, error)
}
