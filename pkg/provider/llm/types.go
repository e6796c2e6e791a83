package llm

// Message represents a single message in an LLM conversation.
type Message struct {
	// Role is one of "system", "user" or "assistant".
	Role string

	// Content is the text content of the message.
	Content string

	// Name is an optional participant name.
	Name string
}

// ModelCapabilities describes the limits of a model.
type ModelCapabilities struct {
	// ContextWindow is the maximum number of input plus output tokens.
	ContextWindow int

	// MaxOutputTokens is the largest completion the model will produce.
	MaxOutputTokens int
}
