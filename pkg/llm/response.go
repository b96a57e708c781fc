package llm

// ChatResponse is returned by the relay's chat endpoint after a successful turn.
type ChatResponse struct {
	Message   string    `json:"message"`             // The assistant's reply
	History   []Message `json:"history"`             // Full conversation, oldest first, without the system prompt
	SessionID string    `json:"sessionId,omitempty"` // Session the turn was recorded under
}
