package llm

// ChatRequest is the body accepted by the relay's chat endpoint.
type ChatRequest struct {
	// Message is a pointer so that an explicit JSON null and an absent field
	// decode the same way as an empty string.
	Message   *string `json:"message"`
	SessionID string  `json:"sessionId,omitempty"` // Opaque caller-supplied key
}

// Text returns the request message, or "" when it was absent or null.
func (r ChatRequest) Text() string {
	if r.Message == nil {
		return ""
	}
	return *r.Message
}
