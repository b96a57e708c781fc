package llm

// Options contains model inference parameters forwarded to the completion service.
// Nil fields are left to the provider's defaults.
type Options struct {
	Temperature *float64 `json:"temperature,omitempty" toml:"temperature"` // Creativity (0.0-2.0)
	TopP        *float64 `json:"top_p,omitempty" toml:"top_p"`             // Nucleus sampling threshold
	MaxTokens   *int64   `json:"max_tokens,omitempty" toml:"max_tokens"`   // Max tokens to generate
}
