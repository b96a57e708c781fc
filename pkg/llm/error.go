// Package llm provides the wire representations of chat turns, relay requests
// and relay responses shared by the server, the orchestrator and the clients.
package llm

// ErrorResponse represents an error returned by the relay.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
