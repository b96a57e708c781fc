// Package session owns conversation history keyed by session identifier.
package session

import (
	"context"

	"github.com/papercomputeco/supportrelay/pkg/llm"
)

// Store defines the interface for keeping ordered conversation histories,
// one per session id. Histories are append logs: Append never removes or
// reorders a turn that was previously written. Implementations must be safe
// for concurrent use, and every Append must be atomic with respect to other
// writers of the same session so that concurrent appends are never lost.
type Store interface {
	// Get returns a copy of the history for sessionID, oldest turn first.
	// An unseen session has an empty history; this is not an error.
	Get(ctx context.Context, sessionID string) ([]llm.Message, error)

	// Append atomically adds turns to the end of the session's history.
	Append(ctx context.Context, sessionID string, turns ...llm.Message) error

	// Replace sets the full history for sessionID.
	Replace(ctx context.Context, sessionID string, history []llm.Message) error

	// Sessions returns the number of sessions with a non-empty history.
	Sessions(ctx context.Context) (int, error)

	// Close releases any resources held by the store.
	Close() error
}
