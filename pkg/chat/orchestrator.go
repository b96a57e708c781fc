// Package chat sequences one inbound chat turn into a completion call while
// keeping the session's history consistent.
package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/papercomputeco/supportrelay/pkg/completion"
	"github.com/papercomputeco/supportrelay/pkg/llm"
	"github.com/papercomputeco/supportrelay/pkg/session"
)

// SystemPrompt is prepended to every upstream request and never stored.
const SystemPrompt = "You are a helpful customer support assistant. Provide clear, concise, and accurate responses."

const defaultModel = "gpt-3.5-turbo"

// Config holds the orchestrator's tunables.
type Config struct {
	// Model is the identifier passed to the completion service.
	Model string

	// Timeout bounds a single completion call. Zero means no bound beyond
	// the caller's context.
	Timeout time.Duration
}

// Result is the outcome of a successful turn.
type Result struct {
	Message   string
	History   []llm.Message
	SessionID string
}

// Orchestrator handles chat turns against a session store and a completer.
// It keeps no per-session state of its own; history is re-read on every turn.
type Orchestrator struct {
	config    Config
	store     session.Store
	locks     *session.Locker
	completer completion.Completer
	logger    *zap.Logger
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(config Config, store session.Store, completer completion.Completer, logger *zap.Logger) *Orchestrator {
	if config.Model == "" {
		config.Model = defaultModel
	}
	return &Orchestrator{
		config:    config,
		store:     store,
		locks:     session.NewLocker(),
		completer: completer,
		logger:    logger,
	}
}

// HandleTurn records message as the next user turn of sessionID, asks the
// completion service for a reply and records that reply.
//
// The user turn is committed before the completion call, so a failed call
// leaves it in the history unanswered. The assistant turn is committed only
// after a non-empty reply. Turns of the same session are serialized for their
// whole duration; different sessions run in parallel. An empty sessionID gets
// a freshly minted one, reported in the Result.
func (o *Orchestrator) HandleTurn(ctx context.Context, sessionID, message string) (*Result, error) {
	if message == "" {
		return nil, &ValidationError{Field: "message", Reason: "Message is required"}
	}

	if sessionID == "" {
		sessionID = uuid.Must(uuid.NewV7()).String()
	}
	log := o.logger.With(zap.String("session_id", sessionID))

	unlock, err := o.locks.Lock(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("waiting for session %q: %w", sessionID, err)
	}
	defer unlock()

	if err := o.store.Append(ctx, sessionID, llm.UserMessage(message)); err != nil {
		return nil, fmt.Errorf("recording user turn: %w", err)
	}

	history, err := o.store.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}

	log.Debug("forwarding conversation to completion service",
		zap.String("model", o.config.Model),
		zap.Int("message_count", len(history)),
	)

	reply, err := o.complete(ctx, history)
	if err != nil {
		log.Debug("completion failed, user turn left unanswered", zap.Error(err))
		return nil, err
	}

	if err := o.store.Append(ctx, sessionID, llm.AssistantMessage(reply)); err != nil {
		return nil, fmt.Errorf("recording assistant turn: %w", err)
	}

	history, err = o.store.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}

	return &Result{
		Message:   reply,
		History:   history,
		SessionID: sessionID,
	}, nil
}

// complete calls the completer with the system prompt in front of history.
func (o *Orchestrator) complete(ctx context.Context, history []llm.Message) (string, error) {
	messages := make([]llm.Message, 0, len(history)+1)
	messages = append(messages, llm.SystemMessage(SystemPrompt))
	messages = append(messages, history...)

	if o.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.config.Timeout)
		defer cancel()
	}

	start := time.Now()
	reply, err := o.completer.Complete(ctx, o.config.Model, messages)
	if err != nil {
		return "", &UpstreamError{Err: err}
	}
	if reply == "" {
		return "", ErrUpstreamEmptyResponse
	}

	o.logger.Debug("received completion",
		zap.Int("reply_length", len(reply)),
		zap.Duration("duration", time.Since(start)),
	)
	return reply, nil
}
