package session

import (
	"context"
	"slices"
	"sync"

	"github.com/papercomputeco/supportrelay/pkg/llm"
)

// MemoryStore keeps histories in a process-local map. Nothing survives a
// restart.
type MemoryStore struct {
	mu        sync.RWMutex
	histories map[string][]llm.Message
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		histories: make(map[string][]llm.Message),
	}
}

func (s *MemoryStore) Get(_ context.Context, sessionID string) ([]llm.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.histories[sessionID]
	if len(history) == 0 {
		return []llm.Message{}, nil
	}
	return slices.Clone(history), nil
}

func (s *MemoryStore) Append(_ context.Context, sessionID string, turns ...llm.Message) error {
	if len(turns) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.histories[sessionID] = append(s.histories[sessionID], turns...)
	return nil
}

func (s *MemoryStore) Replace(_ context.Context, sessionID string, history []llm.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(history) == 0 {
		delete(s.histories, sessionID)
		return nil
	}
	s.histories[sessionID] = slices.Clone(history)
	return nil
}

func (s *MemoryStore) Sessions(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.histories), nil
}

func (s *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
