package store

import (
	"context"
	"sync"
	"time"

	"github.com/viveksaraswat123/medical-chatbot/internal/domain"
	"github.com/viveksaraswat123/medical-chatbot/internal/port"
)

// MemoryStore is a process-local ConversationStore. Turns are lost on restart.
type MemoryStore struct {
	maxTurns int
	idleTTL  time.Duration
	maxConvs int
	now      func() time.Time

	mu        sync.RWMutex
	convs     map[string]*memoryConversation
	lastSweep time.Time
}

type memoryConversation struct {
	mu       sync.Mutex
	turns    []domain.Turn
	title    string
	lastUsed time.Time // guarded by MemoryStore.mu
}

var _ port.ConversationStore = (*MemoryStore)(nil)

// MemoryOption bounds a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithIdleTTL forgets conversations untouched for longer than ttl.
func WithIdleTTL(ttl time.Duration) MemoryOption {
	return func(s *MemoryStore) { s.idleTTL = ttl }
}

// WithMaxConversations keeps at most n conversations, dropping the least
// recently used one to make room for a new one.
func WithMaxConversations(n int) MemoryOption {
	return func(s *MemoryStore) { s.maxConvs = n }
}

// NewMemoryStore creates an empty store. When maxTurns > 0 only the most
// recent maxTurns turns of each conversation are kept.
func NewMemoryStore(maxTurns int, opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{maxTurns: maxTurns, now: time.Now, convs: make(map[string]*memoryConversation)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) conversation(id string, create bool) *memoryConversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	c := s.convs[id]
	if c != nil && s.expired(c, now) {
		delete(s.convs, id)
		c = nil
	}
	if c == nil {
		if !create {
			return nil
		}
		s.makeRoom(now)
		c = &memoryConversation{}
		s.convs[id] = c
	}
	c.lastUsed = now
	return c
}

func (s *MemoryStore) expired(c *memoryConversation, now time.Time) bool {
	return s.idleTTL > 0 && now.Sub(c.lastUsed) > s.idleTTL
}

// makeRoom drops idle conversations at most once per TTL, then evicts the
// least recently used ones while the store is full. Callers hold s.mu.
func (s *MemoryStore) makeRoom(now time.Time) {
	if s.idleTTL > 0 && now.Sub(s.lastSweep) > s.idleTTL {
		for id, c := range s.convs {
			if s.expired(c, now) {
				delete(s.convs, id)
			}
		}
		s.lastSweep = now
	}

	for s.maxConvs > 0 && len(s.convs) >= s.maxConvs {
		var oldestID string
		var oldest time.Time
		for id, c := range s.convs {
			if oldestID == "" || c.lastUsed.Before(oldest) {
				oldestID, oldest = id, c.lastUsed
			}
		}
		delete(s.convs, oldestID)
	}
}

// Append adds a turn to the conversation, creating it on first use.
func (s *MemoryStore) Append(ctx context.Context, conversationID string, role domain.Role, content string) error {
	return s.AppendTurns(ctx, conversationID, domain.Turn{Role: role, Content: content})
}

// AppendTurns adds turns under one lock, so readers never see part of them.
func (s *MemoryStore) AppendTurns(_ context.Context, conversationID string, turns ...domain.Turn) error {
	c := s.conversation(conversationID, true)
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().UTC()
	for _, t := range turns {
		if t.CreatedAt.IsZero() {
			t.CreatedAt = now
		}
		c.turns = append(c.turns, t)
	}
	if s.maxTurns > 0 && len(c.turns) > s.maxTurns {
		c.turns = append([]domain.Turn(nil), c.turns[len(c.turns)-s.maxTurns:]...)
	}
	return nil
}

// Turns returns a copy of the turns; an unknown id has none.
func (s *MemoryStore) Turns(_ context.Context, conversationID string) ([]domain.Turn, error) {
	c := s.conversation(conversationID, false)
	if c == nil {
		return []domain.Turn{}, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Turn{}, c.turns...), nil
}

// Title returns the cached title.
func (s *MemoryStore) Title(_ context.Context, conversationID string) (string, error) {
	c := s.conversation(conversationID, false)
	if c == nil {
		return "", nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.title, nil
}

// SetTitleIfEmpty caches title unless one is already set.
func (s *MemoryStore) SetTitleIfEmpty(_ context.Context, conversationID, title string) (string, error) {
	c := s.conversation(conversationID, true)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.title == "" {
		c.title = title
	}
	return c.title, nil
}

// Delete forgets the conversation.
func (s *MemoryStore) Delete(_ context.Context, conversationID string) error {
	s.mu.Lock()
	delete(s.convs, conversationID)
	s.mu.Unlock()
	return nil
}

// Len returns the number of conversations held.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.convs)
}
