package service

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/viveksaraswat123/medical-chatbot/internal/domain"
	"github.com/viveksaraswat123/medical-chatbot/internal/port"
)

// scriptedGenerator returns the queued results in order, then repeats the
// last one. It records every prompt.
type scriptedGenerator struct {
	mu      sync.Mutex
	results []genResult
	prompts []string
	calls   atomic.Int32
	block   chan struct{} // when set, Generate waits on it or ctx
}

type genResult struct {
	text string
	err  error
}

func (g *scriptedGenerator) Generate(ctx context.Context, prompt, _ string, _ float64) (string, error) {
	g.calls.Add(1)
	if g.block != nil {
		select {
		case <-g.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, prompt)
	if len(g.results) == 0 {
		return "ok", nil
	}
	r := g.results[0]
	if len(g.results) > 1 {
		g.results = g.results[1:]
	}
	return r.text, r.err
}

func (g *scriptedGenerator) lastPrompt() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.prompts) == 0 {
		return ""
	}
	return g.prompts[len(g.prompts)-1]
}

type staticRetriever struct {
	hits  []domain.ScoredChunk
	err   error
	calls atomic.Int32
}

func (r *staticRetriever) RetrieveScored(context.Context, string, int) ([]domain.ScoredChunk, error) {
	r.calls.Add(1)
	return r.hits, r.err
}

// memoryUsers is an in-memory port.UserRepository.
type memoryUsers struct {
	mu    sync.Mutex
	users map[string]*domain.User
}

func newMemoryUsers() *memoryUsers {
	return &memoryUsers{users: make(map[string]*domain.User)}
}

func (m *memoryUsers) CreateUser(_ context.Context, u *domain.User) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	email := strings.ToLower(u.Email)
	for _, existing := range m.users {
		if existing.Email == email {
			return nil, port.ErrEmailTaken
		}
	}
	created := *u
	created.ID = uuid.NewString()
	created.Email = email
	m.users[created.ID] = &created
	return &created, nil
}

func (m *memoryUsers) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, port.ErrUserNotFound
}

func (m *memoryUsers) GetUserByID(_ context.Context, id string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return nil, port.ErrUserNotFound
}
