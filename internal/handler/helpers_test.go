package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/viveksaraswat123/medical-chatbot/internal/adapter/ai"
	"github.com/viveksaraswat123/medical-chatbot/internal/adapter/store"
	"github.com/viveksaraswat123/medical-chatbot/internal/domain"
	"github.com/viveksaraswat123/medical-chatbot/internal/middleware"
	"github.com/viveksaraswat123/medical-chatbot/internal/port"
	"github.com/viveksaraswat123/medical-chatbot/internal/rag"
	"github.com/viveksaraswat123/medical-chatbot/internal/service"
	"github.com/viveksaraswat123/medical-chatbot/pkg/config"
)

// --- fakes ---

type memUsers struct {
	mu    sync.Mutex
	users map[string]*domain.User
}

func (m *memUsers) CreateUser(_ context.Context, u *domain.User) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Email == u.Email {
			return nil, port.ErrEmailTaken
		}
	}
	created := *u
	created.ID = uuid.NewString()
	m.users[created.ID] = &created
	return &created, nil
}

func (m *memUsers) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, port.ErrUserNotFound
}

func (m *memUsers) GetUserByID(_ context.Context, id string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return nil, port.ErrUserNotFound
}

type memChats struct {
	mu    sync.Mutex
	chats map[string]*domain.Chat
}

func (m *memChats) CreateChat(_ context.Context, userID string) (*domain.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	chat := &domain.Chat{ID: uuid.NewString(), UserID: userID, CreatedAt: now, UpdatedAt: now}
	m.chats[chat.ID] = chat
	return chat, nil
}

func (m *memChats) GetChat(_ context.Context, userID, chatID string) (*domain.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	chat, ok := m.chats[chatID]
	if !ok || chat.UserID != userID {
		return nil, port.ErrChatNotFound
	}
	cp := *chat
	return &cp, nil
}

func (m *memChats) ListChats(_ context.Context, userID string) ([]domain.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Chat
	for _, chat := range m.chats {
		if chat.UserID == userID {
			out = append(out, *chat)
		}
	}
	slices.SortFunc(out, func(a, b domain.Chat) int { return b.UpdatedAt.Compare(a.UpdatedAt) })
	return out, nil
}

func (m *memChats) DeleteChat(_ context.Context, userID, chatID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if chat, ok := m.chats[chatID]; ok && chat.UserID == userID {
		delete(m.chats, chatID)
	}
	return nil
}

func (m *memChats) TouchChat(_ context.Context, chatID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if chat, ok := m.chats[chatID]; ok {
		chat.UpdatedAt = time.Now()
	}
	return nil
}

type memAudit struct {
	mu   sync.Mutex
	logs []domain.AuditLog
}

func (m *memAudit) WriteAudit(userID, action, resource, resourceID, details, ip, userAgent string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, domain.AuditLog{
		ID:         uuid.NewString(),
		UserID:     userID,
		Action:     action,
		Resource:   resource,
		ResourceID: resourceID,
		Details:    details,
		IP:         ip,
		UserAgent:  userAgent,
		CreatedAt:  time.Now(),
	})
	return nil
}

func (m *memAudit) ListAuditLogs(_ context.Context, limit int, action string) ([]domain.AuditLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.AuditLog
	for i := len(m.logs) - 1; i >= 0 && len(out) < limit; i-- {
		if action == "" || m.logs[i].Action == action {
			out = append(out, m.logs[i])
		}
	}
	return out, nil
}

func (m *memAudit) actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.logs))
	for i, l := range m.logs {
		out[i] = l.Action
	}
	return out
}

// stubGenerator answers title prompts with a title and everything else
// with reply, unless err is set.
type stubGenerator struct {
	mu    sync.Mutex
	reply string
	err   error
}

func (g *stubGenerator) Generate(_ context.Context, prompt, _ string, _ float64) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return "", g.err
	}
	if strings.HasPrefix(prompt, "Summarize the medical query") {
		return "Title: Diabetes Symptoms Overview", nil
	}
	return g.reply, nil
}

func (g *stubGenerator) fail(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.err = err
}

// --- environment ---

var testJWT = middleware.JWTConfig{Secret: "handler-secret", Issuer: "medibot", ExpiresIn: time.Hour}

type testEnv struct {
	app     *fiber.App
	users   *memUsers
	chats   *memChats
	audit   *memAudit
	gen     *stubGenerator
	index   *rag.Manager
	tracker *JobTracker
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	corpus := t.TempDir()
	docs := map[string]string{
		"diabetes.txt":     "Diabetes is a chronic condition in which blood glucose stays too high. Common symptoms include thirst, frequent urination and fatigue.",
		"hypertension.txt": "Hypertension means persistently raised blood pressure. It often has no symptoms and is found during routine checks.",
	}
	for name, text := range docs {
		require.NoError(t, os.WriteFile(filepath.Join(corpus, name), []byte(text), 0o644))
	}

	chunker, err := rag.NewChunker(120, 20)
	require.NoError(t, err)
	index := rag.NewManager(rag.ManagerConfig{
		CorpusDir: corpus,
		IndexDir:  filepath.Join(t.TempDir(), "index"),
		BatchSize: 8,
	}, ai.NewHashingEmbedder(64), chunker, nil)
	retriever := rag.NewRetriever(index, rag.WithDefaultK(2))

	env := &testEnv{
		users:   &memUsers{users: make(map[string]*domain.User)},
		chats:   &memChats{chats: make(map[string]*domain.Chat)},
		audit:   &memAudit{},
		gen:     &stubGenerator{reply: "• **Diabetes:** raised blood glucose"},
		index:   index,
		tracker: NewJobTracker(),
	}

	chatCfg := service.ChatConfig{Model: "test-model", MaxAttempts: 1}
	chat := service.NewChatService(retriever,
		service.NewMemory(store.NewMemoryStore(0), env.gen, "test-model", 0, 0),
		env.gen, chatCfg, nil)
	anonymous := service.NewChatService(retriever,
		service.NewMemory(store.NewMemoryStore(0), env.gen, "test-model", 0, 0),
		env.gen, chatCfg, nil)

	auth := service.NewAuthService(env.users, &config.Config{
		JWTSecret:     testJWT.Secret,
		JWTIssuer:     testJWT.Issuer,
		JWTExpiration: 1,
		AdminEmails:   []string{"admin@example.com"},
	})
	auditor := middleware.NewAuditor(env.audit)

	app := fiber.New()
	api := app.Group("/api")
	NewAuthHandler(auth, auditor).Register(api)
	NewHealthHandler(index, nil).Register(api)
	NewConversationHandler(anonymous, 0).Register(api)

	protected := app.Group("/api", middleware.JWTMiddleware(testJWT))
	NewAuthHandler(auth, auditor).RegisterProtected(protected)
	NewChatHandler(env.chats, chat, auditor, 0).Register(protected)
	NewKnowledgeHandler(retriever, auditor).Register(protected)

	admin := protected.Group("/admin", middleware.RequireAdmin())
	NewAdminHandler(index, env.tracker, auditor, time.Minute).Register(admin)
	NewJobsHandler(env.tracker).Register(admin)
	NewAuditHandler(env.audit).Register(admin)

	env.app = app
	return env
}

func tokenFor(t *testing.T, userID, role string) string {
	t.Helper()
	token, err := middleware.GenerateJWT(&domain.User{ID: userID, Email: userID + "@example.com", Role: role}, testJWT)
	require.NoError(t, err)
	return token
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := e.app.Test(req, fiber.TestConfig{Timeout: 10 * time.Second})
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}
