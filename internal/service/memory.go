package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/viveksaraswat123/medical-chatbot/internal/domain"
	"github.com/viveksaraswat123/medical-chatbot/internal/port"
	"github.com/viveksaraswat123/medical-chatbot/internal/rag"
)

const maxTitleWords = 7

// Memory renders conversation history for prompts and derives chat titles.
type Memory struct {
	store       port.ConversationStore
	gen         port.Generator
	model       string
	temperature float64
	maxChars    int

	titles singleflight.Group
}

// NewMemory wraps store. maxChars bounds the rendered transcript; 0 means
// unbounded. gen and model are used only to derive titles.
func NewMemory(store port.ConversationStore, gen port.Generator, model string, temperature float64, maxChars int) *Memory {
	return &Memory{store: store, gen: gen, model: model, temperature: temperature, maxChars: maxChars}
}

// Store returns the underlying conversation store.
func (m *Memory) Store() port.ConversationStore { return m.store }

// Transcript renders the conversation as "User: …" / "Assistant: …" lines,
// oldest first, dropping the oldest turns while it exceeds the size bound.
func (m *Memory) Transcript(ctx context.Context, conversationID string) (string, error) {
	turns, err := m.store.Turns(ctx, conversationID)
	if err != nil {
		return "", fmt.Errorf("load turns: %w", err)
	}
	return RenderTranscript(turns, m.maxChars), nil
}

// RenderTranscript formats turns one per line. With maxChars > 0 the oldest
// turns are dropped until the result fits.
func RenderTranscript(turns []domain.Turn, maxChars int) string {
	lines := make([]string, len(turns))
	total := 0
	for i, t := range turns {
		lines[i] = t.Role.Label() + ": " + t.Content
		total += len(lines[i])
	}
	total += max(len(lines)-1, 0)

	start := 0
	if maxChars > 0 {
		for start < len(lines) && total > maxChars {
			total -= len(lines[start])
			if start < len(lines)-1 {
				total-- // newline
			}
			start++
		}
	}
	return strings.Join(lines[start:], "\n")
}

// Title returns the chat title. It is derived once from the first user turn
// and cached in the store; concurrent callers share one derivation. A
// conversation with no user turn yet is titled "New Chat", uncached.
func (m *Memory) Title(ctx context.Context, conversationID string) (string, error) {
	title, err := m.store.Title(ctx, conversationID)
	if err != nil {
		return "", fmt.Errorf("load title: %w", err)
	}
	if title != "" {
		return title, nil
	}

	v, err, _ := m.titles.Do(conversationID, func() (any, error) {
		return m.deriveTitle(ctx, conversationID)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (m *Memory) deriveTitle(ctx context.Context, conversationID string) (string, error) {
	// Another flight may have stored it already.
	if title, err := m.store.Title(ctx, conversationID); err != nil || title != "" {
		return title, err
	}

	turns, err := m.store.Turns(ctx, conversationID)
	if err != nil {
		return "", fmt.Errorf("load turns: %w", err)
	}
	first := ""
	for _, t := range turns {
		if t.Role == domain.RoleUser {
			first = t.Content
			break
		}
	}
	if first == "" {
		return domain.DefaultChatTitle, nil
	}

	raw, err := m.gen.Generate(ctx, rag.TitlePrompt(first), m.model, m.temperature)
	if err != nil {
		return "", fmt.Errorf("generate title: %w", err)
	}
	title := CleanTitle(raw)
	if title == "" {
		slog.Warn("model returned an empty title", "conversation_id", conversationID)
		return domain.DefaultChatTitle, nil
	}

	stored, err := m.store.SetTitleIfEmpty(ctx, conversationID, title)
	if err != nil {
		return "", fmt.Errorf("store title: %w", err)
	}
	return stored, nil
}

// CleanTitle keeps the first line of a model reply without surrounding
// quotes or a "Title:" label, capped at seven words.
func CleanTitle(raw string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(raw), "\n")
	line = strings.TrimSpace(line)
	if label, rest, ok := strings.Cut(line, ":"); ok && strings.EqualFold(strings.TrimSpace(label), "title") {
		line = rest
	}
	line = strings.Trim(line, " \t\"'`“”‘’*")

	words := strings.Fields(line)
	if len(words) > maxTitleWords {
		words = words[:maxTitleWords]
	}
	return strings.Join(words, " ")
}
