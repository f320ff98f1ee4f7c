package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/viveksaraswat123/medical-chatbot/internal/domain"
	"github.com/viveksaraswat123/medical-chatbot/internal/metrics"
	"github.com/viveksaraswat123/medical-chatbot/internal/port"
	"github.com/viveksaraswat123/medical-chatbot/internal/rag"
)

const tracerName = "github.com/viveksaraswat123/medical-chatbot/internal/service"

// ErrEmptyQuestion is returned for a blank question.
var ErrEmptyQuestion = errors.New("question is empty")

// AnswerFailedMessage is shown to users instead of generation errors.
const AnswerFailedMessage = "I'm having trouble answering right now. Please try again."

// Retriever finds the chunks relevant to a question.
type Retriever interface {
	RetrieveScored(ctx context.Context, query string, k int) ([]domain.ScoredChunk, error)
}

// ChatConfig tunes generation and retries.
type ChatConfig struct {
	Model          string
	Temperature    float64
	K              int
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	ShortCircuit   bool // answer emergencies without calling the model
}

// Answer is the result of one question.
type Answer struct {
	Text      string               `json:"response"`
	Sources   []domain.ScoredChunk `json:"sources"`
	Emergency bool                 `json:"emergency"`
}

// ChatService answers questions with retrieval-augmented generation.
type ChatService struct {
	retriever Retriever
	memory    *Memory
	gen       port.Generator
	cfg       ChatConfig
	metrics   *metrics.Metrics
	locks     *keyedMutex
}

// NewChatService creates a chat service. m may be nil.
func NewChatService(retriever Retriever, memory *Memory, gen port.Generator, cfg ChatConfig, m *metrics.Metrics) *ChatService {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 8 * time.Second
	}
	return &ChatService{
		retriever: retriever,
		memory:    memory,
		gen:       gen,
		cfg:       cfg,
		metrics:   m,
		locks:     newKeyedMutex(),
	}
}

// Memory returns the conversation memory the service appends to.
func (s *ChatService) Memory() *Memory { return s.memory }

// RetrieveAndAnswer answers question within a conversation. When history is
// empty the transcript is read from memory. The question and the answer are
// appended together only after the model succeeded; a failed or cancelled
// call leaves the conversation unchanged. Calls for the same conversation
// run one at a time.
func (s *ChatService) RetrieveAndAnswer(ctx context.Context, conversationID, question, history string) (Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Answer{}, ErrEmptyQuestion
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "chat.RetrieveAndAnswer")
	defer span.End()
	span.SetAttributes(attribute.String("conversation.id", conversationID))

	unlock, err := s.locks.Lock(ctx, conversationID)
	if err != nil {
		return Answer{}, err
	}
	defer unlock()

	ans, err := s.answer(ctx, conversationID, question, history)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Answer{}, err
	}

	// The answer exists now; a caller giving up must not split the pair.
	if err := s.memory.Store().AppendTurns(context.WithoutCancel(ctx), conversationID,
		domain.Turn{Role: domain.RoleUser, Content: question},
		domain.Turn{Role: domain.RoleAssistant, Content: ans.Text},
	); err != nil {
		return Answer{}, fmt.Errorf("append turns: %w", err)
	}
	return ans, nil
}

func (s *ChatService) answer(ctx context.Context, conversationID, question, history string) (Answer, error) {
	hits := rag.DetectEmergency(question)
	emergency := len(hits) > 0
	if emergency {
		s.metrics.IncEmergency()
		slog.Warn("🚑 emergency symptoms in question", "conversation_id", conversationID, "symptoms", hits)
		if s.cfg.ShortCircuit {
			return Answer{Text: rag.WithDisclaimer(rag.EmergencyRedirect), Sources: []domain.ScoredChunk{}, Emergency: true}, nil
		}
	}

	sources, err := s.retriever.RetrieveScored(ctx, question, s.cfg.K)
	if err != nil {
		return Answer{}, fmt.Errorf("retrieve: %w", err)
	}

	if history == "" {
		if history, err = s.memory.Transcript(ctx, conversationID); err != nil {
			return Answer{}, err
		}
	}

	texts := make([]string, len(sources))
	for i, h := range sources {
		texts[i] = h.Text
	}
	prompt := rag.AssemblePrompt(texts, history, question)

	text, err := s.generate(ctx, prompt)
	if err != nil {
		return Answer{}, err
	}
	return Answer{Text: text, Sources: sources, Emergency: emergency}, nil
}

// generate calls the model, retrying transient failures with exponential
// backoff. Fatal errors and cancellation stop immediately.
func (s *ChatService) generate(ctx context.Context, prompt string) (string, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.InitialBackoff
	b.MaxInterval = s.cfg.MaxBackoff

	attempts := 0
	text, err := backoff.Retry(ctx, func() (string, error) {
		attempts++
		start := time.Now()
		out, err := s.gen.Generate(ctx, prompt, s.cfg.Model, s.cfg.Temperature)
		elapsed := time.Since(start)

		switch {
		case err == nil:
			s.metrics.ObserveGeneration(metrics.ResultOK, elapsed)
			return out, nil
		case ctx.Err() != nil:
			s.metrics.ObserveGeneration(metrics.ResultCanceled, elapsed)
			return "", backoff.Permanent(ctx.Err())
		case errors.Is(err, port.ErrTransient):
			s.metrics.ObserveGeneration(metrics.ResultTransient, elapsed)
			slog.Warn("generation failed, will retry", "attempt", attempts, "error", err)
			return "", err
		default:
			s.metrics.ObserveGeneration(metrics.ResultFatal, elapsed)
			return "", backoff.Permanent(err)
		}
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(s.cfg.MaxAttempts)),
	)
	if err == nil {
		return text, nil
	}

	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Unwrap()
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", ctxErr
	}
	slog.Error("generation failed", "attempts", attempts, "error", err)
	return "", fmt.Errorf("%w after %d attempt(s): %w", port.ErrGenerationFailed, attempts, err)
}
