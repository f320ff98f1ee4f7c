// Package mcp exposes the knowledge base to external AI agents over the
// Model Context Protocol.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/viveksaraswat123/medical-chatbot/internal/domain"
	"github.com/viveksaraswat123/medical-chatbot/internal/middleware"
	"github.com/viveksaraswat123/medical-chatbot/internal/rag"
	"github.com/viveksaraswat123/medical-chatbot/internal/service"
)

// Version is reported to MCP clients.
const Version = "1.0.0"

const maxSearchK = 20

// IndexStatus reports the lifecycle of the serving index.
type IndexStatus interface {
	Status() rag.Status
}

// Server implements the Model Context Protocol (MCP) server.
type Server struct {
	retriever service.Retriever
	index     IndexStatus
	chat      *service.ChatService
	auditor   *middleware.Auditor
	port      string
	server    *mcp.Server
}

// NewServer creates a new MCP server. chat may be nil, in which case the
// answer tool is not offered.
func NewServer(retriever service.Retriever, index IndexStatus, chat *service.ChatService, auditor *middleware.Auditor, port string) *Server {
	s := &Server{
		retriever: retriever,
		index:     index,
		chat:      chat,
		auditor:   auditor,
		port:      port,
		server: mcp.NewServer(&mcp.Implementation{
			Name:    "medibot",
			Version: Version,
		}, nil),
	}
	s.registerTools()
	return s
}

// SearchInput is the input schema for search_medical_knowledge.
type SearchInput struct {
	Query string `json:"query" jsonschema:"the medical question or keywords to look up"`
	K     int    `json:"k,omitempty" jsonschema:"number of passages to return (default 3, at most 20)"`
}

// SearchOutput is the output schema for search_medical_knowledge.
type SearchOutput struct {
	Results []Passage `json:"results"`
	Count   int       `json:"count"`
}

// Passage is one retrieved chunk of the knowledge base.
type Passage struct {
	SourceID   string  `json:"source_id"`
	ChunkIndex int     `json:"chunk_index"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
}

// StatusInput is the (empty) input schema for index_status.
type StatusInput struct{}

// StatusOutput is the output schema for index_status.
type StatusOutput struct {
	State     string `json:"state"`
	ModelID   string `json:"model_id"`
	Entries   int    `json:"entries"`
	BuiltAt   string `json:"built_at,omitempty"`
	Builds    int    `json:"builds"`
	LastError string `json:"last_error,omitempty"`
}

// AskInput is the input schema for ask_medibot.
type AskInput struct {
	Question       string `json:"question" jsonschema:"the medical question to answer"`
	ConversationID string `json:"conversation_id,omitempty" jsonschema:"continue an earlier conversation; omit to start a new one"`
}

// AskOutput is the output schema for ask_medibot.
type AskOutput struct {
	ConversationID string    `json:"conversation_id"`
	Response       string    `json:"response"`
	Emergency      bool      `json:"emergency"`
	Sources        []Passage `json:"sources"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "search_medical_knowledge",
		Description: "Semantic search over the MediBot medical knowledge base. Returns the most relevant passages with their source file and similarity score.",
	}, s.handleSearch)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "index_status",
		Description: "Report whether the knowledge index is built, which embedding model it uses and how many passages it holds.",
	}, s.handleStatus)

	if s.chat != nil {
		mcp.AddTool(s.server, &mcp.Tool{
			Name:        "ask_medibot",
			Description: "Answer a medical question from the knowledge base only. Answers follow MediBot's safety rules and end with a disclaimer.",
		}, s.handleAsk)
	}
}

func (s *Server) handleSearch(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (*mcp.CallToolResult, SearchOutput, error) {
	if strings.TrimSpace(input.Query) == "" {
		return nil, SearchOutput{}, errors.New("query must not be empty")
	}
	if input.K < 0 || input.K > maxSearchK {
		return nil, SearchOutput{}, fmt.Errorf("k must be between 0 and %d", maxSearchK)
	}

	hits, err := s.retriever.RetrieveScored(ctx, input.Query, input.K)
	if err != nil {
		slog.Error("MCP search failed", "error", err)
		return nil, SearchOutput{}, fmt.Errorf("search failed: %w", err)
	}

	s.auditor.RecordSystem("mcp", domain.AuditActionKnowledgeQuery, "knowledge", "", map[string]any{
		"k":       input.K,
		"results": len(hits),
	})
	out := SearchOutput{Results: passages(hits), Count: len(hits)}
	return nil, out, nil
}

func (s *Server) handleStatus(_ context.Context, _ *mcp.CallToolRequest, _ StatusInput) (*mcp.CallToolResult, StatusOutput, error) {
	st := s.index.Status()
	out := StatusOutput{
		State:     st.State.String(),
		ModelID:   st.ModelID,
		Entries:   st.Entries,
		Builds:    st.Builds,
		LastError: st.LastError,
	}
	if !st.BuiltAt.IsZero() {
		out.BuiltAt = st.BuiltAt.UTC().Format(time.RFC3339)
	}
	return nil, out, nil
}

func (s *Server) handleAsk(ctx context.Context, _ *mcp.CallToolRequest, input AskInput) (*mcp.CallToolResult, AskOutput, error) {
	id := strings.TrimSpace(input.ConversationID)
	if id == "" {
		id = uuid.NewString()
	}

	ans, err := s.chat.RetrieveAndAnswer(ctx, id, input.Question, "")
	if errors.Is(err, service.ErrEmptyQuestion) {
		return nil, AskOutput{}, err
	}
	if err != nil {
		slog.Error("MCP answer failed", "conversation_id", id, "error", err)
		return nil, AskOutput{}, errors.New(service.AnswerFailedMessage)
	}

	s.auditor.RecordSystem("mcp", domain.AuditActionQuestion, "conversation", id, map[string]any{
		"sources":   len(ans.Sources),
		"emergency": ans.Emergency,
	})
	return nil, AskOutput{
		ConversationID: id,
		Response:       ans.Text,
		Emergency:      ans.Emergency,
		Sources:        passages(ans.Sources),
	}, nil
}

func passages(hits []domain.ScoredChunk) []Passage {
	out := make([]Passage, len(hits))
	for i, h := range hits {
		out[i] = Passage{SourceID: h.SourceID, ChunkIndex: h.Index, Text: h.Text, Score: h.Score}
	}
	return out
}

// Handler returns the streamable HTTP handler serving this server.
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(_ *http.Request) *mcp.Server {
		return s.server
	}, nil)
}

// Start serves MCP over streamable HTTP at /mcp until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/mcp", s.Handler())

	httpServer := &http.Server{
		Addr:              ":" + s.port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx) //nolint:errcheck
	}()

	slog.Info("MCP server starting", "port", s.port)
	err := httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
