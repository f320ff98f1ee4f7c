package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/gofiber/fiber/v3/middleware/static"
	"github.com/joho/godotenv"

	"github.com/viveksaraswat123/medical-chatbot/internal/adapter/store"
	"github.com/viveksaraswat123/medical-chatbot/internal/app"
	"github.com/viveksaraswat123/medical-chatbot/internal/handler"
	"github.com/viveksaraswat123/medical-chatbot/internal/mcp"
	"github.com/viveksaraswat123/medical-chatbot/internal/metrics"
	"github.com/viveksaraswat123/medical-chatbot/internal/middleware"
	"github.com/viveksaraswat123/medical-chatbot/internal/service"
	"github.com/viveksaraswat123/medical-chatbot/internal/tracing"
	"github.com/viveksaraswat123/medical-chatbot/pkg/config"
)

const version = "1.0.0"

func main() {
	// ── Load .env file ───────────────────────────────────────────────────
	_ = godotenv.Load() // silently ignore if .env doesn't exist

	// ── Configuration ────────────────────────────────────────────────────
	cfg := config.Load()
	slog.SetDefault(cfg.Logger(os.Stdout))
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("🚀 Starting MediBot",
		"port", cfg.Port,
		"embedder", cfg.Embedder,
		"generator", cfg.Generator,
		"conversation_store", cfg.ConversationStore,
		"mcp_enabled", cfg.MCPEnabled,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ── Tracing ──────────────────────────────────────────────────────────
	tp, err := tracing.Init(ctx, tracing.Config{
		ServiceName:    "medibot",
		ServiceVersion: version,
		Environment:    os.Getenv("ENVIRONMENT"),
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     cfg.OTELSampleRate,
	})
	if err != nil {
		slog.Error("failed to init tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(shutdownCtx)
	}()

	m := metrics.New()

	// ── Database ─────────────────────────────────────────────────────────
	pgStore, err := store.NewPostgresStore(ctx, cfg.DatabaseURL, cfg.HistoryMaxTurns)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pgStore.Close()

	conversations, err := app.NewConversationStore(cfg, pgStore)
	if err != nil {
		slog.Error("failed to open conversation store", "error", err)
		os.Exit(1)
	}
	defer conversations.Close()

	// ── Knowledge index ──────────────────────────────────────────────────
	index, err := app.NewIndexManager(cfg, m)
	if err != nil {
		slog.Error("failed to configure index", "error", err)
		os.Exit(1)
	}
	go func() {
		if _, err := index.Index(ctx); err != nil {
			slog.Warn("⚠️ knowledge index not ready", "error", err)
			return
		}
		slog.Info("📚 knowledge index ready", "entries", index.Status().Entries)
	}()
	retriever := app.NewRetriever(cfg, index, m)

	// ── Services ─────────────────────────────────────────────────────────
	generator, err := app.NewGenerator(cfg)
	if err != nil {
		slog.Error("failed to configure generator", "error", err)
		os.Exit(1)
	}

	chatCfg := service.ChatConfig{
		Model:        cfg.LLMModel,
		Temperature:  cfg.LLMTemperature,
		K:            cfg.RetrievalK,
		MaxAttempts:  cfg.GenerationMaxAttempts,
		ShortCircuit: cfg.SafetyShortCircuit,
	}
	chatModel := cfg.LLMModel
	if cfg.Generator == config.GeneratorOllama {
		chatModel = cfg.OllamaChatModel
		chatCfg.Model = chatModel
	}
	chatService := service.NewChatService(retriever,
		service.NewMemory(conversations, generator, chatModel, cfg.LLMTemperature, cfg.HistoryMaxChars),
		generator, chatCfg, m)
	// Anonymous sessions never touch the database.
	anonymousStore := store.NewMemoryStore(cfg.HistoryMaxTurns,
		store.WithIdleTTL(cfg.AnonymousIdleTTL),
		store.WithMaxConversations(cfg.AnonymousMaxConversations),
	)
	anonymousChat := service.NewChatService(retriever,
		service.NewMemory(anonymousStore, generator, chatModel, cfg.LLMTemperature, cfg.HistoryMaxChars),
		generator, chatCfg, m)

	authService := service.NewAuthService(pgStore, cfg)
	auditor := middleware.NewAuditor(pgStore)

	// ── Fiber App ────────────────────────────────────────────────────────
	fiberApp := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.GenerationTimeout + 30*time.Second,
	})

	// Global middleware
	fiberApp.Use(recover.New())
	fiberApp.Use(fiberlogger.New())
	fiberApp.Use(cors.New(cors.Config{
		AllowOrigins: []string{cfg.FrontendURL},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
	}))
	fiberApp.Use(middleware.AuditMiddleware(auditor, m))

	fiberApp.Get("/metrics", adaptor.HTTPHandler(m.Handler()))

	// ── Public Routes ────────────────────────────────────────────────────
	requestTimeout := cfg.GenerationTimeout * time.Duration(max(cfg.GenerationMaxAttempts, 1))

	api := fiberApp.Group("/api")
	handler.NewAuthHandler(authService, auditor).Register(api)
	handler.NewHealthHandler(index, pgStore).Register(api)
	handler.NewConversationHandler(anonymousChat, requestTimeout).Register(api)

	// ── Protected Routes ─────────────────────────────────────────────────
	protected := fiberApp.Group("/api", middleware.JWTMiddleware(service.JWTConfigFrom(cfg)))
	handler.NewAuthHandler(authService, auditor).RegisterProtected(protected)
	handler.NewChatHandler(pgStore, chatService, auditor, requestTimeout).Register(protected)
	handler.NewKnowledgeHandler(retriever, auditor).Register(protected)

	jobTracker := handler.NewJobTracker()
	admin := protected.Group("/admin", middleware.RequireAdmin())
	handler.NewAdminHandler(index, jobTracker, auditor, 30*time.Minute).Register(admin)
	handler.NewJobsHandler(jobTracker).Register(admin)
	handler.NewAuditHandler(pgStore).Register(admin)

	// ── Frontend ─────────────────────────────────────────────────────────
	if info, err := os.Stat(cfg.FrontendDir); err == nil && info.IsDir() {
		fiberApp.Use("/", static.New(cfg.FrontendDir))
		slog.Info("🖥️ serving frontend", "dir", cfg.FrontendDir)
	}

	// ── MCP Server (separate port) ───────────────────────────────────────
	if cfg.MCPEnabled {
		mcpServer := mcp.NewServer(retriever, index, anonymousChat, auditor, cfg.MCPPort)
		go func() {
			if err := mcpServer.Start(ctx); err != nil {
				slog.Error("MCP server failed", "error", err)
			}
		}()
	}

	// ── Start ────────────────────────────────────────────────────────────
	go func() {
		<-ctx.Done()
		slog.Info("🛑 shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := fiberApp.ShutdownWithContext(shutdownCtx); err != nil {
			slog.Error("shutdown failed", "error", err)
		}
	}()

	slog.Info("🌐 Fiber listening", "port", cfg.Port)
	if err := fiberApp.Listen(":"+cfg.Port, fiber.ListenConfig{DisableStartupMessage: true}); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}
