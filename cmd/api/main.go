package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/joho/godotenv"

	"github.com/zhouzirui/persona-rag/backend/internal/config"
	"github.com/zhouzirui/persona-rag/backend/internal/handler"
	"github.com/zhouzirui/persona-rag/backend/internal/service/ai"
	"github.com/zhouzirui/persona-rag/backend/internal/service/loader"
	"github.com/zhouzirui/persona-rag/backend/internal/service/rag"
	"github.com/zhouzirui/persona-rag/backend/internal/service/session"
	"github.com/zhouzirui/persona-rag/backend/internal/service/splitter"
	"github.com/zhouzirui/persona-rag/backend/internal/telemetry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, closeLog, err := telemetry.InitLogger(cfg.Log)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer closeLog()

	shutdownTelemetry, err := telemetry.InitTelemetry(ctx, cfg.Telemetry)
	if err != nil {
		logger.Warn("telemetry disabled", "error", err)
		shutdownTelemetry = func() {}
	}
	defer shutdownTelemetry()

	limiter := ai.NewLimiter(cfg.RateLimit)

	var embedder embedding.Embedder
	if cfg.Embedding.Enabled() {
		raw, err := cfg.Embedding.NewEmbedder()
		if err != nil {
			logger.Warn("failed to initialize embedder", "provider", cfg.Embedding.Provider, "error", err)
		} else {
			embedder = ai.LimitEmbedder(raw, limiter)
			logger.Info("embedder initialized", "provider", cfg.Embedding.Provider, "model", cfg.Embedding.Model)
		}
	} else {
		logger.Warn("embedding credentials missing, uploads will fail", "provider", cfg.Embedding.Provider)
	}

	var answerer rag.Answerer
	if cfg.AI.Enabled() {
		chatModel, err := cfg.AI.NewChatModel(ctx)
		if err != nil {
			logger.Warn("failed to initialize chat model", "provider", cfg.AI.Provider, "error", err)
		} else if aiService, err := ai.NewService(ctx, ai.LimitChatModel(chatModel, limiter), cfg.RAG, logger); err != nil {
			logger.Warn("failed to initialize AI service", "error", err)
		} else {
			answerer = aiService
			logger.Info("AI service initialized", "provider", cfg.AI.Provider, "condense_question", cfg.RAG.CondenseQuestion)
		}
	} else {
		logger.Warn("LLM credentials missing, chat will fail", "provider", cfg.AI.Provider)
	}

	sessions := session.NewStore(cfg.Session.ScratchRoot, logger)
	defer sessions.Close()

	engine, err := rag.NewEngine(rag.Options{
		Sessions: sessions,
		Loaders:  loader.NewRegistry(),
		Splitter: splitter.New(),
		Embedder: embedder,
		Answerer: answerer,
		Logger:   logger,
	})
	if err != nil {
		log.Fatalf("failed to initialize engine: %v", err)
	}

	router := handler.NewRouter(engine, handler.RouterConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		UploadMaxBytes: cfg.Session.UploadMaxBytes,
		Logger:         logger,
	})

	if err := startServer(ctx, cfg.Server, router, logger); err != nil {
		logger.Error("server error", "error", err)
		sessions.Close()
		os.Exit(1)
	}
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, logger *slog.Logger) error {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info("persona RAG backend listening", "addr", addr)
	return runServer(ctx, srv)
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
