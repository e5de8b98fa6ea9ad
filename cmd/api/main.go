package main

import (
	"context"
	"errors"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	server "github.com/studybuddy-ai/server"
	"github.com/studybuddy-ai/server/internal/config"
	"github.com/studybuddy-ai/server/internal/handler"
	"github.com/studybuddy-ai/server/internal/service/ai"
	chatservice "github.com/studybuddy-ai/server/internal/service/chat"
	"github.com/studybuddy-ai/server/internal/service/rag"
	"github.com/studybuddy-ai/server/internal/store"
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

	// Initialize the session store
	var sessionStore store.Store
	if cfg.Store.DatabaseURL != "" {
		pool, err := store.NewPool(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			log.Fatalf("failed to connect to database: %v", err)
		}
		defer pool.Close()

		migrationsFS, err := fs.Sub(server.MigrationsFS, "migrations")
		if err != nil {
			log.Fatalf("failed to load embedded migrations: %v", err)
		}
		if err := store.RunMigrations(cfg.Store.DatabaseURL, migrationsFS); err != nil {
			log.Fatalf("failed to run migrations: %v", err)
		}

		sessionStore = store.NewPostgres(pool)
		log.Println("Postgres session store initialized")
	} else {
		log.Println("DATABASE_URL not set, using in-memory session store (sessions are lost on restart)")
		sessionStore = store.NewMemory()
	}

	// Initialize the generation gateway
	var generator chatservice.Generator
	if cfg.AI.Enabled() {
		chatModel, err := cfg.AI.NewChatModel(ctx)
		if err != nil {
			log.Printf("warning: failed to initialize chat model: %v", err)
			log.Println("continuing without generation - chat replies will degrade")
		} else {
			aiService, err := ai.NewService(ctx, chatModel, ai.RetryPolicy{
				MaxAttempts: cfg.AI.MaxAttempts,
				BaseDelay:   cfg.AI.RetryBaseDelay,
				MaxDelay:    cfg.AI.RetryMaxDelay,
			})
			if err != nil {
				log.Printf("warning: failed to initialize generation service: %v", err)
			} else {
				generator = aiService
				log.Println("generation service initialized successfully")
			}
		}
	} else {
		log.Println("generation credentials not configured, chat replies will degrade")
	}

	// Initialize the retrieval gateway
	var retriever chatservice.Retriever
	if cfg.RAG.Enabled() {
		retriever = rag.NewClient(cfg.RAG.BaseURL, cfg.RAG.Timeout)
		log.Printf("retrieval service configured at %s", cfg.RAG.BaseURL)
	} else {
		log.Println("RAG_SERVICE_URL not set, retrieval disabled")
	}

	chatSvc := chatservice.NewService(sessionStore, generator, retriever)
	router := handler.NewRouter(chatSvc, cfg.RateLimit.Max, cfg.RateLimit.Window)

	startServer(ctx, cfg.Server, router)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("chat backend listening on %s", serverCfg.Addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
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
