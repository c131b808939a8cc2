package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/agent-playground/internal/config"
	"github.com/zhouzirui/agent-playground/internal/handler"
	"github.com/zhouzirui/agent-playground/internal/logging"
	"github.com/zhouzirui/agent-playground/internal/model/agent"
	"github.com/zhouzirui/agent-playground/internal/service/ai"
	"github.com/zhouzirui/agent-playground/internal/service/chat"
	"github.com/zhouzirui/agent-playground/internal/service/run"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	if err := logging.Setup(cfg.Log.Level, logging.Format(cfg.Log.Format), os.Stderr); err != nil {
		log.Fatal().Err(err).Msg("failed to configure logging")
	}
	if envErr != nil {
		log.Debug().Err(envErr).Msg("no .env file, using system environment only")
	}

	agentStore, err := loadAgents(cfg.AgentsFile)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.AgentsFile).Msg("failed to load agent registry")
	}
	chatService := chat.NewService()

	var responder run.Responder
	if cfg.AI.Enabled() {
		aiService, err := newAIService(ctx, cfg.AI)
		if err != nil {
			log.Warn().Err(err).Msg("continuing without a model, runs will return 503")
		} else {
			responder = aiService
			log.Info().Str("model", cfg.AI.Model).Msg("AI service initialized")
		}
	} else {
		log.Warn().Msg("ark credentials not configured, runs will return 503")
	}

	runService := run.NewService(agentStore, chatService, responder)
	router := handler.NewRouter(agentStore, chatService, runService, cfg.Server.AllowedOrigins)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Info().Str("addr", cfg.Server.Addr).Int("agents", len(agentStore.List())).Msg("agent playground listening")
	if err := runServer(ctx, srv); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
	log.Info().Msg("server stopped")
}

func loadAgents(path string) (*agent.MemoryStore, error) {
	if path == "" {
		return agent.NewMemoryStore(agent.Seed()), nil
	}
	items, err := agent.LoadFile(path)
	if err != nil {
		return nil, err
	}
	return agent.NewMemoryStore(items), nil
}

func newAIService(ctx context.Context, cfg config.AIConfig) (*ai.Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, err
	}
	return ai.NewService(ctx, chatModel, ai.WithHistoryLimit(cfg.HistoryLimit))
}

// runServer serves until ctx is cancelled, then drains in-flight runs for up to 10s.
func runServer(ctx context.Context, srv *http.Server) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "listen")
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
