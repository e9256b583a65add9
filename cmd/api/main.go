package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/lm-dialogue/internal/config"
	"github.com/zhouzirui/lm-dialogue/internal/handler"
	"github.com/zhouzirui/lm-dialogue/internal/model/persona"
	"github.com/zhouzirui/lm-dialogue/internal/service/ai"
	"github.com/zhouzirui/lm-dialogue/internal/service/chat"
	"github.com/zhouzirui/lm-dialogue/internal/version"
	"github.com/zhouzirui/lm-dialogue/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log := logger.L()
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	closer, err := logger.Init(logger.Config{
		Level:   cfg.Log.Level,
		Pretty:  cfg.Log.Pretty,
		File:    cfg.Log.File,
		Service: "api",
	})
	if err != nil {
		log := logger.L()
		log.Fatal().Err(err).Msg("failed to initialize logger")
	}
	defer closer.Close()

	log := logger.L()
	if envErr != nil {
		log.Debug().Err(envErr).Msg("no .env file, continuing with system environment variables only")
	}
	log.Info().Str("version", version.Info()).Msg("starting")

	personaStore := persona.NewMemoryStore(persona.Seed())

	chatModel, err := ai.NewChatModel(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("provider", string(cfg.LLM.Provider)).Msg("failed to initialize chat model")
	}

	aiService, err := ai.NewService(ctx, chatModel, ai.NewFallback(cfg))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize AI service")
	}
	log.Info().
		Str("provider", string(cfg.LLM.Provider)).
		Str("endpoint", cfg.LLM.Endpoint()).
		Str("model", cfg.LLM.Model).
		Msg("AI service initialized")

	chatService := chat.NewService(personaStore, aiService, chat.WithDefaultPersona(cfg.Chat.DefaultPersona))

	router, err := handler.NewRouter(personaStore, chatService)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build router")
	}

	startServer(ctx, cfg.Server, router)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	log := logger.L()
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Info().Str("addr", addr).Msg("lm-dialogue listening")
	if err := runServer(ctx, srv); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
	log.Info().Msg("server stopped")
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
