package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/lm-dialogue/internal/config"
	"github.com/zhouzirui/lm-dialogue/internal/model/persona"
	"github.com/zhouzirui/lm-dialogue/internal/service/ai"
	"github.com/zhouzirui/lm-dialogue/internal/service/chat"
	"github.com/zhouzirui/lm-dialogue/internal/tui"
	"github.com/zhouzirui/lm-dialogue/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	personaID := flag.String("persona", cfg.Chat.DefaultPersona, "persona id")
	style := flag.String("style", "dark", "markdown style for replies: dark, light or notty")
	flag.Parse()

	// the screen belongs to the UI; logs go to LOG_FILE or nowhere
	closer, err := logger.Init(logger.Config{
		Level:   cfg.Log.Level,
		File:    cfg.Log.File,
		Service: "tui",
		Discard: true,
	})
	if err != nil {
		return err
	}
	defer closer.Close()

	personaStore := persona.NewMemoryStore(persona.Seed())

	chatModel, err := ai.NewChatModel(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init chat model: %w", err)
	}
	aiService, err := ai.NewService(ctx, chatModel, ai.NewFallback(cfg))
	if err != nil {
		return fmt.Errorf("init AI service: %w", err)
	}

	chatService := chat.NewService(personaStore, aiService, chat.WithDefaultPersona(cfg.Chat.DefaultPersona))
	session, err := chatService.CreateSession(ctx, *personaID)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	defer chatService.EndSession(context.Background(), session.ID)

	log := logger.L()
	log.Info().Str(logger.FieldSession, session.ID).Str("persona", session.PersonaID).Msg("terminal session started")
	return tui.Run(ctx, chatService, session.ID, tui.WithMarkdownStyle(*style))
}
