package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/joho/godotenv"

	"github.com/zhouzirui/lm-dialogue/internal/config"
	"github.com/zhouzirui/lm-dialogue/internal/model/persona"
	"github.com/zhouzirui/lm-dialogue/internal/service/ai"
	"github.com/zhouzirui/lm-dialogue/pkg/logger"
)

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: no .env file, using system environment: %v\n", err)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load configuration: %v\n", err)
		os.Exit(1)
	}

	mode := flag.String("mode", "persona", "probe mode: raw (user turn only) or persona (preamble + user turn)")
	personaID := flag.String("persona", cfg.Chat.DefaultPersona, "persona id used in persona mode")
	text := flag.String("text", "", "user message to send")
	timeout := flag.Duration("timeout", 60*time.Second, "request timeout")
	showFallback := flag.Bool("fallback", false, "print the text the chat would show when the request fails")
	flag.Parse()

	if _, err := logger.Init(logger.Config{Level: cfg.Log.Level, Pretty: true, Service: "lmprobe"}); err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	log := logger.L()

	if strings.TrimSpace(*text) == "" {
		flag.Usage()
		log.Fatal().Msg("provide the message with -text")
	}
	if *mode != "raw" && *mode != "persona" {
		flag.Usage()
		log.Fatal().Str("mode", *mode).Msg("mode must be raw or persona")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	chatModel, err := ai.NewChatModel(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("init chat model")
	}
	fallback := ai.NewFallback(cfg)

	log.Info().
		Str("mode", *mode).
		Str("provider", string(cfg.LLM.Provider)).
		Str("endpoint", cfg.LLM.Endpoint()).
		Str("model", cfg.LLM.Model).
		Msg("probing inference server")

	started := time.Now()
	var reply *schema.Message
	switch *mode {
	case "raw":
		reply, err = chatModel.Generate(ctx, []*schema.Message{schema.UserMessage(*text)})
	case "persona":
		p, ok := persona.NewMemoryStore(persona.Seed()).FindByID(*personaID)
		if !ok {
			log.Fatal().Str("persona", *personaID).Msg("unknown persona")
		}
		svc, svcErr := ai.NewService(ctx, chatModel, fallback)
		if svcErr != nil {
			log.Fatal().Err(svcErr).Msg("init AI service")
		}
		reply, err = svc.Generate(ctx, p, *text)
	}
	elapsed := time.Since(started)

	if err != nil {
		if *showFallback {
			fmt.Println(fallback.Text(err))
		}
		log.Fatal().Err(err).Dur("elapsed", elapsed).Msg("completion failed")
	}

	event := log.Info().Dur("elapsed", elapsed)
	if reply.ResponseMeta != nil && reply.ResponseMeta.Usage != nil {
		event = event.
			Int("prompt_tokens", reply.ResponseMeta.Usage.PromptTokens).
			Int("completion_tokens", reply.ResponseMeta.Usage.CompletionTokens)
	}
	event.Msg("completion succeeded")
	fmt.Println(reply.Content)
}
