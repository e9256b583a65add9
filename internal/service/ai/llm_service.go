package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/lm-dialogue/internal/config"
	"github.com/zhouzirui/lm-dialogue/internal/model/persona"
	"github.com/zhouzirui/lm-dialogue/pkg/logger"
)

const bareChain = "none"

// Service encapsulates the completion request: a fixed preamble turn plus the live user turn.
type Service struct {
	chatModel model.BaseChatModel
	chains    map[string]compose.Runnable[map[string]any, *schema.Message]
	fallback  Fallback
	tracer    callbacks.Handler
	log       zerolog.Logger
}

// NewChatModel builds the chat model selected by cfg.LLM.Provider.
func NewChatModel(ctx context.Context, cfg *config.Config) (model.BaseChatModel, error) {
	if cfg.LLM.Provider == config.ProviderArk {
		return cfg.Ark.NewChatModel(ctx, cfg.LLM)
	}

	var temperature *float32
	if cfg.LLM.Temperature != nil {
		val := float32(*cfg.LLM.Temperature)
		temperature = &val
	}

	return NewLocalChatModel(ctx, LocalModelConfig{
		BaseURL:     cfg.LLM.APIBase(),
		Model:       cfg.LLM.Model,
		APIKey:      cfg.LLM.APIKey,
		Temperature: temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     cfg.LLM.Timeout,
	})
}

// NewService compiles one chain per preamble role around chatModel.
func NewService(ctx context.Context, chatModel model.BaseChatModel, fallback Fallback) (*Service, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("chat model is required")
	}

	templates := map[string]prompt.ChatTemplate{
		string(persona.RoleSystem): prompt.FromMessages(
			schema.FString,
			schema.SystemMessage("{preamble}"),
			schema.UserMessage("{query}"),
		),
		string(persona.RoleAssistant): prompt.FromMessages(
			schema.FString,
			schema.AssistantMessage("{preamble}", nil),
			schema.UserMessage("{query}"),
		),
		bareChain: prompt.FromMessages(
			schema.FString,
			schema.UserMessage("{query}"),
		),
	}

	chains := make(map[string]compose.Runnable[map[string]any, *schema.Message], len(templates))
	for key, tpl := range templates {
		chain := compose.NewChain[map[string]any, *schema.Message]()
		chain.AppendChatTemplate(tpl)
		chain.AppendChatModel(chatModel)

		runnable, err := chain.Compile(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to compile %s chat chain: %w", key, err)
		}
		chains[key] = runnable
	}

	log := logger.Component("ai")
	return &Service{
		chatModel: chatModel,
		chains:    chains,
		fallback:  fallback,
		tracer:    newModelTracer(log),
		log:       log,
	}, nil
}

// newModelTracer logs what the chat model node receives and returns, at debug level.
func newModelTracer(log zerolog.Logger) callbacks.Handler {
	return callbacks.NewHandlerBuilder().
		OnStartFn(func(ctx context.Context, info *callbacks.RunInfo, input callbacks.CallbackInput) context.Context {
			if info == nil || info.Component != components.ComponentOfChatModel {
				return ctx
			}
			in := model.ConvCallbackInput(input)
			if in == nil {
				return ctx
			}
			event := log.Debug().Str("model_type", info.Type).Int("messages", len(in.Messages))
			if n := len(in.Messages); n > 0 && in.Messages[n-1] != nil {
				event = event.Str("last", in.Messages[n-1].Content)
			}
			event.Msg("sending completion request")
			return ctx
		}).
		OnEndFn(func(ctx context.Context, info *callbacks.RunInfo, output callbacks.CallbackOutput) context.Context {
			if info == nil || info.Component != components.ComponentOfChatModel {
				return ctx
			}
			out := model.ConvCallbackOutput(output)
			if out == nil || out.Message == nil {
				return ctx
			}
			event := log.Debug().Str("content", out.Message.Content)
			switch {
			case out.TokenUsage != nil:
				event = event.
					Int("prompt_tokens", out.TokenUsage.PromptTokens).
					Int("completion_tokens", out.TokenUsage.CompletionTokens)
			case out.Message.ResponseMeta != nil && out.Message.ResponseMeta.Usage != nil:
				event = event.
					Int("prompt_tokens", out.Message.ResponseMeta.Usage.PromptTokens).
					Int("completion_tokens", out.Message.ResponseMeta.Usage.CompletionTokens)
			}
			event.Msg("received completion response")
			return ctx
		}).
		OnErrorFn(func(ctx context.Context, info *callbacks.RunInfo, err error) context.Context {
			if info != nil && info.Component == components.ComponentOfChatModel {
				log.Debug().Err(err).Str("model_type", info.Type).Msg("completion request failed")
			}
			return ctx
		}).
		Build()
}

// Generate runs the chain for p and returns the raw model answer.
func (s *Service) Generate(ctx context.Context, p persona.Persona, userText string) (*schema.Message, error) {
	key := string(p.Role())
	if strings.TrimSpace(p.Preamble) == "" {
		key = bareChain
	}

	input := map[string]any{
		"preamble": p.Preamble,
		"query":    userText,
	}

	opts := []compose.Option{compose.WithCallbacks(s.tracer)}
	if p.Model != "" {
		opts = append(opts, compose.WithChatModelOption(model.WithModel(p.Model)))
	}

	response, err := s.chains[key].Invoke(ctx, input, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to run chat chain: %w", err)
	}
	return response, nil
}

// Complete returns the model's answer to userText, or a fallback explanation when the
// request fails. It never returns an error.
func (s *Service) Complete(ctx context.Context, p persona.Persona, userText string) string {
	response, err := s.Generate(ctx, p, userText)
	if err != nil {
		s.log.Warn().Err(err).Str("persona", p.ID).Msg("completion failed, using fallback text")
		return s.fallback.Text(err)
	}

	if response == nil || strings.TrimSpace(response.Content) == "" {
		s.log.Warn().Str("persona", p.ID).Msg("completion returned no content")
		return s.fallback.Empty()
	}

	s.log.Info().Str("persona", p.ID).Int("length", len(response.Content)).Msg("generated response")
	return response.Content
}
