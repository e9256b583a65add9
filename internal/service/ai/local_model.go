package ai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/lm-dialogue/internal/version"
	"github.com/zhouzirui/lm-dialogue/pkg/logger"
)

// maxErrorBody caps how much of a non-2xx body is kept for StatusError.
const maxErrorBody = 64 << 10

// LocalModelConfig configures a chat model backed by an OpenAI-compatible server such as
// the LM Studio local server.
type LocalModelConfig struct {
	// BaseURL is the API root, e.g. http://127.0.0.1:1234/v1.
	BaseURL     string
	Model       string
	APIKey      string
	Temperature *float32
	MaxTokens   *int
	// Timeout bounds one request. Zero means no timeout. Ignored when HTTPClient is set.
	Timeout    time.Duration
	HTTPClient *http.Client
}

// LocalChatModel wraps the eino OpenAI chat model and sorts its failures into
// ErrUnreachable, ErrTimeout, *StatusError and ErrMalformedResponse.
type LocalChatModel struct {
	inner model.BaseChatModel
	log   zerolog.Logger
}

var _ model.BaseChatModel = (*LocalChatModel)(nil)

// NewLocalChatModel validates cfg and builds the underlying OpenAI client.
func NewLocalChatModel(ctx context.Context, cfg LocalModelConfig) (*LocalChatModel, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API base %q: %w", cfg.BaseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid API base %q: scheme must be http or https", cfg.BaseURL)
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("model identifier is required")
	}

	base := cfg.HTTPClient
	if base == nil {
		base = &http.Client{Timeout: cfg.Timeout}
	}
	client := *base
	client.Transport = &statusTransport{next: base.Transport}

	inner, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		BaseURL:     cfg.BaseURL,
		APIKey:      cfg.APIKey,
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		HTTPClient:  &client,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create openai chat model: %w", err)
	}

	return &LocalChatModel{
		inner: inner,
		log:   logger.Component("ai"),
	}, nil
}

// Generate sends input as one non-streaming chat completion.
func (m *LocalChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	rec := &statusRecord{}
	msg, err := m.inner.Generate(context.WithValue(ctx, statusRecordKey{}, rec), input, opts...)
	if err != nil {
		return nil, m.classify(ctx, err, rec)
	}
	return msg, nil
}

// Stream delivers the full completion as a single chunk; the server is always called with stream=false.
func (m *LocalChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

// GetType names the component for eino callbacks.
func (m *LocalChatModel) GetType() string {
	return "LocalOpenAICompatible"
}

// IsCallbacksEnabled reports that the wrapped OpenAI model fires its own callbacks, so the
// graph does not wrap this node a second time.
func (m *LocalChatModel) IsCallbacksEnabled() bool {
	return true
}

func (m *LocalChatModel) classify(ctx context.Context, err error, rec *statusRecord) error {
	if rec.status != nil {
		m.log.Error().Int("status", rec.status.Code).Str("body", rec.status.Body).Msg("inference server error response")
		return rec.status
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("completion request: %w", ctxErr)
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	return fmt.Errorf("%w: %w", ErrMalformedResponse, err)
}

type statusRecordKey struct{}

// statusRecord receives the non-2xx answer seen by statusTransport for one Generate call.
type statusRecord struct {
	status *StatusError
}

// statusTransport stamps the User-Agent and captures non-2xx answers before the OpenAI
// client turns them into its own error types.
type statusTransport struct {
	next http.RoundTripper
}

func (t *statusTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	next := t.next
	if next == nil {
		next = http.DefaultTransport
	}

	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := next.RoundTrip(req)
	if err != nil || (resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices) {
		return resp, err
	}

	rec, ok := req.Context().Value(statusRecordKey{}).(*statusRecord)
	if !ok {
		return resp, nil
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(raw))
	rec.status = &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	return resp, nil
}
