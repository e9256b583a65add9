package ai

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/zhouzirui/lm-dialogue/internal/config"
)

// Fallback turns completion failures into text shown in the conversation.
// Hosted marks a remote provider, for which the local-server checklist does not apply.
type Fallback struct {
	BaseURL string
	Model   string
	Hosted  bool
}

// NewFallback describes the backend selected by cfg.
func NewFallback(cfg *config.Config) Fallback {
	if cfg.LLM.Provider == config.ProviderArk {
		return Fallback{BaseURL: cfg.Ark.BaseURL, Model: cfg.Ark.Model, Hosted: true}
	}
	return Fallback{BaseURL: cfg.LLM.BaseURL, Model: cfg.LLM.Model}
}

// Text explains err to the user. Transport failures get a connection checklist; anything
// else (bad status, malformed body, timeout) gets the generic hint.
func (f Fallback) Text(err error) string {
	if f.Hosted {
		if isUnreachable(err) {
			return fmt.Sprintf("Connection error: the inference service at %s could not be reached. Check the network and the service credentials.", f.BaseURL)
		}
		return fmt.Sprintf("Error: no usable answer from the inference service at %s for model %q.", f.BaseURL, f.Model)
	}

	if isUnreachable(err) {
		return fmt.Sprintf("Connection error: the inference server could not be reached. Check that:\n"+
			"1. LM Studio (or another OpenAI-compatible server) is running\n"+
			"2. Its API server is started\n"+
			"3. It is listening on %s", f.BaseURL)
	}

	return fmt.Sprintf("Error: no usable answer from the inference server. Make sure it is running on %s and that the model %q is loaded.",
		f.where(), f.Model)
}

// Empty is shown when the server answered without any content.
func (f Fallback) Empty() string {
	return "Sorry, I could not generate a response."
}

// isUnreachable also matches on the message because errors coming out of the chain
// runtime are not guaranteed to keep their wrap chain.
func isUnreachable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrUnreachable) || strings.Contains(err.Error(), ErrUnreachable.Error())
}

func (f Fallback) where() string {
	u, err := url.Parse(f.BaseURL)
	if err != nil || u.Port() == "" {
		return f.BaseURL
	}
	return "port " + u.Port()
}
