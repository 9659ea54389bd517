// Package llm provides the text generation backends the entity thinks,
// chats and consolidates with.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Message is a chat turn sent to a provider.
type Message struct {
	Role    string `json:"role"` // user, assistant
	Content string `json:"content"`
}

// CompletionRequest holds parameters for a completion.
type CompletionRequest struct {
	Messages    []Message `json:"messages"`
	Model       string    `json:"model,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
	System      string    `json:"system,omitempty"`
}

// CompletionResponse is a provider's answer.
type CompletionResponse struct {
	Content      string `json:"content"`
	Model        string `json:"model"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	StopReason   string `json:"stop_reason"`
}

// Provider is a generation backend.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// Tier selects a quality/cost class of model.
type Tier int

const (
	TierFast Tier = iota // summaries, themes
	TierMid              // chat
	TierDeep             // autonomous thought
)

func (t Tier) String() string {
	switch t {
	case TierFast:
		return "fast"
	case TierMid:
		return "mid"
	case TierDeep:
		return "deep"
	}
	return fmt.Sprintf("tier(%d)", int(t))
}

// ParseTier maps a config name to a tier. Unknown names are TierMid.
func ParseTier(s string) Tier {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fast":
		return TierFast
	case "deep":
		return TierDeep
	}
	return TierMid
}

// Router sends requests to the provider configured for a tier.
type Router struct {
	providers map[Tier]Provider
}

// NewRouter creates a router over the given tier mappings.
func NewRouter(providers map[Tier]Provider) *Router {
	if providers == nil {
		providers = map[Tier]Provider{}
	}
	return &Router{providers: providers}
}

// Configured reports whether any provider is set.
func (r *Router) Configured() bool { return len(r.providers) > 0 }

// chain returns the requested tier's provider followed by the others,
// deep before mid before fast, without duplicates.
func (r *Router) chain(tier Tier) []Provider {
	var out []Provider
	seen := map[Provider]bool{}
	add := func(t Tier) {
		if p, ok := r.providers[t]; ok && !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	add(tier)
	for _, t := range []Tier{TierDeep, TierMid, TierFast} {
		add(t)
	}
	return out
}

// Complete routes req to tier, falling back to the remaining providers
// when a provider fails. The last error is returned when all fail.
func (r *Router) Complete(ctx context.Context, tier Tier, req CompletionRequest) (*CompletionResponse, error) {
	chain := r.chain(tier)
	if len(chain) == 0 {
		return nil, ErrNoProvider
	}

	var lastErr error
	for i, p := range chain {
		resp, err := p.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if i < len(chain)-1 {
			slog.Warn("llm provider failed, trying next", "provider", p.Name(), "tier", tier, "error", err)
		}
	}
	return nil, lastErr
}

// ErrNoProvider is returned when no provider is configured.
var ErrNoProvider = &ProviderError{Message: "no provider configured"}

// ProviderError is a generation backend failure.
type ProviderError struct {
	Message    string
	StatusCode int
	Provider   string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.Provider != "" {
		return e.Provider + ": " + e.Message
	}
	return e.Message
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsProviderError reports whether err came from a generation backend.
func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}
