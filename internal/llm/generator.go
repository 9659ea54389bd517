package llm

import (
	"context"
	"strings"
)

// Generator turns a single prompt into text on a fixed tier.
// It satisfies the narrow generator interfaces of the memory packages.
type Generator struct {
	router      *Router
	tier        Tier
	system      string
	maxTokens   int
	temperature float64
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithSystem sets the system prompt.
func WithSystem(s string) GeneratorOption { return func(g *Generator) { g.system = s } }

// WithMaxTokens caps output length.
func WithMaxTokens(n int) GeneratorOption { return func(g *Generator) { g.maxTokens = n } }

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) GeneratorOption { return func(g *Generator) { g.temperature = t } }

// NewGenerator creates a generator over r.
func NewGenerator(r *Router, tier Tier, opts ...GeneratorOption) *Generator {
	g := &Generator{router: r, tier: tier, maxTokens: 1024, temperature: 0.7}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate sends prompt as a single user message and returns the trimmed reply.
func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	return g.Converse(ctx, []Message{{Role: "user", Content: prompt}})
}

// Converse sends a full message history.
func (g *Generator) Converse(ctx context.Context, messages []Message) (string, error) {
	resp, err := g.router.Complete(ctx, g.tier, CompletionRequest{
		Messages:    messages,
		MaxTokens:   g.maxTokens,
		Temperature: g.temperature,
		System:      g.system,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}
