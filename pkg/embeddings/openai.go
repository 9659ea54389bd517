package embeddings

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// OpenAIConfig configures an OpenAI-compatible embedding endpoint.
// BaseURL may point at Ollama (http://host:11434/v1), OpenRouter or NVIDIA.
type OpenAIConfig struct {
	Name       string
	BaseURL    string
	APIKey     string
	Model      string
	Dimensions int
}

// OpenAIBackend embeds text through an OpenAI-compatible /embeddings API.
type OpenAIBackend struct {
	client *openai.Client
	name   string
	model  string
	dims   int
}

// NewOpenAI creates an OpenAI-compatible embedding backend.
func NewOpenAI(cfg OpenAIConfig) *OpenAIBackend {
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	name := cfg.Name
	if name == "" {
		name = "openai"
	}
	model := cfg.Model
	if model == "" {
		model = string(openai.SmallEmbedding3)
	}
	return &OpenAIBackend{
		client: openai.NewClientWithConfig(config),
		name:   name,
		model:  model,
		dims:   cfg.Dimensions,
	}
}

func (b *OpenAIBackend) Name() string      { return b.name }
func (b *OpenAIBackend) ModelName() string { return b.model }
func (b *OpenAIBackend) Dimensions() int   { return b.dims }

func (b *OpenAIBackend) Embed(ctx context.Context, text string) (Vector, error) {
	vecs, err := b.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("empty embedding response")
	}
	return vecs[0], nil
}

func (b *OpenAIBackend) EmbedBatch(ctx context.Context, texts []string) ([]Vector, error) {
	resp, err := b.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(b.model),
	})
	if err != nil {
		return nil, fmt.Errorf("%s embeddings: %w", b.name, err)
	}

	data := resp.Data
	sort.Slice(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	out := make([]Vector, len(data))
	for i, d := range data {
		out[i] = Vector(d.Embedding)
	}
	if b.dims == 0 && len(out) > 0 {
		b.dims = len(out[0])
	}
	return out, nil
}

// Available lists models as a cheap liveness probe.
func (b *OpenAIBackend) Available(ctx context.Context) bool {
	_, err := b.client.ListModels(ctx)
	return err == nil
}
