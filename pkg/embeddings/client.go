// Package embeddings turns text into vectors and compares them.
//
// A Gateway fronts a primary backend (HuggingFace Text Embeddings Inference
// or any OpenAI-compatible /embeddings endpoint such as Ollama, OpenRouter
// or NVIDIA) with an optional fallback. Vectors are stored as packed
// little-endian float32 and ranked by cosine similarity.
package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// PrefixDocument is the task prefix for document embeddings (storage).
	// Required by nomic-embed-text for optimal performance.
	PrefixDocument = "search_document: "
	// PrefixQuery is the task prefix for query embeddings (search).
	PrefixQuery = "search_query: "
)

// TEIClient is an HTTP client for HuggingFace Text Embeddings Inference.
type TEIClient struct {
	baseURL    string
	model      string
	dims       int
	prefixes   bool
	httpClient *http.Client
}

// NewTEIClient creates a new TEI client serving model with dims dimensions.
// nomic models get task prefixes prepended automatically.
func NewTEIClient(baseURL, model string, dims int) *TEIClient {
	if model == "" {
		model = "nomic-embed-text-v1.5"
	}
	if dims <= 0 {
		dims = 768
	}
	return &TEIClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		model:    model,
		dims:     dims,
		prefixes: strings.Contains(model, "nomic"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *TEIClient) Name() string      { return "tei" }
func (c *TEIClient) ModelName() string { return c.model }
func (c *TEIClient) Dimensions() int   { return c.dims }

type embedRequest struct {
	Inputs   []string `json:"inputs"`
	Truncate bool     `json:"truncate"`
}

// embed posts texts to /embed in one request. The server answers with one
// vector per input, in order.
func (c *TEIClient) embed(ctx context.Context, texts []string, taskPrefix string) ([]Vector, error) {
	inputs := texts
	if c.prefixes {
		inputs = make([]string, len(texts))
		for i, t := range texts {
			inputs[i] = taskPrefix + t
		}
	}
	payload, err := json.Marshal(embedRequest{Inputs: inputs, Truncate: true})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embed", bytes.NewReader(payload))
	if err != nil {
		return nil, &BackendError{Backend: c.Name(), Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &BackendError{Backend: c.Name(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &BackendError{Backend: c.Name(), Err: fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))}
	}

	var vectors []Vector
	if err := json.NewDecoder(resp.Body).Decode(&vectors); err != nil {
		return nil, &BackendError{Backend: c.Name(), Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(vectors) != len(texts) {
		return nil, &BackendError{Backend: c.Name(), Err: fmt.Errorf("got %d vectors for %d inputs", len(vectors), len(texts))}
	}
	for _, v := range vectors {
		if len(v) != c.dims {
			return nil, fmt.Errorf("%w: %s returned %d, want %d", ErrDimensionMismatch, c.model, len(v), c.dims)
		}
	}
	return vectors, nil
}

func (c *TEIClient) embedOne(ctx context.Context, text, taskPrefix string) (Vector, error) {
	vectors, err := c.embed(ctx, []string{text}, taskPrefix)
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// Embed embeds a document for storage.
func (c *TEIClient) Embed(ctx context.Context, text string) (Vector, error) {
	return c.embedOne(ctx, text, PrefixDocument)
}

// EmbedQuery embeds a search query.
func (c *TEIClient) EmbedQuery(ctx context.Context, text string) (Vector, error) {
	return c.embedOne(ctx, text, PrefixQuery)
}

// EmbedBatch embeds documents in one request.
func (c *TEIClient) EmbedBatch(ctx context.Context, texts []string) ([]Vector, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	return c.embed(ctx, texts, PrefixDocument)
}

// Available reports whether /health answers 200.
func (c *TEIClient) Available(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
