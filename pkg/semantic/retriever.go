// Package semantic ranks memories against free text.
//
// Search embeds the query and scores every embedded, active memory by
// cosine similarity. Whenever that is impossible (no embedded memories,
// backend down, timeout) it degrades to the brain's keyword search so a
// think cycle always gets something back.
package semantic

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/hmennen90/open-entity-sub000/pkg/brain"
	"github.com/hmennen90/open-entity-sub000/pkg/embeddings"
)

// DefaultThreshold is the minimum similarity for contextual recall.
const DefaultThreshold = 0.7

// contextSearchLimit caps how many ranked memories contextual recall considers.
const contextSearchLimit = 20

// Method records how a result set was produced.
type Method string

const (
	MethodSemantic Method = "semantic"
	MethodKeyword  Method = "keyword"
	MethodHybrid   Method = "hybrid"
)

// Embedder produces document and query embeddings.
type Embedder interface {
	Embed(ctx context.Context, text string) (embeddings.Embedding, error)
	EmbedQuery(ctx context.Context, text string) (embeddings.Embedding, error)
}

// Result is a memory with its similarity to the query. Keyword results
// carry zero similarity.
type Result struct {
	Memory     brain.Memory
	Similarity float64
}

// Options configures a Retriever.
type Options struct {
	Threshold float64       // contextual recall threshold, default 0.7
	Timeout   time.Duration // per embedding call, default 10s
	Queue     *Queue        // async embedding; nil leaves backfill to the sync worker
	Index     *Index        // optional pgvector mirror for hybrid search
}

// Retriever performs semantic search over the brain.
type Retriever struct {
	brain     *brain.Brain
	embedder  Embedder
	threshold float64
	timeout   time.Duration
	queue     *Queue
	index     *Index
}

// NewRetriever creates a retriever. embedder may be nil, in which case
// every search is a keyword search.
func NewRetriever(b *brain.Brain, embedder Embedder, opts Options) *Retriever {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Retriever{
		brain:     b,
		embedder:  embedder,
		threshold: opts.Threshold,
		timeout:   opts.Timeout,
		queue:     opts.Queue,
		index:     opts.Index,
	}
}

// Threshold returns the contextual recall threshold.
func (r *Retriever) Threshold() float64 { return r.threshold }

// Search returns up to limit memories ranked by similarity to query,
// keeping only those at or above threshold. It falls back to keyword
// search when no memory is embedded or embedding fails; the error is
// non-nil only if that fallback fails too.
func (r *Retriever) Search(ctx context.Context, query string, limit int, threshold float64) ([]Result, Method, error) {
	results, err := r.semanticSearch(ctx, query, limit, threshold)
	if err == nil {
		return results, MethodSemantic, nil
	}
	slog.Debug("semantic search unavailable, using keyword search", "reason", err)

	memories, kerr := r.brain.Search(query, limit)
	if kerr != nil {
		return nil, MethodKeyword, kerr
	}
	results = make([]Result, len(memories))
	for i, m := range memories {
		results[i] = Result{Memory: m}
	}
	return results, MethodKeyword, nil
}

func (r *Retriever) semanticSearch(ctx context.Context, query string, limit int, threshold float64) ([]Result, error) {
	if r.embedder == nil {
		return nil, fmt.Errorf("no embedder configured")
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	q, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		slog.Warn("query embedding failed", "error", err)
		return nil, err
	}

	candidates, err := r.brain.EmbeddedCandidates(0)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no embedded memories")
	}

	matches := embeddings.FindSimilar(q.Vector, candidates, brain.Memory.Vector, limit, threshold)
	results := make([]Result, len(matches))
	for i, m := range matches {
		results[i] = Result{Memory: m.Item, Similarity: m.Similarity}
	}
	return results, nil
}

// ContextualMemories returns the memories most relevant to situation that
// fit in maxTokens. Memories are taken in ranked order and accumulation
// stops at the first one that would overflow the budget.
func (r *Retriever) ContextualMemories(ctx context.Context, situation string, maxTokens int) ([]Result, error) {
	ranked, _, err := r.Search(ctx, situation, contextSearchLimit, r.threshold)
	if err != nil {
		return nil, err
	}

	var out []Result
	used := 0
	for _, res := range ranked {
		cost := EstimateTokens(res.Memory.Content)
		if used+cost > maxTokens {
			break
		}
		used += cost
		out = append(out, res)
	}
	return out, nil
}

// CreateWithEmbedding stores a memory and embeds it. With sync the
// embedding happens inline (a failure is logged, not returned); otherwise
// it is queued. The memory is searchable by keyword either way.
func (r *Retriever) CreateWithEmbedding(ctx context.Context, p brain.CreateParams, sync bool) (*brain.Memory, error) {
	m, err := r.brain.Create(p)
	if err != nil {
		return nil, err
	}
	if r.embedder == nil {
		return m, nil
	}

	if sync {
		if err := r.EmbedMemory(ctx, m); err != nil {
			slog.Warn("inline memory embedding failed", "id", m.ID, "error", err)
		}
		return m, nil
	}
	if r.queue != nil && !r.queue.Submit(m.ID) {
		slog.Debug("embedding queue full, leaving memory for backfill", "id", m.ID)
	}
	return m, nil
}

// EmbedMemory embeds m, persists the vector and mirrors it to the
// pgvector index when one is configured. m is updated in place.
func (r *Retriever) EmbedMemory(ctx context.Context, m *brain.Memory) error {
	if r.embedder == nil {
		return fmt.Errorf("no embedder configured")
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	emb, err := r.embedder.Embed(ctx, m.Content)
	if err != nil {
		return fmt.Errorf("embed memory %d: %w", m.ID, err)
	}
	if err := r.brain.SetEmbedding(m.ID, emb.Vector, emb.Model); err != nil {
		return err
	}
	now := time.Now().UTC()
	m.Embedding = emb.Vector
	m.EmbeddingDimensions = len(emb.Vector)
	m.EmbeddingModel = emb.Model
	m.EmbeddedAt = &now

	if r.index != nil {
		if err := r.index.Insert(ctx, m.ID, emb.Vector, embeddings.ContentHash(m.Content)); err != nil {
			slog.Warn("pgvector mirror failed", "id", m.ID, "error", err)
		}
	}
	return nil
}

// EmbedByID loads and embeds one memory; it is the Queue job handler.
// Memories that were consolidated or embedded meanwhile are skipped.
func (r *Retriever) EmbedByID(ctx context.Context, id int64) error {
	m, err := r.brain.Get(id)
	if err != nil {
		return err
	}
	if m.Consolidated() || m.EmbeddedAt != nil {
		return nil
	}
	return r.EmbedMemory(ctx, m)
}

// EstimateTokens approximates the token cost of s as ceil(chars/4).
func EstimateTokens(s string) int {
	return (utf8.RuneCountInString(s) + 3) / 4
}
