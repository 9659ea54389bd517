package embeddings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hmennen90/open-entity-sub000/pkg/cache"
)

// Embedding is a vector together with the model that produced it.
type Embedding struct {
	Vector Vector
	Model  string
}

// Gateway fronts a primary embedding backend with an optional fallback.
// Every call goes to the primary first; on failure it is retried once on
// the fallback, provided the fallback reports itself available.
type Gateway struct {
	primary  Backend
	fallback Backend
	timeout  time.Duration

	cache    cache.Cache
	cacheTTL time.Duration
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithFallback sets the backend used when the primary fails.
func WithFallback(b Backend) Option {
	return func(g *Gateway) { g.fallback = b }
}

// WithTimeout bounds each backend call.
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) { g.timeout = d }
}

// WithCache memoizes primary-backend embeddings in c for ttl.
func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(g *Gateway) {
		g.cache = c
		g.cacheTTL = ttl
	}
}

// NewGateway creates a gateway around primary.
func NewGateway(primary Backend, opts ...Option) *Gateway {
	g := &Gateway{primary: primary, timeout: 30 * time.Second}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ModelName returns the primary backend's model.
func (g *Gateway) ModelName() string { return g.primary.ModelName() }

// Dimensions returns the primary backend's vector size.
func (g *Gateway) Dimensions() int { return g.primary.Dimensions() }

// Available reports whether either backend can serve requests.
func (g *Gateway) Available(ctx context.Context) bool {
	if g.primary.Available(ctx) {
		return true
	}
	return g.fallback != nil && g.fallback.Available(ctx)
}

// Embed embeds text for storage.
func (g *Gateway) Embed(ctx context.Context, text string) (Embedding, error) {
	return g.embedOne(ctx, text, false)
}

// EmbedQuery embeds text for use as a search query.
func (g *Gateway) EmbedQuery(ctx context.Context, text string) (Embedding, error) {
	return g.embedOne(ctx, text, true)
}

// EmbedBatch embeds texts in one backend round trip.
func (g *Gateway) EmbedBatch(ctx context.Context, texts []string) ([]Embedding, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	var out []Embedding
	err := g.do(ctx, func(ctx context.Context, b Backend) error {
		vecs, err := b.EmbedBatch(ctx, texts)
		if err != nil {
			return err
		}
		if len(vecs) != len(texts) {
			return fmt.Errorf("got %d embeddings for %d texts", len(vecs), len(texts))
		}
		out = make([]Embedding, len(vecs))
		for i, v := range vecs {
			out[i] = Embedding{Vector: v, Model: b.ModelName()}
		}
		return nil
	})
	return out, err
}

func (g *Gateway) embedOne(ctx context.Context, text string, query bool) (Embedding, error) {
	key := g.cacheKey(text, query)
	if g.cache != nil {
		if data, err := g.cache.Get(ctx, key); err == nil {
			if v, err := Decode(data); err == nil && len(v) > 0 {
				return Embedding{Vector: v, Model: g.primary.ModelName()}, nil
			}
		}
	}

	var out Embedding
	var fromPrimary bool
	err := g.do(ctx, func(ctx context.Context, b Backend) error {
		var v Vector
		var err error
		if qe, ok := b.(QueryEmbedder); ok && query {
			v, err = qe.EmbedQuery(ctx, text)
		} else {
			v, err = b.Embed(ctx, text)
		}
		if err != nil {
			return err
		}
		if len(v) == 0 {
			return errors.New("empty embedding response")
		}
		out = Embedding{Vector: v, Model: b.ModelName()}
		fromPrimary = b == g.primary
		return nil
	})
	if err != nil {
		return Embedding{}, err
	}

	// Only primary results are cached so a key never mixes models.
	if g.cache != nil && fromPrimary {
		if err := g.cache.Set(ctx, key, Encode(out.Vector), g.cacheTTL); err != nil {
			slog.Debug("embedding cache write failed", "error", err)
		}
	}
	return out, nil
}

func (g *Gateway) do(ctx context.Context, fn func(context.Context, Backend) error) error {
	err := g.call(ctx, g.primary, fn)
	if err == nil {
		return nil
	}
	primaryErr := &BackendError{Backend: g.primary.Name(), Err: err}

	if g.fallback == nil {
		return primaryErr
	}
	if !g.fallback.Available(ctx) {
		slog.Warn("embedding fallback unavailable", "primary", g.primary.Name(), "error", err)
		return primaryErr
	}

	slog.Warn("primary embedding backend failed, retrying on fallback",
		"primary", g.primary.Name(),
		"fallback", g.fallback.Name(),
		"error", err,
	)
	if ferr := g.call(ctx, g.fallback, fn); ferr != nil {
		return &BackendError{Backend: g.fallback.Name(), Err: errors.Join(err, ferr)}
	}
	return nil
}

func (g *Gateway) call(ctx context.Context, b Backend, fn func(context.Context, Backend) error) error {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	return fn(ctx, b)
}

func (g *Gateway) cacheKey(text string, query bool) string {
	kind := "doc"
	if query {
		kind = "query"
	}
	return "emb:" + kind + ":" + g.primary.ModelName() + ":" + ContentHash(text)
}
