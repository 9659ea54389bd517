// Package daemon wires the entity's stores, models and workers together
// and runs them as one long-lived process.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/hmennen90/open-entity-sub000/internal/channel/matrix"
	"github.com/hmennen90/open-entity-sub000/internal/entity"
	"github.com/hmennen90/open-entity-sub000/internal/llm"
	"github.com/hmennen90/open-entity-sub000/pkg/brain"
	"github.com/hmennen90/open-entity-sub000/pkg/cache"
	"github.com/hmennen90/open-entity-sub000/pkg/channel"
	"github.com/hmennen90/open-entity-sub000/pkg/dream"
	"github.com/hmennen90/open-entity-sub000/pkg/embeddings"
	"github.com/hmennen90/open-entity-sub000/pkg/energy"
	"github.com/hmennen90/open-entity-sub000/pkg/events"
	"github.com/hmennen90/open-entity-sub000/pkg/layers"
	"github.com/hmennen90/open-entity-sub000/pkg/prompts"
	"github.com/hmennen90/open-entity-sub000/pkg/semantic"
	"github.com/hmennen90/open-entity-sub000/pkg/working"
)

const (
	defaultMaxCost  = 64 << 20
	shutdownTimeout = 5 * time.Second
)

// Daemon owns every long-lived component of one entity.
type Daemon struct {
	Brain        *brain.Brain
	Config       *Config
	Events       *events.Bus
	Entity       *entity.Entity
	Retriever    *semantic.Retriever
	Consolidator *dream.Consolidator
	Dreamer      *dream.Worker

	cache     cache.Cache
	memo      cache.Cache // embedding query cache, kept apart from state
	embedder  *embeddings.Gateway
	queue     *semantic.Queue
	index     *semantic.Index
	channels  []channel.Channel
	startedAt time.Time

	healthyMu  sync.RWMutex
	healthy    bool
	httpServer *http.Server
}

type options struct {
	generator entity.Generator
	cache     cache.Cache
	oneshot   bool
}

// Option configures New.
type Option func(*options)

// WithGenerator replaces every language model call with g.
func WithGenerator(g entity.Generator) Option {
	return func(o *options) { o.generator = g }
}

// WithCache uses c instead of the configured cache driver.
func WithCache(c cache.Cache) Option {
	return func(o *options) { o.cache = c }
}

// Oneshot builds the daemon for a single command: no embedding queue
// and no chat channels. Unembedded memories are picked up by the sync
// worker of the next running daemon.
func Oneshot() Option {
	return func(o *options) { o.oneshot = true }
}

// New builds all components. Nothing runs until Run.
func New(ctx context.Context, b *brain.Brain, cfg *Config, opts ...Option) (*Daemon, error) {
	if b == nil {
		return nil, errors.New("brain is required")
	}
	if cfg == nil {
		cfg = defaultConfig()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	d := &Daemon{
		Brain:     b,
		Config:    cfg,
		Events:    events.NewBus(),
		startedAt: time.Now(),
	}

	var err error
	if d.cache = o.cache; d.cache == nil {
		if d.cache, err = newCache(cfg.Cache); err != nil {
			return nil, err
		}
	}

	router := newRouter(cfg.LLM)
	if !router.Configured() && o.generator == nil {
		slog.Warn("no language model configured, thoughts and replies will fail")
	}
	thinker := generator(o.generator, router, llm.ParseTier(cfg.Think.Tier), cfg.LLM)
	chatter := generator(o.generator, router, llm.ParseTier(cfg.Think.ChatTier), cfg.LLM)
	dreamer := generator(o.generator, router, llm.ParseTier(cfg.Dream.Tier), cfg.LLM)

	d.initEmbeddings(ctx)
	if !o.oneshot && d.embedder != nil {
		d.queue = semantic.NewQueue(cfg.Embeddings.QueueSize)
	}
	ropts := semantic.Options{
		Threshold: cfg.Memory.SimilarityThreshold,
		Timeout:   duration(cfg.Embeddings.Timeout, 10*time.Second),
		Queue:     d.queue,
		Index:     d.index,
	}
	if d.embedder != nil {
		d.Retriever = semantic.NewRetriever(b, d.embedder, ropts)
	} else {
		d.Retriever = semantic.NewRetriever(b, nil, ropts)
	}

	wm := working.NewStore(d.cache, working.Options{
		TTL:       duration(cfg.Memory.WorkingTTL, time.Hour),
		MaxItems:  cfg.Memory.WorkingMaxItems,
		Namespace: namespace(cfg.Name),
	})
	en := energy.NewStore(d.cache, namespace(cfg.Name), cfg.EnergyRates())

	personality, err := layers.LoadPersonality(b, layers.DefaultPersonality(cfg.Name))
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("load personality: %w", err)
	}
	lm := layers.NewManager(b, d.Retriever, wm, personality, cfg.Memory.Budget)

	catalog := prompts.Default()
	copts := []dream.ConsolidatorOption{dream.WithLocale(cfg.Locale)}
	if d.embedder != nil {
		copts = append(copts, dream.WithEmbedder(d.embedder))
	}
	d.Consolidator = dream.NewConsolidator(b, dreamer, copts...)
	d.Dreamer = dream.NewWorker(b, d.Consolidator, func(typ, msg string) {
		d.Events.Publish(events.Event{Type: events.TypeDream, Message: msg, Data: map[string]any{"kind": typ}})
	}, dream.Config{
		Interval:         duration(cfg.Dream.Interval, 6*time.Hour),
		ArchiveDays:      cfg.Dream.ArchiveDays,
		ConsolidateDaily: true,
	})

	d.Entity, err = entity.New(entity.Deps{
		Brain:     b,
		Layers:    lm,
		Retriever: d.Retriever,
		Working:   wm,
		Energy:    en,
		Catalog:   catalog,
		Events:    d.Events,
		Thinker:   thinker,
		Chatter:   chatter,
		Locale:    cfg.Locale,
	})
	if err != nil {
		d.Close()
		return nil, err
	}

	if !o.oneshot && cfg.Matrix.Enabled() {
		d.channels = append(d.channels, matrix.New(matrix.Config{
			Homeserver:   cfg.Matrix.Homeserver,
			UserID:       cfg.Matrix.UserID,
			Password:     cfg.Matrix.Password,
			ServerName:   cfg.Matrix.ServerName,
			AllowedUsers: cfg.Matrix.AllowedUsers,
			DataDir:      cfg.Matrix.DataDir,
		}))
	}
	return d, nil
}

func newCache(cfg CacheConfig) (cache.Cache, error) {
	switch cfg.Driver {
	case "", "memory":
		maxCost := cfg.MaxCost
		if maxCost <= 0 {
			maxCost = defaultMaxCost
		}
		return cache.NewMemory(maxCost)
	case "redis":
		return cache.NewRedis(cfg.Redis)
	default:
		return nil, fmt.Errorf("unknown cache driver %q", cfg.Driver)
	}
}

func newRouter(cfg LLMConfig) *llm.Router {
	providers := map[llm.Tier]llm.Provider{}
	for tier, pc := range map[llm.Tier]ProviderConfig{llm.TierDeep: cfg.Deep, llm.TierMid: cfg.Mid, llm.TierFast: cfg.Fast} {
		if p := newProvider(tier.String(), pc); p != nil {
			providers[tier] = p
		}
	}
	return llm.NewRouter(providers)
}

// newProvider returns nil when pc lacks what its provider needs.
func newProvider(name string, pc ProviderConfig) llm.Provider {
	switch pc.Provider {
	case "anthropic":
		if pc.APIKey == "" {
			return nil
		}
		return llm.NewAnthropic(pc.APIKey, pc.Model)
	case "anthropic-compat":
		if pc.BaseURL == "" {
			return nil
		}
		return llm.NewAnthropicCompat(name, pc.BaseURL, pc.APIKey, pc.Model)
	case "openai":
		if pc.APIKey == "" && pc.BaseURL == "" {
			return nil
		}
		return llm.NewOpenAICompat(name, pc.BaseURL, pc.APIKey, pc.Model)
	case "":
		return nil
	default:
		slog.Warn("unknown llm provider", "tier", name, "provider", pc.Provider)
		return nil
	}
}

func generator(override entity.Generator, r *llm.Router, tier llm.Tier, cfg LLMConfig) entity.Generator {
	if override != nil {
		return override
	}
	pc := cfg.Mid
	switch tier {
	case llm.TierDeep:
		pc = cfg.Deep
	case llm.TierFast:
		pc = cfg.Fast
	}
	var opts []llm.GeneratorOption
	if pc.MaxOutput > 0 {
		opts = append(opts, llm.WithMaxTokens(pc.MaxOutput))
	}
	if pc.Temperature > 0 {
		opts = append(opts, llm.WithTemperature(pc.Temperature))
	}
	return llm.NewGenerator(r, tier, opts...)
}

func newBackend(name string, bc BackendConfig) embeddings.Backend {
	switch bc.Provider {
	case "tei":
		if bc.URL == "" {
			return nil
		}
		return embeddings.NewTEIClient(bc.URL, bc.Model, bc.Dimensions)
	case "openai":
		return embeddings.NewOpenAI(embeddings.OpenAIConfig{
			Name:       name,
			BaseURL:    bc.URL,
			APIKey:     bc.APIKey,
			Model:      bc.Model,
			Dimensions: bc.Dimensions,
		})
	}
	return nil
}

func (d *Daemon) initEmbeddings(ctx context.Context) {
	ec := d.Config.Embeddings
	if !ec.Enabled {
		return
	}
	primary := newBackend("primary", ec.Primary)
	if primary == nil {
		slog.Warn("embeddings enabled without a usable primary backend")
		return
	}
	gopts := []embeddings.Option{embeddings.WithTimeout(duration(ec.Timeout, 30*time.Second))}
	if fb := newBackend("fallback", ec.Fallback); fb != nil {
		gopts = append(gopts, embeddings.WithFallback(fb))
	}
	if ttl := duration(ec.CacheTTL, 0); ttl > 0 {
		memo, err := d.newMemo()
		if err != nil {
			slog.Warn("embedding cache unavailable", "error", err)
		} else {
			d.memo = memo
			gopts = append(gopts, embeddings.WithCache(memo, ttl))
		}
	}
	d.embedder = embeddings.NewGateway(primary, gopts...)

	if ec.PostgresURL == "" {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	index, err := semantic.NewIndex(ctx, ec.PostgresURL, d.embedder.Dimensions())
	if err != nil {
		slog.Warn("pgvector index unavailable", "error", err)
		return
	}
	if err := index.Init(ctx); err != nil {
		slog.Warn("pgvector index init failed", "error", err)
		index.Close()
		return
	}
	d.index = index
}

// newMemo returns the cache for embedding vectors. Redis keys expire by
// TTL and share the state connection; in process the vectors get their
// own ristretto so cost eviction never touches energy or working memory.
func (d *Daemon) newMemo() (cache.Cache, error) {
	if d.Config.Cache.Driver == "redis" {
		return d.cache, nil
	}
	return cache.NewMemory(d.Config.Cache.MaxCost)
}

func namespace(name string) string {
	if name == "" {
		return "entity"
	}
	return "entity:" + name
}

func (d *Daemon) setHealthy(v bool) {
	d.healthyMu.Lock()
	d.healthy = v
	d.healthyMu.Unlock()
}

func (d *Daemon) isHealthy() bool {
	d.healthyMu.RLock()
	defer d.healthyMu.RUnlock()
	return d.healthy
}

// Run starts the workers, the think loop, chat channels and the HTTP API,
// and blocks until ctx is cancelled or the server fails.
func (d *Daemon) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	spawn := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	if d.queue != nil {
		spawn(func() { d.queue.Run(ctx, d.Retriever.EmbedByID) })
	}
	if d.embedder != nil {
		w := semantic.NewSyncWorker(d.Brain, d.embedder, d.index,
			duration(d.Config.Embeddings.SyncInterval, 30*time.Second), d.Config.Embeddings.BatchSize)
		spawn(func() { w.Run(ctx) })
	}
	if !d.Config.Dream.Disabled {
		spawn(func() { d.Dreamer.Run(ctx) })
	}
	if d.Config.Think.Enabled {
		spawn(func() { d.thinkLoop(ctx) })
	}
	for _, ch := range d.channels {
		spawn(func() {
			if err := ch.Start(ctx, d.Entity.HandleMessage(ch)); err != nil && ctx.Err() == nil {
				slog.Error("channel stopped", "channel", ch.Name(), "error", err)
			}
		})
	}

	d.httpServer = &http.Server{
		Addr:              d.Config.HTTPAddr,
		Handler:           d.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		if err := d.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	d.setHealthy(true)
	d.Events.Emit(events.TypeStatus, fmt.Sprintf("%s is awake", d.Entity.Name()))
	slog.Info("daemon running", "entity", d.Entity.Name(), "addr", d.Config.HTTPAddr, "think", d.Config.Think.Enabled)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}
	d.setHealthy(false)

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if err := d.httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown", "error", err)
	}
	for _, ch := range d.channels {
		if err := ch.Stop(); err != nil {
			slog.Warn("channel stop failed", "channel", ch.Name(), "error", err)
		}
	}
	cancel()
	wg.Wait()
	return runErr
}

// thinkLoop runs one cycle per interval. The interval stretches as energy
// falls.
func (d *Daemon) thinkLoop(ctx context.Context) {
	base := duration(d.Config.Think.Interval, 5*time.Minute)
	minSleep := duration(d.Config.Think.MinSleep, entity.DefaultMinSleep)
	for {
		outcome, thought, err := d.Entity.Cycle(ctx, minSleep)
		switch {
		case err != nil && ctx.Err() == nil:
			slog.Error("think cycle failed", "error", err)
		case thought != nil:
			slog.Debug("think cycle", "outcome", outcome, "thought", thought.ID)
		default:
			slog.Debug("think cycle", "outcome", outcome)
		}

		wait := d.Entity.NextInterval(ctx, base)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// Close releases the caches and the pgvector pool.
func (d *Daemon) Close() {
	if d.index != nil {
		d.index.Close()
		d.index = nil
	}
	if d.memo != nil && d.memo != d.cache {
		closeCache(d.memo)
	}
	d.memo = nil
	closeCache(d.cache)
}

func closeCache(c cache.Cache) {
	switch c := c.(type) {
	case io.Closer:
		if err := c.Close(); err != nil {
			slog.Warn("cache close failed", "error", err)
		}
	case interface{ Close() }:
		c.Close()
	}
}
