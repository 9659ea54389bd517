package daemon

import (
	"context"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/hmennen90/open-entity-sub000/pkg/brain"
	"github.com/hmennen90/open-entity-sub000/pkg/cache"
)

func TestEmbeddingCacheSeparateFromState(t *testing.T) {
	ctx := context.Background()
	b, err := brain.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { b.Close() })

	cfg := defaultConfig()
	cfg.Name = "Nova"
	cfg.Matrix = MatrixConfig{}
	cfg.Cache = CacheConfig{Driver: "memory", MaxCost: 4 << 10}
	cfg.Embeddings.Enabled = true
	cfg.Embeddings.Primary = BackendConfig{Provider: "tei", URL: "http://127.0.0.1:1", Dimensions: 4}
	cfg.Embeddings.Fallback = BackendConfig{}
	cfg.Embeddings.PostgresURL = ""
	cfg.Embeddings.CacheTTL = "24h"

	d, err := New(ctx, b, cfg, Oneshot(), WithGenerator(&scriptedGen{}))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(d.Close)

	if d.memo == nil {
		t.Fatal("no embedding cache configured")
	}
	if d.memo == d.cache {
		t.Fatal("embedding cache shares the state cache")
	}

	en := d.Entity.Energy()
	if _, err := en.Modify(ctx, -0.3, "test"); err != nil {
		t.Fatal(err)
	}

	// Far more vector bytes than the cost limit allows.
	value := []byte(strings.Repeat("v", 512))
	for i := 0; i < 200; i++ {
		d.memo.Set(ctx, "emb:"+strconv.Itoa(i), value, time.Hour)
	}

	level, err := en.Level(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if level < 0.49 || level > 0.51 {
		t.Errorf("energy level = %v after embedding cache pressure, want 0.5", level)
	}
	if _, err := d.cache.Get(ctx, "entity:Nova:energy"); err != nil {
		t.Errorf("energy state missing from state cache: %v", err)
	}
}

func TestEmbeddingCacheDisabled(t *testing.T) {
	b, err := brain.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { b.Close() })
	c, err := cache.NewMemory(0)
	if err != nil {
		t.Fatal(err)
	}

	cfg := defaultConfig()
	cfg.Matrix = MatrixConfig{}
	cfg.Embeddings.Enabled = true
	cfg.Embeddings.Primary = BackendConfig{Provider: "tei", URL: "http://127.0.0.1:1", Dimensions: 4}
	cfg.Embeddings.Fallback = BackendConfig{}
	cfg.Embeddings.PostgresURL = ""
	cfg.Embeddings.CacheTTL = "0"

	d, err := New(context.Background(), b, cfg, Oneshot(), WithCache(c), WithGenerator(&scriptedGen{}))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(d.Close)
	if d.memo != nil {
		t.Error("embedding cache created with a zero TTL")
	}
}
