package embeddings

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hmennen90/open-entity-sub000/pkg/cache"
)

type fakeBackend struct {
	name      string
	model     string
	vec       Vector
	err       error
	available bool
	calls     int
}

func (f *fakeBackend) Name() string      { return f.name }
func (f *fakeBackend) ModelName() string { return f.model }
func (f *fakeBackend) Dimensions() int   { return len(f.vec) }

func (f *fakeBackend) Available(context.Context) bool { return f.available }

func (f *fakeBackend) Embed(ctx context.Context, text string) (Vector, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.vec, nil
}

func (f *fakeBackend) EmbedBatch(ctx context.Context, texts []string) ([]Vector, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]Vector, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, nil
}

func TestGatewayPrimary(t *testing.T) {
	primary := &fakeBackend{name: "p", model: "m1", vec: Vector{1, 2}, available: true}
	g := NewGateway(primary)

	got, err := g.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if got.Model != "m1" || len(got.Vector) != 2 {
		t.Errorf("Embed = %+v", got)
	}
}

func TestGatewayFallback(t *testing.T) {
	primary := &fakeBackend{name: "p", model: "m1", err: errors.New("down")}
	fallback := &fakeBackend{name: "f", model: "m2", vec: Vector{3, 4, 5}, available: true}
	g := NewGateway(primary, WithFallback(fallback))

	got, err := g.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if got.Model != "m2" {
		t.Errorf("Model = %q, want m2", got.Model)
	}
	if fallback.calls != 1 {
		t.Errorf("fallback calls = %d, want 1", fallback.calls)
	}
}

func TestGatewayFallbackUnavailable(t *testing.T) {
	primary := &fakeBackend{name: "p", model: "m1", err: errors.New("down")}
	fallback := &fakeBackend{name: "f", model: "m2", vec: Vector{1}, available: false}
	g := NewGateway(primary, WithFallback(fallback))

	_, err := g.Embed(context.Background(), "hello")
	var be *BackendError
	if !errors.As(err, &be) {
		t.Fatalf("err = %v, want *BackendError", err)
	}
	if be.Backend != "p" {
		t.Errorf("Backend = %q, want p", be.Backend)
	}
	if fallback.calls != 0 {
		t.Errorf("fallback called %d times, want 0", fallback.calls)
	}
}

func TestGatewayBothFail(t *testing.T) {
	primary := &fakeBackend{name: "p", err: errors.New("primary down")}
	fallback := &fakeBackend{name: "f", err: errors.New("fallback down"), available: true}
	g := NewGateway(primary, WithFallback(fallback))

	_, err := g.EmbedBatch(context.Background(), []string{"a", "b"})
	var be *BackendError
	if !errors.As(err, &be) || be.Backend != "f" {
		t.Fatalf("err = %v, want fallback BackendError", err)
	}
	if primary.calls != 1 || fallback.calls != 1 {
		t.Errorf("calls primary=%d fallback=%d, want 1/1", primary.calls, fallback.calls)
	}
}

func TestGatewayCache(t *testing.T) {
	c, err := cache.NewMemory(0)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	primary := &fakeBackend{name: "p", model: "m1", vec: Vector{0.5, 0.25}, available: true}
	g := NewGateway(primary, WithCache(c, time.Hour))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		got, err := g.Embed(ctx, "same text")
		if err != nil {
			t.Fatalf("Embed: %v", err)
		}
		if got.Vector[0] != 0.5 {
			t.Fatalf("Vector = %v", got.Vector)
		}
	}
	if primary.calls != 1 {
		t.Errorf("backend calls = %d, want 1", primary.calls)
	}
}
