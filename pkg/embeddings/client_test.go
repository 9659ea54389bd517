package embeddings

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func teiServer(t *testing.T, dims int, seen *[]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/embed":
			var req embedRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			*seen = append(*seen, req.Inputs...)
			out := make([][]float32, len(req.Inputs))
			for i := range out {
				out[i] = make([]float32, dims)
				out[i][0] = float32(i + 1)
			}
			json.NewEncoder(w).Encode(out)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestTEIClientPrefixes(t *testing.T) {
	var seen []string
	srv := teiServer(t, 4, &seen)
	c := NewTEIClient(srv.URL+"/", "nomic-embed-text-v1.5", 4)
	ctx := context.Background()

	if _, err := c.Embed(ctx, "a memory"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.EmbedQuery(ctx, "a question"); err != nil {
		t.Fatal(err)
	}
	if seen[0] != PrefixDocument+"a memory" || seen[1] != PrefixQuery+"a question" {
		t.Errorf("inputs = %q", seen)
	}

	seen = nil
	plain := NewTEIClient(srv.URL, "bge-small", 4)
	if _, err := plain.Embed(ctx, "a memory"); err != nil {
		t.Fatal(err)
	}
	if seen[0] != "a memory" {
		t.Errorf("non-nomic model got prefix: %q", seen[0])
	}
}

func TestTEIClientBatch(t *testing.T) {
	var seen []string
	srv := teiServer(t, 3, &seen)
	c := NewTEIClient(srv.URL, "bge-small", 3)

	vecs, err := c.EmbedBatch(context.Background(), []string{"one", "two"})
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != 2 || vecs[1][0] != 2 {
		t.Errorf("vectors = %v", vecs)
	}
	if !c.Available(context.Background()) {
		t.Error("server should be available")
	}
}

func TestTEIClientDimensionMismatch(t *testing.T) {
	var seen []string
	srv := teiServer(t, 3, &seen)
	c := NewTEIClient(srv.URL, "bge-small", 8)

	_, err := c.Embed(context.Background(), "text")
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("err = %v, want dimension mismatch", err)
	}
}

func TestTEIClientHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model loading", http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	c := NewTEIClient(srv.URL, "", 0)

	_, err := c.Embed(context.Background(), "text")
	var be *BackendError
	if !errors.As(err, &be) || be.Backend != "tei" || !strings.Contains(err.Error(), "503") {
		t.Errorf("err = %v", err)
	}
	if c.Available(context.Background()) {
		t.Error("failing server reported available")
	}
}
