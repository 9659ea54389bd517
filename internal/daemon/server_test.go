package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/hmennen90/open-entity-sub000/pkg/brain"
	"github.com/hmennen90/open-entity-sub000/pkg/cache"
)

type scriptedGen struct {
	mu      sync.Mutex
	replies []string
}

func (g *scriptedGen) Generate(context.Context, string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.replies) == 0 {
		return "", nil
	}
	r := g.replies[0]
	g.replies = g.replies[1:]
	return r, nil
}

func newTestDaemon(t *testing.T, replies ...string) *Daemon {
	t.Helper()
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
	cfg.Name = "Nova"
	cfg.Embeddings.Enabled = false
	cfg.Matrix = MatrixConfig{}

	d, err := New(context.Background(), b, cfg, WithCache(c), WithGenerator(&scriptedGen{replies: replies}))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(d.Close)
	return d
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestHealth(t *testing.T) {
	d := newTestDaemon(t)
	h := d.Handler()

	if rec := do(t, h, http.MethodGet, "/health", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("before run: %d", rec.Code)
	}
	d.setHealthy(true)
	rec := do(t, h, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var body map[string]string
	decode(t, rec, &body)
	if body["status"] != "ok" || body["entity"] != "Nova" {
		t.Errorf("body = %v", body)
	}
}

func TestThinkEndpoint(t *testing.T) {
	d := newTestDaemon(t, `{"thought": "The garden is quiet today.", "type": "observation", "intensity": 0.4}`)
	rec := do(t, d.Handler(), http.MethodPost, "/v1/think", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	var got thoughtView
	decode(t, rec, &got)
	if got.Type != "observation" || got.Content != "The garden is quiet today." || got.ID == "" {
		t.Errorf("thought = %+v", got)
	}

	rec = do(t, d.Handler(), http.MethodGet, "/v1/thoughts?limit=5", "")
	var thoughts []thoughtView
	decode(t, rec, &thoughts)
	if len(thoughts) != 1 || thoughts[0].ID != got.ID {
		t.Errorf("thoughts = %+v", thoughts)
	}
}

func TestThinkEndpointNoThought(t *testing.T) {
	d := newTestDaemon(t)
	if rec := do(t, d.Handler(), http.MethodPost, "/v1/think", ""); rec.Code != http.StatusBadGateway {
		t.Errorf("status %d", rec.Code)
	}
}

func TestChatEndpoint(t *testing.T) {
	d := newTestDaemon(t, `{"reply": "Hello Alice!", "sentiment": 0.6}`)
	h := d.Handler()

	if rec := do(t, h, http.MethodPost, "/v1/chat", `{"sender": "alice"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("empty message: %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/v1/chat", `not json`); rec.Code != http.StatusBadRequest {
		t.Errorf("bad body: %d", rec.Code)
	}

	rec := do(t, h, http.MethodPost, "/v1/chat", `{"message": "Hi Nova", "sender": "alice"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body)
	}
	var reply struct {
		Content   string  `json:"content"`
		Sentiment float64 `json:"sentiment"`
	}
	decode(t, rec, &reply)
	if reply.Content != "Hello Alice!" || reply.Sentiment != 0.6 {
		t.Errorf("reply = %+v", reply)
	}
}

func TestRecallEndpoint(t *testing.T) {
	d := newTestDaemon(t)
	h := d.Handler()

	if rec := do(t, h, http.MethodGet, "/v1/recall", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("missing q: %d", rec.Code)
	}

	if _, err := d.Brain.Create(brain.CreateParams{Content: "Walked along the river at dawn"}); err != nil {
		t.Fatal(err)
	}
	rec := do(t, h, http.MethodGet, "/v1/recall?q=river&limit=5", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var resp recallResponse
	decode(t, rec, &resp)
	if resp.Method != "keyword" || resp.Count != 1 || resp.Memories[0].Type != "experience" {
		t.Errorf("recall = %+v", resp)
	}
}

func TestEnergyAndContextEndpoints(t *testing.T) {
	d := newTestDaemon(t)
	h := d.Handler()

	rec := do(t, h, http.MethodGet, "/v1/energy", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("energy status %d", rec.Code)
	}
	var status struct {
		Level float64 `json:"level"`
		State string  `json:"state"`
	}
	decode(t, rec, &status)
	if status.Level != 0.8 || status.State == "" {
		t.Errorf("energy = %+v", status)
	}

	rec = do(t, h, http.MethodGet, "/v1/context?situation=morning", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("context status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Nova") {
		t.Errorf("context lacks identity: %s", rec.Body)
	}
}

func TestGoalEndpoints(t *testing.T) {
	d := newTestDaemon(t)
	h := d.Handler()

	if rec := do(t, h, http.MethodPost, "/v1/goals", `{"title": ""}`); rec.Code != http.StatusBadRequest {
		t.Errorf("empty title: %d", rec.Code)
	}
	rec := do(t, h, http.MethodPost, "/v1/goals", `{"title": "Learn the names of birds", "priority": "high"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body)
	}
	var g goalView
	decode(t, rec, &g)

	rec = do(t, h, http.MethodPost, "/v1/goals/"+strconv.FormatInt(g.ID, 10)+"/progress", `{"progress": 100}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("progress: %d %s", rec.Code, rec.Body)
	}
	decode(t, rec, &g)
	if g.Status != brain.GoalCompleted || g.CompletedAt == nil {
		t.Errorf("goal = %+v", g)
	}

	if rec := do(t, h, http.MethodPost, "/v1/goals/999/progress", `{"progress": 10}`); rec.Code != http.StatusNotFound {
		t.Errorf("missing goal: %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/v1/goals/x/progress", `{"progress": 10}`); rec.Code != http.StatusBadRequest {
		t.Errorf("bad id: %d", rec.Code)
	}

	rec = do(t, h, http.MethodGet, "/v1/goals?status=completed", "")
	var goals []goalView
	decode(t, rec, &goals)
	if len(goals) != 1 {
		t.Errorf("completed goals = %+v", goals)
	}
}

func TestStatsEndpoint(t *testing.T) {
	d := newTestDaemon(t)
	rec := do(t, d.Handler(), http.MethodGet, "/v1/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var stats map[string]any
	decode(t, rec, &stats)
	if _, ok := stats["memories"]; !ok {
		t.Errorf("stats = %v", stats)
	}
}
