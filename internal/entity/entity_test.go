package entity

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/hmennen90/open-entity-sub000/pkg/brain"
	"github.com/hmennen90/open-entity-sub000/pkg/cache"
	"github.com/hmennen90/open-entity-sub000/pkg/energy"
	"github.com/hmennen90/open-entity-sub000/pkg/events"
	"github.com/hmennen90/open-entity-sub000/pkg/layers"
	"github.com/hmennen90/open-entity-sub000/pkg/semantic"
	"github.com/hmennen90/open-entity-sub000/pkg/working"
)

type fakeGen struct {
	mu      sync.Mutex
	replies []string
	err     error
	prompts []string
}

func (g *fakeGen) Generate(_ context.Context, prompt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, prompt)
	if g.err != nil {
		return "", g.err
	}
	if len(g.replies) == 0 {
		return "", nil
	}
	r := g.replies[0]
	if len(g.replies) > 1 {
		g.replies = g.replies[1:]
	}
	return r, nil
}

func (g *fakeGen) lastPrompt() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.prompts) == 0 {
		return ""
	}
	return g.prompts[len(g.prompts)-1]
}

type fixture struct {
	entity  *Entity
	brain   *brain.Brain
	working *working.Store
	energy  *energy.Store
	events  *events.Bus
	gen     *fakeGen
}

func newFixture(t *testing.T, replies ...string) *fixture {
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
	t.Cleanup(c.Close)

	w := working.NewStore(c, working.Options{})
	en := energy.NewStore(c, "test", energy.Config{})
	r := semantic.NewRetriever(b, nil, semantic.Options{})
	m := layers.NewManager(b, r, w, layers.DefaultPersonality("Nova"), layers.DefaultBudget())
	bus := events.NewBus()
	gen := &fakeGen{replies: replies}

	e, err := New(Deps{
		Brain:     b,
		Layers:    m,
		Retriever: r,
		Working:   w,
		Energy:    en,
		Events:    bus,
		Thinker:   gen,
	})
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{entity: e, brain: b, working: w, energy: en, events: bus, gen: gen}
}

func (f *fixture) level(t *testing.T) float64 {
	t.Helper()
	l, err := f.energy.Level(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return l
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-6 }

func TestNewRequiresDeps(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Error("expected error without deps")
	}
}

func TestThinkStoresThought(t *testing.T) {
	f := newFixture(t, `Here you go: {"thought": "I wonder where rivers begin", "type": "curiosity", "intensity": 0.6, "remember": true, "importance": 0.7}`)
	ctx := context.Background()

	th, err := f.entity.Think(ctx)
	if err != nil {
		t.Fatalf("Think: %v", err)
	}
	if th.Type != "curiosity" || th.Content != "I wonder where rivers begin" || th.ID == "" {
		t.Errorf("thought = %+v", th)
	}

	stored, err := f.brain.RecentThoughts(1)
	if err != nil || len(stored) != 1 || stored[0].ID != th.ID {
		t.Fatalf("RecentThoughts = %+v, %v", stored, err)
	}
	focus, _ := f.working.CurrentFocus(ctx, 5)
	if len(focus) != 1 || focus[0].Content != th.Content || focus[0].Category != "thought" {
		t.Errorf("working memory = %+v", focus)
	}
	mems, _ := f.brain.Recent(5)
	if len(mems) != 1 || mems[0].Type != brain.TypeReflection || !near(mems[0].Importance, 0.7) {
		t.Errorf("memories = %+v", mems)
	}
	if got := f.level(t); !near(got, 0.8-0.005-0.006) {
		t.Errorf("energy = %v, want 0.789", got)
	}
	if ev := f.events.Recent(1); len(ev) != 1 || ev[0].Type != events.TypeThought {
		t.Errorf("events = %+v", ev)
	}
}

func TestThinkWithTool(t *testing.T) {
	f := newFixture(t, `{"thought": "I should note this", "type": "plan", "intensity": 0.5, "tool": "working_memory_note", "params": {"content": "call the gardener", "importance": 0.9}}`)
	ctx := context.Background()

	th, err := f.entity.Think(ctx)
	if err != nil {
		t.Fatalf("Think: %v", err)
	}
	if th.Tool != "working_memory_note" || !strings.HasPrefix(th.ToolResult, "noted ") {
		t.Errorf("tool = %q result = %q", th.Tool, th.ToolResult)
	}
	focus, _ := f.working.CurrentFocus(ctx, 1)
	if len(focus) != 1 || focus[0].Content != "call the gardener" {
		t.Errorf("top focus = %+v", focus)
	}
	if got := f.level(t); !near(got, 0.8-0.02-0.005-0.005) {
		t.Errorf("energy = %v, want 0.77", got)
	}
}

func TestThinkUnknownToolIsRecorded(t *testing.T) {
	f := newFixture(t, `{"thought": "Let me fly", "tool": "teleport"}`)
	th, err := f.entity.Think(context.Background())
	if err != nil {
		t.Fatalf("Think: %v", err)
	}
	if !strings.HasPrefix(th.ToolResult, "unknown_tool: ") {
		t.Errorf("ToolResult = %q", th.ToolResult)
	}
}

func TestThinkPlainText(t *testing.T) {
	f := newFixture(t, "  The house is quiet today.  ")
	th, err := f.entity.Think(context.Background())
	if err != nil {
		t.Fatalf("Think: %v", err)
	}
	if th.Content != "The house is quiet today." || th.Type != "observation" || th.Intensity != 0.5 {
		t.Errorf("thought = %+v", th)
	}
	if mems, _ := f.brain.Recent(5); len(mems) != 0 {
		t.Errorf("unexpected memories: %+v", mems)
	}
}

func TestThinkGenerationFailure(t *testing.T) {
	f := newFixture(t)
	f.gen.err = errors.New("backend down")

	if _, err := f.entity.Think(context.Background()); !errors.Is(err, ErrNoThought) {
		t.Fatalf("err = %v, want ErrNoThought", err)
	}
	if th, _ := f.brain.RecentThoughts(5); len(th) != 0 {
		t.Errorf("thoughts stored after failure: %+v", th)
	}
	if got := f.level(t); !near(got, 0.8) {
		t.Errorf("energy = %v, want untouched 0.8", got)
	}
}

func TestThinkEmptyReply(t *testing.T) {
	f := newFixture(t, `{"thought": "   "}`)
	if _, err := f.entity.Think(context.Background()); !errors.Is(err, ErrNoThought) {
		t.Errorf("err = %v, want ErrNoThought", err)
	}
}

func TestThinkWhileAsleep(t *testing.T) {
	f := newFixture(t, "a thought")
	ctx := context.Background()
	if err := f.energy.StartSleep(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := f.entity.Think(ctx); !errors.Is(err, ErrAsleep) {
		t.Errorf("err = %v, want ErrAsleep", err)
	}
	if len(f.gen.prompts) != 0 {
		t.Error("generator called while asleep")
	}
}

func TestThinkPrompt(t *testing.T) {
	f := newFixture(t, `{"thought": "first"}`, `{"thought": "second"}`)
	ctx := context.Background()
	if _, err := f.brain.CreateGoal("learn to paint", "", "high"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.entity.Think(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := f.entity.Think(ctx); err != nil {
		t.Fatal(err)
	}

	p := f.gen.lastPrompt()
	for _, want := range []string{"You are Nova", "## Who I am", "learn to paint (0%)", "memory_recall", "goal_update", "## My last thoughts\n- first", "## On my mind\n- first"} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q:\n%s", want, p)
		}
	}
}

func TestParseThought(t *testing.T) {
	tests := []struct {
		in        string
		thought   string
		typ       string
		intensity float64
	}{
		{`{"thought": "x", "type": "Decision", "intensity": 2}`, "x", "decision", 1},
		{`{"thought": "x", "type": "dream", "intensity": -1}`, "x", "observation", 0},
		{"just words", "just words", "observation", 0.5},
		{`{"thought": "broken"`, `{"thought": "broken"`, "observation", 0.5},
	}
	for _, tt := range tests {
		r := parseThought(tt.in)
		if r.Thought != tt.thought || r.Type != tt.typ || *r.Intensity != tt.intensity {
			t.Errorf("parseThought(%q) = %q/%q/%v", tt.in, r.Thought, r.Type, *r.Intensity)
		}
	}
}
