package tools

import (
	"context"
	"strings"
	"testing"

	"github.com/hmennen90/open-entity-sub000/pkg/brain"
	"github.com/hmennen90/open-entity-sub000/pkg/cache"
	"github.com/hmennen90/open-entity-sub000/pkg/semantic"
	"github.com/hmennen90/open-entity-sub000/pkg/working"
)

type builtinFixture struct {
	brain    *brain.Brain
	working  *working.Store
	registry *Registry
	goalCall []int
}

func newBuiltinFixture(t *testing.T) *builtinFixture {
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

	f := &builtinFixture{brain: b, working: working.NewStore(c, working.Options{}), registry: NewRegistry()}
	deps := Deps{
		Brain:     b,
		Retriever: semantic.NewRetriever(b, nil, semantic.Options{}),
		Working:   f.working,
		Remember: func(_ context.Context, p brain.CreateParams) (*brain.Memory, error) {
			return b.Create(p)
		},
		UpdateGoal: func(_ context.Context, id int64, progress int) (*brain.Goal, error) {
			f.goalCall = append(f.goalCall, progress)
			_, after, err := b.UpdateGoalProgress(id, progress)
			return after, err
		},
	}
	if err := RegisterBuiltins(f.registry, deps); err != nil {
		t.Fatal(err)
	}
	return f
}

func TestBuiltinsRegistered(t *testing.T) {
	f := newBuiltinFixture(t)
	var names []string
	for _, tool := range f.registry.Tools() {
		names = append(names, tool.Name)
	}
	if got := strings.Join(names, ","); got != "goal_update,memory_recall,memory_store,working_memory_note" {
		t.Errorf("tools = %s", got)
	}
}

func TestBuiltinsSkipMissingDeps(t *testing.T) {
	r := NewRegistry()
	if err := RegisterBuiltins(r, Deps{}); err != nil {
		t.Fatal(err)
	}
	if n := len(r.Tools()); n != 0 {
		t.Errorf("registered %d tools without deps", n)
	}
}

func TestMemoryStoreAndRecall(t *testing.T) {
	f := newBuiltinFixture(t)
	ctx := context.Background()

	res := f.registry.Execute(ctx, "memory_store", Params{"content": "Berlin has many bridges", "type": "learned", "importance": 0.7})
	if !res.Success {
		t.Fatalf("memory_store: %+v", res.Error)
	}

	res = f.registry.Execute(ctx, "memory_recall", Params{"query": "bridges"})
	if !res.Success {
		t.Fatalf("memory_recall: %+v", res.Error)
	}
	got, ok := res.Result.([]Recalled)
	if !ok || len(got) != 1 || got[0].Type != "learned" {
		t.Fatalf("recall result = %#v", res.Result)
	}
	m, err := f.brain.Get(got[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if m.RecalledCount != 1 {
		t.Errorf("RecalledCount = %d, want 1", m.RecalledCount)
	}
}

func TestMemoryStoreRejectsBadImportance(t *testing.T) {
	f := newBuiltinFixture(t)
	res := f.registry.Execute(context.Background(), "memory_store", Params{"content": "x", "importance": 1.5})
	if res.Success || res.Error.Type != ErrInvalidParams {
		t.Errorf("got %+v", res)
	}
}

func TestWorkingMemoryNote(t *testing.T) {
	f := newBuiltinFixture(t)
	ctx := context.Background()
	res := f.registry.Execute(ctx, "working_memory_note", Params{"content": "ask about the garden", "importance": 0.8})
	if !res.Success {
		t.Fatalf("working_memory_note: %+v", res.Error)
	}
	items, err := f.working.Items(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].Category != "note" || items[0].Importance != 0.8 {
		t.Errorf("items = %+v", items)
	}
}

func TestGoalUpdate(t *testing.T) {
	f := newBuiltinFixture(t)
	g, err := f.brain.CreateGoal("learn go", "", "high")
	if err != nil {
		t.Fatal(err)
	}

	res := f.registry.Execute(context.Background(), "goal_update", Params{"goal_id": float64(g.ID), "progress": float64(40)})
	if !res.Success {
		t.Fatalf("goal_update: %+v", res.Error)
	}
	if len(f.goalCall) != 1 || f.goalCall[0] != 40 {
		t.Errorf("UpdateGoal calls = %v", f.goalCall)
	}

	res = f.registry.Execute(context.Background(), "goal_update", Params{"goal_id": float64(g.ID)})
	if res.Success || res.Error.Type != ErrInvalidParams {
		t.Errorf("missing progress: %+v", res)
	}

	res = f.registry.Execute(context.Background(), "goal_update", Params{"goal_id": float64(999), "progress": float64(10)})
	if res.Success || res.Error.Type != ErrExecution {
		t.Errorf("missing goal: %+v", res)
	}
}
