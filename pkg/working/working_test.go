package working

import (
	"context"
	"testing"
	"time"

	"github.com/hmennen90/open-entity-sub000/pkg/cache"
)

func newTestStore(t *testing.T, opts Options) *Store {
	t.Helper()
	c, err := cache.NewMemory(0)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(c.Close)
	s := NewStore(c, opts)
	clock := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return s
}

func TestAddEvictsLeastImportant(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, Options{MaxItems: 3})

	for _, imp := range []float64{0.1, 0.9, 0.5, 0.2, 0.95} {
		if _, err := s.Add(ctx, "item", imp, ""); err != nil {
			t.Fatal(err)
		}
	}

	items, err := s.Items(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{0.95, 0.9, 0.5}
	if len(items) != len(want) {
		t.Fatalf("kept %d items, want %d", len(items), len(want))
	}
	for i, w := range want {
		if items[i].Importance != w {
			t.Errorf("item %d importance = %v, want %v", i, items[i].Importance, w)
		}
	}
}

func TestAddPrependsUnderCapacity(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, Options{})

	s.Add(ctx, "first", 0.9, "")
	s.Add(ctx, "second", 0.1, "task")

	items, _ := s.Items(ctx)
	if len(items) != 2 || items[0].Content != "second" || items[1].Content != "first" {
		t.Fatalf("items = %+v", items)
	}
	if items[0].Category != "task" || items[0].ID == "" {
		t.Errorf("item fields not stored: %+v", items[0])
	}
}

func TestEvictionPrefersRecentOnTies(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, Options{MaxItems: 2})

	s.Add(ctx, "old", 0.5, "")
	s.Add(ctx, "middle", 0.5, "")
	s.Add(ctx, "new", 0.5, "")

	items, _ := s.Items(ctx)
	if len(items) != 2 || items[0].Content != "new" || items[1].Content != "middle" {
		t.Errorf("items = %+v", items)
	}
}

func TestCurrentFocusAndHasTopic(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, Options{})

	s.Add(ctx, "Plan the Garden", 0.4, "")
	s.Add(ctx, "call Mia", 0.8, "")
	s.Add(ctx, "buy seeds", 0.6, "")

	focus, err := s.CurrentFocus(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(focus) != 2 || focus[0].Content != "call Mia" || focus[1].Content != "buy seeds" {
		t.Errorf("focus = %+v", focus)
	}

	if ok, _ := s.HasTopic(ctx, "garden"); !ok {
		t.Error("HasTopic(garden) = false")
	}
	if ok, _ := s.HasTopic(ctx, "piano"); ok {
		t.Error("HasTopic(piano) = true")
	}
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, Options{})
	s.Add(ctx, "something", 0.5, "")

	if err := s.Reset(ctx); err != nil {
		t.Fatal(err)
	}
	if items, _ := s.Items(ctx); len(items) != 0 {
		t.Errorf("items after reset = %d", len(items))
	}
}

func TestConversation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, Options{MaxTurns: 3})

	if turns, err := s.Conversation(ctx, "room"); err != nil || turns != nil {
		t.Fatalf("empty conversation = %v, %v", turns, err)
	}

	s.AppendTurns(ctx, "room", Turn{Speaker: "ada", Text: "hi"}, Turn{Speaker: "me", Text: "hello"})
	s.AppendTurns(ctx, "room", Turn{Speaker: "ada", Text: "how are you"}, Turn{Speaker: "me", Text: "fine"})

	turns, err := s.Conversation(ctx, "room")
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 3 || turns[0].Text != "hello" || turns[2].Text != "fine" {
		t.Errorf("turns = %+v", turns)
	}
	if turns[0].ID == "" || turns[0].At.IsZero() {
		t.Errorf("turn id/time not set: %+v", turns[0])
	}

	// Conversations do not share the item namespace.
	if items, _ := s.Items(ctx); len(items) != 0 {
		t.Errorf("conversation leaked into items: %+v", items)
	}
	if other, _ := s.Conversation(ctx, "other"); len(other) != 0 {
		t.Error("conversations not keyed by id")
	}
}
