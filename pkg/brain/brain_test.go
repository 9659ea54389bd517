package brain

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/hmennen90/open-entity-sub000/pkg/embeddings"
)

func newTestBrain(t *testing.T) *Brain {
	t.Helper()
	b, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func mustCreate(t *testing.T, b *Brain, p CreateParams) *Memory {
	t.Helper()
	m, err := b.Create(p)
	if err != nil {
		t.Fatalf("Create(%q): %v", p.Content, err)
	}
	return m
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestCreateDefaults(t *testing.T) {
	b := newTestBrain(t)
	m := mustCreate(t, b, CreateParams{Content: "saw the sunrise"})

	if m.Type != TypeExperience {
		t.Errorf("Type = %q, want experience", m.Type)
	}
	if m.Layer != LayerEpisodic {
		t.Errorf("Layer = %q, want episodic", m.Layer)
	}
	if m.Importance != 0.5 {
		t.Errorf("Importance = %v, want 0.5", m.Importance)
	}
	if m.EmotionalValence != 0 {
		t.Errorf("EmotionalValence = %v, want 0", m.EmotionalValence)
	}
	if m.Status != StatusActive || m.Consolidated() {
		t.Errorf("Status = %q, want active", m.Status)
	}
	if m.EmbeddedAt != nil {
		t.Error("new memory should not be embedded")
	}
}

func TestCreateClampsAndStoresContext(t *testing.T) {
	b := newTestBrain(t)
	m := mustCreate(t, b, CreateParams{
		Type:             TypeLearned,
		Layer:            LayerSemantic,
		Content:          "water boils at 100C",
		Importance:       Float(1.7),
		EmotionalValence: -3,
		RelatedEntity:    "physics",
		Context:          map[string]any{"source": "book"},
	})
	if m.Importance != 1 {
		t.Errorf("Importance = %v, want 1", m.Importance)
	}
	if m.EmotionalValence != -1 {
		t.Errorf("EmotionalValence = %v, want -1", m.EmotionalValence)
	}
	if m.Context["source"] != "book" {
		t.Errorf("Context = %v", m.Context)
	}
	if m.RelatedEntity != "physics" {
		t.Errorf("RelatedEntity = %q", m.RelatedEntity)
	}

	if _, err := b.Create(CreateParams{Content: "  "}); err == nil {
		t.Error("Create with empty content succeeded")
	}
}

func TestGetNotFound(t *testing.T) {
	b := newTestBrain(t)
	if _, err := b.Get(42); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(42) err = %v, want ErrNotFound", err)
	}
	if _, err := b.Recall(42); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Recall(42) err = %v, want ErrNotFound", err)
	}
}

func TestQueries(t *testing.T) {
	b := newTestBrain(t)
	base := time.Now().Add(-time.Hour)
	mustCreate(t, b, CreateParams{Content: "talked with Ada about gardens", Type: TypeConversation, Importance: Float(0.4), CreatedAt: base})
	mustCreate(t, b, CreateParams{Content: "decided to learn Go", Type: TypeDecision, Importance: Float(0.9), CreatedAt: base.Add(time.Minute)})
	mustCreate(t, b, CreateParams{Content: "garden tomatoes are ripe", Summary: "tomatoes", Importance: Float(0.7), CreatedAt: base.Add(2 * time.Minute)})

	recent, err := b.Recent(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 || recent[0].Content != "garden tomatoes are ripe" {
		t.Errorf("Recent = %+v", recent)
	}

	byType, err := b.ByType(TypeDecision, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(byType) != 1 || byType[0].Type != TypeDecision {
		t.Errorf("ByType = %+v", byType)
	}

	important, err := b.Important(0.6, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(important) != 2 || important[0].Importance != 0.9 {
		t.Errorf("Important = %+v", important)
	}

	found, err := b.Search("GARDEN", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(found) != 2 {
		t.Fatalf("Search found %d, want 2", len(found))
	}
	if found[0].Importance < found[1].Importance {
		t.Error("Search results not ordered by importance")
	}

	if got, _ := b.Search("100%", 10); len(got) != 0 {
		t.Errorf("Search with wildcard chars matched %d", len(got))
	}
}

func TestRecallReinforcement(t *testing.T) {
	b := newTestBrain(t)
	m := mustCreate(t, b, CreateParams{Content: "a recurring dream"})

	var err error
	for i := 0; i < 5; i++ {
		m, err = b.Recall(m.ID)
		if err != nil {
			t.Fatal(err)
		}
	}
	if m.Importance != 0.5 || m.RecalledCount != 5 {
		t.Fatalf("after 5 recalls: importance=%v count=%d", m.Importance, m.RecalledCount)
	}
	if m.LastRecalledAt == nil {
		t.Error("LastRecalledAt not set")
	}

	m, _ = b.Recall(m.ID)
	if !approx(m.Importance, 0.55) {
		t.Fatalf("after 6 recalls importance = %v, want 0.55", m.Importance)
	}

	for i := 0; i < 20; i++ {
		m, _ = b.Recall(m.ID)
	}
	if !approx(m.Importance, 0.9) {
		t.Errorf("importance = %v, want cap 0.9", m.Importance)
	}
}

func TestRecallDoesNotLowerHighImportance(t *testing.T) {
	b := newTestBrain(t)
	m := mustCreate(t, b, CreateParams{Content: "core memory", Importance: Float(0.95)})
	for i := 0; i < 8; i++ {
		m, _ = b.Recall(m.ID)
	}
	if m.Importance != 0.95 {
		t.Errorf("importance = %v, want 0.95 unchanged", m.Importance)
	}
}

func TestDecay(t *testing.T) {
	b := newTestBrain(t)
	old := time.Now().Add(-40 * 24 * time.Hour)

	stale := mustCreate(t, b, CreateParams{Content: "stale", Importance: Float(0.25), CreatedAt: old})
	floor := mustCreate(t, b, CreateParams{Content: "near floor", Importance: Float(0.15), CreatedAt: old})
	fresh := mustCreate(t, b, CreateParams{Content: "fresh", Importance: Float(0.2)})
	important := mustCreate(t, b, CreateParams{Content: "important", Importance: Float(0.3), CreatedAt: old})
	recalled := mustCreate(t, b, CreateParams{Content: "recalled", Importance: Float(0.2), CreatedAt: old})
	for i := 0; i < 3; i++ {
		b.Recall(recalled.ID)
	}

	n, err := b.Decay()
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("Decay affected %d, want 2", n)
	}

	check := func(id int64, want float64) {
		t.Helper()
		m, err := b.Get(id)
		if err != nil {
			t.Fatal(err)
		}
		if !approx(m.Importance, want) {
			t.Errorf("memory %q importance = %v, want %v", m.Content, m.Importance, want)
		}
	}
	check(stale.ID, 0.15)
	check(floor.ID, 0.1)
	check(fresh.ID, 0.2)
	check(important.ID, 0.3)
	check(recalled.ID, 0.2)
}

func TestEmbeddingRoundTrip(t *testing.T) {
	b := newTestBrain(t)
	m := mustCreate(t, b, CreateParams{Content: "embedded thing"})
	mustCreate(t, b, CreateParams{Content: "not yet"})

	vec := embeddings.Vector{0.1, -0.2, 0.3}
	if err := b.SetEmbedding(m.ID, vec, "test-model"); err != nil {
		t.Fatal(err)
	}

	got, _ := b.Get(m.ID)
	if got.EmbeddingDimensions != len(vec) || len(got.Embedding) != len(vec) {
		t.Fatalf("dims = %d, len = %d", got.EmbeddingDimensions, len(got.Embedding))
	}
	if got.EmbeddingModel != "test-model" || got.EmbeddedAt == nil {
		t.Errorf("model=%q embeddedAt=%v", got.EmbeddingModel, got.EmbeddedAt)
	}
	for i := range vec {
		if got.Embedding[i] != vec[i] {
			t.Errorf("embedding[%d] = %v, want %v", i, got.Embedding[i], vec[i])
		}
	}

	cands, _ := b.EmbeddedCandidates(0)
	if len(cands) != 1 || cands[0].ID != m.ID {
		t.Errorf("EmbeddedCandidates = %+v", cands)
	}
	pending, _ := b.Unembedded(10)
	if len(pending) != 1 || pending[0].Content != "not yet" {
		t.Errorf("Unembedded = %+v", pending)
	}
}

func TestSummaryLifecycle(t *testing.T) {
	b := newTestBrain(t)
	day := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	m1 := mustCreate(t, b, CreateParams{Content: "morning walk", CreatedAt: day.Add(8 * time.Hour)})
	m2 := mustCreate(t, b, CreateParams{Content: "evening read", CreatedAt: day.Add(20 * time.Hour)})
	mustCreate(t, b, CreateParams{Content: "next day", CreatedAt: day.Add(30 * time.Hour)})

	inRange, err := b.InRange(day, day.AddDate(0, 0, 1))
	if err != nil {
		t.Fatal(err)
	}
	if len(inRange) != 2 {
		t.Fatalf("InRange = %d memories, want 2", len(inRange))
	}

	if _, err := b.FindSummary(PeriodDaily, day, day); !errors.Is(err, ErrNotFound) {
		t.Fatalf("FindSummary err = %v, want ErrNotFound", err)
	}

	insight := "walking helps"
	s := &Summary{
		PeriodType:        PeriodDaily,
		PeriodStart:       day,
		PeriodEnd:         day,
		Summary:           "a calm day",
		KeyInsights:       &insight,
		Themes:            []string{"walking", "reading"},
		SourceMemoryCount: 2,
	}
	if err := b.CreateSummary(s); err != nil {
		t.Fatal(err)
	}
	if err := b.CreateSummary(&Summary{PeriodType: PeriodDaily, PeriodStart: day, PeriodEnd: day, Summary: "dup"}); err == nil {
		t.Error("duplicate period key accepted")
	}

	n, err := b.MarkConsolidated([]int64{m1.ID, m2.ID}, s.ID)
	if err != nil || n != 2 {
		t.Fatalf("MarkConsolidated = %d, %v", n, err)
	}

	got, err := b.FindSummary(PeriodDaily, day, day)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != s.ID || len(got.Themes) != 2 || got.KeyInsights == nil || *got.KeyInsights != insight {
		t.Errorf("FindSummary = %+v", got)
	}
	if got.EntitiesMentioned == nil || len(got.EntitiesMentioned) != 0 {
		t.Errorf("EntitiesMentioned = %#v, want empty", got.EntitiesMentioned)
	}

	folded, _ := b.MemoriesInSummary(s.ID)
	if len(folded) != 2 {
		t.Fatalf("MemoriesInSummary = %d", len(folded))
	}
	for _, m := range folded {
		if !m.Consolidated() || m.ConsolidatedIntoID == nil || *m.ConsolidatedIntoID != s.ID || m.ConsolidatedAt == nil {
			t.Errorf("memory %d not consolidated properly: %+v", m.ID, m)
		}
	}

	recent, _ := b.Recent(10)
	if len(recent) != 1 {
		t.Errorf("Recent returned %d, consolidated memories must be excluded", len(recent))
	}
	if found, _ := b.Search("walk", 10); len(found) != 0 {
		t.Error("Search returned a consolidated memory")
	}

	summaries, _ := b.RecentSummaries(3)
	if len(summaries) != 1 {
		t.Errorf("RecentSummaries = %d", len(summaries))
	}
}

func TestArchiveCandidates(t *testing.T) {
	b := newTestBrain(t)
	old := time.Now().AddDate(0, 0, -60)
	mustCreate(t, b, CreateParams{Content: "old low", Importance: Float(0.2), CreatedAt: old})
	mustCreate(t, b, CreateParams{Content: "old high", Importance: Float(0.8), CreatedAt: old})
	mustCreate(t, b, CreateParams{Content: "new low", Importance: Float(0.2)})

	got, err := b.ArchiveCandidates(time.Now().AddDate(0, 0, -30))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Content != "old low" {
		t.Errorf("ArchiveCandidates = %+v", got)
	}
}

func TestKV(t *testing.T) {
	b := newTestBrain(t)
	if v, err := b.KVGet("missing"); err != nil || v != "" {
		t.Fatalf("KVGet(missing) = %q, %v", v, err)
	}
	if err := b.KVSet("personality", `{"name":"Ada"}`); err != nil {
		t.Fatal(err)
	}
	b.KVSet("personality", `{"name":"Eve"}`)
	if v, _ := b.KVGet("personality"); v != `{"name":"Eve"}` {
		t.Errorf("KVGet = %q", v)
	}
}

func TestThoughts(t *testing.T) {
	b := newTestBrain(t)
	first := &Thought{Content: "what is rain?", Type: "curiosity", Intensity: 0.4}
	if err := b.SaveThought(first); err != nil {
		t.Fatal(err)
	}
	second := &Thought{Content: "I should read", Intensity: 2}
	if err := b.SaveThought(second); err != nil {
		t.Fatal(err)
	}
	if first.ID == "" || second.Type != "observation" {
		t.Errorf("thought defaults not applied: %+v %+v", first, second)
	}

	thoughts, err := b.RecentThoughts(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(thoughts) != 2 || thoughts[0].ID != second.ID {
		t.Fatalf("RecentThoughts = %+v", thoughts)
	}
	if thoughts[0].Intensity != 1 {
		t.Errorf("Intensity = %v, want clamp to 1", thoughts[0].Intensity)
	}
}

func TestGoals(t *testing.T) {
	b := newTestBrain(t)
	g, err := b.CreateGoal("learn to paint", "", "high")
	if err != nil {
		t.Fatal(err)
	}
	b.CreateGoal("tidy notes", "", "low")

	before, after, err := b.UpdateGoalProgress(g.ID, 40)
	if err != nil {
		t.Fatal(err)
	}
	if before.Progress != 0 || after.Progress != 40 || after.Status != GoalActive {
		t.Errorf("update 40: before=%+v after=%+v", before, after)
	}

	_, after, _ = b.UpdateGoalProgress(g.ID, 150)
	if after.Progress != 100 || after.Status != GoalCompleted || after.CompletedAt == nil {
		t.Errorf("update 150: %+v", after)
	}

	active, _ := b.Goals(GoalActive)
	if len(active) != 1 || active[0].Title != "tidy notes" {
		t.Errorf("active goals = %+v", active)
	}
	all, _ := b.Goals("")
	if len(all) != 2 || all[0].Priority != "high" {
		t.Errorf("all goals = %+v", all)
	}

	if _, _, err := b.UpdateGoalProgress(999, 10); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing goal err = %v", err)
	}
}

func TestStats(t *testing.T) {
	b := newTestBrain(t)
	mustCreate(t, b, CreateParams{Content: "one"})
	mustCreate(t, b, CreateParams{Content: "two", Type: TypeLearned})

	s := b.Stats()
	if s.Memories != 2 {
		t.Errorf("Stats.Memories = %d, want 2", s.Memories)
	}
	ms := b.MemoryStats()
	if ms["experience"] != 1 || ms["learned"] != 1 {
		t.Errorf("MemoryStats = %v", ms)
	}
}
