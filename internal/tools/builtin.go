package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/hmennen90/open-entity-sub000/pkg/brain"
	"github.com/hmennen90/open-entity-sub000/pkg/semantic"
	"github.com/hmennen90/open-entity-sub000/pkg/working"
)

const (
	maxRecallLimit = 20
	maxRecallChars = 300
)

// Deps are the stores the built-in tools act on.
type Deps struct {
	Brain     *brain.Brain
	Retriever *semantic.Retriever
	Working   *working.Store

	// Remember stores a new long-term memory.
	Remember func(ctx context.Context, p brain.CreateParams) (*brain.Memory, error)
	// UpdateGoal sets a goal's progress and applies its side effects.
	UpdateGoal func(ctx context.Context, id int64, progress int) (*brain.Goal, error)
}

// Recalled is one memory returned by memory_recall.
type Recalled struct {
	ID         int64   `json:"id"`
	Type       string  `json:"type"`
	Content    string  `json:"content"`
	Similarity float64 `json:"similarity,omitempty"`
}

// RegisterBuiltins adds the memory and goal tools backed by d.
// Tools whose dependencies are missing are skipped.
func RegisterBuiltins(r *Registry, d Deps) error {
	var list []Tool
	if d.Retriever != nil && d.Brain != nil {
		list = append(list, Tool{
			Name:        "memory_recall",
			Description: "Search long-term memory for things related to a query.",
			Params:      map[string]string{"query": "what to remember", "limit": "max results (default 5)"},
			Run:         d.recall,
		})
	}
	if d.Remember != nil {
		list = append(list, Tool{
			Name:        "memory_store",
			Description: "Store something worth remembering long-term.",
			Params:      map[string]string{"content": "the memory", "type": "experience, learned, decision, ...", "importance": "0..1"},
			Run:         d.store,
		})
	}
	if d.Working != nil {
		list = append(list, Tool{
			Name:        "working_memory_note",
			Description: "Keep a short-lived note in working memory.",
			Params:      map[string]string{"content": "the note", "importance": "0..1", "category": "optional label"},
			Run:         d.note,
		})
	}
	if d.UpdateGoal != nil {
		list = append(list, Tool{
			Name:        "goal_update",
			Description: "Record progress on a goal.",
			Params:      map[string]string{"goal_id": "goal id", "progress": "0..100"},
			Run:         d.goal,
		})
	}
	for _, t := range list {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

func (d Deps) recall(ctx context.Context, p Params) (any, error) {
	query, err := p.RequireString("query")
	if err != nil {
		return nil, err
	}
	limit := p.Int("limit", 5)
	if limit <= 0 {
		limit = 5
	}
	if limit > maxRecallLimit {
		limit = maxRecallLimit
	}

	results, _, err := d.Retriever.Search(ctx, query, limit, d.Retriever.Threshold())
	if err != nil {
		return nil, fmt.Errorf("recall: %w", err)
	}
	out := make([]Recalled, 0, len(results))
	for _, res := range results {
		if _, err := d.Brain.Recall(res.Memory.ID); err != nil {
			return nil, fmt.Errorf("recall %d: %w", res.Memory.ID, err)
		}
		content := res.Memory.Text()
		if r := []rune(content); len(r) > maxRecallChars {
			content = string(r[:maxRecallChars]) + "..."
		}
		out = append(out, Recalled{
			ID:         res.Memory.ID,
			Type:       string(res.Memory.Type),
			Content:    content,
			Similarity: res.Similarity,
		})
	}
	return out, nil
}

func (d Deps) store(ctx context.Context, p Params) (any, error) {
	content, err := p.RequireString("content")
	if err != nil {
		return nil, err
	}
	typ := brain.MemoryType(strings.ToLower(p.String("type")))
	if typ == "" {
		typ = brain.TypeExperience
	}
	importance := p.Float("importance", 0.5)
	if importance < 0 || importance > 1 {
		return nil, Invalid("importance must be within 0..1, got %v", importance)
	}
	m, err := d.Remember(ctx, brain.CreateParams{
		Type:       typ,
		Content:    content,
		Importance: brain.Float(importance),
		Context:    map[string]any{"source": "tool"},
	})
	if err != nil {
		return nil, err
	}
	return fmt.Sprintf("stored memory %d", m.ID), nil
}

func (d Deps) note(ctx context.Context, p Params) (any, error) {
	content, err := p.RequireString("content")
	if err != nil {
		return nil, err
	}
	category := p.String("category")
	if category == "" {
		category = "note"
	}
	item, err := d.Working.Add(ctx, content, p.Float("importance", 0.5), category)
	if err != nil {
		return nil, err
	}
	return "noted " + item.ID, nil
}

func (d Deps) goal(ctx context.Context, p Params) (any, error) {
	id := p.Int("goal_id", 0)
	if id <= 0 {
		return nil, Invalid("missing required parameter: goal_id")
	}
	if _, ok := p["progress"]; !ok {
		return nil, Invalid("missing required parameter: progress")
	}
	g, err := d.UpdateGoal(ctx, int64(id), p.Int("progress", 0))
	if err != nil {
		return nil, err
	}
	return fmt.Sprintf("goal %q at %d%% (%s)", g.Title, g.Progress, g.Status), nil
}
