// Package entity runs the think and chat cycles of one entity: it builds
// context from memory, asks the language model, acts on the answer and
// writes thoughts, memories and energy changes back.
package entity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hmennen90/open-entity-sub000/internal/tools"
	"github.com/hmennen90/open-entity-sub000/pkg/brain"
	"github.com/hmennen90/open-entity-sub000/pkg/energy"
	"github.com/hmennen90/open-entity-sub000/pkg/events"
	"github.com/hmennen90/open-entity-sub000/pkg/layers"
	"github.com/hmennen90/open-entity-sub000/pkg/prompts"
	"github.com/hmennen90/open-entity-sub000/pkg/semantic"
	"github.com/hmennen90/open-entity-sub000/pkg/working"
)

// Generator produces text for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

var (
	// ErrAsleep is returned by Think while the entity sleeps.
	ErrAsleep = errors.New("entity is asleep")
	// ErrNoThought is returned when the model produced nothing usable.
	ErrNoThought = errors.New("no thought generated")
)

// Deps wires an Entity.
type Deps struct {
	Brain     *brain.Brain
	Layers    *layers.Manager
	Retriever *semantic.Retriever
	Working   *working.Store
	Energy    *energy.Store
	Catalog   *prompts.Catalog // default prompts.Default()
	Events    *events.Bus      // optional

	Thinker Generator // autonomous thought
	Chatter Generator // conversation; defaults to Thinker

	Locale string // default "en"

	// Tools are registered next to the built-in memory and goal tools.
	Tools []tools.Tool
}

// Entity is one autonomous agent. Think, Chat and UpdateGoal run one at a
// time so memory and energy see a single writer.
type Entity struct {
	brain   *brain.Brain
	layers  *layers.Manager
	working *working.Store
	energy  *energy.Store
	catalog *prompts.Catalog
	events  *events.Bus
	tools   *tools.Registry
	thinker Generator
	chatter Generator
	locale  string
	mu      sync.Mutex
}

// New creates an entity.
func New(d Deps) (*Entity, error) {
	if d.Brain == nil || d.Layers == nil || d.Working == nil || d.Energy == nil {
		return nil, fmt.Errorf("entity: brain, layers, working memory and energy are required")
	}
	if d.Thinker == nil {
		return nil, fmt.Errorf("entity: a generator is required")
	}
	e := &Entity{
		brain:   d.Brain,
		layers:  d.Layers,
		working: d.Working,
		energy:  d.Energy,
		catalog: d.Catalog,
		events:  d.Events,
		tools:   tools.NewRegistry(),
		thinker: d.Thinker,
		chatter: d.Chatter,
		locale:  d.Locale,
	}
	if e.catalog == nil {
		e.catalog = prompts.Default()
	}
	if e.chatter == nil {
		e.chatter = d.Thinker
	}
	if e.locale == "" {
		e.locale = "en"
	}

	err := tools.RegisterBuiltins(e.tools, tools.Deps{
		Brain:     d.Brain,
		Retriever: d.Retriever,
		Working:   d.Working,
		Remember: func(ctx context.Context, p brain.CreateParams) (*brain.Memory, error) {
			return e.layers.Remember(ctx, p, false)
		},
		UpdateGoal: e.updateGoal,
	})
	if err != nil {
		return nil, err
	}
	for _, t := range d.Tools {
		if err := e.tools.Register(t); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Name returns the personality name.
func (e *Entity) Name() string { return e.layers.Personality().Name }

// Locale returns the locale prompts are rendered in.
func (e *Entity) Locale() string { return e.locale }

// Tools returns the tool registry.
func (e *Entity) Tools() *tools.Registry { return e.tools }

// Energy returns the energy store.
func (e *Entity) Energy() *energy.Store { return e.energy }

// Context assembles the layered context for situation.
func (e *Entity) Context(ctx context.Context, situation string) (*layers.Context, error) {
	return e.layers.Assemble(ctx, situation, e.locale)
}

// Remember stores a memory in the layer its type routes to. With sync the
// embedding is computed before returning.
func (e *Entity) Remember(ctx context.Context, p brain.CreateParams, sync bool) (*brain.Memory, error) {
	m, err := e.layers.Remember(ctx, p, sync)
	if err != nil {
		return nil, err
	}
	e.publish(events.Event{Type: events.TypeMemory, Message: fmt.Sprintf("remembered #%d (%s)", m.ID, m.Type)})
	return m, nil
}

// UpdateGoal sets a goal's progress. Gains earn energy, completion earns
// a bonus and an achievement memory.
func (e *Entity) UpdateGoal(ctx context.Context, id int64, progress int) (*brain.Goal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.updateGoal(ctx, id, progress)
}

func (e *Entity) updateGoal(ctx context.Context, id int64, progress int) (*brain.Goal, error) {
	before, after, err := e.brain.UpdateGoalProgress(id, progress)
	if err != nil {
		return nil, err
	}
	if gained := after.Progress - before.Progress; gained > 0 {
		if _, err := e.energy.GoalProgress(ctx, gained); err != nil {
			return nil, err
		}
	}
	if after.Status == brain.GoalCompleted && before.Status != brain.GoalCompleted {
		if _, err := e.energy.GoalCompleted(ctx); err != nil {
			return nil, err
		}
		_, err := e.layers.Remember(ctx, brain.CreateParams{
			Type:             brain.TypeAchievement,
			Content:          e.catalog.Text(prompts.GoalCompleted, e.locale, after.Title),
			Importance:       brain.Float(0.8),
			EmotionalValence: 0.8,
			Context:          map[string]any{"goal_id": after.ID},
		}, false)
		if err != nil {
			slog.Warn("failed to store achievement memory", "goal", after.ID, "error", err)
		}
		e.publish(events.Event{Type: events.TypeMemory, Message: "goal completed: " + after.Title})
	}
	return after, nil
}

func (e *Entity) publish(ev events.Event) {
	if e.events != nil {
		e.events.Publish(ev)
	}
}
