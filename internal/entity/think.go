package entity

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hmennen90/open-entity-sub000/internal/tools"
	"github.com/hmennen90/open-entity-sub000/pkg/brain"
	"github.com/hmennen90/open-entity-sub000/pkg/events"
	"github.com/hmennen90/open-entity-sub000/pkg/prompts"
)

const (
	recentThoughts = 3
	maxGoals       = 5
)

// thoughtReply is the JSON the model answers a think prompt with.
type thoughtReply struct {
	Thought    string         `json:"thought"`
	Type       string         `json:"type"`
	Intensity  *float64       `json:"intensity"`
	Tool       string         `json:"tool"`
	Params     map[string]any `json:"params"`
	Remember   bool           `json:"remember"`
	Importance *float64       `json:"importance"`
}

var thoughtTypes = map[string]bool{
	"observation": true,
	"reflection":  true,
	"plan":        true,
	"curiosity":   true,
	"decision":    true,
}

// Think runs one think cycle and returns the stored thought. A failed
// cycle stores nothing.
func (e *Entity) Think(ctx context.Context) (*brain.Thought, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	asleep, _, err := e.energy.Asleep(ctx)
	if err != nil {
		return nil, err
	}
	if asleep {
		return nil, ErrAsleep
	}

	prompt, err := e.thinkPrompt(ctx)
	if err != nil {
		return nil, err
	}
	out, err := e.thinker.Generate(ctx, prompt)
	if err != nil {
		slog.Warn("think cycle failed", "error", err)
		e.publish(events.Event{Type: events.TypeError, Message: "think: " + err.Error()})
		return nil, fmt.Errorf("%w: %v", ErrNoThought, err)
	}
	reply := parseThought(out)
	if reply.Thought == "" {
		return nil, ErrNoThought
	}

	t := &brain.Thought{
		Type:      reply.Type,
		Content:   reply.Thought,
		Intensity: *reply.Intensity,
	}
	if reply.Tool != "" {
		res := e.tools.Execute(ctx, reply.Tool, tools.Params(reply.Params))
		t.Tool = reply.Tool
		t.ToolResult = truncate(res.String(), 1000)
		if _, err := e.energy.ToolUsed(ctx, reply.Tool); err != nil {
			return nil, err
		}
		if res.Success && reply.Tool == "memory_recall" {
			if _, err := e.energy.Recalled(ctx); err != nil {
				return nil, err
			}
		}
	}

	if err := e.brain.SaveThought(t); err != nil {
		return nil, err
	}
	if _, err := e.working.Add(ctx, t.Content, t.Intensity, "thought"); err != nil {
		return nil, err
	}
	if reply.Remember {
		importance := 0.5
		if reply.Importance != nil {
			importance = *reply.Importance
		}
		_, err := e.layers.Remember(ctx, brain.CreateParams{
			Type:       memoryTypeOf(t.Type),
			Content:    t.Content,
			Importance: brain.Float(importance),
			Context:    map[string]any{"thought_id": t.ID, "thought_type": t.Type},
		}, false)
		if err != nil {
			slog.Warn("failed to remember thought", "thought", t.ID, "error", err)
		}
	}
	level, err := e.energy.Think(ctx, t.Intensity)
	if err != nil {
		return nil, err
	}

	slog.Info("thought", "id", t.ID, "type", t.Type, "intensity", t.Intensity, "tool", t.Tool, "energy", level)
	e.publish(events.Event{
		Type:    events.TypeThought,
		Message: t.Content,
		Level:   level,
		Data:    map[string]any{"id": t.ID, "type": t.Type, "intensity": t.Intensity, "tool": t.Tool},
	})
	return t, nil
}

func (e *Entity) thinkPrompt(ctx context.Context) (string, error) {
	situation, err := e.situation(ctx)
	if err != nil {
		return "", err
	}
	assembled, err := e.layers.BuildThinkContext(ctx, situation, e.locale)
	if err != nil {
		return "", err
	}
	status, err := e.energy.Status(ctx)
	if err != nil {
		return "", err
	}

	data := prompts.ThinkData{
		Name:        e.Name(),
		Context:     assembled,
		EnergyState: e.catalog.Text(prompts.EnergyState, e.locale, string(status.State)),
		Energy:      status.Level,
		Tools:       e.tools.Describe(),
	}
	goals, err := e.brain.Goals(brain.GoalActive)
	if err != nil {
		return "", err
	}
	for i, g := range goals {
		if i == maxGoals {
			break
		}
		data.Goals = append(data.Goals, fmt.Sprintf("#%d %s (%d%%)", g.ID, g.Title, g.Progress))
	}
	thoughts, err := e.brain.RecentThoughts(recentThoughts)
	if err != nil {
		return "", err
	}
	for _, t := range thoughts {
		data.Thoughts = append(data.Thoughts, t.Content)
	}
	return e.catalog.Render(prompts.Think, e.locale, data)
}

// situation is what the entity is focused on: the top working memory
// item, else its last thought.
func (e *Entity) situation(ctx context.Context) (string, error) {
	focus, err := e.working.CurrentFocus(ctx, 1)
	if err != nil {
		return "", err
	}
	if len(focus) > 0 {
		return focus[0].Content, nil
	}
	thoughts, err := e.brain.RecentThoughts(1)
	if err != nil || len(thoughts) == 0 {
		return "", err
	}
	return thoughts[0].Content, nil
}

// parseThought reads the model's JSON answer. Plain text is taken as an
// observation.
func parseThought(out string) thoughtReply {
	var r thoughtReply
	if raw, ok := jsonObject(out); !ok || json.Unmarshal([]byte(raw), &r) != nil {
		r = thoughtReply{Thought: strings.TrimSpace(out)}
	}
	r.Thought = strings.TrimSpace(r.Thought)
	r.Type = strings.ToLower(strings.TrimSpace(r.Type))
	if !thoughtTypes[r.Type] {
		r.Type = "observation"
	}
	intensity := 0.5
	if r.Intensity != nil {
		intensity = min(max(*r.Intensity, 0), 1)
	}
	r.Intensity = &intensity
	if r.Importance != nil {
		v := min(max(*r.Importance, 0), 1)
		r.Importance = &v
	}
	r.Tool = strings.TrimSpace(r.Tool)
	return r
}

// jsonObject slices the outermost {...} out of s.
func jsonObject(s string) (string, bool) {
	lo := strings.IndexByte(s, '{')
	hi := strings.LastIndexByte(s, '}')
	if lo < 0 || hi <= lo {
		return "", false
	}
	return s[lo : hi+1], true
}

func memoryTypeOf(thoughtType string) brain.MemoryType {
	switch thoughtType {
	case "decision":
		return brain.TypeDecision
	case "observation":
		return brain.TypeExperience
	default:
		return brain.TypeReflection
	}
}

func truncate(s string, maxRunes int) string {
	r := []rune(s)
	if len(r) <= maxRunes {
		return s
	}
	return string(r[:maxRunes]) + "..."
}
