// Package layers assembles the entity's memory into one token-bounded
// context per think or chat cycle.
//
// Layers are rendered in a fixed order, each under its own budget:
// core identity, working memory, episodic memories, semantic knowledge.
// Token cost is estimated as ceil(chars/4).
package layers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hmennen90/open-entity-sub000/pkg/brain"
	"github.com/hmennen90/open-entity-sub000/pkg/prompts"
	"github.com/hmennen90/open-entity-sub000/pkg/semantic"
	"github.com/hmennen90/open-entity-sub000/pkg/working"
)

// Budget holds token budgets. The identity layer is always rendered in
// full and counted against Total.
type Budget struct {
	Total    int `json:"total"`
	Working  int `json:"working"`
	Episodic int `json:"episodic"`
	Semantic int `json:"semantic"`
}

// DefaultBudget returns the standard budgets.
func DefaultBudget() Budget {
	return Budget{Total: 4000, Working: 500, Episodic: 1500, Semantic: 1000}
}

const (
	layerFetchLimit = 20
	recentSummaries = 3
	ellipsis        = "..."
)

// Section is one rendered layer.
type Section struct {
	Layer  string `json:"layer"`
	Text   string `json:"text"`
	Tokens int    `json:"tokens"`
}

// Context is an assembled think context.
type Context struct {
	Sections []Section `json:"sections"`
	Tokens   int       `json:"tokens"`
}

// String joins the non-empty sections with blank lines.
func (c *Context) String() string {
	parts := make([]string, 0, len(c.Sections))
	for _, s := range c.Sections {
		parts = append(parts, s.Text)
	}
	return strings.Join(parts, "\n\n")
}

// Manager builds contexts from the memory stores. It owns none of them.
type Manager struct {
	brain       *brain.Brain
	retriever   *semantic.Retriever
	working     *working.Store
	catalog     *prompts.Catalog
	budget      Budget
	personality Personality
}

// NewManager creates a layer manager. Zero budget fields take defaults.
func NewManager(b *brain.Brain, r *semantic.Retriever, w *working.Store, p Personality, budget Budget) *Manager {
	def := DefaultBudget()
	if budget.Total <= 0 {
		budget.Total = def.Total
	}
	if budget.Working <= 0 {
		budget.Working = def.Working
	}
	if budget.Episodic <= 0 {
		budget.Episodic = def.Episodic
	}
	if budget.Semantic <= 0 {
		budget.Semantic = def.Semantic
	}
	return &Manager{
		brain:       b,
		retriever:   r,
		working:     w,
		catalog:     prompts.Default(),
		budget:      budget,
		personality: p,
	}
}

// Personality returns the core identity in use.
func (m *Manager) Personality() Personality { return m.personality }

// SetPersonality replaces the core identity for later contexts.
func (m *Manager) SetPersonality(p Personality) { m.personality = p }

// BuildThinkContext renders the context for situation in locale.
func (m *Manager) BuildThinkContext(ctx context.Context, situation, locale string) (string, error) {
	c, err := m.Assemble(ctx, situation, locale)
	if err != nil {
		return "", err
	}
	return c.String(), nil
}

// Assemble renders every layer. A layer that fails to load is logged and
// left out; the identity layer never fails.
func (m *Manager) Assemble(ctx context.Context, situation, locale string) (*Context, error) {
	out := &Context{}
	remaining := m.budget.Total

	add := func(layer, header, body string) {
		if body == "" {
			return
		}
		text := body
		if header != "" {
			text = header + "\n" + body
		}
		tokens := semantic.EstimateTokens(text)
		out.Sections = append(out.Sections, Section{Layer: layer, Text: text, Tokens: tokens})
		out.Tokens += tokens
		remaining -= tokens
	}

	add("identity", "", m.personality.Render(m.catalog, locale))

	if body, err := m.workingLayer(ctx, min(m.budget.Working, max(remaining, 0))); err != nil {
		slog.Warn("working memory layer unavailable", "error", err)
	} else {
		add("working", m.catalog.Text(prompts.LayerWorking, locale, nil), body)
	}

	if body, err := m.episodicLayer(ctx, situation, min(m.budget.Episodic, max(remaining, 0))); err != nil {
		slog.Warn("episodic layer unavailable", "error", err)
	} else {
		add("episodic", m.catalog.Text(prompts.LayerEpisodic, locale, nil), body)
	}

	if body, err := m.semanticLayer(min(m.budget.Semantic, max(remaining, 0))); err != nil {
		slog.Warn("semantic layer unavailable", "error", err)
	} else {
		add("semantic", m.catalog.Text(prompts.LayerSemantic, locale, nil), body)
	}

	slog.Debug("context assembled", "sections", len(out.Sections), "tokens", out.Tokens, "situation", situation != "")
	return out, nil
}

// workingLayer renders the focus items and hard-truncates the text to
// budget*4 characters.
func (m *Manager) workingLayer(ctx context.Context, budget int) (string, error) {
	if m.working == nil || budget <= 0 {
		return "", nil
	}
	items, err := m.working.CurrentFocus(ctx, 0)
	if err != nil {
		return "", err
	}
	lines := make([]string, len(items))
	for i, it := range items {
		lines[i] = "- " + it.Content
	}
	return truncateTokens(strings.Join(lines, "\n"), budget), nil
}

func (m *Manager) episodicLayer(ctx context.Context, situation string, budget int) (string, error) {
	if budget <= 0 {
		return "", nil
	}

	var results []semantic.Result
	if strings.TrimSpace(situation) == "" || m.retriever == nil {
		memories, err := m.brain.ActiveByLayer(brain.LayerEpisodic, layerFetchLimit)
		if err != nil {
			return "", err
		}
		for _, mem := range memories {
			results = append(results, semantic.Result{Memory: mem})
		}
	} else {
		found, _, err := m.retriever.Search(ctx, situation, layerFetchLimit, m.retriever.Threshold())
		if err != nil {
			return "", err
		}
		for _, r := range found {
			if r.Memory.Layer == brain.LayerSemantic {
				continue
			}
			results = append(results, r)
		}
	}

	lines := make([]string, 0, len(results))
	for _, r := range results {
		line := fmt.Sprintf("- [%s] %s", r.Memory.CreatedAt.Format("2006-01-02"), r.Memory.Text())
		if r.Similarity > 0 {
			line += fmt.Sprintf(" (%d%%)", int(r.Similarity*100+0.5))
		}
		lines = append(lines, line)
	}
	return fitLines(lines, budget), nil
}

func (m *Manager) semanticLayer(budget int) (string, error) {
	if budget <= 0 {
		return "", nil
	}
	facts, err := m.brain.ActiveByLayer(brain.LayerSemantic, layerFetchLimit)
	if err != nil {
		return "", err
	}
	summaries, err := m.brain.RecentSummaries(recentSummaries)
	if err != nil {
		return "", err
	}

	lines := make([]string, 0, len(facts)+len(summaries))
	for _, f := range facts {
		lines = append(lines, "- "+f.Text())
	}
	for _, s := range summaries {
		period := s.PeriodStart.Format("2006-01-02")
		if !s.PeriodEnd.Equal(s.PeriodStart) {
			period += ".." + s.PeriodEnd.Format("2006-01-02")
		}
		lines = append(lines, fmt.Sprintf("- [%s %s] %s", s.PeriodType, period, s.Summary))
	}
	return fitLines(lines, budget), nil
}

// fitLines keeps lines in order until the next one would exceed budget.
func fitLines(lines []string, budget int) string {
	var b strings.Builder
	used := 0
	for _, line := range lines {
		cost := semantic.EstimateTokens(line)
		if used+cost > budget {
			break
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
		used += cost
	}
	return b.String()
}

// truncateTokens cuts s to budget*4 characters, marking the cut.
func truncateTokens(s string, budget int) string {
	limit := budget * 4
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + ellipsis
}

// RouteToLayer maps a memory type to the layer it belongs in.
func RouteToLayer(memoryType string) brain.Layer {
	switch memoryType {
	case "learned", "fact", "knowledge":
		return brain.LayerSemantic
	case "procedure", "skill", "how_to":
		return brain.LayerProcedural
	default:
		return brain.LayerEpisodic
	}
}

// Remember stores a memory in the layer its type routes to and embeds it,
// inline when sync is set.
func (m *Manager) Remember(ctx context.Context, p brain.CreateParams, sync bool) (*brain.Memory, error) {
	p.Layer = RouteToLayer(string(p.Type))
	if m.retriever == nil {
		return m.brain.Create(p)
	}
	return m.retriever.CreateWithEmbedding(ctx, p, sync)
}
