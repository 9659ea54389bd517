package dream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/hmennen90/open-entity-sub000/pkg/brain"
	"github.com/hmennen90/open-entity-sub000/pkg/embeddings"
	"github.com/hmennen90/open-entity-sub000/pkg/prompts"
)

// Generator produces text from a prompt. It must return an error on
// failure rather than an empty string.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Embedder embeds summary text.
type Embedder interface {
	Embed(ctx context.Context, text string) (embeddings.Embedding, error)
}

const (
	maxThemes          = 5
	fallbackSummaryTop = 5
	insightImportance  = 0.6
)

// Consolidator folds the raw memories of a period into one MemorySummary.
type Consolidator struct {
	brain    *brain.Brain
	gen      Generator
	embedder Embedder
	catalog  *prompts.Catalog
	locale   string
	timeout  time.Duration
	now      func() time.Time
}

// ConsolidatorOption configures a Consolidator.
type ConsolidatorOption func(*Consolidator)

// WithEmbedder embeds each new summary. Embedding failures are logged.
func WithEmbedder(e Embedder) ConsolidatorOption {
	return func(c *Consolidator) { c.embedder = e }
}

// WithLocale selects the prompt language.
func WithLocale(locale string) ConsolidatorOption {
	return func(c *Consolidator) { c.locale = locale }
}

// WithGenerateTimeout bounds each generation call (default 60s).
func WithGenerateTimeout(d time.Duration) ConsolidatorOption {
	return func(c *Consolidator) { c.timeout = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ConsolidatorOption {
	return func(c *Consolidator) { c.now = now }
}

// NewConsolidator creates a consolidator. gen may be nil; every derived
// field then takes its fallback.
func NewConsolidator(b *brain.Brain, gen Generator, opts ...ConsolidatorOption) *Consolidator {
	c := &Consolidator{
		brain:   b,
		gen:     gen,
		catalog: prompts.Default(),
		locale:  prompts.DefaultLocale,
		timeout: 60 * time.Second,
		now:     time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ConsolidatePeriod summarizes the active memories created between the
// start of start's day and the end of end's day. An existing summary for
// the same (periodType, start, end) is returned unchanged. It returns
// nil, nil when the period has no active memories.
func (c *Consolidator) ConsolidatePeriod(ctx context.Context, start, end time.Time, periodType brain.PeriodType) (*brain.Summary, error) {
	s, _, err := c.consolidate(ctx, start, end, periodType)
	return s, err
}

// consolidate is ConsolidatePeriod that also reports whether the summary
// was created by this call.
func (c *Consolidator) consolidate(ctx context.Context, start, end time.Time, periodType brain.PeriodType) (*brain.Summary, bool, error) {
	startDay := dayStart(start)
	endDay := dayStart(end)

	existing, err := c.brain.FindSummary(periodType, startDay, endDay)
	if err == nil {
		slog.Debug("period already consolidated", "period", periodType, "start", startDay.Format(time.DateOnly), "id", existing.ID)
		return existing, false, nil
	}
	if !errors.Is(err, brain.ErrNotFound) {
		return nil, false, err
	}

	memories, err := c.brain.InRange(startDay, endDay.AddDate(0, 0, 1))
	if err != nil {
		return nil, false, err
	}
	if len(memories) == 0 {
		return nil, false, nil
	}

	data := prompts.ConsolidationData{
		PeriodType: string(periodType),
		Start:      startDay.Format(time.DateOnly),
		End:        endDay.Format(time.DateOnly),
	}

	s := &brain.Summary{
		PeriodType:              periodType,
		PeriodStart:             startDay,
		PeriodEnd:               endDay,
		Themes:                  c.themes(ctx, data, memories),
		Summary:                 c.narrative(ctx, data, memories),
		KeyInsights:             c.insights(ctx, data, memories),
		AverageEmotionalValence: averageValence(memories),
		EntitiesMentioned:       entities(memories),
		SourceMemoryCount:       len(memories),
	}
	if err := c.brain.CreateSummary(s); err != nil {
		return nil, false, err
	}

	if c.embedder != nil {
		c.embedSummary(ctx, s)
	}

	ids := make([]int64, len(memories))
	for i, m := range memories {
		ids[i] = m.ID
	}
	n, err := c.brain.MarkConsolidated(ids, s.ID)
	if err != nil {
		return nil, false, fmt.Errorf("mark consolidated into summary %d: %w", s.ID, err)
	}

	slog.Info("period consolidated",
		"period", periodType,
		"start", data.Start,
		"end", data.End,
		"memories", n,
		"themes", s.Themes,
		"summary_id", s.ID,
	)
	return s, true, nil
}

// ArchiveOldMemories consolidates active memories older than daysOld with
// importance below 0.5, one weekly summary per ISO week. It returns how
// many memories were archived. Weeks that already had a summary add
// nothing.
func (c *Consolidator) ArchiveOldMemories(ctx context.Context, daysOld int) (int, error) {
	cutoff := c.now().AddDate(0, 0, -daysOld)
	candidates, err := c.brain.ArchiveCandidates(cutoff)
	if err != nil {
		return 0, err
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	type week struct {
		year, week int
	}
	groups := make(map[week][]brain.Memory)
	var order []week
	for _, m := range candidates {
		y, w := m.CreatedAt.UTC().ISOWeek()
		k := week{y, w}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], m)
	}

	archived := 0
	for _, k := range order {
		if ctx.Err() != nil {
			return archived, ctx.Err()
		}
		group := groups[k]
		monday := weekStart(group[0].CreatedAt)
		sunday := monday.AddDate(0, 0, 6)

		_, created, err := c.consolidate(ctx, monday, sunday, brain.PeriodWeekly)
		if err != nil {
			slog.Warn("weekly archive failed", "year", k.year, "week", k.week, "error", err)
			continue
		}
		if !created {
			continue
		}
		archived += len(group)
	}

	slog.Info("old memories archived", "candidates", len(candidates), "weeks", len(order), "archived", archived)
	return archived, nil
}

func (c *Consolidator) generate(ctx context.Context, id string, data prompts.ConsolidationData) (string, error) {
	if c.gen == nil {
		return "", fmt.Errorf("no generator configured")
	}
	prompt, err := c.catalog.Render(id, c.locale, data)
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	out, err := c.gen.Generate(ctx, prompt)
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", fmt.Errorf("empty generation")
	}
	return out, nil
}

func (c *Consolidator) themes(ctx context.Context, data prompts.ConsolidationData, memories []brain.Memory) []string {
	data.Lines = memoryLines(memories, false)
	out, err := c.generate(ctx, prompts.ConsolidateThemes, data)
	if err == nil {
		if themes := parseThemes(out); len(themes) > 0 {
			return themes
		}
		err = fmt.Errorf("no JSON array in %q", truncate(out, 80))
	}
	slog.Warn("theme extraction failed, using memory types", "error", err)
	return typeThemes(memories)
}

func (c *Consolidator) narrative(ctx context.Context, data prompts.ConsolidationData, memories []brain.Memory) string {
	data.Lines = memoryLines(chronological(memories), true)
	out, err := c.generate(ctx, prompts.ConsolidateSummary, data)
	if err == nil {
		return out
	}
	slog.Warn("summary generation failed, concatenating memories", "error", err)

	top := memories[:min(fallbackSummaryTop, len(memories))]
	parts := make([]string, len(top))
	for i, m := range top {
		parts[i] = m.Text()
	}
	return strings.Join(parts, " ")
}

func (c *Consolidator) insights(ctx context.Context, data prompts.ConsolidationData, memories []brain.Memory) *string {
	var important []brain.Memory
	for _, m := range memories {
		if m.Importance >= insightImportance || m.Type == brain.TypeLearned || m.Type == brain.TypeDecision {
			important = append(important, m)
		}
	}
	if len(important) == 0 {
		return nil
	}

	data.Lines = memoryLines(important, false)
	out, err := c.generate(ctx, prompts.ConsolidateInsights, data)
	if err != nil {
		slog.Warn("insight generation failed", "error", err)
		return nil
	}
	return &out
}

func (c *Consolidator) embedSummary(ctx context.Context, s *brain.Summary) {
	emb, err := c.embedder.Embed(ctx, s.Summary)
	if err != nil {
		slog.Warn("summary embedding failed", "summary_id", s.ID, "error", err)
		return
	}
	if err := c.brain.SetSummaryEmbedding(s.ID, emb.Vector, emb.Model); err != nil {
		slog.Warn("store summary embedding failed", "summary_id", s.ID, "error", err)
		return
	}
	s.Embedding = emb.Vector
	s.EmbeddingDimensions = len(emb.Vector)
	s.EmbeddingModel = emb.Model
}

// parseThemes extracts the first JSON string array from a model reply,
// tolerating prose or code fences around it.
func parseThemes(out string) []string {
	lo := strings.Index(out, "[")
	hi := strings.LastIndex(out, "]")
	if lo < 0 || hi <= lo {
		return nil
	}
	var raw []string
	if err := json.Unmarshal([]byte(out[lo:hi+1]), &raw); err != nil {
		return nil
	}
	var themes []string
	seen := make(map[string]bool)
	for _, t := range raw {
		t = strings.TrimSpace(t)
		if t == "" || seen[strings.ToLower(t)] {
			continue
		}
		seen[strings.ToLower(t)] = true
		themes = append(themes, t)
		if len(themes) == maxThemes {
			break
		}
	}
	return themes
}

func typeThemes(memories []brain.Memory) []string {
	var themes []string
	seen := make(map[brain.MemoryType]bool)
	for _, m := range memories {
		if !seen[m.Type] {
			seen[m.Type] = true
			themes = append(themes, string(m.Type))
		}
	}
	return themes
}

func averageValence(memories []brain.Memory) float64 {
	if len(memories) == 0 {
		return 0
	}
	var sum float64
	for _, m := range memories {
		sum += m.EmotionalValence
	}
	return sum / float64(len(memories))
}

func entities(memories []brain.Memory) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range memories {
		if m.RelatedEntity == "" || seen[m.RelatedEntity] {
			continue
		}
		seen[m.RelatedEntity] = true
		out = append(out, m.RelatedEntity)
	}
	return out
}

func chronological(memories []brain.Memory) []brain.Memory {
	out := make([]brain.Memory, len(memories))
	copy(out, memories)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func memoryLines(memories []brain.Memory, timestamped bool) []string {
	lines := make([]string, len(memories))
	for i, m := range memories {
		if timestamped {
			lines[i] = fmt.Sprintf("[%s] (%s) %s", m.CreatedAt.UTC().Format("2006-01-02 15:04"), m.Type, m.Text())
		} else {
			lines[i] = fmt.Sprintf("(%s) %s", m.Type, m.Text())
		}
	}
	return lines
}

func dayStart(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func weekStart(t time.Time) time.Time {
	day := dayStart(t)
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}
