// Package dream runs the entity's memory maintenance while it rests.
//
// Each cycle:
//   - decays old, rarely recalled, unimportant memories
//   - archives old low-importance memories into weekly summaries
//   - consolidates yesterday's memories into a daily summary
//
// Nothing is deleted: consolidated memories stay readable for audit but
// leave active retrieval. Every cycle is reported through the event
// callback and recorded as a thought.
package dream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hmennen90/open-entity-sub000/pkg/brain"
)

// EventFunc is a callback for publishing dream events.
// Parameters: event type, message.
type EventFunc func(typ, message string)

// Report holds the results of a single dream cycle.
type Report struct {
	CycleNumber int            `json:"cycle_number"`
	StartedAt   time.Time      `json:"started_at"`
	Duration    string         `json:"duration"`
	MemoryStats map[string]int `json:"memory_stats"`

	Decayed  int `json:"decayed"`
	Archived int `json:"archived"`

	// Daily consolidation of the previous day
	DailySummaryID *int64   `json:"daily_summary_id,omitempty"`
	DailyMemories  int      `json:"daily_memories"`
	DailyThemes    []string `json:"daily_themes,omitempty"`

	// Errors (non-fatal)
	Errors []string `json:"errors,omitempty"`
}

// Worker is the dream background worker.
type Worker struct {
	brain        *brain.Brain
	consolidator *Consolidator
	onEvent      EventFunc
	interval     time.Duration
	initialDelay time.Duration
	archiveDays  int
	daily        bool
	now          func() time.Time

	mu         sync.RWMutex
	lastReport *Report
	cycleCount int
}

// Config holds dream worker configuration.
type Config struct {
	Interval         time.Duration // how often to dream (default 6h)
	InitialDelay     time.Duration // wait before the first cycle (default 30s)
	ArchiveDays      int           // archive memories older than this (default 30)
	ConsolidateDaily bool          // summarize the previous day each cycle
}

// DefaultConfig returns sensible defaults for the dream worker.
func DefaultConfig() Config {
	return Config{
		Interval:         6 * time.Hour,
		InitialDelay:     30 * time.Second,
		ArchiveDays:      30,
		ConsolidateDaily: true,
	}
}

// NewWorker creates a new dream worker.
func NewWorker(b *brain.Brain, c *Consolidator, onEvent EventFunc, cfg Config) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = 6 * time.Hour
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 30 * time.Second
	}
	if cfg.ArchiveDays <= 0 {
		cfg.ArchiveDays = 30
	}

	return &Worker{
		brain:        b,
		consolidator: c,
		onEvent:      onEvent,
		interval:     cfg.Interval,
		initialDelay: cfg.InitialDelay,
		archiveDays:  cfg.ArchiveDays,
		daily:        cfg.ConsolidateDaily,
		now:          c.now,
	}
}

// Run starts the dream loop. Blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	slog.Info("dream worker started",
		"interval", w.interval,
		"archive_days", w.archiveDays,
		"daily", w.daily,
	)
	w.emit("status", "Dream worker started")

	// Let the embedding queue and the first think cycle settle.
	select {
	case <-ctx.Done():
		return
	case <-time.After(w.initialDelay):
	}

	if report := w.DreamOnce(ctx); report != nil {
		w.logReport(report)
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("dream worker stopping")
			w.emit("status", "Dream worker stopped")
			return
		case <-ticker.C:
			if report := w.DreamOnce(ctx); report != nil {
				w.logReport(report)
			}
		}
	}
}

// DreamOnce runs a single dream cycle. Returns the report.
func (w *Worker) DreamOnce(ctx context.Context) *Report {
	w.mu.Lock()
	w.cycleCount++
	cycle := w.cycleCount
	w.mu.Unlock()

	start := time.Now()
	w.emit("status", fmt.Sprintf("Dream cycle %d starting", cycle))

	report := &Report{
		CycleNumber: cycle,
		StartedAt:   start,
	}

	// 1. Memory stats
	report.MemoryStats = w.brain.MemoryStats()

	// 2. Importance decay
	w.decay(report)

	// 3. Weekly archive of old, unimportant memories
	w.archive(ctx, report)

	// 4. Yesterday's daily summary
	if w.daily {
		w.consolidateYesterday(ctx, report)
	}

	report.Duration = time.Since(start).Round(time.Millisecond).String()

	w.mu.Lock()
	w.lastReport = report
	w.mu.Unlock()

	return report
}

// LastReport returns the most recent dream report.
func (w *Worker) LastReport() *Report {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastReport
}

func (w *Worker) decay(report *Report) {
	n, err := w.brain.Decay()
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("decay: %v", err))
		slog.Warn("dream: decay failed", "error", err)
		return
	}
	report.Decayed = n
}

func (w *Worker) archive(ctx context.Context, report *Report) {
	n, err := w.consolidator.ArchiveOldMemories(ctx, w.archiveDays)
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("archive: %v", err))
		slog.Warn("dream: archive failed", "error", err)
	}
	report.Archived = n
	if n > 0 {
		w.emit("status", fmt.Sprintf("Dream: archived %d old memories", n))
	}
}

func (w *Worker) consolidateYesterday(ctx context.Context, report *Report) {
	yesterday := w.now().AddDate(0, 0, -1)
	s, err := w.consolidator.ConsolidatePeriod(ctx, yesterday, yesterday, brain.PeriodDaily)
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("daily consolidation: %v", err))
		slog.Warn("dream: daily consolidation failed", "error", err)
		return
	}
	if s == nil {
		return
	}
	report.DailySummaryID = &s.ID
	report.DailyMemories = s.SourceMemoryCount
	report.DailyThemes = s.Themes
}

// logReport logs the dream report summary and publishes events.
func (w *Worker) logReport(report *Report) {
	totalMemories := 0
	for _, count := range report.MemoryStats {
		totalMemories += count
	}

	summary := fmt.Sprintf(
		"Dream cycle %d complete (%s): %d memories, %d decayed, %d archived, %d consolidated into yesterday's summary",
		report.CycleNumber,
		report.Duration,
		totalMemories,
		report.Decayed,
		report.Archived,
		report.DailyMemories,
	)

	if len(report.Errors) > 0 {
		summary += fmt.Sprintf(", %d errors", len(report.Errors))
	}

	slog.Info("dream: cycle complete", "summary", summary)
	w.emit("dream", summary)

	if err := w.brain.SaveThought(&brain.Thought{Type: "dream", Content: summary, Intensity: 0.2}); err != nil {
		slog.Warn("dream: save thought failed", "error", err)
	}
}

// emit publishes an event if the callback is set.
func (w *Worker) emit(typ, message string) {
	if w.onEvent != nil {
		w.onEvent(typ, message)
	}
}

// truncate shortens a string to maxLen runes, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}
