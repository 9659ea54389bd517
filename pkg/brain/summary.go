package brain

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hmennen90/open-entity-sub000/pkg/embeddings"
)

// PeriodType is the granularity of a memory summary.
type PeriodType string

const (
	PeriodDaily   PeriodType = "daily"
	PeriodWeekly  PeriodType = "weekly"
	PeriodMonthly PeriodType = "monthly"
)

// Summary is a synthesis of the memories of one period. At most one
// summary exists per (PeriodType, PeriodStart, PeriodEnd).
type Summary struct {
	ID                      int64
	PeriodType              PeriodType
	PeriodStart             time.Time // date only
	PeriodEnd               time.Time // date only, inclusive
	Summary                 string
	KeyInsights             *string
	Themes                  []string
	EntitiesMentioned       []string
	AverageEmotionalValence float64
	SourceMemoryCount       int
	Embedding               embeddings.Vector
	EmbeddingDimensions     int
	EmbeddingModel          string
	CreatedAt               time.Time
}

const summaryColumns = `id, period_type, period_start, period_end, summary, key_insights,
	themes, entities_mentioned, average_emotional_valence, source_memory_count,
	embedding, embedding_dimensions, embedding_model, created_at`

func scanSummary(r rowScanner) (Summary, error) {
	var s Summary
	var start, end, themes, entities, createdAt string
	var insights, model sql.NullString
	var blob []byte
	var dims sql.NullInt64
	err := r.Scan(&s.ID, &s.PeriodType, &start, &end, &s.Summary, &insights,
		&themes, &entities, &s.AverageEmotionalValence, &s.SourceMemoryCount,
		&blob, &dims, &model, &createdAt)
	if err != nil {
		return s, err
	}
	s.PeriodStart = parseTime(start)
	s.PeriodEnd = parseTime(end)
	s.CreatedAt = parseTime(createdAt)
	s.EmbeddingModel = model.String
	s.EmbeddingDimensions = int(dims.Int64)
	if insights.Valid {
		v := insights.String
		s.KeyInsights = &v
	}
	if err := json.Unmarshal([]byte(themes), &s.Themes); err != nil {
		return s, fmt.Errorf("decode themes: %w", err)
	}
	if err := json.Unmarshal([]byte(entities), &s.EntitiesMentioned); err != nil {
		return s, fmt.Errorf("decode entities: %w", err)
	}
	if len(blob) > 0 {
		if vec, err := embeddings.Decode(blob); err == nil {
			s.Embedding = vec
		}
	}
	return s, nil
}

// FindSummary returns the summary for an exact period key.
func (b *Brain) FindSummary(periodType PeriodType, start, end time.Time) (*Summary, error) {
	row := b.db.QueryRow(`SELECT `+summaryColumns+` FROM memory_summaries
		WHERE period_type = ? AND period_start = ? AND period_end = ?`,
		string(periodType), start.Format(dateLayout), end.Format(dateLayout))
	s, err := scanSummary(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%s summary %s..%s: %w", periodType,
			start.Format(dateLayout), end.Format(dateLayout), ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find summary: %w", err)
	}
	return &s, nil
}

// GetSummary returns a summary by id.
func (b *Brain) GetSummary(id int64) (*Summary, error) {
	row := b.db.QueryRow(`SELECT `+summaryColumns+` FROM memory_summaries WHERE id = ?`, id)
	s, err := scanSummary(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("summary %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get summary %d: %w", id, err)
	}
	return &s, nil
}

// CreateSummary persists s and sets its ID and CreatedAt.
func (b *Brain) CreateSummary(s *Summary) error {
	themes := s.Themes
	if themes == nil {
		themes = []string{}
	}
	entities := s.EntitiesMentioned
	if entities == nil {
		entities = []string{}
	}
	themesJSON, _ := json.Marshal(themes)
	entitiesJSON, _ := json.Marshal(entities)

	var insights sql.NullString
	if s.KeyInsights != nil {
		insights = sql.NullString{String: *s.KeyInsights, Valid: true}
	}

	now := time.Now().UTC()
	res, err := b.db.Exec(`INSERT INTO memory_summaries
		(period_type, period_start, period_end, summary, key_insights, themes,
		 entities_mentioned, average_emotional_valence, source_memory_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(s.PeriodType), s.PeriodStart.Format(dateLayout), s.PeriodEnd.Format(dateLayout),
		s.Summary, insights, string(themesJSON), string(entitiesJSON),
		s.AverageEmotionalValence, s.SourceMemoryCount, formatTime(now))
	if err != nil {
		return fmt.Errorf("create summary: %w", err)
	}
	s.ID, _ = res.LastInsertId()
	s.CreatedAt = now.Truncate(time.Second)
	return nil
}

// SetSummaryEmbedding stores the embedding of a summary's text.
func (b *Brain) SetSummaryEmbedding(id int64, vec embeddings.Vector, model string) error {
	res, err := b.db.Exec(`UPDATE memory_summaries
		SET embedding = ?, embedding_dimensions = ?, embedding_model = ?
		WHERE id = ?`, embeddings.Encode(vec), len(vec), model, id)
	if err != nil {
		return fmt.Errorf("set summary embedding %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("set summary embedding %d: %w", id, ErrNotFound)
	}
	return nil
}

// RecentSummaries returns the summaries covering the latest periods.
func (b *Brain) RecentSummaries(limit int) ([]Summary, error) {
	rows, err := b.db.Query(`SELECT `+summaryColumns+` FROM memory_summaries
		ORDER BY period_end DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent summaries: %w", err)
	}
	defer rows.Close()

	var summaries []Summary
	for rows.Next() {
		s, err := scanSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}
