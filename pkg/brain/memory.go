package brain

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hmennen90/open-entity-sub000/pkg/embeddings"
)

// MemoryType classifies what produced a memory.
type MemoryType string

const (
	TypeExperience   MemoryType = "experience"
	TypeConversation MemoryType = "conversation"
	TypeLearned      MemoryType = "learned"
	TypeDecision     MemoryType = "decision"
	TypeSocial       MemoryType = "social"
	TypeReflection   MemoryType = "reflection"
	TypeAchievement  MemoryType = "achievement"
)

// Layer is the memory layer a memory belongs to.
type Layer string

const (
	LayerEpisodic   Layer = "episodic"
	LayerSemantic   Layer = "semantic"
	LayerProcedural Layer = "procedural"
)

// Status is the lifecycle tag of a memory. Consolidated memories stay
// readable but never take part in retrieval or context assembly.
type Status string

const (
	StatusActive       Status = "active"
	StatusConsolidated Status = "consolidated"
)

// Decay parameters.
const (
	decayBelowImportance = 0.3
	decayMinAge          = 30 * 24 * time.Hour
	decayMaxRecalls      = 3
	decayStep            = 0.1
	decayFloor           = 0.1
)

// Recall reinforcement parameters.
const (
	reinforceAfterRecalls = 5
	reinforceStep         = 0.05
	reinforceCap          = 0.9
)

// Memory is an atomic unit of experience.
type Memory struct {
	ID                  int64
	Type                MemoryType
	Layer               Layer
	Content             string
	Summary             string
	Importance          float64
	EmotionalValence    float64
	Context             map[string]any
	RelatedEntity       string
	Embedding           embeddings.Vector
	EmbeddingDimensions int
	EmbeddingModel      string
	EmbeddedAt          *time.Time
	RecalledCount       int
	LastRecalledAt      *time.Time
	Status              Status
	ConsolidatedIntoID  *int64
	ConsolidatedAt      *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Consolidated reports whether the memory has been folded into a summary.
func (m Memory) Consolidated() bool { return m.Status == StatusConsolidated }

// Embedded reports whether the memory carries a usable embedding.
func (m Memory) Embedded() bool { return m.EmbeddedAt != nil && len(m.Embedding) > 0 }

// Vector returns the memory embedding; used as a similarity extractor.
func (m Memory) Vector() embeddings.Vector { return m.Embedding }

// Text returns the summary when present, else the content.
func (m Memory) Text() string {
	if m.Summary != "" {
		return m.Summary
	}
	return m.Content
}

// CreateParams holds the fields accepted when creating a memory.
// Zero values take the defaults: type experience, layer episodic,
// importance 0.5, valence 0.
type CreateParams struct {
	Type             MemoryType
	Layer            Layer
	Content          string
	Summary          string
	Importance       *float64
	EmotionalValence float64
	Context          map[string]any
	RelatedEntity    string
	CreatedAt        time.Time
}

// Float returns a pointer to v, for optional numeric params.
func Float(v float64) *float64 { return &v }

const memoryColumns = `id, type, layer, content, summary, importance, emotional_valence,
	context, related_entity, embedding, embedding_dimensions, embedding_model, embedded_at,
	recalled_count, last_recalled_at, status, consolidated_into_id, consolidated_at,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(r rowScanner) (Memory, error) {
	var m Memory
	var summary, ctxJSON, related, model, embeddedAt, lastRecalled, consolidatedAt sql.NullString
	var createdAt, updatedAt string
	var blob []byte
	var dims, consolidatedInto sql.NullInt64
	err := r.Scan(
		&m.ID, &m.Type, &m.Layer, &m.Content, &summary, &m.Importance, &m.EmotionalValence,
		&ctxJSON, &related, &blob, &dims, &model, &embeddedAt,
		&m.RecalledCount, &lastRecalled, &m.Status, &consolidatedInto, &consolidatedAt,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return m, err
	}
	m.Summary = summary.String
	m.RelatedEntity = related.String
	m.EmbeddingModel = model.String
	m.EmbeddingDimensions = int(dims.Int64)
	m.EmbeddedAt = parseNullTime(embeddedAt)
	m.LastRecalledAt = parseNullTime(lastRecalled)
	m.ConsolidatedAt = parseNullTime(consolidatedAt)
	m.CreatedAt = parseTime(createdAt)
	m.UpdatedAt = parseTime(updatedAt)
	if consolidatedInto.Valid {
		id := consolidatedInto.Int64
		m.ConsolidatedIntoID = &id
	}
	if ctxJSON.Valid && ctxJSON.String != "" {
		if err := json.Unmarshal([]byte(ctxJSON.String), &m.Context); err != nil {
			slog.Debug("memory context not JSON", "id", m.ID, "error", err)
		}
	}
	if len(blob) > 0 {
		vec, err := embeddings.Decode(blob)
		if err != nil {
			slog.Warn("memory embedding undecodable", "id", m.ID, "error", err)
		} else {
			m.Embedding = vec
		}
	}
	return m, nil
}

func (b *Brain) queryMemories(query string, args ...any) ([]Memory, error) {
	rows, err := b.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var memories []Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		memories = append(memories, m)
	}
	return memories, rows.Err()
}

// --- Memory Operations ---

// Create stores a new memory. This is the primary write operation.
func (b *Brain) Create(p CreateParams) (*Memory, error) {
	if strings.TrimSpace(p.Content) == "" {
		return nil, fmt.Errorf("create memory: content is empty")
	}
	if p.Type == "" {
		p.Type = TypeExperience
	}
	if p.Layer == "" {
		p.Layer = LayerEpisodic
	}
	importance := 0.5
	if p.Importance != nil {
		importance = clamp(*p.Importance, 0, 1)
	}
	valence := clamp(p.EmotionalValence, -1, 1)

	var ctxJSON sql.NullString
	if len(p.Context) > 0 {
		data, err := json.Marshal(p.Context)
		if err != nil {
			return nil, fmt.Errorf("encode memory context: %w", err)
		}
		ctxJSON = sql.NullString{String: string(data), Valid: true}
	}

	created := p.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	createdAt := formatTime(created)
	now := formatTime(time.Now())

	result, err := b.db.Exec(
		`INSERT INTO memories (type, layer, content, summary, importance, emotional_valence,
			context, related_entity, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'active', ?, ?)`,
		string(p.Type), string(p.Layer), p.Content, nullString(p.Summary), importance, valence,
		ctxJSON, nullString(p.RelatedEntity), createdAt, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create memory: %w", err)
	}

	id, _ := result.LastInsertId()
	slog.Debug("memory created", "id", id, "type", p.Type, "layer", p.Layer, "importance", importance)
	return b.Get(id)
}

// Get returns a memory by id regardless of lifecycle status.
func (b *Brain) Get(id int64) (*Memory, error) {
	row := b.db.QueryRow(`SELECT `+memoryColumns+` FROM memories WHERE id = ?`, id)
	m, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("memory %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get memory %d: %w", id, err)
	}
	return &m, nil
}

// Recent returns the newest active memories.
func (b *Brain) Recent(limit int) ([]Memory, error) {
	memories, err := b.queryMemories(`SELECT `+memoryColumns+` FROM memories
		WHERE status = 'active'
		ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent memories: %w", err)
	}
	return memories, nil
}

// ByType returns the newest active memories of one type.
func (b *Brain) ByType(typ MemoryType, limit int) ([]Memory, error) {
	memories, err := b.queryMemories(`SELECT `+memoryColumns+` FROM memories
		WHERE status = 'active' AND type = ?
		ORDER BY created_at DESC, id DESC LIMIT ?`, string(typ), limit)
	if err != nil {
		return nil, fmt.Errorf("memories by type %s: %w", typ, err)
	}
	return memories, nil
}

// Important returns active memories with importance >= minImportance,
// most important first.
func (b *Brain) Important(minImportance float64, limit int) ([]Memory, error) {
	memories, err := b.queryMemories(`SELECT `+memoryColumns+` FROM memories
		WHERE status = 'active' AND importance >= ?
		ORDER BY importance DESC, created_at DESC, id DESC LIMIT ?`, minImportance, limit)
	if err != nil {
		return nil, fmt.Errorf("important memories: %w", err)
	}
	return memories, nil
}

// Search does a case-insensitive substring match over content and summary
// of active memories, most important first.
func (b *Brain) Search(query string, limit int) ([]Memory, error) {
	pattern := "%" + escapeLike(strings.TrimSpace(query)) + "%"
	memories, err := b.queryMemories(`SELECT `+memoryColumns+` FROM memories
		WHERE status = 'active'
		  AND (content LIKE ? ESCAPE '\' OR summary LIKE ? ESCAPE '\')
		ORDER BY importance DESC, created_at DESC, id DESC LIMIT ?`, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("search memories: %w", err)
	}
	return memories, nil
}

// Recall records one retrieval of a memory. Once a memory has been
// recalled more than five times each further recall raises its importance
// by 0.05, up to 0.9.
func (b *Brain) Recall(id int64) (*Memory, error) {
	now := formatTime(time.Now())
	res, err := b.db.Exec(`
		UPDATE memories SET
			recalled_count = recalled_count + 1,
			last_recalled_at = ?,
			importance = CASE
				WHEN recalled_count + 1 > ? AND importance < ? THEN MIN(?, importance + ?)
				ELSE importance
			END,
			updated_at = ?
		WHERE id = ?
	`, now, reinforceAfterRecalls, reinforceCap, reinforceCap, reinforceStep, now, id)
	if err != nil {
		return nil, fmt.Errorf("recall memory %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("recall memory %d: %w", id, ErrNotFound)
	}
	return b.Get(id)
}

// Decay lowers the importance of old, rarely recalled, unimportant
// memories by 0.1 down to a floor of 0.1. Returns the number affected.
func (b *Brain) Decay() (int, error) {
	now := time.Now()
	cutoff := formatTime(now.Add(-decayMinAge))
	res, err := b.db.Exec(`
		UPDATE memories SET
			importance = MAX(?, importance - ?),
			updated_at = ?
		WHERE importance < ? AND created_at < ? AND recalled_count < ?
	`, decayFloor, decayStep, formatTime(now), decayBelowImportance, cutoff, decayMaxRecalls)
	if err != nil {
		return 0, fmt.Errorf("decay memories: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		slog.Info("memories decayed", "count", n)
	}
	return int(n), nil
}

// ActiveByLayer returns active memories in a layer, most important first.
func (b *Brain) ActiveByLayer(layer Layer, limit int) ([]Memory, error) {
	memories, err := b.queryMemories(`SELECT `+memoryColumns+` FROM memories
		WHERE status = 'active' AND layer = ?
		ORDER BY importance DESC, created_at DESC, id DESC LIMIT ?`, string(layer), limit)
	if err != nil {
		return nil, fmt.Errorf("memories in layer %s: %w", layer, err)
	}
	return memories, nil
}

// EmbeddedCandidates returns active memories that carry an embedding.
// A non-positive limit returns all of them.
func (b *Brain) EmbeddedCandidates(limit int) ([]Memory, error) {
	if limit <= 0 {
		limit = -1
	}
	memories, err := b.queryMemories(`SELECT `+memoryColumns+` FROM memories
		WHERE status = 'active' AND embedding IS NOT NULL AND embedded_at IS NOT NULL
		ORDER BY id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("embedded memories: %w", err)
	}
	return memories, nil
}

// Unembedded returns active memories still waiting for an embedding, oldest first.
func (b *Brain) Unembedded(limit int) ([]Memory, error) {
	memories, err := b.queryMemories(`SELECT `+memoryColumns+` FROM memories
		WHERE status = 'active' AND embedded_at IS NULL
		ORDER BY id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("unembedded memories: %w", err)
	}
	return memories, nil
}

// SetEmbedding stores a memory's embedding and marks it embedded.
func (b *Brain) SetEmbedding(id int64, vec embeddings.Vector, model string) error {
	if len(vec) == 0 {
		return fmt.Errorf("set embedding %d: empty vector", id)
	}
	now := formatTime(time.Now())
	res, err := b.db.Exec(`
		UPDATE memories SET embedding = ?, embedding_dimensions = ?, embedding_model = ?,
			embedded_at = ?, updated_at = ?
		WHERE id = ?
	`, embeddings.Encode(vec), len(vec), model, now, now, id)
	if err != nil {
		return fmt.Errorf("set embedding %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("set embedding %d: %w", id, ErrNotFound)
	}
	return nil
}

// InRange returns active memories created in [start, end), most important first.
func (b *Brain) InRange(start, end time.Time) ([]Memory, error) {
	memories, err := b.queryMemories(`SELECT `+memoryColumns+` FROM memories
		WHERE status = 'active' AND created_at >= ? AND created_at < ?
		ORDER BY importance DESC, created_at ASC, id ASC`, formatTime(start), formatTime(end))
	if err != nil {
		return nil, fmt.Errorf("memories in range: %w", err)
	}
	return memories, nil
}

// ArchiveCandidates returns active memories created before cutoff with
// importance below 0.5, oldest first.
func (b *Brain) ArchiveCandidates(cutoff time.Time) ([]Memory, error) {
	memories, err := b.queryMemories(`SELECT `+memoryColumns+` FROM memories
		WHERE status = 'active' AND created_at < ? AND importance < 0.5
		ORDER BY created_at ASC, id ASC`, formatTime(cutoff))
	if err != nil {
		return nil, fmt.Errorf("archive candidates: %w", err)
	}
	return memories, nil
}

// MarkConsolidated folds the given memories into a summary in one
// transaction. Only active memories change. Returns the number updated.
func (b *Brain) MarkConsolidated(ids []int64, summaryID int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	now := formatTime(time.Now())

	tx, err := b.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin consolidate tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`UPDATE memories
		SET status = 'consolidated', consolidated_into_id = ?, consolidated_at = ?, updated_at = ?
		WHERE id = ? AND status = 'active'`)
	if err != nil {
		return 0, fmt.Errorf("prepare consolidate stmt: %w", err)
	}
	defer stmt.Close()

	updated := 0
	for _, id := range ids {
		res, err := stmt.Exec(summaryID, now, now, id)
		if err != nil {
			return 0, fmt.Errorf("consolidate memory %d: %w", id, err)
		}
		n, _ := res.RowsAffected()
		updated += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit consolidate tx: %w", err)
	}
	return updated, nil
}

// MemoriesInSummary returns the source memories folded into a summary.
func (b *Brain) MemoriesInSummary(summaryID int64) ([]Memory, error) {
	memories, err := b.queryMemories(`SELECT `+memoryColumns+` FROM memories
		WHERE consolidated_into_id = ?
		ORDER BY created_at ASC, id ASC`, summaryID)
	if err != nil {
		return nil, fmt.Errorf("memories in summary %d: %w", summaryID, err)
	}
	return memories, nil
}

// GetMemoriesByIDs fetches active memories for a list of IDs.
// Returns memories in the order they were found (not necessarily input order).
func (b *Brain) GetMemoriesByIDs(ids []int64) ([]Memory, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := fmt.Sprintf(`SELECT `+memoryColumns+` FROM memories
		WHERE id IN (%s) AND status = 'active'`, placeholders(len(ids)))
	memories, err := b.queryMemories(query, args...)
	if err != nil {
		return nil, fmt.Errorf("get memories by ids: %w", err)
	}
	return memories, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
