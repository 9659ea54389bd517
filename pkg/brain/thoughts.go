package brain

import (
	"database/sql"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Thought is the outcome of one think cycle.
type Thought struct {
	ID         string
	Type       string // observation, reflection, plan, curiosity, decision
	Content    string
	Intensity  float64
	Tool       string
	ToolResult string
	CreatedAt  time.Time
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

func newID(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// SaveThought stores a thought, assigning its ID and timestamp.
func (b *Brain) SaveThought(t *Thought) error {
	now := time.Now().UTC()
	if t.ID == "" {
		t.ID = newID(now)
	}
	if t.Type == "" {
		t.Type = "observation"
	}
	t.CreatedAt = now.Truncate(time.Second)
	_, err := b.db.Exec(`INSERT INTO thoughts (id, type, content, intensity, tool, tool_result, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Type, t.Content, clamp(t.Intensity, 0, 1),
		nullString(t.Tool), nullString(t.ToolResult), formatTime(now))
	if err != nil {
		return fmt.Errorf("save thought: %w", err)
	}
	return nil
}

// RecentThoughts returns the newest thoughts first.
func (b *Brain) RecentThoughts(limit int) ([]Thought, error) {
	rows, err := b.db.Query(`SELECT id, type, content, intensity, tool, tool_result, created_at
		FROM thoughts ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent thoughts: %w", err)
	}
	defer rows.Close()

	var thoughts []Thought
	for rows.Next() {
		var t Thought
		var tool, result sql.NullString
		var createdAt string
		if err := rows.Scan(&t.ID, &t.Type, &t.Content, &t.Intensity, &tool, &result, &createdAt); err != nil {
			return nil, fmt.Errorf("scan thought: %w", err)
		}
		t.Tool = tool.String
		t.ToolResult = result.String
		t.CreatedAt = parseTime(createdAt)
		thoughts = append(thoughts, t)
	}
	return thoughts, rows.Err()
}
