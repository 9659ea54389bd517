// Package brain is the entity's durable memory.
//
// It owns the SQLite database (state.db) holding atomic memories, period
// summaries produced by consolidation, thoughts, goals and a small
// key-value store used for personality and other identity data.
package brain

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const (
	timeLayout = "2006-01-02 15:04:05"
	dateLayout = "2006-01-02"
)

// ErrNotFound is returned when a requested memory, summary or goal does not exist.
var ErrNotFound = errors.New("not found")

// Brain provides access to the entity's persistent memory and knowledge.
type Brain struct {
	db   *sql.DB
	path string // root brain directory
}

// Stats holds brain statistics.
type Stats struct {
	Memories     int
	Consolidated int
	Embedded     int
	Summaries    int
	Thoughts     int
	Goals        int
	KVEntries    int
}

// Open opens the brain at the given directory, creating state.db and the
// schema if needed.
func Open(path string) (*Brain, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create brain dir: %w", err)
	}
	dbPath := filepath.Join(path, "state.db")

	// Open with WAL mode for concurrent reads, foreign keys enabled
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open brain db: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping brain db: %w", err)
	}

	b := &Brain{db: db, path: path}
	if err := b.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate brain db: %w", err)
	}

	stats := b.Stats()
	slog.Info("brain opened",
		"path", path,
		"memories", stats.Memories,
		"summaries", stats.Summaries,
		"goals", stats.Goals,
	)

	return b, nil
}

func (b *Brain) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS memory_summaries (
		id                        INTEGER PRIMARY KEY AUTOINCREMENT,
		period_type               TEXT NOT NULL,
		period_start              TEXT NOT NULL,
		period_end                TEXT NOT NULL,
		summary                   TEXT NOT NULL,
		key_insights              TEXT,
		themes                    TEXT NOT NULL DEFAULT '[]',
		entities_mentioned        TEXT NOT NULL DEFAULT '[]',
		average_emotional_valence REAL NOT NULL DEFAULT 0,
		source_memory_count       INTEGER NOT NULL DEFAULT 0,
		embedding                 BLOB,
		embedding_dimensions      INTEGER,
		embedding_model           TEXT,
		created_at                TEXT NOT NULL,
		UNIQUE (period_type, period_start, period_end)
	);

	CREATE TABLE IF NOT EXISTS memories (
		id                   INTEGER PRIMARY KEY AUTOINCREMENT,
		type                 TEXT NOT NULL DEFAULT 'experience',
		layer                TEXT NOT NULL DEFAULT 'episodic',
		content              TEXT NOT NULL,
		summary              TEXT,
		importance           REAL NOT NULL DEFAULT 0.5,
		emotional_valence    REAL NOT NULL DEFAULT 0,
		context              TEXT,
		related_entity       TEXT,
		embedding            BLOB,
		embedding_dimensions INTEGER,
		embedding_model      TEXT,
		embedded_at          TEXT,
		recalled_count       INTEGER NOT NULL DEFAULT 0,
		last_recalled_at     TEXT,
		status               TEXT NOT NULL DEFAULT 'active',
		consolidated_into_id INTEGER REFERENCES memory_summaries(id),
		consolidated_at      TEXT,
		created_at           TEXT NOT NULL,
		updated_at           TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_memories_status_created ON memories(status, created_at);
	CREATE INDEX IF NOT EXISTS idx_memories_status_importance ON memories(status, importance);
	CREATE INDEX IF NOT EXISTS idx_memories_layer ON memories(layer, status);

	CREATE TABLE IF NOT EXISTS kv (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS thoughts (
		id          TEXT PRIMARY KEY,
		type        TEXT NOT NULL,
		content     TEXT NOT NULL,
		intensity   REAL NOT NULL DEFAULT 0,
		tool        TEXT,
		tool_result TEXT,
		created_at  TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_thoughts_created ON thoughts(created_at);

	CREATE TABLE IF NOT EXISTS goals (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		title        TEXT NOT NULL,
		description  TEXT,
		priority     TEXT NOT NULL DEFAULT 'medium',
		progress     INTEGER NOT NULL DEFAULT 0,
		status       TEXT NOT NULL DEFAULT 'active',
		created_at   TEXT NOT NULL,
		updated_at   TEXT NOT NULL,
		completed_at TEXT
	);
	`
	_, err := b.db.Exec(schema)
	return err
}

// Close closes the brain database.
func (b *Brain) Close() error {
	return b.db.Close()
}

// Path returns the brain root directory.
func (b *Brain) Path() string {
	return b.path
}

// Stats returns counts for all brain tables.
func (b *Brain) Stats() Stats {
	var s Stats
	b.db.QueryRow("SELECT COUNT(*) FROM memories WHERE status = 'active'").Scan(&s.Memories)
	b.db.QueryRow("SELECT COUNT(*) FROM memories WHERE status = 'consolidated'").Scan(&s.Consolidated)
	b.db.QueryRow("SELECT COUNT(*) FROM memories WHERE embedded_at IS NOT NULL").Scan(&s.Embedded)
	b.db.QueryRow("SELECT COUNT(*) FROM memory_summaries").Scan(&s.Summaries)
	b.db.QueryRow("SELECT COUNT(*) FROM thoughts").Scan(&s.Thoughts)
	b.db.QueryRow("SELECT COUNT(*) FROM goals").Scan(&s.Goals)
	b.db.QueryRow("SELECT COUNT(*) FROM kv").Scan(&s.KVEntries)
	return s
}

// MemoryStats returns active memory counts by type for the dream report.
func (b *Brain) MemoryStats() map[string]int {
	stats := make(map[string]int)
	rows, err := b.db.Query(`
		SELECT type, COUNT(*) FROM memories
		WHERE status = 'active'
		GROUP BY type
	`)
	if err != nil {
		return stats
	}
	defer rows.Close()
	for rows.Next() {
		var typ string
		var count int
		if err := rows.Scan(&typ, &count); err == nil {
			stats[typ] = count
		}
	}
	return stats
}

// --- KV Operations ---

// KVGet retrieves a value from the key-value store. Missing keys return "".
func (b *Brain) KVGet(key string) (string, error) {
	var value string
	err := b.db.QueryRow("SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// KVSet stores a value in the key-value store.
func (b *Brain) KVSet(key, value string) error {
	now := formatTime(time.Now())
	_, err := b.db.Exec(
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now,
	)
	return err
}

// --- Helpers ---

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// parseTime parses a datetime string from SQLite, handling multiple formats.
func parseTime(s string) time.Time {
	formats := []string{
		timeLayout,
		time.RFC3339,
		"2006-01-02T15:04:05",
		dateLayout,
	}
	for _, f := range formats {
		if t, err := time.Parse(f, s); err == nil {
			return t
		}
	}
	return time.Time{} // zero value if unparseable
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

// placeholders returns "?,?,?" for n arguments.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
