package brain

import (
	"database/sql"
	"fmt"
	"time"
)

// Goal status values.
const (
	GoalActive    = "active"
	GoalCompleted = "completed"
	GoalAbandoned = "abandoned"
)

// Goal is something the entity is working towards.
type Goal struct {
	ID          int64
	Title       string
	Description string
	Priority    string // low, medium, high
	Progress    int    // 0-100
	Status      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

const goalColumns = `id, title, description, priority, progress, status, created_at, updated_at, completed_at`

func scanGoal(r rowScanner) (Goal, error) {
	var g Goal
	var desc, completedAt sql.NullString
	var createdAt, updatedAt string
	if err := r.Scan(&g.ID, &g.Title, &desc, &g.Priority, &g.Progress, &g.Status,
		&createdAt, &updatedAt, &completedAt); err != nil {
		return g, err
	}
	g.Description = desc.String
	g.CreatedAt = parseTime(createdAt)
	g.UpdatedAt = parseTime(updatedAt)
	g.CompletedAt = parseNullTime(completedAt)
	return g, nil
}

// CreateGoal stores a new active goal.
func (b *Brain) CreateGoal(title, description, priority string) (*Goal, error) {
	if title == "" {
		return nil, fmt.Errorf("create goal: title is empty")
	}
	if priority == "" {
		priority = "medium"
	}
	now := formatTime(time.Now())
	res, err := b.db.Exec(`INSERT INTO goals (title, description, priority, progress, status, created_at, updated_at)
		VALUES (?, ?, ?, 0, 'active', ?, ?)`, title, nullString(description), priority, now, now)
	if err != nil {
		return nil, fmt.Errorf("create goal: %w", err)
	}
	id, _ := res.LastInsertId()
	return b.GetGoal(id)
}

// GetGoal returns a goal by id.
func (b *Brain) GetGoal(id int64) (*Goal, error) {
	g, err := scanGoal(b.db.QueryRow(`SELECT `+goalColumns+` FROM goals WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("goal %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get goal %d: %w", id, err)
	}
	return &g, nil
}

// Goals returns goals with the given status (all when empty), highest
// priority first.
func (b *Brain) Goals(status string) ([]Goal, error) {
	rows, err := b.db.Query(`SELECT `+goalColumns+` FROM goals
		WHERE (? = '' OR status = ?)
		ORDER BY CASE priority WHEN 'high' THEN 0 WHEN 'medium' THEN 1 ELSE 2 END, id`, status, status)
	if err != nil {
		return nil, fmt.Errorf("list goals: %w", err)
	}
	defer rows.Close()

	var goals []Goal
	for rows.Next() {
		g, err := scanGoal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan goal: %w", err)
		}
		goals = append(goals, g)
	}
	return goals, rows.Err()
}

// UpdateGoalProgress sets a goal's progress (clamped to 0..100) and
// completes it at 100. Returns the goal before and after the update.
func (b *Brain) UpdateGoalProgress(id int64, progress int) (before, after *Goal, err error) {
	before, err = b.GetGoal(id)
	if err != nil {
		return nil, nil, err
	}
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}

	now := formatTime(time.Now())
	status := before.Status
	var completedAt sql.NullString
	if before.CompletedAt != nil {
		completedAt = sql.NullString{String: formatTime(*before.CompletedAt), Valid: true}
	}
	if progress == 100 && before.Status != GoalCompleted {
		status = GoalCompleted
		completedAt = sql.NullString{String: now, Valid: true}
	}

	if _, err := b.db.Exec(`UPDATE goals SET progress = ?, status = ?, completed_at = ?, updated_at = ?
		WHERE id = ?`, progress, status, completedAt, now, id); err != nil {
		return nil, nil, fmt.Errorf("update goal %d: %w", id, err)
	}
	after, err = b.GetGoal(id)
	return before, after, err
}
