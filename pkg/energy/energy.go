// Package energy models the entity's fatigue and recovery.
//
// Energy is a single level in [0,1]. It drains with wall-clock time while
// awake, is spent by thinking, tool use and conversation, is regained by
// goal progress, pleasant interactions and recall, and recovers during
// sleep. The state is one JSON document in the shared TTL cache.
package energy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/hmennen90/open-entity-sub000/pkg/cache"
)

// State is the named band of an energy level.
type State string

const (
	Energized State = "energized"
	Alert     State = "alert"
	Normal    State = "normal"
	Tired     State = "tired"
	Exhausted State = "exhausted"
	Depleted  State = "depleted"
)

// StateOf maps a level to its band.
func StateOf(level float64) State {
	switch {
	case level >= 0.9:
		return Energized
	case level >= 0.7:
		return Alert
	case level >= 0.5:
		return Normal
	case level >= 0.3:
		return Tired
	case level >= 0.15:
		return Exhausted
	default:
		return Depleted
	}
}

// Config holds rates and thresholds. Zero fields take the defaults.
type Config struct {
	Initial            float64       // level of a fresh entity (0.8)
	FatiguePerHour     float64       // 0.04
	MinFatigueInterval time.Duration // 3m
	ToolCost           float64       // 0.02
	ThinkBaseCost      float64       // 0.005
	ThinkIntensityCost float64       // 0.01 per unit of intensity
	ConversationCost   float64       // 0.01
	GoalProgressGain   float64       // 0.03 per 10 points
	GoalCompletionGain float64       // 0.15
	InteractionGain    float64       // 0.02
	RecallGain         float64       // 0.005
	RecoveryPerHour    float64       // 0.15
	MinWakeLevel       float64       // 0.5
	DefaultWakeLevel   float64       // 0.7
	LogSize            int           // 100
}

// DefaultConfig returns the standard rates.
func DefaultConfig() Config {
	return Config{
		Initial:            0.8,
		FatiguePerHour:     0.04,
		MinFatigueInterval: 3 * time.Minute,
		ToolCost:           0.02,
		ThinkBaseCost:      0.005,
		ThinkIntensityCost: 0.01,
		ConversationCost:   0.01,
		GoalProgressGain:   0.03,
		GoalCompletionGain: 0.15,
		InteractionGain:    0.02,
		RecallGain:         0.005,
		RecoveryPerHour:    0.15,
		MinWakeLevel:       0.5,
		DefaultWakeLevel:   0.7,
		LogSize:            100,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	fill := func(v *float64, def float64) {
		if *v <= 0 {
			*v = def
		}
	}
	fill(&c.Initial, d.Initial)
	fill(&c.FatiguePerHour, d.FatiguePerHour)
	fill(&c.ToolCost, d.ToolCost)
	fill(&c.ThinkBaseCost, d.ThinkBaseCost)
	fill(&c.ThinkIntensityCost, d.ThinkIntensityCost)
	fill(&c.ConversationCost, d.ConversationCost)
	fill(&c.GoalProgressGain, d.GoalProgressGain)
	fill(&c.GoalCompletionGain, d.GoalCompletionGain)
	fill(&c.InteractionGain, d.InteractionGain)
	fill(&c.RecallGain, d.RecallGain)
	fill(&c.RecoveryPerHour, d.RecoveryPerHour)
	fill(&c.MinWakeLevel, d.MinWakeLevel)
	fill(&c.DefaultWakeLevel, d.DefaultWakeLevel)
	if c.MinFatigueInterval <= 0 {
		c.MinFatigueInterval = d.MinFatigueInterval
	}
	if c.LogSize <= 0 {
		c.LogSize = d.LogSize
	}
	return c
}

// Sleep advice thresholds.
const (
	sleepBelow      = 0.15
	tiredSleepBelow = 0.4
	maxHoursAwake   = 18
	logThreshold    = 0.01
)

// LogEntry records one noticeable change of level.
type LogEntry struct {
	At     time.Time `json:"at"`
	Delta  float64   `json:"delta"`
	Reason string    `json:"reason"`
	From   float64   `json:"from"`
	To     float64   `json:"to"`
}

type snapshot struct {
	Level      float64    `json:"level"`
	LastUpdate time.Time  `json:"last_update_at"`
	SleepStart *time.Time `json:"sleep_start_at,omitempty"`
	WakeTime   *time.Time `json:"wake_time_at,omitempty"`
	Log        []LogEntry `json:"log"`
}

// Status is a read-only view of the energy state.
type Status struct {
	Level       float64    `json:"level"`
	State       State      `json:"state"`
	Asleep      bool       `json:"asleep"`
	SleepStart  *time.Time `json:"sleep_start_at,omitempty"`
	WakeTime    *time.Time `json:"wake_time_at,omitempty"`
	HoursAwake  float64    `json:"hours_awake"`
	ShouldSleep bool       `json:"should_sleep"`
}

// Store owns the process-wide energy state. Concurrent writers follow
// last-write-wins.
type Store struct {
	cache cache.Cache
	key   string
	cfg   Config
	now   func() time.Time
}

// NewStore creates the energy store for the entity named by namespace.
func NewStore(c cache.Cache, namespace string, cfg Config) *Store {
	if namespace == "" {
		namespace = "entity"
	}
	return &Store{
		cache: c,
		key:   namespace + ":energy",
		cfg:   cfg.withDefaults(),
		now:   time.Now,
	}
}

func (s *Store) load(ctx context.Context) (*snapshot, error) {
	var snap snapshot
	err := cache.GetJSON(ctx, s.cache, s.key, &snap)
	if errors.Is(err, cache.ErrMiss) {
		return &snapshot{Level: s.cfg.Initial, LastUpdate: s.now().UTC()}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load energy: %w", err)
	}
	return &snap, nil
}

func (s *Store) save(ctx context.Context, snap *snapshot) error {
	if err := cache.SetJSON(ctx, s.cache, s.key, snap, 0); err != nil {
		return fmt.Errorf("save energy: %w", err)
	}
	return nil
}

// fatigue drains energy for the time awake since the last update. Gaps
// under MinFatigueInterval are left to accumulate.
func (s *Store) fatigue(snap *snapshot) bool {
	now := s.now().UTC()
	elapsed := now.Sub(snap.LastUpdate)
	if elapsed < s.cfg.MinFatigueInterval {
		return false
	}
	if snap.SleepStart == nil {
		s.apply(snap, -s.cfg.FatiguePerHour*elapsed.Hours(), "fatigue")
	}
	snap.LastUpdate = now
	return true
}

// apply clamps the new level and logs changes of at least 0.01. The
// fatigue clock is left alone; only fatigue and Wake advance it.
func (s *Store) apply(snap *snapshot, delta float64, reason string) {
	from := snap.Level
	to := clamp(from + delta)
	snap.Level = to

	if math.Abs(to-from) < logThreshold {
		return
	}
	snap.Log = append(snap.Log, LogEntry{
		At:     s.now().UTC(),
		Delta:  round(to - from),
		Reason: reason,
		From:   round(from),
		To:     round(to),
	})
	if over := len(snap.Log) - s.cfg.LogSize; over > 0 {
		snap.Log = snap.Log[over:]
	}
}

// read loads the state with fatigue applied, persisting it if it changed.
func (s *Store) read(ctx context.Context) (*snapshot, error) {
	snap, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	if s.fatigue(snap) {
		if err := s.save(ctx, snap); err != nil {
			return nil, err
		}
	}
	return snap, nil
}

// Level returns the current level.
func (s *Store) Level(ctx context.Context) (float64, error) {
	snap, err := s.read(ctx)
	if err != nil {
		return 0, err
	}
	return snap.Level, nil
}

// State returns the band of the current level.
func (s *Store) State(ctx context.Context) (State, error) {
	level, err := s.Level(ctx)
	if err != nil {
		return "", err
	}
	return StateOf(level), nil
}

// Modify changes the level by delta, clamped to [0,1], and returns the
// new level.
func (s *Store) Modify(ctx context.Context, delta float64, reason string) (float64, error) {
	snap, err := s.load(ctx)
	if err != nil {
		return 0, err
	}
	s.fatigue(snap)
	s.apply(snap, delta, reason)
	if err := s.save(ctx, snap); err != nil {
		return 0, err
	}
	return snap.Level, nil
}

// Think spends energy for one thought of the given intensity (0..1).
func (s *Store) Think(ctx context.Context, intensity float64) (float64, error) {
	intensity = min(max(intensity, 0), 1)
	return s.Modify(ctx, -(s.cfg.ThinkBaseCost + s.cfg.ThinkIntensityCost*intensity), "thinking")
}

// ToolUsed spends energy for one tool execution.
func (s *Store) ToolUsed(ctx context.Context, tool string) (float64, error) {
	return s.Modify(ctx, -s.cfg.ToolCost, "tool:"+tool)
}

// Conversation spends energy for one conversation turn.
func (s *Store) Conversation(ctx context.Context) (float64, error) {
	return s.Modify(ctx, -s.cfg.ConversationCost, "conversation")
}

// GoalProgress rewards points percentage points of goal progress.
func (s *Store) GoalProgress(ctx context.Context, points int) (float64, error) {
	if points <= 0 {
		return s.Level(ctx)
	}
	return s.Modify(ctx, s.cfg.GoalProgressGain*float64(points)/10, "goal_progress")
}

// GoalCompleted rewards a completed goal.
func (s *Store) GoalCompleted(ctx context.Context) (float64, error) {
	return s.Modify(ctx, s.cfg.GoalCompletionGain, "goal_completed")
}

// PositiveInteraction rewards a pleasant exchange.
func (s *Store) PositiveInteraction(ctx context.Context) (float64, error) {
	return s.Modify(ctx, s.cfg.InteractionGain, "positive_interaction")
}

// Recalled rewards remembering something.
func (s *Store) Recalled(ctx context.Context) (float64, error) {
	return s.Modify(ctx, s.cfg.RecallGain, "memory_recall")
}

// StartSleep records the moment the entity fell asleep. Sleeping again
// while asleep keeps the original start.
func (s *Store) StartSleep(ctx context.Context) error {
	snap, err := s.load(ctx)
	if err != nil {
		return err
	}
	s.fatigue(snap)
	if snap.SleepStart == nil {
		now := s.now().UTC()
		snap.SleepStart = &now
		slog.Info("entity falling asleep", "level", round(snap.Level))
	}
	return s.save(ctx, snap)
}

// Wake ends sleep. Recovery is RecoveryPerHour per hour slept, never
// past 1, and the entity never wakes below MinWakeLevel. Without a
// recorded sleep the level resets to DefaultWakeLevel.
func (s *Store) Wake(ctx context.Context) (float64, error) {
	snap, err := s.load(ctx)
	if err != nil {
		return 0, err
	}
	now := s.now().UTC()

	var target float64
	if snap.SleepStart == nil {
		target = s.cfg.DefaultWakeLevel
	} else {
		hours := now.Sub(*snap.SleepStart).Hours()
		recovered := min(1-snap.Level, hours*s.cfg.RecoveryPerHour)
		target = max(snap.Level+recovered, s.cfg.MinWakeLevel)
		slog.Info("entity waking up", "slept_hours", round(hours), "recovered", round(recovered))
	}
	s.apply(snap, target-snap.Level, "wake")
	snap.SleepStart = nil
	snap.WakeTime = &now
	snap.LastUpdate = now

	if err := s.save(ctx, snap); err != nil {
		return 0, err
	}
	return snap.Level, nil
}

// WakeLevel is the level Wake would restore to if called now.
func (s *Store) WakeLevel(ctx context.Context) (float64, error) {
	snap, err := s.load(ctx)
	if err != nil {
		return 0, err
	}
	if snap.SleepStart == nil {
		return s.cfg.DefaultWakeLevel, nil
	}
	hours := s.now().UTC().Sub(*snap.SleepStart).Hours()
	recovered := min(1-snap.Level, hours*s.cfg.RecoveryPerHour)
	return max(snap.Level+recovered, s.cfg.MinWakeLevel), nil
}

// Asleep reports whether a sleep is in progress, and since when.
func (s *Store) Asleep(ctx context.Context) (bool, time.Duration, error) {
	snap, err := s.load(ctx)
	if err != nil {
		return false, 0, err
	}
	if snap.SleepStart == nil {
		return false, 0, nil
	}
	return true, s.now().Sub(*snap.SleepStart), nil
}

// ShouldSleep advises sleep when energy is depleted, or when the entity
// has been awake over 18 hours and is below 0.4.
func (s *Store) ShouldSleep(ctx context.Context) (bool, error) {
	st, err := s.Status(ctx)
	if err != nil {
		return false, err
	}
	return st.ShouldSleep, nil
}

// Status returns a snapshot of the state with fatigue applied.
func (s *Store) Status(ctx context.Context) (Status, error) {
	snap, err := s.read(ctx)
	if err != nil {
		return Status{}, err
	}
	st := Status{
		Level:      snap.Level,
		State:      StateOf(snap.Level),
		Asleep:     snap.SleepStart != nil,
		SleepStart: snap.SleepStart,
		WakeTime:   snap.WakeTime,
	}
	if !st.Asleep && snap.WakeTime != nil {
		st.HoursAwake = round(s.now().Sub(*snap.WakeTime).Hours())
	}
	st.ShouldSleep = snap.Level < sleepBelow ||
		(st.HoursAwake > maxHoursAwake && snap.Level < tiredSleepBelow)
	return st, nil
}

// Log returns the recorded level changes, oldest first.
func (s *Store) Log(ctx context.Context) ([]LogEntry, error) {
	snap, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	return snap.Log, nil
}

// Reset discards all state; the next read starts from Initial.
func (s *Store) Reset(ctx context.Context) error {
	return s.cache.Delete(ctx, s.key)
}

func clamp(v float64) float64 {
	return min(max(v, 0), 1)
}

func round(v float64) float64 {
	return math.Round(v*1000) / 1000
}
