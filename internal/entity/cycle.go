package entity

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/hmennen90/open-entity-sub000/pkg/brain"
	"github.com/hmennen90/open-entity-sub000/pkg/events"
)

// Sleep schedule defaults.
const (
	DefaultMinSleep = 4 * time.Hour
	fullyRested     = 0.95
)

// Outcome is what one scheduled cycle did.
type Outcome string

const (
	OutcomeThought  Outcome = "thought"
	OutcomeNone     Outcome = "none" // cycle ran, nothing was produced
	OutcomeSlept    Outcome = "fell_asleep"
	OutcomeSleeping Outcome = "sleeping"
	OutcomeWoke     Outcome = "woke"
)

// Cycle runs one scheduled step: wake up when rested, go to sleep when
// exhausted, otherwise think. A failed think is logged and reported as
// OutcomeNone; only store failures are returned.
func (e *Entity) Cycle(ctx context.Context, minSleep time.Duration) (Outcome, *brain.Thought, error) {
	if minSleep <= 0 {
		minSleep = DefaultMinSleep
	}

	asleep, slept, err := e.energy.Asleep(ctx)
	if err != nil {
		return "", nil, err
	}
	if asleep {
		projected, err := e.energy.WakeLevel(ctx)
		if err != nil {
			return "", nil, err
		}
		if slept < minSleep && projected < fullyRested {
			return OutcomeSleeping, nil, nil
		}
		level, err := e.energy.Wake(ctx)
		if err != nil {
			return "", nil, err
		}
		slog.Info("entity woke up", "slept", slept.Round(time.Minute), "energy", level)
		e.publish(events.Event{Type: events.TypeEnergy, Message: "woke up", Level: level})
		return OutcomeWoke, nil, nil
	}

	should, err := e.energy.ShouldSleep(ctx)
	if err != nil {
		return "", nil, err
	}
	if should {
		if err := e.energy.StartSleep(ctx); err != nil {
			return "", nil, err
		}
		level, _ := e.energy.Level(ctx)
		slog.Info("entity fell asleep", "energy", level)
		e.publish(events.Event{Type: events.TypeEnergy, Message: "fell asleep", Level: level})
		return OutcomeSlept, nil, nil
	}

	t, err := e.Think(ctx)
	switch {
	case err == nil:
		return OutcomeThought, t, nil
	case errors.Is(err, ErrNoThought), errors.Is(err, ErrAsleep):
		slog.Debug("no thought this cycle", "reason", err)
		return OutcomeNone, nil, nil
	default:
		return "", nil, err
	}
}

// NextInterval paces thinking by energy: base × (2 − level) while awake,
// so a tired entity thinks less often. While asleep it is base.
func (e *Entity) NextInterval(ctx context.Context, base time.Duration) time.Duration {
	asleep, _, err := e.energy.Asleep(ctx)
	if err != nil || asleep {
		return base
	}
	level, err := e.energy.Level(ctx)
	if err != nil {
		return base
	}
	return time.Duration(math.Round(float64(base) * (2 - level)))
}
