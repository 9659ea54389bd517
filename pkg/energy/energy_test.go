package energy

import (
	"context"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/hmennen90/open-entity-sub000/pkg/cache"
)

type testClock struct{ t time.Time }

func (c *testClock) now() time.Time          { return c.t }
func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestStore(t *testing.T) (*Store, *testClock) {
	t.Helper()
	c, err := cache.NewMemory(0)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(c.Close)
	clock := &testClock{t: time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)}
	s := NewStore(c, "test", Config{})
	s.now = clock.now
	return s, clock
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestStateOf(t *testing.T) {
	tests := []struct {
		level float64
		want  State
	}{
		{1, Energized}, {0.9, Energized}, {0.89, Alert}, {0.7, Alert},
		{0.5, Normal}, {0.3, Tired}, {0.15, Exhausted}, {0.149, Depleted}, {0, Depleted},
	}
	for _, tt := range tests {
		if got := StateOf(tt.level); got != tt.want {
			t.Errorf("StateOf(%v) = %s, want %s", tt.level, got, tt.want)
		}
	}
}

func TestInitialLevel(t *testing.T) {
	s, _ := newTestStore(t)
	level, err := s.Level(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if level != 0.8 {
		t.Errorf("initial level = %v, want 0.8", level)
	}
}

func TestModifyClamps(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 500; i++ {
		delta := (rng.Float64() - 0.5) * 1.5
		level, err := s.Modify(ctx, delta, "test")
		if err != nil {
			t.Fatal(err)
		}
		if level < 0 || level > 1 {
			t.Fatalf("step %d: level %v out of [0,1]", i, level)
		}
	}

	if level, _ := s.Modify(ctx, 5, "test"); level != 1 {
		t.Errorf("level after +5 = %v", level)
	}
	if level, _ := s.Modify(ctx, -5, "test"); level != 0 {
		t.Errorf("level after -5 = %v", level)
	}
}

func TestCostsAndGains(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	steps := []struct {
		name string
		do   func() (float64, error)
		want float64
	}{
		{"think", func() (float64, error) { return s.Think(ctx, 0.5) }, 0.8 - 0.01},
		{"tool", func() (float64, error) { return s.ToolUsed(ctx, "memory_recall") }, 0.77},
		{"conversation", func() (float64, error) { return s.Conversation(ctx) }, 0.76},
		{"progress", func() (float64, error) { return s.GoalProgress(ctx, 20) }, 0.82},
		{"completion", func() (float64, error) { return s.GoalCompleted(ctx) }, 0.97},
		{"interaction", func() (float64, error) { return s.PositiveInteraction(ctx) }, 0.99},
		{"recall", func() (float64, error) { return s.Recalled(ctx) }, 0.995},
	}
	for _, st := range steps {
		got, err := st.do()
		if err != nil {
			t.Fatalf("%s: %v", st.name, err)
		}
		if !near(got, st.want) {
			t.Errorf("%s: level = %v, want %v", st.name, got, st.want)
		}
	}
}

func TestFatigue(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t)
	s.Modify(ctx, 0, "init")

	clock.advance(2 * time.Minute)
	if level, _ := s.Level(ctx); level != 0.8 {
		t.Errorf("fatigue applied after 2 minutes: %v", level)
	}

	// The skipped 2 minutes still count once the gap is long enough.
	clock.advance(118 * time.Minute)
	if level, _ := s.Level(ctx); !near(level, 0.72) {
		t.Errorf("level after 2h = %v, want 0.72", level)
	}
}

func TestFatigueAccumulatesAcrossFrequentChanges(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t)
	s.Modify(ctx, 0, "init")

	// A change every 2 minutes never lets a single gap reach the fatigue
	// interval on its own; the skipped time must still drain.
	for i := 0; i < 300; i++ {
		clock.advance(2 * time.Minute)
		if _, err := s.Modify(ctx, 0, "chat"); err != nil {
			t.Fatal(err)
		}
	}
	level, err := s.Level(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(level-0.4) > 1e-6 {
		t.Errorf("level after 10h awake with changes every 2m = %v, want 0.4", level)
	}
}

func TestNoFatigueWhileAsleep(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t)
	s.Modify(ctx, -0.5, "tired") // 0.3
	s.StartSleep(ctx)

	clock.advance(5 * time.Hour)
	if level, _ := s.Level(ctx); !near(level, 0.3) {
		t.Errorf("level while asleep = %v, want 0.3", level)
	}
	asleep, slept, _ := s.Asleep(ctx)
	if !asleep || slept != 5*time.Hour {
		t.Errorf("Asleep = %v %v", asleep, slept)
	}
}

func TestWake(t *testing.T) {
	ctx := context.Background()

	t.Run("recovers per hour", func(t *testing.T) {
		s, clock := newTestStore(t)
		s.Modify(ctx, -0.4, "x") // 0.4
		s.StartSleep(ctx)
		clock.advance(2 * time.Hour)
		level, _ := s.Wake(ctx)
		if !near(level, 0.7) {
			t.Errorf("level = %v, want 0.7", level)
		}
	})

	t.Run("wake level matches wake", func(t *testing.T) {
		s, clock := newTestStore(t)
		s.Modify(ctx, -0.5, "x") // 0.3
		s.StartSleep(ctx)
		clock.advance(3 * time.Hour)
		projected, _ := s.WakeLevel(ctx)
		level, _ := s.Wake(ctx)
		if !near(projected, 0.75) || !near(level, projected) {
			t.Errorf("projected %v, woke at %v, want 0.75", projected, level)
		}
	})

	t.Run("capped at one", func(t *testing.T) {
		s, clock := newTestStore(t)
		s.StartSleep(ctx)
		clock.advance(10 * time.Hour)
		if level, _ := s.Wake(ctx); !near(level, 1) {
			t.Errorf("level = %v, want 1", level)
		}
	})

	t.Run("floor", func(t *testing.T) {
		for _, d := range []time.Duration{0, time.Minute, 30 * time.Minute, time.Hour} {
			s, clock := newTestStore(t)
			s.Modify(ctx, -0.8, "x") // 0
			s.StartSleep(ctx)
			clock.advance(d)
			if level, _ := s.Wake(ctx); level < 0.5 {
				t.Errorf("slept %v: woke at %v, want >= 0.5", d, level)
			}
		}
	})

	t.Run("no sleep recorded", func(t *testing.T) {
		s, _ := newTestStore(t)
		s.Modify(ctx, 0.2, "x")
		if level, _ := s.Wake(ctx); !near(level, 0.7) {
			t.Errorf("level = %v, want 0.7", level)
		}
		if asleep, _, _ := s.Asleep(ctx); asleep {
			t.Error("still asleep after Wake")
		}
	})
}

func TestShouldSleep(t *testing.T) {
	ctx := context.Background()

	s, _ := newTestStore(t)
	s.Wake(ctx) // 0.7, awake since now
	if ok, _ := s.ShouldSleep(ctx); ok {
		t.Error("fresh entity should not sleep")
	}
	s.Modify(ctx, -0.6, "x") // 0.1
	if ok, _ := s.ShouldSleep(ctx); !ok {
		t.Error("depleted entity should sleep")
	}

	tests := []struct {
		level float64
		want  bool
	}{
		{0.35, true},
		{0.45, false},
	}
	for _, tt := range tests {
		s, clock := newTestStore(t)
		s.Wake(ctx)
		clock.advance(19 * time.Hour)
		// Fatigue over 19 hours drains to 0; set the level after it.
		s.Modify(ctx, tt.level, "x")

		st, err := s.Status(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if st.HoursAwake != 19 || !near(st.Level, tt.level) {
			t.Fatalf("setup: %+v", st)
		}
		if st.ShouldSleep != tt.want {
			t.Errorf("awake 19h at %v: ShouldSleep = %v, want %v", tt.level, st.ShouldSleep, tt.want)
		}
	}
}

func TestLogBounded(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	s.Modify(ctx, 0.005, "tiny")
	if log, _ := s.Log(ctx); len(log) != 0 {
		t.Fatalf("change under 0.01 logged: %+v", log)
	}

	for i := 0; i < 150; i++ {
		d := 0.1
		if i%2 == 1 {
			d = -0.1
		}
		s.Modify(ctx, d, "swing")
	}
	log, _ := s.Log(ctx)
	if len(log) != 100 {
		t.Fatalf("log length = %d, want 100", len(log))
	}
	last := log[len(log)-1]
	if last.Reason != "swing" || !near(last.To-last.From, last.Delta) {
		t.Errorf("last entry = %+v", last)
	}
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	s.Modify(ctx, -0.5, "x")
	if err := s.Reset(ctx); err != nil {
		t.Fatal(err)
	}
	if level, _ := s.Level(ctx); level != 0.8 {
		t.Errorf("level after reset = %v", level)
	}
}
