package supervisor

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"club-bot/internal/cache"
	"club-bot/internal/flowstate"

	"github.com/alicebob/miniredis/v2"
)

type captureNotifier struct {
	mu        sync.Mutex
	reminders []string
	cancelled []string
	steps     []string
}

func (c *captureNotifier) FlowReminder(ctx context.Context, flow, waid, step string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reminders = append(c.reminders, waid)
	c.steps = append(c.steps, step)
}

func (c *captureNotifier) FlowCancelled(ctx context.Context, flow, waid string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelled = append(c.cancelled, waid)
}

func testSupervisor(t *testing.T) (*Supervisor, *flowstate.Machine, *captureNotifier) {
	t.Helper()
	mr := miniredis.RunT(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	redis := cache.New(cache.Config{Addr: mr.Addr()}, logger)
	t.Cleanup(func() { redis.Close() })

	states := flowstate.New(redis, logger, time.Hour)
	notifier := &captureNotifier{}
	sup := New(states, redis, notifier, nil, logger, Config{
		Flow:              "register",
		Interval:          time.Minute,
		ReminderThreshold: time.Minute,
		CancelThreshold:   2 * time.Minute,
	})
	return sup, states, notifier
}

func TestSweepIgnoresActiveState(t *testing.T) {
	sup, states, notifier := testSupervisor(t)
	ctx := context.Background()

	if err := states.Set(ctx, "register", "573001", map[string]string{flowstate.StepField: "full_name"}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	sup.Sweep(ctx)

	if len(notifier.reminders) != 0 || len(notifier.cancelled) != 0 {
		t.Fatalf("active state must be left alone: %+v", notifier)
	}
}

func TestSweepRemindsWithoutTouchingLastActive(t *testing.T) {
	sup, states, notifier := testSupervisor(t)
	ctx := context.Background()

	if err := states.Set(ctx, "register", "573001", map[string]string{flowstate.StepField: "id_number"}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	before, err := states.Get(ctx, "register", "573001")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	sup.now = func() time.Time { return time.Now().Add(90 * time.Second) }
	sup.Sweep(ctx)

	if len(notifier.reminders) != 1 || notifier.reminders[0] != "573001" {
		t.Fatalf("expected one reminder, got %+v", notifier.reminders)
	}
	if notifier.steps[0] != "id_number" {
		t.Fatalf("reminder carries wrong step %q", notifier.steps[0])
	}
	if len(notifier.cancelled) != 0 {
		t.Fatalf("no cancellation expected, got %+v", notifier.cancelled)
	}

	after, err := states.Get(ctx, "register", "573001")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if after[flowstate.FieldLastActive] != before[flowstate.FieldLastActive] {
		t.Fatal("reminder must not refresh last_active")
	}

	// Unanswered, the reminder fires again on the next cycle.
	sup.Sweep(ctx)
	if len(notifier.reminders) != 2 {
		t.Fatalf("expected reminder to re-fire, got %d", len(notifier.reminders))
	}
}

func TestSweepCancelsAndDeletesState(t *testing.T) {
	sup, states, notifier := testSupervisor(t)
	ctx := context.Background()

	if err := states.Set(ctx, "register", "573001", map[string]string{flowstate.StepField: "birth_date"}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	sup.now = func() time.Time { return time.Now().Add(3 * time.Minute) }
	sup.Sweep(ctx)

	if len(notifier.cancelled) != 1 || notifier.cancelled[0] != "573001" {
		t.Fatalf("expected one cancellation, got %+v", notifier.cancelled)
	}
	if len(notifier.reminders) != 0 {
		t.Fatalf("cancel must not also remind, got %+v", notifier.reminders)
	}
	exists, err := states.Exists(ctx, "register", "573001")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if exists {
		t.Fatal("state must be deleted on cancel")
	}

	// Nothing left to act on.
	sup.Sweep(ctx)
	if len(notifier.cancelled) != 1 {
		t.Fatalf("cancel must not repeat, got %d", len(notifier.cancelled))
	}
}

func TestSweepSkipsOtherFlows(t *testing.T) {
	sup, states, notifier := testSupervisor(t)
	ctx := context.Background()

	if err := states.Set(ctx, "join_club", "573001", map[string]string{flowstate.StepField: "menu"}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	sup.now = func() time.Time { return time.Now().Add(time.Hour) }
	sup.Sweep(ctx)

	if len(notifier.reminders) != 0 || len(notifier.cancelled) != 0 {
		t.Fatalf("foreign flow state must not be touched: %+v", notifier)
	}
	exists, err := states.Exists(ctx, "join_club", "573001")
	if err != nil || !exists {
		t.Fatalf("foreign state must survive: exists=%v err=%v", exists, err)
	}
}
