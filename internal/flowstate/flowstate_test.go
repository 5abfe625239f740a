package flowstate

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"testing"
	"time"

	"club-bot/internal/cache"

	"github.com/alicebob/miniredis/v2"
)

func testMachine(t *testing.T, ttl time.Duration) (*Machine, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	redis := cache.New(cache.Config{Addr: mr.Addr()}, logger)
	t.Cleanup(func() { redis.Close() })
	return New(redis, logger, ttl), mr
}

func TestSetMergesFields(t *testing.T) {
	m, _ := testMachine(t, time.Hour)
	ctx := context.Background()

	if err := m.Start(ctx, "register", "573001", map[string]string{StepField: "full_name"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.Set(ctx, "register", "573001", map[string]string{"full_name": "Ana Pérez", StepField: "id_type"}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	state, err := m.Get(ctx, "register", "573001")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if state[StepField] != "id_type" {
		t.Fatalf("step not overwritten: %q", state[StepField])
	}
	if state["full_name"] != "Ana Pérez" {
		t.Fatalf("merged field missing: %q", state["full_name"])
	}
}

func TestSetStampsLastActive(t *testing.T) {
	m, _ := testMachine(t, time.Hour)
	fixed := time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)
	m.now = func() time.Time { return fixed }

	if err := m.Set(context.Background(), "register", "573001", map[string]string{StepField: "full_name"}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	state, err := m.Get(context.Background(), "register", "573001")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	want := strconv.FormatInt(fixed.Unix(), 10)
	if state[FieldLastActive] != want {
		t.Fatalf("last_active = %q, want %q", state[FieldLastActive], want)
	}
	if !LastActive(state).Equal(time.Unix(fixed.Unix(), 0)) {
		t.Fatalf("LastActive = %v", LastActive(state))
	}
}

func TestStateExpires(t *testing.T) {
	m, mr := testMachine(t, 30*time.Minute)
	ctx := context.Background()

	if err := m.Set(ctx, "join_club", "573001", map[string]string{StepField: "menu"}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	mr.FastForward(time.Hour)

	exists, err := m.Exists(ctx, "join_club", "573001")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if exists {
		t.Fatal("state should have expired")
	}
	state, err := m.Get(ctx, "join_club", "573001")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(state) != 0 {
		t.Fatalf("expected empty state, got %v", state)
	}
}

func TestDelete(t *testing.T) {
	m, _ := testMachine(t, time.Hour)
	ctx := context.Background()

	if err := m.Set(ctx, "register", "573001", map[string]string{StepField: "full_name"}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := m.Delete(ctx, "register", "573001"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	exists, err := m.Exists(ctx, "register", "573001")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if exists {
		t.Fatal("state should be gone")
	}
}

func TestLastActiveMalformed(t *testing.T) {
	if !LastActive(map[string]string{}).IsZero() {
		t.Fatal("missing stamp should yield zero time")
	}
	if !LastActive(map[string]string{FieldLastActive: "not-a-number"}).IsZero() {
		t.Fatal("malformed stamp should yield zero time")
	}
}
