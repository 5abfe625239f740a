package cache

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func testRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := New(Config{Addr: mr.Addr()}, logger)
	t.Cleanup(func() { r.Close() })
	return r, mr
}

func TestSetHashAppliesTTL(t *testing.T) {
	r, mr := testRedis(t)
	ctx := context.Background()

	err := r.SetHash(ctx, "waid:573001112233", map[string]string{"full_name": "Ana Pérez"}, time.Hour)
	if err != nil {
		t.Fatalf("SetHash: %v", err)
	}

	val, ok, err := r.GetField(ctx, "waid:573001112233", "full_name")
	if err != nil || !ok {
		t.Fatalf("GetField: ok=%v err=%v", ok, err)
	}
	if val != "Ana Pérez" {
		t.Fatalf("unexpected value %q", val)
	}

	ttl, err := r.TTL(ctx, "waid:573001112233")
	if err != nil {
		t.Fatalf("TTL: %v", err)
	}
	if ttl <= 0 {
		t.Fatalf("expected positive TTL, got %v", ttl)
	}

	mr.FastForward(2 * time.Hour)
	exists, err := r.Exists(ctx, "waid:573001112233")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if exists {
		t.Fatal("key should have expired")
	}
}

func TestSetFieldRenewsTTL(t *testing.T) {
	r, mr := testRedis(t)
	ctx := context.Background()

	if err := r.SetHash(ctx, "k", map[string]string{"a": "1"}, time.Minute); err != nil {
		t.Fatalf("SetHash: %v", err)
	}
	mr.FastForward(50 * time.Second)
	if err := r.SetField(ctx, "k", "b", "2", time.Minute); err != nil {
		t.Fatalf("SetField: %v", err)
	}
	mr.FastForward(50 * time.Second)

	// The renewal must have kept the key alive past the original expiry.
	val, ok, err := r.GetField(ctx, "k", "a")
	if err != nil || !ok {
		t.Fatalf("GetField after renew: ok=%v err=%v", ok, err)
	}
	if val != "1" {
		t.Fatalf("unexpected value %q", val)
	}
}

func TestGetFieldMissing(t *testing.T) {
	r, _ := testRedis(t)
	ctx := context.Background()

	_, ok, err := r.GetField(ctx, "nope", "field")
	if err != nil {
		t.Fatalf("GetField: %v", err)
	}
	if ok {
		t.Fatal("expected missing field")
	}
}

func TestGetAllFieldsMissingKey(t *testing.T) {
	r, _ := testRedis(t)

	fields, err := r.GetAllFields(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetAllFields: %v", err)
	}
	if len(fields) != 0 {
		t.Fatalf("expected empty map, got %v", fields)
	}
}

func TestKeysMatchesPattern(t *testing.T) {
	r, _ := testRedis(t)
	ctx := context.Background()

	for _, key := range []string{
		FlowKey("register", "573001"),
		FlowKey("register", "573002"),
		FlowKey("join_club", "573003"),
	} {
		if err := r.SetHash(ctx, key, map[string]string{"step": "x"}, 0); err != nil {
			t.Fatalf("SetHash %s: %v", key, err)
		}
	}

	keys, err := r.Keys(ctx, FlowPattern("register"))
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 register keys, got %v", keys)
	}
	for _, k := range keys {
		if k != "register:573001" && k != "register:573002" {
			t.Fatalf("unexpected key %q", k)
		}
	}
}

func TestDeleteKey(t *testing.T) {
	r, _ := testRedis(t)
	ctx := context.Background()

	if err := r.SetHash(ctx, "k", map[string]string{"a": "1"}, 0); err != nil {
		t.Fatalf("SetHash: %v", err)
	}
	if err := r.DeleteKey(ctx, "k"); err != nil {
		t.Fatalf("DeleteKey: %v", err)
	}
	exists, err := r.Exists(ctx, "k")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if exists {
		t.Fatal("key should be gone")
	}
}
