// Package flowstate is the generic TTL-bound state bag behind multi-step
// conversational flows. It persists a field map per (flow, user) pair and
// stamps last_active on every write; step semantics belong to the flows
// themselves.
package flowstate

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"club-bot/internal/cache"
)

// Reserved bookkeeping field, stamped on every Start/Set.
const FieldLastActive = "last_active"

// StepField is the conventional field flows keep their current step in.
// The store itself does not interpret it.
const StepField = "step"

// Machine stores flow state in Redis hashes keyed by "<flow>:<waid>".
type Machine struct {
	cache  *cache.Redis
	logger *slog.Logger
	ttl    time.Duration
	now    func() time.Time
}

// New builds a Machine with the given state TTL.
func New(redis *cache.Redis, logger *slog.Logger, ttl time.Duration) *Machine {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Machine{
		cache:  redis,
		logger: logger.With("component", "flowstate"),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Start creates (or overwrites into) the state for a flow/user pair.
// Identical to Set; the distinct name marks flow entry points in callers.
func (m *Machine) Start(ctx context.Context, flow, waid string, state map[string]string) error {
	return m.Set(ctx, flow, waid, state)
}

// Set merges the given fields into the stored bag: same-named fields are
// overwritten, others persist. The TTL and last_active are refreshed.
func (m *Machine) Set(ctx context.Context, flow, waid string, state map[string]string) error {
	fields := make(map[string]string, len(state)+1)
	for k, v := range state {
		fields[k] = v
	}
	fields[FieldLastActive] = strconv.FormatInt(m.now().Unix(), 10)
	return m.cache.SetHash(ctx, cache.FlowKey(flow, waid), fields, m.ttl)
}

// Get returns the full field bag, or an empty map when no state exists.
func (m *Machine) Get(ctx context.Context, flow, waid string) (map[string]string, error) {
	fields, err := m.cache.GetAllFields(ctx, cache.FlowKey(flow, waid))
	if err != nil {
		return nil, err
	}
	if fields == nil {
		fields = map[string]string{}
	}
	return fields, nil
}

// Exists reports whether the flow/user pair has active state.
func (m *Machine) Exists(ctx context.Context, flow, waid string) (bool, error) {
	return m.cache.Exists(ctx, cache.FlowKey(flow, waid))
}

// Delete removes all state for the flow/user pair.
func (m *Machine) Delete(ctx context.Context, flow, waid string) error {
	return m.cache.DeleteKey(ctx, cache.FlowKey(flow, waid))
}

// LastActive extracts the last_active stamp from a state bag. The zero
// time is returned when the field is missing or malformed.
func LastActive(state map[string]string) time.Time {
	raw, ok := state[FieldLastActive]
	if !ok {
		return time.Time{}
	}
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(secs, 0)
}
