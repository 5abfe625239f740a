// Package userstore serves user records cache-aside: reads hit Redis
// first and fall back to the backing record store, writes land in Redis
// synchronously and reach the backing store later through the write-behind
// queues.
package userstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"club-bot/internal/cache"
	"club-bot/internal/limiter"
	"club-bot/internal/metrics"
	"club-bot/internal/records"
	"club-bot/internal/syncer"
)

// Enqueuer is the write-behind boundary, implemented by syncer.Manager.
type Enqueuer interface {
	EnqueueCreate(records.CreateItem)
	EnqueueUpdate(queue string, item records.UpdateItem)
}

// ArtifactSyncer produces the per-user context artifact consumed by the
// agent layer. Failures are tolerated: the read path proceeds without an
// artifact id.
type ArtifactSyncer interface {
	Sync(ctx context.Context, waid string, profile map[string]string) (string, error)
	Delete(ctx context.Context, fileID string) error
}

// Store implements cache-aside reads and write-through cache mutations
// for user records.
type Store struct {
	cache    *cache.Redis
	backing  records.Store
	limiter  *limiter.Limiter
	queue    Enqueuer
	artifact ArtifactSyncer
	logger   *slog.Logger
	metrics  *metrics.Metrics
	ttl      time.Duration
}

// New wires a Store. The artifact syncer may be nil when the collaborator
// is not configured.
func New(redis *cache.Redis, backing records.Store, lim *limiter.Limiter, queue Enqueuer, artifact ArtifactSyncer, m *metrics.Metrics, logger *slog.Logger, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Store{
		cache:    redis,
		backing:  backing,
		limiter:  lim,
		queue:    queue,
		artifact: artifact,
		logger:   logger.With("component", "userstore"),
		metrics:  m,
		ttl:      ttl,
	}
}

// Get resolves a user record. Cache hits refresh last_seen_at; misses fall
// back to the backing store and repopulate the cache. A nil record with a
// nil error means the user is unknown. Backing-store failures propagate:
// an unreachable store must not make an existing member look unregistered.
func (s *Store) Get(ctx context.Context, waid string) (*UserRecord, error) {
	key := cache.UserKey(waid)

	fields, err := s.cache.GetAllFields(ctx, key)
	if err != nil {
		return nil, err
	}
	if len(fields) > 0 {
		rec, decodeErr := recordFromFields(fields)
		if decodeErr != nil {
			s.logger.Error("cached threads unreadable, treating as empty", "waid", waid, "error", decodeErr)
		}
		rec.LastSeenAt = nowStamp()
		if err := s.cache.SetField(ctx, key, "last_seen_at", rec.LastSeenAt, s.ttl); err != nil {
			s.logger.Warn("last_seen_at refresh failed", "waid", waid, "error", err)
		}
		return rec, nil
	}

	return s.populateFromBacking(ctx, waid)
}

func (s *Store) populateFromBacking(ctx context.Context, waid string) (*UserRecord, error) {
	var row *records.Row
	start := time.Now()
	err := s.limiter.Call(ctx, func(ctx context.Context) error {
		var callErr error
		row, callErr = s.backing.FindByWAID(ctx, waid)
		return callErr
	})
	if s.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		s.metrics.StoreRequests.WithLabelValues("find", status).Inc()
		s.metrics.StoreLatency.WithLabelValues("find").Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return nil, fmt.Errorf("backing store lookup for %s: %w", waid, err)
	}
	if row == nil {
		return nil, nil
	}

	rec := recordFromRow(waid, row)
	rec.LastSeenAt = nowStamp()

	// Synchronously refresh the context artifact; any failure degrades
	// to "no artifact" without aborting the read.
	if s.artifact != nil {
		fileID, err := s.artifact.Sync(ctx, waid, rec.toFields())
		if err != nil {
			s.logger.Warn("context artifact sync failed", "waid", waid, "error", err)
		} else if fileID != "" {
			if old := rec.ContextFileID; old != "" && old != fileID {
				if err := s.artifact.Delete(ctx, old); err != nil {
					s.logger.Warn("stale context artifact not removed", "waid", waid, "file_id", old, "error", err)
				}
			}
			rec.ContextFileID = fileID
		}
	}

	if err := s.cache.SetHash(ctx, cache.UserKey(waid), rec.toFields(), s.ttl); err != nil {
		return nil, err
	}

	if rec.RecordID != "" && rec.ContextFileID != "" {
		fileID := rec.ContextFileID
		s.queue.EnqueueUpdate(syncer.QueueOptUpdate, records.UpdateItem{
			RecordID: rec.RecordID,
			Patch:    records.Patch{ContextFileID: &fileID},
		})
	}

	return rec, nil
}

// Create writes a complete default-initialized record to the cache and
// enqueues the durable create. The two steps are not atomic: a crash in
// between loses only the backing-store copy.
func (s *Store) Create(ctx context.Context, waid string, reg Registration) (*UserRecord, error) {
	rec := &UserRecord{
		WAID:        waid,
		FullName:    reg.FullName,
		IDType:      reg.IDType,
		IDNumber:    reg.IDNumber,
		BirthDate:   reg.BirthDate,
		Preferences: reg.MoreAbout,
		OptStatus:   StatusOptIn,
		Threads:     map[string]string{},
		LastSeenAt:  nowStamp(),
	}
	if err := s.cache.SetHash(ctx, cache.UserKey(waid), rec.toFields(), s.ttl); err != nil {
		return nil, err
	}

	s.queue.EnqueueCreate(records.CreateItem{
		WAID:        waid,
		FullName:    reg.FullName,
		IDType:      reg.IDType,
		IDNumber:    reg.IDNumber,
		BirthDate:   reg.BirthDate,
		Preferences: reg.MoreAbout,
		OptStatus:   StatusOptIn,
	})

	s.logger.Info("member created in cache, durable create enqueued", "waid", waid)
	return rec, nil
}

// SetOptStatus flips the opt status in the cache and, when the durable
// record id is known, enqueues the matching update.
func (s *Store) SetOptStatus(ctx context.Context, waid, status string) error {
	return s.mutate(ctx, waid, syncer.QueueOptUpdate, func(rec *UserRecord) records.Patch {
		rec.OptStatus = status
		rec.OptStatusChangedAt = nowStamp()
		changedAt := time.Now().UTC()
		return records.Patch{OptStatus: &status, OptStatusChangedAt: &changedAt}
	})
}

// OptOut marks the member opted out.
func (s *Store) OptOut(ctx context.Context, waid string) error {
	status := StatusOptOut
	return s.mutate(ctx, waid, syncer.QueueOptOut, func(rec *UserRecord) records.Patch {
		rec.OptStatus = status
		rec.OptStatusChangedAt = nowStamp()
		changedAt := time.Now().UTC()
		return records.Patch{OptStatus: &status, OptStatusChangedAt: &changedAt}
	})
}

// SaveThreads replaces the member's agent-thread mapping.
func (s *Store) SaveThreads(ctx context.Context, waid string, threads map[string]string) error {
	return s.mutate(ctx, waid, syncer.QueueThreadUpdate, func(rec *UserRecord) records.Patch {
		rec.Threads = threads
		encoded := "{}"
		if data, err := json.Marshal(threads); err == nil {
			encoded = string(data)
		}
		return records.Patch{AgentThreads: &encoded}
	})
}

// SetTemplateLock locks or releases the member on a templated flow.
func (s *Store) SetTemplateLock(ctx context.Context, waid string, locked bool, templateName string) error {
	return s.mutate(ctx, waid, syncer.QueueOptUpdate, func(rec *UserRecord) records.Patch {
		status := ""
		if locked {
			status = TemplateLocked
		} else {
			templateName = ""
		}
		rec.TemplateStatus = status
		rec.TemplateName = templateName
		name := templateName
		return records.Patch{TemplateStatus: &status, TemplateName: &name}
	})
}

// Threads returns the member's agent-thread mapping, resolving the record
// cache-aside if needed. Unknown members get an empty map.
func (s *Store) Threads(ctx context.Context, waid string) (map[string]string, error) {
	rec, err := s.Get(ctx, waid)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return map[string]string{}, nil
	}
	return rec.Threads, nil
}

// mutate is the shared read-mutate-write-enqueue path. When no record id
// is known yet the mutation stays cache-only until a later miss
// repopulates from the backing store.
func (s *Store) mutate(ctx context.Context, waid, queue string, apply func(*UserRecord) records.Patch) error {
	key := cache.UserKey(waid)
	fields, err := s.cache.GetAllFields(ctx, key)
	if err != nil {
		return err
	}
	if len(fields) == 0 {
		s.logger.Warn("mutation on unknown cached user", "waid", waid, "queue", queue)
		return nil
	}

	rec, decodeErr := recordFromFields(fields)
	if decodeErr != nil {
		s.logger.Error("cached threads unreadable, treating as empty", "waid", waid, "error", decodeErr)
	}
	patch := apply(rec)

	if err := s.cache.SetHash(ctx, key, rec.toFields(), s.ttl); err != nil {
		return err
	}

	if rec.RecordID == "" {
		s.logger.Debug("no record id yet, mutation stays cache-only", "waid", waid, "queue", queue)
		return nil
	}
	s.queue.EnqueueUpdate(queue, records.UpdateItem{RecordID: rec.RecordID, Patch: patch})
	return nil
}

func recordFromRow(waid string, row *records.Row) *UserRecord {
	rec := &UserRecord{
		WAID:           waid,
		RecordID:       row.ID,
		FullName:       row.FullName,
		IDType:         row.IDType,
		IDNumber:       row.IDNumber,
		BirthDate:      row.BirthDate,
		Preferences:    row.Preferences,
		OptStatus:      row.OptStatus,
		TemplateStatus: row.TemplateStatus,
		TemplateName:   row.TemplateName,
		ContextFileID:  row.ContextFileID,
		Threads:        map[string]string{},
	}
	if rec.OptStatus == "" {
		rec.OptStatus = StatusOptIn
	}
	if row.OptStatusChangedAt != nil {
		rec.OptStatusChangedAt = row.OptStatusChangedAt.UTC().Format(time.RFC3339)
	}
	if row.AgentThreads != "" {
		if err := json.Unmarshal([]byte(row.AgentThreads), &rec.Threads); err != nil {
			rec.Threads = map[string]string{}
		}
	}
	return rec
}
