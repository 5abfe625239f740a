// Package syncer implements the write-behind half of the member store:
// named FIFO queues drained by background consumers that flush batched
// mutations to the backing record store through the rate limiter.
//
// Failed batches are logged and dropped, never requeued. The cache copy
// stays correct for live traffic; the durable copy catches up on the next
// cache-miss read.
package syncer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"club-bot/internal/cache"
	"club-bot/internal/limiter"
	"club-bot/internal/metrics"
	"club-bot/internal/records"

	"github.com/google/uuid"
)

// Queue names. Each has its own FIFO ordering and consumer; there is no
// ordering guarantee across queues.
const (
	QueueRegistration = "registration"
	QueueOptUpdate    = "opt_update"
	QueueOptOut       = "opt_out"
	QueueThreadUpdate = "thread_update"
)

const queueCapacity = 1024

// Config tunes batching behavior.
type Config struct {
	BatchSize    int           // max items per flush, capped at records.MaxBatchItems
	BatchTimeout time.Duration // gathering window, measured from the first item
	UserTTL      time.Duration // TTL applied when backfilling record ids
}

type item struct {
	create *records.CreateItem
	update *records.UpdateItem
}

// Manager owns the four write-behind queues and their consumers.
type Manager struct {
	store   records.Store
	limiter *limiter.Limiter
	cache   *cache.Redis
	logger  *slog.Logger
	metrics *metrics.Metrics
	cfg     Config

	queues    map[string]chan item
	startOnce sync.Once
}

// New builds a Manager. Start must be called once to launch the consumers.
func New(store records.Store, lim *limiter.Limiter, redis *cache.Redis, m *metrics.Metrics, logger *slog.Logger, cfg Config) *Manager {
	if cfg.BatchSize <= 0 || cfg.BatchSize > records.MaxBatchItems {
		cfg.BatchSize = records.MaxBatchItems
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 2 * time.Second
	}
	return &Manager{
		store:   store,
		limiter: lim,
		cache:   redis,
		logger:  logger.With("component", "syncer"),
		metrics: m,
		cfg:     cfg,
		queues: map[string]chan item{
			QueueRegistration: make(chan item, queueCapacity),
			QueueOptUpdate:    make(chan item, queueCapacity),
			QueueOptOut:       make(chan item, queueCapacity),
			QueueThreadUpdate: make(chan item, queueCapacity),
		},
	}
}

// Start launches one named consumer goroutine per queue. Idempotent; the
// consumers run until ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	m.startOnce.Do(func() {
		for name, ch := range m.queues {
			go m.consume(ctx, name, ch)
		}
		m.logger.Info("write-behind consumers started", "queues", len(m.queues))
	})
}

// EnqueueCreate queues a member creation for the registration consumer.
func (m *Manager) EnqueueCreate(ci records.CreateItem) {
	m.push(QueueRegistration, item{create: &ci})
}

// EnqueueUpdate queues a partial update. Items without a record id are
// dropped here: the backing store cannot address them, and the cache copy
// already holds the mutation.
func (m *Manager) EnqueueUpdate(queue string, ui records.UpdateItem) {
	if ui.RecordID == "" {
		m.logger.Warn("dropping update without record id", "queue", queue)
		if m.metrics != nil {
			m.metrics.Errors.WithLabelValues("syncer").Inc()
		}
		return
	}
	m.push(queue, item{update: &ui})
}

func (m *Manager) push(queue string, it item) {
	ch, ok := m.queues[queue]
	if !ok {
		m.logger.Error("enqueue on unknown queue", "queue", queue)
		return
	}
	select {
	case ch <- it:
		if m.metrics != nil {
			m.metrics.QueueDepth.WithLabelValues(queue).Inc()
		}
	default:
		m.logger.Error("queue full, dropping item", "queue", queue)
		if m.metrics != nil {
			m.metrics.Errors.WithLabelValues("syncer").Inc()
		}
	}
}

// Depth reports how many items are waiting in the named queue.
func (m *Manager) Depth(queue string) int {
	if ch, ok := m.queues[queue]; ok {
		return len(ch)
	}
	return 0
}

func (m *Manager) consume(ctx context.Context, name string, ch chan item) {
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("consumer stopping", "queue", name)
			return
		case first := <-ch:
			if m.metrics != nil {
				m.metrics.QueueDepth.WithLabelValues(name).Dec()
			}
			batch := m.gather(ctx, name, ch, first)
			m.flush(ctx, name, batch)
		}
	}
}

// gather assembles a batch starting from the first dequeued item. The
// clock starts now: further items are accepted until the size cap or the
// remaining time budget runs out, whichever comes first.
func (m *Manager) gather(ctx context.Context, name string, ch chan item, first item) []item {
	batch := []item{first}
	deadline := time.NewTimer(m.cfg.BatchTimeout)
	defer deadline.Stop()

	for len(batch) < m.cfg.BatchSize {
		select {
		case it := <-ch:
			if m.metrics != nil {
				m.metrics.QueueDepth.WithLabelValues(name).Dec()
			}
			batch = append(batch, it)
		case <-deadline.C:
			return batch
		case <-ctx.Done():
			return batch
		}
	}
	return batch
}

func (m *Manager) flush(ctx context.Context, name string, batch []item) {
	if len(batch) == 0 {
		return
	}
	batchID := uuid.NewString()

	var err error
	if name == QueueRegistration {
		err = m.flushCreates(ctx, batchID, batch)
	} else {
		err = m.flushUpdates(ctx, name, batch)
	}

	status := "ok"
	if err != nil {
		status = "error"
		m.logger.Error("batch flush failed, dropping batch",
			"queue", name, "batch_id", batchID, "items", len(batch), "error", err)
		if m.metrics != nil {
			m.metrics.Errors.WithLabelValues("syncer").Inc()
		}
	}
	if m.metrics != nil {
		m.metrics.BatchesFlushed.WithLabelValues(name, status).Inc()
		m.metrics.BatchItems.WithLabelValues(name).Observe(float64(len(batch)))
	}
}

func (m *Manager) flushCreates(ctx context.Context, batchID string, batch []item) error {
	creates := make([]records.CreateItem, 0, len(batch))
	for _, it := range batch {
		if it.create != nil {
			creates = append(creates, *it.create)
		}
	}
	if len(creates) == 0 {
		return nil
	}

	var created []records.Created
	start := time.Now()
	err := m.limiter.Call(ctx, func(ctx context.Context) error {
		var callErr error
		created, callErr = m.store.CreateBatch(ctx, creates)
		return callErr
	})
	m.observeStoreCall("create_batch", start, err)
	if err != nil {
		return err
	}

	// Backfill durable record ids into the cached copies so later
	// mutations can address the backing store.
	for _, c := range created {
		key := cache.UserKey(c.WAID)
		exists, err := m.cache.Exists(ctx, key)
		if err != nil || !exists {
			continue
		}
		if err := m.cache.SetField(ctx, key, "record_id", c.RecordID, m.cfg.UserTTL); err != nil {
			m.logger.Warn("record id backfill failed", "waid", c.WAID, "batch_id", batchID, "error", err)
		}
	}

	m.logger.Info("created member records", "batch_id", batchID, "count", len(created))
	return nil
}

func (m *Manager) flushUpdates(ctx context.Context, name string, batch []item) error {
	updates := make([]records.UpdateItem, 0, len(batch))
	for _, it := range batch {
		if it.update != nil {
			updates = append(updates, *it.update)
		}
	}
	if len(updates) == 0 {
		return nil
	}

	start := time.Now()
	err := m.limiter.Call(ctx, func(ctx context.Context) error {
		return m.store.UpdateBatch(ctx, updates)
	})
	m.observeStoreCall("update_batch", start, err)
	return err
}

func (m *Manager) observeStoreCall(operation string, start time.Time, err error) {
	if m.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.metrics.StoreRequests.WithLabelValues(operation, status).Inc()
	m.metrics.StoreLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
