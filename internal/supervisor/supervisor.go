// Package supervisor periodically sweeps the state of one flow and acts
// on inactivity: a reminder past the first threshold, cancellation past
// the second.
package supervisor

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"club-bot/internal/cache"
	"club-bot/internal/flowstate"
	"club-bot/internal/metrics"
)

// Notifier delivers inactivity notifications to the user. Implemented by
// the flows engine on top of the WhatsApp sender.
type Notifier interface {
	FlowReminder(ctx context.Context, flow, waid, step string)
	FlowCancelled(ctx context.Context, flow, waid string)
}

// Config tunes one supervisor instance.
type Config struct {
	Flow              string
	Interval          time.Duration
	ReminderThreshold time.Duration
	CancelThreshold   time.Duration
}

// Supervisor watches a single flow name.
type Supervisor struct {
	states   *flowstate.Machine
	cache    *cache.Redis
	notifier Notifier
	logger   *slog.Logger
	metrics  *metrics.Metrics
	cfg      Config
	now      func() time.Time
}

// New builds a Supervisor; Run starts the periodic scan.
func New(states *flowstate.Machine, redis *cache.Redis, notifier Notifier, m *metrics.Metrics, logger *slog.Logger, cfg Config) *Supervisor {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	return &Supervisor{
		states:   states,
		cache:    redis,
		notifier: notifier,
		logger:   logger.With("component", "supervisor", "flow", cfg.Flow),
		metrics:  m,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Run scans on a fixed interval until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info("supervisor started", "interval", s.cfg.Interval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("supervisor stopping")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one scan cycle. Exported so tests and the admin surface can
// trigger a cycle directly.
func (s *Supervisor) Sweep(ctx context.Context) {
	keys, err := s.cache.Keys(ctx, cache.FlowPattern(s.cfg.Flow))
	if err != nil {
		s.logger.Error("flow key scan failed", "error", err)
		return
	}

	now := s.now()
	for _, key := range keys {
		// One malformed record must not stop the sweep.
		if err := s.inspect(ctx, key, now); err != nil {
			s.logger.Error("flow state inspection failed", "key", key, "error", err)
		}
	}
}

func (s *Supervisor) inspect(ctx context.Context, key string, now time.Time) error {
	waid := strings.TrimPrefix(key, s.cfg.Flow+":")

	state, err := s.states.Get(ctx, s.cfg.Flow, waid)
	if err != nil {
		return err
	}
	if len(state) == 0 {
		return nil
	}

	lastActive := flowstate.LastActive(state)
	if lastActive.IsZero() {
		// No usable stamp; treat as just active rather than cancel.
		return nil
	}
	elapsed := now.Sub(lastActive)

	switch {
	case elapsed > s.cfg.CancelThreshold:
		if err := s.states.Delete(ctx, s.cfg.Flow, waid); err != nil {
			return err
		}
		s.notifier.FlowCancelled(ctx, s.cfg.Flow, waid)
		if s.metrics != nil {
			s.metrics.FlowTimeouts.WithLabelValues(s.cfg.Flow, "cancel").Inc()
		}
		s.logger.Info("flow cancelled for inactivity", "waid", waid, "elapsed", elapsed)
	case elapsed > s.cfg.ReminderThreshold:
		// last_active is deliberately left untouched: the reminder
		// re-fires every cycle until the user answers or the cancel
		// threshold is crossed.
		s.notifier.FlowReminder(ctx, s.cfg.Flow, waid, state[flowstate.StepField])
		if s.metrics != nil {
			s.metrics.FlowTimeouts.WithLabelValues(s.cfg.Flow, "reminder").Inc()
		}
		s.logger.Info("inactivity reminder sent", "waid", waid, "elapsed", elapsed)
	}
	return nil
}
