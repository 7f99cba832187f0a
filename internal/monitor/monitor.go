// Package monitor runs periodic o!rdr housekeeping on a cron schedule.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/jrjohn/ordr-go/internal/observability"
	"github.com/jrjohn/ordr-go/pkg/logger"
)

const (
	// Common schedules
	EveryThirtySeconds = "@every 30s"
	EveryMinute        = "* * * * *"
	DailyMidnight      = "0 0 * * *"
)

// Config holds monitor configuration
type Config struct {
	Enabled          bool          `mapstructure:"enabled"`
	OnlineSchedule   string        `mapstructure:"online_schedule"`
	PruneSchedule    string        `mapstructure:"prune_schedule"`
	JournalRetention time.Duration `mapstructure:"journal_retention"`
	PruneLockTTL     time.Duration `mapstructure:"prune_lock_ttl"`
	Timeout          time.Duration `mapstructure:"timeout"`
}

// DefaultConfig returns default monitor configuration
func DefaultConfig() *Config {
	return &Config{
		Enabled:          false,
		OnlineSchedule:   EveryThirtySeconds,
		PruneSchedule:    DailyMidnight,
		JournalRetention: 7 * 24 * time.Hour,
		PruneLockTTL:     5 * time.Minute,
		Timeout:          10 * time.Second,
	}
}

// OnlineInterval returns the shortest gap between two online count polls.
func (c Config) OnlineInterval() (time.Duration, error) {
	sched, err := cron.ParseStandard(c.OnlineSchedule)
	if err != nil {
		return 0, fmt.Errorf("failed to parse online schedule: %w", err)
	}

	prev := sched.Next(time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC))
	var shortest time.Duration
	for i := 0; i < 64 && !prev.IsZero(); i++ {
		next := sched.Next(prev)
		if next.IsZero() {
			break
		}
		if gap := next.Sub(prev); shortest == 0 || gap < shortest {
			shortest = gap
		}
		prev = next
	}
	return shortest, nil
}

// OnlineCounter reports how many render servers are online.
type OnlineCounter interface {
	GetServerOnlineCount(ctx context.Context) (int, error)
}

// Pruner drops journal entries older than a cutoff.
type Pruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// Recorder receives online count samples.
type Recorder interface {
	RecordOnlineCount(ctx context.Context, count int)
}

// Snapshot is the outcome of the latest online count poll.
type Snapshot struct {
	Online    int       `json:"online"`
	CheckedAt time.Time `json:"checkedAt"`
	Error     string    `json:"error,omitempty"`
}

// Option configures a Monitor
type Option func(*Monitor)

// WithPruner enables scheduled journal pruning.
func WithPruner(p Pruner) Option {
	return func(m *Monitor) { m.pruner = p }
}

// WithRecorder sends online counts to r.
func WithRecorder(r Recorder) Option {
	return func(m *Monitor) { m.recorder = r }
}

// WithLocker makes Prune skip runs while another process holds the lock.
func WithLocker(l Locker) Option {
	return func(m *Monitor) { m.locker = l }
}

// WithTracer wraps each poll in a span.
func WithTracer(t trace.Tracer) Option {
	return func(m *Monitor) {
		if t != nil {
			m.tracer = t
		}
	}
}

// Monitor polls the online server count and prunes the event journal.
type Monitor struct {
	config   *Config
	counter  OnlineCounter
	pruner   Pruner
	recorder Recorder
	locker   Locker
	tracer   trace.Tracer
	logger   *zap.Logger
	cron     *cron.Cron

	mu      sync.RWMutex
	last    Snapshot
	running bool
}

// New validates the schedules and builds a stopped Monitor.
func New(cfg *Config, counter OnlineCounter, log *zap.Logger, opts ...Option) (*Monitor, error) {
	if counter == nil {
		return nil, fmt.Errorf("monitor requires an online counter")
	}
	m := &Monitor{
		config:  cfg,
		counter: counter,
		tracer:  noop.NewTracerProvider().Tracer("monitor"),
		logger:  logger.OrNop(log),
		cron:    cron.New(),
	}
	for _, opt := range opts {
		opt(m)
	}

	if _, err := m.cron.AddFunc(cfg.OnlineSchedule, func() { _, _ = m.Poll(context.Background()) }); err != nil {
		return nil, fmt.Errorf("invalid online schedule %q: %w", cfg.OnlineSchedule, err)
	}
	if m.pruner != nil && cfg.JournalRetention > 0 {
		if _, err := m.cron.AddFunc(cfg.PruneSchedule, func() { _, _ = m.Prune(context.Background()) }); err != nil {
			return nil, fmt.Errorf("invalid prune schedule %q: %w", cfg.PruneSchedule, err)
		}
	}
	return m, nil
}

// Start runs the schedules in the background and takes a first sample.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("monitor already running")
	}
	m.running = true
	m.mu.Unlock()

	m.logger.Info("Starting monitor",
		zap.String("online_schedule", m.config.OnlineSchedule),
		zap.Bool("prune", m.pruner != nil && m.config.JournalRetention > 0),
	)
	m.cron.Start()
	go func() { _, _ = m.Poll(ctx) }()
	return nil
}

// Stop waits for running jobs or for ctx, whichever ends first.
func (m *Monitor) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	m.mu.Unlock()

	m.logger.Info("Stopping monitor")
	done := m.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Poll queries the online count once and records the result.
func (m *Monitor) Poll(ctx context.Context) (int, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	ctx, span := m.tracer.Start(ctx, "monitor.online_count")
	defer span.End()

	count, err := m.counter.GetServerOnlineCount(ctx)
	snapshot := Snapshot{Online: count, CheckedAt: time.Now()}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		snapshot.Error = err.Error()
		m.logger.Warn("online count poll failed", zap.Error(err))
	} else {
		span.SetAttributes(observability.AttrOnlineCount.Int(count))
		if m.recorder != nil {
			m.recorder.RecordOnlineCount(ctx, count)
		}
		m.logger.Debug("online count", zap.Int("servers", count))
	}

	m.mu.Lock()
	m.last = snapshot
	m.mu.Unlock()
	return count, err
}

// Prune removes journal entries older than the configured retention.
func (m *Monitor) Prune(ctx context.Context) (int64, error) {
	if m.pruner == nil || m.config.JournalRetention <= 0 {
		return 0, nil
	}
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	if m.locker != nil {
		release, err := m.locker.TryLock(ctx, "journal-prune", m.lockTTL())
		if errors.Is(err, ErrLockNotAcquired) {
			m.logger.Debug("journal prune running elsewhere, skipping")
			return 0, nil
		}
		if err != nil {
			m.logger.Error("journal prune lock failed", zap.Error(err))
			return 0, err
		}
		defer func() {
			if err := release(context.Background()); err != nil {
				m.logger.Warn("journal prune unlock failed", zap.Error(err))
			}
		}()
	}

	deleted, err := m.pruner.Prune(ctx, time.Now().Add(-m.config.JournalRetention))
	if err != nil {
		m.logger.Error("journal prune failed", zap.Error(err))
		return 0, err
	}
	if deleted > 0 {
		m.logger.Info("journal pruned", zap.Int64("deleted", deleted))
	}
	return deleted, nil
}

// Last returns the latest poll outcome. CheckedAt is zero before the first poll.
func (m *Monitor) Last() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

func (m *Monitor) lockTTL() time.Duration {
	if m.config.PruneLockTTL > 0 {
		return m.config.PruneLockTTL
	}
	return 5 * time.Minute
}

func (m *Monitor) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.config.Timeout > 0 {
		return context.WithTimeout(ctx, m.config.Timeout)
	}
	return context.WithCancel(ctx)
}
