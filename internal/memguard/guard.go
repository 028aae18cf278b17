// Package memguard makes companion memory non-fatal for calls.
//
// [Guard] wraps a [memory.Store] and applies the outage policy: when the
// store is missing (opening it failed), erroring or known to be down, reads
// return the defaults of a first-time caller and writes are dropped. Nothing
// is retried. A circuit breaker skips a dead backend entirely, so a call never
// waits on database timeouts more than a few times in a row.
package memguard

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/MrWong99/kindred/internal/observe"
	"github.com/MrWong99/kindred/internal/resilience"
	"github.com/MrWong99/kindred/pkg/memory"
)

// ErrUnavailable is returned by [Guard.Ping] when no store is configured.
var ErrUnavailable = errors.New("memguard: memory store unavailable")

const defaultOpTimeout = 2 * time.Second

// Guard is a fail-open [memory.Store]. All methods are safe for concurrent
// use and never return an error except [Guard.Ping].
type Guard struct {
	store     memory.Store
	breaker   *resilience.CircuitBreaker
	metrics   *observe.Metrics
	opTimeout time.Duration
	degraded  atomic.Bool
}

// Option configures a [Guard].
type Option func(*Guard)

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(g *Guard) { g.metrics = m }
}

// WithBreaker replaces the default circuit breaker configuration.
func WithBreaker(cfg resilience.CircuitBreakerConfig) Option {
	return func(g *Guard) { g.breaker = resilience.NewCircuitBreaker(cfg) }
}

// WithOpTimeout bounds every store operation. Default: 2s.
func WithOpTimeout(d time.Duration) Option {
	return func(g *Guard) {
		if d > 0 {
			g.opTimeout = d
		}
	}
}

// New wraps store. A nil store is valid: the guard then serves defaults only.
func New(store memory.Store, opts ...Option) *Guard {
	g := &Guard{store: store, opTimeout: defaultOpTimeout}
	for _, o := range opts {
		o(g)
	}
	if g.breaker == nil {
		g.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "memory"})
	}
	if g.metrics == nil {
		g.metrics = observe.DefaultMetrics()
	}
	if store == nil {
		g.degraded.Store(true)
	}
	return g
}

// Degraded reports whether the store is missing or its most recent
// operation failed.
func (g *Guard) Degraded() bool {
	return g.store == nil || g.degraded.Load()
}

// do runs fn against the store through the breaker and reports success.
func (g *Guard) do(ctx context.Context, op, companionID string, fn func(context.Context, memory.Store) error) bool {
	if g.store == nil {
		return false
	}
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, g.opTimeout)
		defer cancel()
		return fn(ctx, g.store)
	})
	if err == nil {
		g.degraded.Store(false)
		return true
	}
	g.degraded.Store(true)
	level := slog.LevelWarn
	if errors.Is(err, resilience.ErrCircuitOpen) {
		level = slog.LevelDebug
	}
	slog.Log(ctx, level, "memguard: store operation failed",
		"op", op,
		"companion_id", companionID,
		"err", err,
	)
	return false
}

// read runs a store read, returning def when it cannot be served.
func read[T any](ctx context.Context, g *Guard, op, companionID string, def T, fn func(context.Context, memory.Store) (T, error)) T {
	var out T
	ok := g.do(ctx, op, companionID, func(ctx context.Context, s memory.Store) error {
		var err error
		out, err = fn(ctx, s)
		return err
	})
	if !ok {
		g.metrics.RecordMemoryDefault(ctx, op)
		return def
	}
	return out
}

// write runs a store write, dropping it when it cannot be served.
func (g *Guard) write(ctx context.Context, op, companionID string, fn func(context.Context, memory.Store) error) bool {
	if g.do(ctx, op, companionID, fn) {
		return true
	}
	g.metrics.RecordMemoryDrop(ctx, op)
	return false
}

// EnsureRecord implements [memory.Store].
func (g *Guard) EnsureRecord(ctx context.Context, companionID string) error {
	g.write(ctx, "EnsureRecord", companionID, func(ctx context.Context, s memory.Store) error {
		return s.EnsureRecord(ctx, companionID)
	})
	return nil
}

// Record implements [memory.Store]. On failure it returns a fresh record.
func (g *Guard) Record(ctx context.Context, companionID string) (memory.CompanionMemory, error) {
	return read(ctx, g, "Record", companionID, memory.NewRecord(companionID, time.Now()),
		func(ctx context.Context, s memory.Store) (memory.CompanionMemory, error) {
			return s.Record(ctx, companionID)
		}), nil
}

// UserName implements [memory.Store]. On failure the name is unknown.
func (g *Guard) UserName(ctx context.Context, companionID string) (string, error) {
	return read(ctx, g, "UserName", companionID, "",
		func(ctx context.Context, s memory.Store) (string, error) {
			return s.UserName(ctx, companionID)
		}), nil
}

// SetUserName implements [memory.Store].
func (g *Guard) SetUserName(ctx context.Context, companionID, name string) error {
	g.write(ctx, "SetUserName", companionID, func(ctx context.Context, s memory.Store) error {
		return s.SetUserName(ctx, companionID, name)
	})
	return nil
}

// AppendFact implements [memory.Store]. A dropped fact reports added=false.
func (g *Guard) AppendFact(ctx context.Context, companionID string, fact memory.FactInput) (bool, error) {
	if _, err := fact.Normalize(); err != nil {
		return false, nil
	}
	var added bool
	g.write(ctx, "AppendFact", companionID, func(ctx context.Context, s memory.Store) error {
		var err error
		added, err = s.AppendFact(ctx, companionID, fact)
		return err
	})
	return added, nil
}

// RecentFacts implements [memory.Store].
func (g *Guard) RecentFacts(ctx context.Context, companionID string, limit int) ([]memory.LearnedFact, error) {
	return read(ctx, g, "RecentFacts", companionID, []memory.LearnedFact{},
		func(ctx context.Context, s memory.Store) ([]memory.LearnedFact, error) {
			return s.RecentFacts(ctx, companionID, limit)
		}), nil
}

// AppendSummary implements [memory.Store]. A dropped summary is returned
// without an id.
func (g *Guard) AppendSummary(ctx context.Context, companionID string, in memory.SummaryInput) (memory.ConversationSummary, error) {
	sum := memory.ConversationSummary{
		CompanionID:     companionID,
		OccurredAt:      time.Now(),
		DurationSeconds: in.DurationSeconds,
		Text:            in.Text,
		Mood:            in.Mood,
		Topics:          in.Topics,
	}
	g.write(ctx, "AppendSummary", companionID, func(ctx context.Context, s memory.Store) error {
		stored, err := s.AppendSummary(ctx, companionID, in)
		if err == nil {
			sum = stored
		}
		return err
	})
	return sum, nil
}

// RecentSummaries implements [memory.Store].
func (g *Guard) RecentSummaries(ctx context.Context, companionID string, limit int) ([]memory.ConversationSummary, error) {
	return read(ctx, g, "RecentSummaries", companionID, []memory.ConversationSummary{},
		func(ctx context.Context, s memory.Store) ([]memory.ConversationSummary, error) {
			return s.RecentSummaries(ctx, companionID, limit)
		}), nil
}

// AppendEmotion implements [memory.Store].
func (g *Guard) AppendEmotion(ctx context.Context, companionID string, in memory.EmotionInput) error {
	g.write(ctx, "AppendEmotion", companionID, func(ctx context.Context, s memory.Store) error {
		return s.AppendEmotion(ctx, companionID, in)
	})
	return nil
}

// RecentEmotions implements [memory.Store].
func (g *Guard) RecentEmotions(ctx context.Context, companionID string, limit int) ([]memory.EmotionalEntry, error) {
	return read(ctx, g, "RecentEmotions", companionID, []memory.EmotionalEntry{},
		func(ctx context.Context, s memory.Store) ([]memory.EmotionalEntry, error) {
			return s.RecentEmotions(ctx, companionID, limit)
		}), nil
}

// AdjustRelationshipLevel implements [memory.Store]. When the write is
// dropped the floor level is reported.
func (g *Guard) AdjustRelationshipLevel(ctx context.Context, companionID string, delta int) (int, error) {
	level := memory.MinRelationshipLevel
	g.write(ctx, "AdjustRelationshipLevel", companionID, func(ctx context.Context, s memory.Store) error {
		var err error
		level, err = s.AdjustRelationshipLevel(ctx, companionID, delta)
		return err
	})
	return level, nil
}

// RecordCall implements [memory.Store].
func (g *Guard) RecordCall(ctx context.Context, companionID string, duration time.Duration) error {
	g.write(ctx, "RecordCall", companionID, func(ctx context.Context, s memory.Store) error {
		return s.RecordCall(ctx, companionID, duration)
	})
	return nil
}

// Ping implements [memory.Store]. Unlike every other method it reports the
// failure, bypassing the circuit breaker, so that readiness probes see the
// real backend state.
func (g *Guard) Ping(ctx context.Context) error {
	if g.store == nil {
		return ErrUnavailable
	}
	err := g.store.Ping(ctx)
	g.degraded.Store(err != nil)
	return err
}

// Close implements [memory.Store].
func (g *Guard) Close() error {
	if g.store == nil {
		return nil
	}
	return g.store.Close()
}

// Compile-time check that Guard satisfies memory.Store.
var _ memory.Store = (*Guard)(nil)
