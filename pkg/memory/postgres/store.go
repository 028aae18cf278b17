// Package postgres provides a PostgreSQL-backed [memory.Store] for server
// deployments where many devices share one database.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	added, _ := store.AppendFact(ctx, "ava", memory.FactInput{Text: "Lives in Lisbon"})
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/kindred/pkg/memory"
)

var _ memory.Store = (*Store)(nil)

// Store is a [memory.Store] on a [pgxpool.Pool]. All operations are safe for
// concurrent use; counters are updated with single atomic statements.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the database at dsn, verifies the connection and runs
// [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// EnsureRecord implements [memory.Store].
func (s *Store) EnsureRecord(ctx context.Context, companionID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO companion_memories (companion_id)
		VALUES ($1)
		ON CONFLICT (companion_id) DO NOTHING`,
		companionID,
	)
	if err != nil {
		return fmt.Errorf("postgres store: ensure record: %w", err)
	}
	return nil
}

// Record implements [memory.Store].
func (s *Store) Record(ctx context.Context, companionID string) (memory.CompanionMemory, error) {
	if err := s.EnsureRecord(ctx, companionID); err != nil {
		return memory.CompanionMemory{}, err
	}
	rec := memory.CompanionMemory{CompanionID: companionID}
	err := s.pool.QueryRow(ctx, `
		SELECT user_name, relationship_level, total_call_seconds, call_count, last_interaction_at, created_at
		FROM   companion_memories
		WHERE  companion_id = $1`,
		companionID,
	).Scan(&rec.UserName, &rec.RelationshipLevel, &rec.TotalCallSeconds, &rec.CallCount, &rec.LastInteractionAt, &rec.CreatedAt)
	if err != nil {
		return memory.CompanionMemory{}, fmt.Errorf("postgres store: read record: %w", err)
	}
	return rec, nil
}

// UserName implements [memory.Store].
func (s *Store) UserName(ctx context.Context, companionID string) (string, error) {
	var name string
	err := s.pool.QueryRow(ctx,
		`SELECT user_name FROM companion_memories WHERE companion_id = $1`, companionID,
	).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("postgres store: user name: %w", err)
	}
	return name, nil
}

// SetUserName implements [memory.Store].
func (s *Store) SetUserName(ctx context.Context, companionID, name string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO companion_memories (companion_id, user_name)
		VALUES ($1, $2)
		ON CONFLICT (companion_id) DO UPDATE SET user_name = EXCLUDED.user_name`,
		companionID, strings.TrimSpace(name),
	)
	if err != nil {
		return fmt.Errorf("postgres store: set user name: %w", err)
	}
	return nil
}

// AppendFact implements [memory.Store].
func (s *Store) AppendFact(ctx context.Context, companionID string, fact memory.FactInput) (bool, error) {
	fact, err := fact.Normalize()
	if err != nil {
		return false, err
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO learned_facts (id, companion_id, text, text_key, importance, category)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (companion_id, text_key) DO NOTHING`,
		uuid.New(), companionID, fact.Text, memory.FoldKey(fact.Text),
		string(fact.Importance), string(fact.Category),
	)
	if err != nil {
		return false, fmt.Errorf("postgres store: append fact: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// RecentFacts implements [memory.Store].
func (s *Store) RecentFacts(ctx context.Context, companionID string, limit int) ([]memory.LearnedFact, error) {
	if limit <= 0 {
		return []memory.LearnedFact{}, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id::text, text, importance, category, learned_at
		FROM   learned_facts
		WHERE  companion_id = $1
		ORDER  BY seq DESC
		LIMIT  $2`,
		companionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres store: recent facts: %w", err)
	}
	facts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.LearnedFact, error) {
		f := memory.LearnedFact{CompanionID: companionID}
		var importance, category string
		if err := row.Scan(&f.ID, &f.Text, &importance, &category, &f.LearnedAt); err != nil {
			return memory.LearnedFact{}, err
		}
		f.Importance = memory.Importance(importance)
		f.Category = memory.Category(category)
		return f, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan facts: %w", err)
	}
	if facts == nil {
		facts = []memory.LearnedFact{}
	}
	return facts, nil
}

// AppendSummary implements [memory.Store].
func (s *Store) AppendSummary(ctx context.Context, companionID string, in memory.SummaryInput) (memory.ConversationSummary, error) {
	topics := in.Topics
	if topics == nil {
		topics = []string{}
	}
	sum := memory.ConversationSummary{
		ID:              uuid.NewString(),
		CompanionID:     companionID,
		DurationSeconds: max(in.DurationSeconds, 0),
		Text:            in.Text,
		Mood:            in.Mood,
		Topics:          topics,
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO conversation_summaries (id, companion_id, duration_seconds, summary_text, mood, topics)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING occurred_at`,
		sum.ID, companionID, sum.DurationSeconds, sum.Text, sum.Mood, topics,
	).Scan(&sum.OccurredAt)
	if err != nil {
		return memory.ConversationSummary{}, fmt.Errorf("postgres store: append summary: %w", err)
	}
	return sum, nil
}

// RecentSummaries implements [memory.Store].
func (s *Store) RecentSummaries(ctx context.Context, companionID string, limit int) ([]memory.ConversationSummary, error) {
	if limit <= 0 {
		return []memory.ConversationSummary{}, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id::text, occurred_at, duration_seconds, summary_text, mood, topics
		FROM   conversation_summaries
		WHERE  companion_id = $1
		ORDER  BY seq DESC
		LIMIT  $2`,
		companionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres store: recent summaries: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.ConversationSummary, error) {
		sum := memory.ConversationSummary{CompanionID: companionID}
		err := row.Scan(&sum.ID, &sum.OccurredAt, &sum.DurationSeconds, &sum.Text, &sum.Mood, &sum.Topics)
		if sum.Topics == nil {
			sum.Topics = []string{}
		}
		return sum, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan summaries: %w", err)
	}
	if out == nil {
		out = []memory.ConversationSummary{}
	}
	return out, nil
}

// AppendEmotion implements [memory.Store].
func (s *Store) AppendEmotion(ctx context.Context, companionID string, in memory.EmotionInput) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO emotional_entries (id, companion_id, mood, context, intensity)
		VALUES ($1, $2, $3, $4, $5)`,
		uuid.New(), companionID, in.Mood, in.Context, memory.ClampIntensity(in.Intensity),
	)
	if err != nil {
		return fmt.Errorf("postgres store: append emotion: %w", err)
	}
	return nil
}

// RecentEmotions implements [memory.Store].
func (s *Store) RecentEmotions(ctx context.Context, companionID string, limit int) ([]memory.EmotionalEntry, error) {
	if limit <= 0 {
		return []memory.EmotionalEntry{}, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id::text, timestamp, mood, context, intensity
		FROM   emotional_entries
		WHERE  companion_id = $1
		ORDER  BY seq DESC
		LIMIT  $2`,
		companionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres store: recent emotions: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.EmotionalEntry, error) {
		e := memory.EmotionalEntry{CompanionID: companionID}
		err := row.Scan(&e.ID, &e.Timestamp, &e.Mood, &e.Context, &e.Intensity)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan emotions: %w", err)
	}
	if out == nil {
		out = []memory.EmotionalEntry{}
	}
	return out, nil
}

// AdjustRelationshipLevel implements [memory.Store].
func (s *Store) AdjustRelationshipLevel(ctx context.Context, companionID string, delta int) (int, error) {
	var level int
	err := s.pool.QueryRow(ctx, `
		INSERT INTO companion_memories (companion_id, relationship_level)
		VALUES ($1, GREATEST($2::int, $2::int + $3::int))
		ON CONFLICT (companion_id) DO UPDATE
		    SET relationship_level = GREATEST($2::int, companion_memories.relationship_level + $3::int)
		RETURNING relationship_level`,
		companionID, memory.MinRelationshipLevel, delta,
	).Scan(&level)
	if err != nil {
		return 0, fmt.Errorf("postgres store: adjust relationship level: %w", err)
	}
	return level, nil
}

// RecordCall implements [memory.Store].
func (s *Store) RecordCall(ctx context.Context, companionID string, duration time.Duration) error {
	seconds := max(int(duration/time.Second), 0)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO companion_memories (companion_id, call_count, total_call_seconds, last_interaction_at)
		VALUES ($1, 1, $2, now())
		ON CONFLICT (companion_id) DO UPDATE
		    SET call_count          = companion_memories.call_count + 1,
		        total_call_seconds  = companion_memories.total_call_seconds + EXCLUDED.total_call_seconds,
		        last_interaction_at = EXCLUDED.last_interaction_at`,
		companionID, seconds,
	)
	if err != nil {
		return fmt.Errorf("postgres store: record call: %w", err)
	}
	return nil
}

// Ping implements [memory.Store].
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres store: ping: %w", err)
	}
	return nil
}

// Close implements [memory.Store]. It releases all pooled connections.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
