// Package sqlite is the embedded [memory.Store] backend. It is the default
// for single-device deployments: one database file, opened with WAL
// journaling and a single connection, migrated from SQL files embedded in
// the binary.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/MrWong99/kindred/pkg/memory"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timeLayout is fixed width so that stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

var _ memory.Store = (*Store)(nil)

// Store is a SQLite-backed [memory.Store]. It is safe for concurrent use.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the database at path and applies pending
// migrations. Use ":memory:" for a throwaway database.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open: %w", err)
	}
	// A single connection serialises writers and keeps ":memory:" databases
	// alive across queries.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite store: %s: %w", p, err)
		}
	}

	s := &Store{db: db, now: time.Now}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: migrate: %w", err)
	}
	return s, nil
}

// migrate applies every embedded migration newer than the recorded version.
func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  TEXT NOT NULL
		)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	if err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, e := range entries {
		version, description, ok := parseMigrationName(e.Name())
		if !ok || version <= current {
			continue
		}
		content, err := migrationsFS.ReadFile("migrations/" + e.Name())
		if err != nil {
			return fmt.Errorf("read %s: %w", e.Name(), err)
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin %s: %w", e.Name(), err)
		}
		if _, err := tx.ExecContext(ctx, string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply %s: %w", e.Name(), err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)",
			version, description, formatTime(s.now()),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record %s: %w", e.Name(), err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit %s: %w", e.Name(), err)
		}
		slog.Info("sqlite store: applied migration", "version", version, "description", description)
	}
	return nil
}

// parseMigrationName splits "0001_description.sql" into its parts.
func parseMigrationName(name string) (int, string, bool) {
	if !strings.HasSuffix(name, ".sql") {
		return 0, "", false
	}
	num, desc, ok := strings.Cut(strings.TrimSuffix(name, ".sql"), "_")
	if !ok {
		return 0, "", false
	}
	var version int
	if _, err := fmt.Sscanf(num, "%d", &version); err != nil {
		return 0, "", false
	}
	return version, desc, true
}

// EnsureRecord implements [memory.Store].
func (s *Store) EnsureRecord(ctx context.Context, companionID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO companion_memories (companion_id, created_at)
		VALUES (?, ?)`,
		companionID, formatTime(s.now()),
	)
	if err != nil {
		return fmt.Errorf("sqlite store: ensure record: %w", err)
	}
	return nil
}

// Record implements [memory.Store].
func (s *Store) Record(ctx context.Context, companionID string) (memory.CompanionMemory, error) {
	if err := s.EnsureRecord(ctx, companionID); err != nil {
		return memory.CompanionMemory{}, err
	}

	var (
		rec       = memory.CompanionMemory{CompanionID: companionID}
		lastAt    sql.NullString
		createdAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT user_name, relationship_level, total_call_seconds, call_count, last_interaction_at, created_at
		FROM companion_memories WHERE companion_id = ?`,
		companionID,
	).Scan(&rec.UserName, &rec.RelationshipLevel, &rec.TotalCallSeconds, &rec.CallCount, &lastAt, &createdAt)
	if err != nil {
		return memory.CompanionMemory{}, fmt.Errorf("sqlite store: read record: %w", err)
	}
	rec.CreatedAt = parseTime(createdAt)
	if lastAt.Valid {
		t := parseTime(lastAt.String)
		rec.LastInteractionAt = &t
	}
	return rec, nil
}

// UserName implements [memory.Store].
func (s *Store) UserName(ctx context.Context, companionID string) (string, error) {
	var name string
	err := s.db.QueryRowContext(ctx,
		"SELECT user_name FROM companion_memories WHERE companion_id = ?", companionID,
	).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("sqlite store: user name: %w", err)
	}
	return name, nil
}

// SetUserName implements [memory.Store].
func (s *Store) SetUserName(ctx context.Context, companionID, name string) error {
	if err := s.EnsureRecord(ctx, companionID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		"UPDATE companion_memories SET user_name = ? WHERE companion_id = ?",
		strings.TrimSpace(name), companionID,
	)
	if err != nil {
		return fmt.Errorf("sqlite store: set user name: %w", err)
	}
	return nil
}

// AppendFact implements [memory.Store].
func (s *Store) AppendFact(ctx context.Context, companionID string, fact memory.FactInput) (bool, error) {
	fact, err := fact.Normalize()
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO learned_facts
			(id, companion_id, text, text_key, importance, category, learned_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), companionID, fact.Text, memory.FoldKey(fact.Text),
		string(fact.Importance), string(fact.Category), formatTime(s.now()),
	)
	if err != nil {
		return false, fmt.Errorf("sqlite store: append fact: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite store: append fact: %w", err)
	}
	return n > 0, nil
}

// RecentFacts implements [memory.Store].
func (s *Store) RecentFacts(ctx context.Context, companionID string, limit int) ([]memory.LearnedFact, error) {
	if limit <= 0 {
		return []memory.LearnedFact{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, text, importance, category, learned_at
		FROM learned_facts
		WHERE companion_id = ?
		ORDER BY seq DESC
		LIMIT ?`,
		companionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: recent facts: %w", err)
	}
	defer rows.Close()

	facts := []memory.LearnedFact{}
	for rows.Next() {
		var (
			f          = memory.LearnedFact{CompanionID: companionID}
			importance string
			category   string
			learnedAt  string
		)
		if err := rows.Scan(&f.ID, &f.Text, &importance, &category, &learnedAt); err != nil {
			return nil, fmt.Errorf("sqlite store: scan fact: %w", err)
		}
		f.Importance = memory.Importance(importance)
		f.Category = memory.Category(category)
		f.LearnedAt = parseTime(learnedAt)
		facts = append(facts, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite store: recent facts: %w", err)
	}
	return facts, nil
}

// AppendSummary implements [memory.Store].
func (s *Store) AppendSummary(ctx context.Context, companionID string, in memory.SummaryInput) (memory.ConversationSummary, error) {
	topics := in.Topics
	if topics == nil {
		topics = []string{}
	}
	topicsJSON, err := json.Marshal(topics)
	if err != nil {
		return memory.ConversationSummary{}, fmt.Errorf("sqlite store: marshal topics: %w", err)
	}

	sum := memory.ConversationSummary{
		ID:              uuid.NewString(),
		CompanionID:     companionID,
		OccurredAt:      s.now().UTC(),
		DurationSeconds: max(in.DurationSeconds, 0),
		Text:            in.Text,
		Mood:            in.Mood,
		Topics:          topics,
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversation_summaries
			(id, companion_id, occurred_at, duration_seconds, summary_text, mood, topics)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sum.ID, companionID, formatTime(sum.OccurredAt), sum.DurationSeconds, sum.Text, sum.Mood, string(topicsJSON),
	)
	if err != nil {
		return memory.ConversationSummary{}, fmt.Errorf("sqlite store: append summary: %w", err)
	}
	return sum, nil
}

// RecentSummaries implements [memory.Store].
func (s *Store) RecentSummaries(ctx context.Context, companionID string, limit int) ([]memory.ConversationSummary, error) {
	if limit <= 0 {
		return []memory.ConversationSummary{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, occurred_at, duration_seconds, summary_text, mood, topics
		FROM conversation_summaries
		WHERE companion_id = ?
		ORDER BY seq DESC
		LIMIT ?`,
		companionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: recent summaries: %w", err)
	}
	defer rows.Close()

	out := []memory.ConversationSummary{}
	for rows.Next() {
		var (
			sum        = memory.ConversationSummary{CompanionID: companionID}
			occurredAt string
			topicsJSON string
		)
		if err := rows.Scan(&sum.ID, &occurredAt, &sum.DurationSeconds, &sum.Text, &sum.Mood, &topicsJSON); err != nil {
			return nil, fmt.Errorf("sqlite store: scan summary: %w", err)
		}
		sum.OccurredAt = parseTime(occurredAt)
		if err := json.Unmarshal([]byte(topicsJSON), &sum.Topics); err != nil {
			slog.Warn("sqlite store: malformed topics", "summary_id", sum.ID, "err", err)
			sum.Topics = []string{}
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite store: recent summaries: %w", err)
	}
	return out, nil
}

// AppendEmotion implements [memory.Store].
func (s *Store) AppendEmotion(ctx context.Context, companionID string, in memory.EmotionInput) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO emotional_entries (id, companion_id, timestamp, mood, context, intensity)
		VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), companionID, formatTime(s.now()), in.Mood, in.Context, memory.ClampIntensity(in.Intensity),
	)
	if err != nil {
		return fmt.Errorf("sqlite store: append emotion: %w", err)
	}
	return nil
}

// RecentEmotions implements [memory.Store].
func (s *Store) RecentEmotions(ctx context.Context, companionID string, limit int) ([]memory.EmotionalEntry, error) {
	if limit <= 0 {
		return []memory.EmotionalEntry{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, mood, context, intensity
		FROM emotional_entries
		WHERE companion_id = ?
		ORDER BY seq DESC
		LIMIT ?`,
		companionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: recent emotions: %w", err)
	}
	defer rows.Close()

	out := []memory.EmotionalEntry{}
	for rows.Next() {
		var (
			e  = memory.EmotionalEntry{CompanionID: companionID}
			ts string
		)
		if err := rows.Scan(&e.ID, &ts, &e.Mood, &e.Context, &e.Intensity); err != nil {
			return nil, fmt.Errorf("sqlite store: scan emotion: %w", err)
		}
		e.Timestamp = parseTime(ts)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite store: recent emotions: %w", err)
	}
	return out, nil
}

// AdjustRelationshipLevel implements [memory.Store].
func (s *Store) AdjustRelationshipLevel(ctx context.Context, companionID string, delta int) (int, error) {
	if err := s.EnsureRecord(ctx, companionID); err != nil {
		return 0, err
	}
	var level int
	err := s.db.QueryRowContext(ctx, `
		UPDATE companion_memories
		SET relationship_level = MAX(?, relationship_level + ?)
		WHERE companion_id = ?
		RETURNING relationship_level`,
		memory.MinRelationshipLevel, delta, companionID,
	).Scan(&level)
	if err != nil {
		return 0, fmt.Errorf("sqlite store: adjust relationship level: %w", err)
	}
	return level, nil
}

// RecordCall implements [memory.Store].
func (s *Store) RecordCall(ctx context.Context, companionID string, duration time.Duration) error {
	if err := s.EnsureRecord(ctx, companionID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE companion_memories
		SET call_count          = call_count + 1,
		    total_call_seconds  = total_call_seconds + ?,
		    last_interaction_at = ?
		WHERE companion_id = ?`,
		max(int(duration/time.Second), 0), formatTime(s.now()), companionID,
	)
	if err != nil {
		return fmt.Errorf("sqlite store: record call: %w", err)
	}
	return nil
}

// Ping implements [memory.Store].
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite store: ping: %w", err)
	}
	return nil
}

// Close implements [memory.Store].
func (s *Store) Close() error { return s.db.Close() }

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// Rows written by hand or older tools may use plain RFC 3339.
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}
