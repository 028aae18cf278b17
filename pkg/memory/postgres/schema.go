package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlCompanionMemories = `
CREATE TABLE IF NOT EXISTS companion_memories (
    companion_id        TEXT         PRIMARY KEY,
    user_name           TEXT         NOT NULL DEFAULT '',
    relationship_level  INTEGER      NOT NULL DEFAULT 1 CHECK (relationship_level >= 1),
    total_call_seconds  INTEGER      NOT NULL DEFAULT 0 CHECK (total_call_seconds >= 0),
    call_count          INTEGER      NOT NULL DEFAULT 0 CHECK (call_count >= 0),
    last_interaction_at TIMESTAMPTZ,
    created_at          TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

const ddlLearnedFacts = `
CREATE TABLE IF NOT EXISTS learned_facts (
    seq          BIGSERIAL    PRIMARY KEY,
    id           UUID         NOT NULL UNIQUE,
    companion_id TEXT         NOT NULL,
    text         TEXT         NOT NULL,
    text_key     TEXT         NOT NULL,
    importance   TEXT         NOT NULL CHECK (importance IN ('low', 'medium', 'high')),
    category     TEXT         NOT NULL,
    learned_at   TIMESTAMPTZ  NOT NULL DEFAULT now(),
    UNIQUE (companion_id, text_key)
);

CREATE INDEX IF NOT EXISTS idx_learned_facts_companion
    ON learned_facts (companion_id, seq DESC);
`

const ddlConversationSummaries = `
CREATE TABLE IF NOT EXISTS conversation_summaries (
    seq              BIGSERIAL    PRIMARY KEY,
    id               UUID         NOT NULL UNIQUE,
    companion_id     TEXT         NOT NULL,
    occurred_at      TIMESTAMPTZ  NOT NULL DEFAULT now(),
    duration_seconds INTEGER      NOT NULL DEFAULT 0 CHECK (duration_seconds >= 0),
    summary_text     TEXT         NOT NULL,
    mood             TEXT         NOT NULL DEFAULT '',
    topics           TEXT[]       NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_conversation_summaries_companion
    ON conversation_summaries (companion_id, seq DESC);
`

const ddlEmotionalEntries = `
CREATE TABLE IF NOT EXISTS emotional_entries (
    seq          BIGSERIAL    PRIMARY KEY,
    id           UUID         NOT NULL UNIQUE,
    companion_id TEXT         NOT NULL,
    timestamp    TIMESTAMPTZ  NOT NULL DEFAULT now(),
    mood         TEXT         NOT NULL,
    context      TEXT         NOT NULL DEFAULT '',
    intensity    INTEGER      NOT NULL CHECK (intensity BETWEEN 1 AND 10)
);

CREATE INDEX IF NOT EXISTS idx_emotional_entries_companion
    ON emotional_entries (companion_id, seq DESC);
`

// Migrate creates all companion memory tables and indexes. It is idempotent
// (CREATE ... IF NOT EXISTS) and safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	statements := []string{
		ddlCompanionMemories,
		ddlLearnedFacts,
		ddlConversationSummaries,
		ddlEmotionalEntries,
	}
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
