// Package memory defines the durable companion memory used to personalise
// voice calls.
//
// Memory is kept per companion (one user talks to many companions, so the
// companion id is the only key). It consists of four record kinds:
//
//   - [CompanionMemory]: the single per-companion record holding the user's
//     name, the relationship level and call counters.
//   - [LearnedFact]: short statements about the user, deduplicated
//     case-insensitively.
//   - [ConversationSummary]: one templated summary per completed call.
//   - [EmotionalEntry]: the aggregate mood of a call when it was not neutral.
//
// [Store] is the storage contract. Backends live in sub-packages (sqlite,
// postgres, mock). Every implementation must be safe for concurrent use and
// its writes must be idempotent or append-only, so that two calls with the
// same companion never lose each other's facts.
package memory

import (
	"context"
	"time"
)

// Store is the persistence contract for companion memory. All operations are
// keyed by companion id; the record is created lazily on first access.
type Store interface {
	// EnsureRecord creates the companion record if it does not exist yet.
	// It is idempotent.
	EnsureRecord(ctx context.Context, companionID string) error

	// Record ensures the record exists and returns it.
	Record(ctx context.Context, companionID string) (CompanionMemory, error)

	// UserName returns the stored user name, or "" when it is unknown.
	UserName(ctx context.Context, companionID string) (string, error)

	// SetUserName unconditionally replaces the stored user name. Callers that
	// must not overwrite an existing name check [Store.UserName] first.
	SetUserName(ctx context.Context, companionID, name string) error

	// AppendFact stores fact unless a fact with the same text (compared with
	// Unicode case folding) already exists for the companion. added reports
	// whether a new row was written.
	AppendFact(ctx context.Context, companionID string, fact FactInput) (added bool, err error)

	// RecentFacts returns up to limit facts, newest first.
	RecentFacts(ctx context.Context, companionID string, limit int) ([]LearnedFact, error)

	// AppendSummary always appends a new summary.
	AppendSummary(ctx context.Context, companionID string, summary SummaryInput) (ConversationSummary, error)

	// RecentSummaries returns up to limit summaries, newest first.
	RecentSummaries(ctx context.Context, companionID string, limit int) ([]ConversationSummary, error)

	// AppendEmotion always appends a new emotional entry. Intensity is
	// clamped into [MinIntensity, MaxIntensity].
	AppendEmotion(ctx context.Context, companionID string, entry EmotionInput) error

	// RecentEmotions returns up to limit emotional entries, newest first.
	RecentEmotions(ctx context.Context, companionID string, limit int) ([]EmotionalEntry, error)

	// AdjustRelationshipLevel adds delta to the relationship level, keeping
	// it at or above [MinRelationshipLevel], and returns the new level.
	AdjustRelationshipLevel(ctx context.Context, companionID string, delta int) (int, error)

	// RecordCall accounts for one completed call: the call count is
	// incremented, the duration is added to the total and the last
	// interaction time is set to now.
	RecordCall(ctx context.Context, companionID string, duration time.Duration) error

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend's resources.
	Close() error
}
