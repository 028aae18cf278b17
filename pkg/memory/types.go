package memory

import (
	"errors"
	"strings"
	"time"

	"golang.org/x/text/cases"
)

// MinRelationshipLevel is the floor of [CompanionMemory.RelationshipLevel].
const MinRelationshipLevel = 1

// Intensity bounds of an [EmotionalEntry].
const (
	MinIntensity = 1
	MaxIntensity = 10
)

// ErrEmptyFact is returned when a fact with blank text is appended.
var ErrEmptyFact = errors.New("memory: empty fact text")

// Importance ranks how relevant a fact is for personalisation.
type Importance string

const (
	ImportanceLow    Importance = "low"
	ImportanceMedium Importance = "medium"
	ImportanceHigh   Importance = "high"
)

// Valid reports whether i is one of the defined tiers.
func (i Importance) Valid() bool {
	switch i {
	case ImportanceLow, ImportanceMedium, ImportanceHigh:
		return true
	}
	return false
}

// Category groups facts by what they describe.
type Category string

const (
	CategoryPersonal     Category = "personal"
	CategoryPreference   Category = "preference"
	CategoryExperience   Category = "experience"
	CategoryEmotion      Category = "emotion"
	CategoryRelationship Category = "relationship"
)

// Valid reports whether c is one of the defined categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryPersonal, CategoryPreference, CategoryExperience, CategoryEmotion, CategoryRelationship:
		return true
	}
	return false
}

// CompanionMemory is the per-companion record.
type CompanionMemory struct {
	CompanionID string

	// UserName is the user's name as learned in conversation. Empty means
	// the companion does not know it.
	UserName string

	// RelationshipLevel starts at 1 and never drops below it.
	RelationshipLevel int

	TotalCallSeconds int
	CallCount        int

	// LastInteractionAt is nil until the first call completes.
	LastInteractionAt *time.Time

	CreatedAt time.Time
}

// NewRecord returns the record a companion starts with.
func NewRecord(companionID string, now time.Time) CompanionMemory {
	return CompanionMemory{
		CompanionID:       companionID,
		RelationshipLevel: MinRelationshipLevel,
		CreatedAt:         now,
	}
}

// LearnedFact is a single statement about the user.
type LearnedFact struct {
	ID          string
	CompanionID string
	Text        string
	Importance  Importance
	Category    Category
	LearnedAt   time.Time
}

// FactInput is the caller-supplied part of a [LearnedFact].
type FactInput struct {
	Text       string
	Importance Importance
	Category   Category
}

// Normalize trims the text and fills in missing tiers (medium, personal).
// It returns [ErrEmptyFact] when nothing is left of the text.
func (f FactInput) Normalize() (FactInput, error) {
	f.Text = strings.Join(strings.Fields(f.Text), " ")
	if f.Text == "" {
		return f, ErrEmptyFact
	}
	if !f.Importance.Valid() {
		f.Importance = ImportanceMedium
	}
	if !f.Category.Valid() {
		f.Category = CategoryPersonal
	}
	return f, nil
}

// ConversationSummary is the record of one completed call.
type ConversationSummary struct {
	ID              string
	CompanionID     string
	OccurredAt      time.Time
	DurationSeconds int
	Text            string

	// Mood is empty when the call was neutral.
	Mood string

	Topics []string
}

// SummaryInput is the caller-supplied part of a [ConversationSummary].
type SummaryInput struct {
	DurationSeconds int
	Text            string
	Mood            string
	Topics          []string
}

// EmotionalEntry is the aggregate mood reading of a call.
type EmotionalEntry struct {
	ID          string
	CompanionID string
	Timestamp   time.Time
	Mood        string
	Context     string
	Intensity   int
}

// EmotionInput is the caller-supplied part of an [EmotionalEntry].
type EmotionInput struct {
	Mood      string
	Context   string
	Intensity int
}

// ClampIntensity forces v into [MinIntensity, MaxIntensity].
func ClampIntensity(v int) int {
	return min(max(v, MinIntensity), MaxIntensity)
}

// Context is the read-time projection of a companion's memory used to build
// the instructions of one call. It is never cached beyond that call.
type Context struct {
	UserName          string
	RelationshipLevel int
	CallCount         int
	TotalCallSeconds  int
	LastInteractionAt *time.Time

	// Facts and Summaries are ordered newest first.
	Facts     []LearnedFact
	Summaries []ConversationSummary

	// Prompt is the rendered personalisation block.
	Prompt string
}

// EmptyContext is the context of a companion the user has never talked to.
func EmptyContext() Context {
	return Context{RelationshipLevel: MinRelationshipLevel}
}

// HasHistory reports whether any prior interaction is on record.
func (c Context) HasHistory() bool {
	return c.CallCount > 0 || c.UserName != "" || len(c.Facts) > 0 || len(c.Summaries) > 0
}

// Speaker identifiers used in [TranscriptEntry.SpeakerID].
const (
	SpeakerUser      = "user"
	SpeakerAssistant = "assistant"
)

// TranscriptEntry is one finalised utterance of a call.
type TranscriptEntry struct {
	// SpeakerID is [SpeakerUser] or [SpeakerAssistant].
	SpeakerID string
	Text      string
	Timestamp time.Time
}

// IsUser reports whether the entry was spoken by the user.
func (e TranscriptEntry) IsUser() bool { return e.SpeakerID == SpeakerUser }

// FoldKey returns the deduplication key of a fact text: whitespace is
// collapsed and the text is Unicode case folded.
func FoldKey(text string) string {
	// A Caser is stateful and must not be shared between goroutines.
	return cases.Fold().String(strings.Join(strings.Fields(text), " "))
}
