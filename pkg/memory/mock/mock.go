// Package mock provides an in-memory [memory.Store] for tests.
//
// Unlike a pure stub, [Store] keeps real state, so a test can run the
// extractor or a whole call against it and then assert on what was stored.
// Every method invocation is recorded, and errors can be injected per method.
//
// Typical usage:
//
//	store := mock.NewStore()
//	store.Errs["AppendFact"] = errors.New("disk full")
//
//	// inject store into the system under test …
//
//	if got := store.CallCount("AppendSummary"); got != 1 {
//	    t.Errorf("expected 1 AppendSummary call, got %d", got)
//	}
package mock

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/kindred/pkg/memory"
)

// Call records the name and arguments of a single method invocation.
type Call struct {
	// Method is the name of the interface method that was called.
	Method string

	// Args holds the non-context arguments passed to the method, in order.
	Args []any
}

type companion struct {
	record    memory.CompanionMemory
	facts     []memory.LearnedFact
	keys      map[string]bool
	summaries []memory.ConversationSummary
	emotions  []memory.EmotionalEntry
}

// Store is a stateful, concurrency-safe test double for [memory.Store].
type Store struct {
	mu    sync.Mutex
	calls []Call
	data  map[string]*companion

	// Errs maps a method name to the error it returns. A failing write does
	// not modify state.
	Errs map[string]error

	// Now overrides the clock when non-nil.
	Now func() time.Time

	closed bool
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{data: make(map[string]*companion), Errs: make(map[string]error)}
}

// Calls returns a copy of all recorded method invocations.
func (m *Store) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.calls)
}

// CallCount returns how many times the named method was invoked.
func (m *Store) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// SetErr configures the error returned by method. A nil err clears it.
func (m *Store) SetErr(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Errs == nil {
		m.Errs = make(map[string]error)
	}
	if err == nil {
		delete(m.Errs, method)
		return
	}
	m.Errs[method] = err
}

// Closed reports whether Close was called.
func (m *Store) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// record appends a call and returns the configured error. Callers hold m.mu.
func (m *Store) record(method string, args ...any) error {
	m.calls = append(m.calls, Call{Method: method, Args: args})
	return m.Errs[method]
}

func (m *Store) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

// get returns the companion state, creating it on first access.
func (m *Store) get(id string) *companion {
	if m.data == nil {
		m.data = make(map[string]*companion)
	}
	c, ok := m.data[id]
	if !ok {
		c = &companion{record: memory.NewRecord(id, m.now()), keys: make(map[string]bool)}
		m.data[id] = c
	}
	return c
}

// EnsureRecord implements [memory.Store].
func (m *Store) EnsureRecord(_ context.Context, companionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("EnsureRecord", companionID); err != nil {
		return err
	}
	m.get(companionID)
	return nil
}

// Record implements [memory.Store].
func (m *Store) Record(_ context.Context, companionID string) (memory.CompanionMemory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("Record", companionID); err != nil {
		return memory.CompanionMemory{}, err
	}
	rec := m.get(companionID).record
	if rec.LastInteractionAt != nil {
		t := *rec.LastInteractionAt
		rec.LastInteractionAt = &t
	}
	return rec, nil
}

// UserName implements [memory.Store].
func (m *Store) UserName(_ context.Context, companionID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("UserName", companionID); err != nil {
		return "", err
	}
	if c, ok := m.data[companionID]; ok {
		return c.record.UserName, nil
	}
	return "", nil
}

// SetUserName implements [memory.Store].
func (m *Store) SetUserName(_ context.Context, companionID, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("SetUserName", companionID, name); err != nil {
		return err
	}
	m.get(companionID).record.UserName = name
	return nil
}

// AppendFact implements [memory.Store].
func (m *Store) AppendFact(_ context.Context, companionID string, fact memory.FactInput) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("AppendFact", companionID, fact); err != nil {
		return false, err
	}
	fact, err := fact.Normalize()
	if err != nil {
		return false, err
	}
	c := m.get(companionID)
	key := memory.FoldKey(fact.Text)
	if c.keys[key] {
		return false, nil
	}
	c.keys[key] = true
	c.facts = append(c.facts, memory.LearnedFact{
		ID:          uuid.NewString(),
		CompanionID: companionID,
		Text:        fact.Text,
		Importance:  fact.Importance,
		Category:    fact.Category,
		LearnedAt:   m.now(),
	})
	return true, nil
}

// RecentFacts implements [memory.Store].
func (m *Store) RecentFacts(_ context.Context, companionID string, limit int) ([]memory.LearnedFact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("RecentFacts", companionID, limit); err != nil {
		return nil, err
	}
	var src []memory.LearnedFact
	if c, ok := m.data[companionID]; ok {
		src = c.facts
	}
	return newestFirst(src, limit), nil
}

// AppendSummary implements [memory.Store].
func (m *Store) AppendSummary(_ context.Context, companionID string, in memory.SummaryInput) (memory.ConversationSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("AppendSummary", companionID, in); err != nil {
		return memory.ConversationSummary{}, err
	}
	topics := slices.Clone(in.Topics)
	if topics == nil {
		topics = []string{}
	}
	sum := memory.ConversationSummary{
		ID:              uuid.NewString(),
		CompanionID:     companionID,
		OccurredAt:      m.now(),
		DurationSeconds: max(in.DurationSeconds, 0),
		Text:            in.Text,
		Mood:            in.Mood,
		Topics:          topics,
	}
	c := m.get(companionID)
	c.summaries = append(c.summaries, sum)
	return sum, nil
}

// RecentSummaries implements [memory.Store].
func (m *Store) RecentSummaries(_ context.Context, companionID string, limit int) ([]memory.ConversationSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("RecentSummaries", companionID, limit); err != nil {
		return nil, err
	}
	var src []memory.ConversationSummary
	if c, ok := m.data[companionID]; ok {
		src = c.summaries
	}
	return newestFirst(src, limit), nil
}

// AppendEmotion implements [memory.Store].
func (m *Store) AppendEmotion(_ context.Context, companionID string, in memory.EmotionInput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("AppendEmotion", companionID, in); err != nil {
		return err
	}
	c := m.get(companionID)
	c.emotions = append(c.emotions, memory.EmotionalEntry{
		ID:          uuid.NewString(),
		CompanionID: companionID,
		Timestamp:   m.now(),
		Mood:        in.Mood,
		Context:     in.Context,
		Intensity:   memory.ClampIntensity(in.Intensity),
	})
	return nil
}

// RecentEmotions implements [memory.Store].
func (m *Store) RecentEmotions(_ context.Context, companionID string, limit int) ([]memory.EmotionalEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("RecentEmotions", companionID, limit); err != nil {
		return nil, err
	}
	var src []memory.EmotionalEntry
	if c, ok := m.data[companionID]; ok {
		src = c.emotions
	}
	return newestFirst(src, limit), nil
}

// AdjustRelationshipLevel implements [memory.Store].
func (m *Store) AdjustRelationshipLevel(_ context.Context, companionID string, delta int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("AdjustRelationshipLevel", companionID, delta); err != nil {
		return 0, err
	}
	c := m.get(companionID)
	c.record.RelationshipLevel = max(memory.MinRelationshipLevel, c.record.RelationshipLevel+delta)
	return c.record.RelationshipLevel, nil
}

// RecordCall implements [memory.Store].
func (m *Store) RecordCall(_ context.Context, companionID string, duration time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record("RecordCall", companionID, duration); err != nil {
		return err
	}
	c := m.get(companionID)
	now := m.now()
	c.record.CallCount++
	c.record.TotalCallSeconds += max(int(duration/time.Second), 0)
	c.record.LastInteractionAt = &now
	return nil
}

// Ping implements [memory.Store].
func (m *Store) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.record("Ping")
}

// Close implements [memory.Store].
func (m *Store) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return m.record("Close")
}

// newestFirst returns at most limit items of src in reverse order.
func newestFirst[T any](src []T, limit int) []T {
	n := min(max(limit, 0), len(src))
	out := make([]T, 0, n)
	for i := len(src) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, src[i])
	}
	return out
}

var _ memory.Store = (*Store)(nil)
