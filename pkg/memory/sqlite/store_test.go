package sqlite_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/kindred/pkg/memory"
	"github.com/MrWong99/kindred/pkg/memory/sqlite"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "memory.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_ReopenKeepsData(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "memory.db")

	s, err := sqlite.Open(ctx, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.SetUserName(ctx, "ava", "Morgan"); err != nil {
		t.Fatalf("SetUserName: %v", err)
	}
	s.Close()

	// Migrations must be skipped on the second open.
	s, err = sqlite.Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	name, err := s.UserName(ctx, "ava")
	if err != nil || name != "Morgan" {
		t.Errorf("UserName = %q, %v; want Morgan", name, err)
	}
}

func TestRecord_LazyDefaults(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	rec, err := s.Record(ctx, "ava")
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if rec.CompanionID != "ava" || rec.UserName != "" || rec.RelationshipLevel != 1 ||
		rec.CallCount != 0 || rec.TotalCallSeconds != 0 || rec.LastInteractionAt != nil {
		t.Errorf("unexpected default record: %+v", rec)
	}
	if rec.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}

	// EnsureRecord must not reset anything.
	if err := s.SetUserName(ctx, "ava", "Morgan"); err != nil {
		t.Fatal(err)
	}
	if err := s.EnsureRecord(ctx, "ava"); err != nil {
		t.Fatal(err)
	}
	rec, _ = s.Record(ctx, "ava")
	if rec.UserName != "Morgan" {
		t.Errorf("EnsureRecord reset the name: %+v", rec)
	}
}

func TestUserName_UnknownCompanion(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	name, err := s.UserName(context.Background(), "nobody")
	if err != nil || name != "" {
		t.Errorf("UserName = %q, %v; want empty, nil", name, err)
	}
}

func TestAppendFact_Dedup(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	added, err := s.AppendFact(ctx, "ava", memory.FactInput{Text: "Enjoys hiking", Importance: memory.ImportanceLow, Category: memory.CategoryPreference})
	if err != nil || !added {
		t.Fatalf("first append: added=%v err=%v", added, err)
	}
	added, err = s.AppendFact(ctx, "ava", memory.FactInput{Text: "ENJOYS  hiking"})
	if err != nil {
		t.Fatalf("second append: %v", err)
	}
	if added {
		t.Error("case-insensitive duplicate was added")
	}

	// Same text for another companion is a separate fact.
	added, _ = s.AppendFact(ctx, "kai", memory.FactInput{Text: "Enjoys hiking"})
	if !added {
		t.Error("fact for another companion should be added")
	}

	facts, err := s.RecentFacts(ctx, "ava", 10)
	if err != nil {
		t.Fatalf("RecentFacts: %v", err)
	}
	if len(facts) != 1 {
		t.Fatalf("expected 1 fact, got %d", len(facts))
	}
	if facts[0].Text != "Enjoys hiking" || facts[0].Importance != memory.ImportanceLow || facts[0].Category != memory.CategoryPreference {
		t.Errorf("stored fact = %+v", facts[0])
	}
}

func TestAppendFact_Empty(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	_, err := s.AppendFact(context.Background(), "ava", memory.FactInput{Text: "   "})
	if !errors.Is(err, memory.ErrEmptyFact) {
		t.Errorf("err = %v, want ErrEmptyFact", err)
	}
}

func TestRecentFacts_NewestFirstAndLimit(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	for i := range 15 {
		if _, err := s.AppendFact(ctx, "ava", memory.FactInput{Text: fmt.Sprintf("Fact %d", i)}); err != nil {
			t.Fatal(err)
		}
	}
	facts, err := s.RecentFacts(ctx, "ava", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(facts) != 10 {
		t.Fatalf("len = %d, want 10", len(facts))
	}
	if facts[0].Text != "Fact 14" || facts[9].Text != "Fact 5" {
		t.Errorf("order: first=%q last=%q", facts[0].Text, facts[9].Text)
	}

	none, err := s.RecentFacts(ctx, "ava", 0)
	if err != nil || len(none) != 0 {
		t.Errorf("limit 0: %v, %v", none, err)
	}
}

func TestSummaries(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.AppendSummary(ctx, "ava", memory.SummaryInput{DurationSeconds: 42, Text: "Had a brief exchange."})
	if err != nil {
		t.Fatalf("AppendSummary: %v", err)
	}
	if first.ID == "" || first.OccurredAt.IsZero() {
		t.Errorf("summary not populated: %+v", first)
	}
	_, err = s.AppendSummary(ctx, "ava", memory.SummaryInput{
		DurationSeconds: 300,
		Text:            "Had a good conversation about work and music.",
		Mood:            "positive",
		Topics:          []string{"work", "music"},
	})
	if err != nil {
		t.Fatal(err)
	}
	// Identical summaries are not deduplicated.
	if _, err := s.AppendSummary(ctx, "ava", memory.SummaryInput{DurationSeconds: 42, Text: "Had a brief exchange."}); err != nil {
		t.Fatal(err)
	}

	got, err := s.RecentSummaries(ctx, "ava", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[1].Mood != "positive" || !slices.Equal(got[1].Topics, []string{"work", "music"}) || got[1].DurationSeconds != 300 {
		t.Errorf("second newest = %+v", got[1])
	}
	if got[2].Topics == nil || len(got[2].Topics) != 0 {
		t.Errorf("topics of a topic-less summary = %#v, want empty slice", got[2].Topics)
	}
}

func TestEmotions_Clamped(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.AppendEmotion(ctx, "ava", memory.EmotionInput{Mood: "anxious", Context: "work", Intensity: 7}); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendEmotion(ctx, "ava", memory.EmotionInput{Mood: "very positive", Intensity: 99}); err != nil {
		t.Fatal(err)
	}
	got, err := s.RecentEmotions(ctx, "ava", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d", len(got))
	}
	if got[0].Intensity != 10 {
		t.Errorf("intensity = %d, want clamped 10", got[0].Intensity)
	}
	if got[1].Mood != "anxious" || got[1].Intensity != 7 || got[1].Context != "work" {
		t.Errorf("oldest = %+v", got[1])
	}
}

func TestAdjustRelationshipLevel_Floor(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		delta int
		want  int
	}{
		{-1, 1},
		{3, 4},
		{-2, 2},
		{-10, 1},
		{100, 101},
	}
	for _, tt := range tests {
		got, err := s.AdjustRelationshipLevel(ctx, "ava", tt.delta)
		if err != nil {
			t.Fatalf("delta %d: %v", tt.delta, err)
		}
		if got != tt.want {
			t.Errorf("delta %d: level = %d, want %d", tt.delta, got, tt.want)
		}
	}
}

func TestRecordCall(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	before := time.Now().Add(-time.Second)
	if err := s.RecordCall(ctx, "ava", 95*time.Second+400*time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordCall(ctx, "ava", 5*time.Second); err != nil {
		t.Fatal(err)
	}
	rec, err := s.Record(ctx, "ava")
	if err != nil {
		t.Fatal(err)
	}
	if rec.CallCount != 2 || rec.TotalCallSeconds != 100 {
		t.Errorf("counters = %d calls / %ds", rec.CallCount, rec.TotalCallSeconds)
	}
	if rec.LastInteractionAt == nil || rec.LastInteractionAt.Before(before) {
		t.Errorf("LastInteractionAt = %v", rec.LastInteractionAt)
	}
}

func TestConcurrentFactWriters(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Go(func() {
			// Every writer appends the same three facts in a different case.
			for _, text := range []string{"Lives in Lisbon", "Enjoys chess", "Has a cat named Miso"} {
				if i%2 == 1 {
					text = strings.ToUpper(text)
				}
				if _, err := s.AppendFact(ctx, "ava", memory.FactInput{Text: text}); err != nil {
					t.Errorf("AppendFact: %v", err)
				}
			}
		})
	}
	wg.Wait()

	facts, _ := s.RecentFacts(ctx, "ava", 100)
	if len(facts) != 3 {
		t.Errorf("expected 3 distinct facts, got %d", len(facts))
	}
}

func TestPing(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}
