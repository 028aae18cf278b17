package postgres_test

import (
	"context"
	"fmt"
	"os"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/kindred/pkg/memory"
	"github.com/MrWong99/kindred/pkg/memory/postgres"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if KINDRED_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("KINDRED_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("KINDRED_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a fresh [postgres.Store] on a clean schema.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(pool.Close)
	for _, stmt := range []string{
		"DROP TABLE IF EXISTS emotional_entries",
		"DROP TABLE IF EXISTS conversation_summaries",
		"DROP TABLE IF EXISTS learned_facts",
		"DROP TABLE IF EXISTS companion_memories",
	} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			t.Fatalf("drop schema %q: %v", stmt, err)
		}
	}

	store, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestMigrate_Idempotent(t *testing.T) {
	dsn := testDSN(t)
	ctx := context.Background()
	newTestStore(t)

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()
	for range 2 {
		if err := postgres.Migrate(ctx, pool); err != nil {
			t.Fatalf("Migrate: %v", err)
		}
	}
}

func TestRecordLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec, err := store.Record(ctx, "ava")
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if rec.RelationshipLevel != 1 || rec.UserName != "" || rec.LastInteractionAt != nil {
		t.Errorf("defaults = %+v", rec)
	}

	if err := store.SetUserName(ctx, "ava", "Morgan"); err != nil {
		t.Fatal(err)
	}
	if err := store.RecordCall(ctx, "ava", 61*time.Second); err != nil {
		t.Fatal(err)
	}
	rec, _ = store.Record(ctx, "ava")
	if rec.UserName != "Morgan" || rec.CallCount != 1 || rec.TotalCallSeconds != 61 || rec.LastInteractionAt == nil {
		t.Errorf("after call = %+v", rec)
	}

	name, err := store.UserName(ctx, "unknown")
	if err != nil || name != "" {
		t.Errorf("UserName(unknown) = %q, %v", name, err)
	}
}

func TestAppendFact_Dedup(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	added, err := store.AppendFact(ctx, "ava", memory.FactInput{Text: "Works as a nurse", Importance: memory.ImportanceMedium})
	if err != nil || !added {
		t.Fatalf("first: %v %v", added, err)
	}
	added, err = store.AppendFact(ctx, "ava", memory.FactInput{Text: "works AS A nurse"})
	if err != nil || added {
		t.Errorf("duplicate: added=%v err=%v", added, err)
	}

	var wg sync.WaitGroup
	for i := range 5 {
		wg.Go(func() {
			if _, err := store.AppendFact(ctx, "ava", memory.FactInput{Text: fmt.Sprintf("Fact %d", i%2)}); err != nil {
				t.Errorf("concurrent append: %v", err)
			}
		})
	}
	wg.Wait()

	facts, err := store.RecentFacts(ctx, "ava", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(facts) != 3 {
		t.Errorf("expected 3 facts, got %d", len(facts))
	}
}

func TestSummariesAndEmotions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := range 7 {
		_, err := store.AppendSummary(ctx, "ava", memory.SummaryInput{
			DurationSeconds: i * 10,
			Text:            fmt.Sprintf("Summary %d", i),
			Topics:          []string{"work"},
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	sums, err := store.RecentSummaries(ctx, "ava", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(sums) != 5 || sums[0].Text != "Summary 6" || !slices.Equal(sums[0].Topics, []string{"work"}) {
		t.Errorf("summaries = %+v", sums)
	}

	if err := store.AppendEmotion(ctx, "ava", memory.EmotionInput{Mood: "anxious", Intensity: 0}); err != nil {
		t.Fatal(err)
	}
	em, err := store.RecentEmotions(ctx, "ava", 5)
	if err != nil || len(em) != 1 || em[0].Intensity != 1 {
		t.Errorf("emotions = %+v, %v", em, err)
	}
}

func TestAdjustRelationshipLevel(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// First touch creates the record and still clamps.
	level, err := store.AdjustRelationshipLevel(ctx, "kai", -5)
	if err != nil || level != 1 {
		t.Fatalf("level = %d, %v", level, err)
	}
	level, _ = store.AdjustRelationshipLevel(ctx, "kai", 2)
	if level != 3 {
		t.Errorf("level = %d, want 3", level)
	}
}
