// Package memctx assembles the memory context injected into every call.
//
// Three reads run concurrently against the memory store:
//
//  1. The companion record (user name, relationship level, call stats).
//  2. The most recent learned facts.
//  3. The most recent conversation summaries.
//
// The result is rendered into a personalization block with [prompt.Compile].
package memctx

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/kindred/internal/observe"
	"github.com/MrWong99/kindred/internal/prompt"
	"github.com/MrWong99/kindred/pkg/memory"
)

// Default window sizes.
const (
	DefaultFactWindow    = 10
	DefaultSummaryWindow = 5
)

// Assembler builds a [memory.Context] for a companion.
type Assembler struct {
	store         memory.Store
	factWindow    int
	summaryWindow int
}

// Option is a functional option for [NewAssembler].
type Option func(*Assembler)

// WithFactWindow caps the number of facts included. Values < 1 are ignored.
func WithFactWindow(n int) Option {
	return func(a *Assembler) {
		if n > 0 {
			a.factWindow = n
		}
	}
}

// WithSummaryWindow caps the number of summaries included. Values < 1 are
// ignored.
func WithSummaryWindow(n int) Option {
	return func(a *Assembler) {
		if n > 0 {
			a.summaryWindow = n
		}
	}
}

// NewAssembler creates an [Assembler] reading from store.
func NewAssembler(store memory.Store, opts ...Option) *Assembler {
	a := &Assembler{
		store:         store,
		factWindow:    DefaultFactWindow,
		summaryWindow: DefaultSummaryWindow,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Context fetches the companion's memory and renders its prompt block. If any
// read fails the assembly is aborted and the error is returned wrapped with a
// "memory context: " prefix; wrap the store in a memguard.Guard to get
// defaults instead.
func (a *Assembler) Context(ctx context.Context, companionID string) (memory.Context, error) {
	ctx, span := observe.StartCallSpan(ctx, "memctx.Context", companionID)
	defer span.End()
	start := time.Now()

	var (
		rec       memory.CompanionMemory
		facts     []memory.LearnedFact
		summaries []memory.ConversationSummary
	)

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		r, err := a.store.Record(egCtx, companionID)
		if err != nil {
			return fmt.Errorf("memory context: record for %q: %w", companionID, err)
		}
		rec = r
		return nil
	})

	eg.Go(func() error {
		f, err := a.store.RecentFacts(egCtx, companionID, a.factWindow)
		if err != nil {
			return fmt.Errorf("memory context: facts for %q: %w", companionID, err)
		}
		facts = f
		return nil
	})

	eg.Go(func() error {
		s, err := a.store.RecentSummaries(egCtx, companionID, a.summaryWindow)
		if err != nil {
			return fmt.Errorf("memory context: summaries for %q: %w", companionID, err)
		}
		summaries = s
		return nil
	})

	if err := eg.Wait(); err != nil {
		span.RecordError(err)
		return memory.Context{}, err
	}

	mc := memory.Context{
		UserName:          rec.UserName,
		RelationshipLevel: max(rec.RelationshipLevel, memory.MinRelationshipLevel),
		CallCount:         rec.CallCount,
		TotalCallSeconds:  rec.TotalCallSeconds,
		LastInteractionAt: rec.LastInteractionAt,
		Facts:             truncate(facts, a.factWindow),
		Summaries:         truncate(summaries, a.summaryWindow),
	}
	mc.Prompt = prompt.Compile(mc)

	observe.Logger(ctx).Debug("memory context assembled",
		"companion_id", companionID,
		"facts", len(mc.Facts),
		"summaries", len(mc.Summaries),
		"known_name", mc.UserName != "",
		"took", time.Since(start),
	)
	return mc, nil
}

// truncate keeps the first n entries. Stores already limit, but a
// misbehaving backend must not blow up the prompt.
func truncate[T any](s []T, n int) []T {
	if len(s) > n {
		return s[:n]
	}
	return s
}
