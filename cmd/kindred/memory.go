package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/kindred/internal/app"
	"github.com/MrWong99/kindred/internal/config"
	"github.com/MrWong99/kindred/internal/memctx"
	"github.com/MrWong99/kindred/pkg/memory"
)

// showEmotions is how many emotional entries memory show lists.
const showEmotions = 5

func (c *cli) newMemoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Inspect or edit what a companion remembers",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show COMPANION_ID",
			Short: "Print the memory context and the compiled prompt block",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.withStore(cmd.Context(), func(ctx context.Context, cfg *config.Config, s memory.Store) error {
					return showMemory(ctx, c.out, cfg, s, args[0])
				})
			},
		},
		&cobra.Command{
			Use:   "forget-name COMPANION_ID",
			Short: "Clear the user's name so the companion asks again",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.withStore(cmd.Context(), func(ctx context.Context, _ *config.Config, s memory.Store) error {
					if err := s.SetUserName(ctx, args[0], ""); err != nil {
						return fmt.Errorf("forget name: %w", err)
					}
					fmt.Fprintf(c.out, "%s no longer knows your name\n", args[0])
					return nil
				})
			},
		},
	)
	return cmd
}

// withStore opens the configured store without the fail-open wrapper, so
// that an unreachable backend is reported instead of hidden.
func (c *cli) withStore(ctx context.Context, fn func(context.Context, *config.Config, memory.Store) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	reg := config.NewRegistry()
	app.RegisterBuiltins(reg)
	store, err := reg.CreateMemory(ctx, cfg.Memory)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(ctx, cfg, store)
}

func showMemory(ctx context.Context, w io.Writer, cfg *config.Config, s memory.Store, id string) error {
	mc, err := memctx.NewAssembler(s,
		memctx.WithFactWindow(cfg.Memory.FactWindow),
		memctx.WithSummaryWindow(cfg.Memory.SummaryWindow),
	).Context(ctx, id)
	if err != nil {
		return err
	}
	emotions, err := s.RecentEmotions(ctx, id, showEmotions)
	if err != nil {
		return fmt.Errorf("memory context: emotions for %q: %w", id, err)
	}

	name := mc.UserName
	if name == "" {
		name = "(unknown)"
	}
	fmt.Fprintf(w, "Companion:     %s\n", id)
	fmt.Fprintf(w, "User name:     %s\n", name)
	fmt.Fprintf(w, "Relationship:  level %d\n", mc.RelationshipLevel)
	fmt.Fprintf(w, "Calls:         %d (%s total)\n", mc.CallCount, time.Duration(mc.TotalCallSeconds)*time.Second)
	if mc.LastInteractionAt != nil {
		fmt.Fprintf(w, "Last call:     %s\n", mc.LastInteractionAt.Local().Format(time.DateTime))
	}

	fmt.Fprintf(w, "\nFacts (%d):\n", len(mc.Facts))
	for _, f := range mc.Facts {
		fmt.Fprintf(w, "  - [%s/%s] %s\n", f.Category, f.Importance, f.Text)
	}
	fmt.Fprintf(w, "\nSummaries (%d):\n", len(mc.Summaries))
	for _, sum := range mc.Summaries {
		fmt.Fprintf(w, "  - %s: %s\n", sum.OccurredAt.Local().Format(time.DateOnly), sum.Text)
	}
	fmt.Fprintf(w, "\nEmotions (%d):\n", len(emotions))
	for _, e := range emotions {
		fmt.Fprintf(w, "  - %s %s (intensity %d)\n", e.Timestamp.Local().Format(time.DateOnly), e.Mood, e.Intensity)
	}

	fmt.Fprintln(w, "\nPrompt:")
	if mc.Prompt == "" {
		fmt.Fprintln(w, "  (empty)")
		return nil
	}
	fmt.Fprintln(w, mc.Prompt)
	return nil
}
