package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/kindred/internal/app"
	"github.com/MrWong99/kindred/internal/call"
	"github.com/MrWong99/kindred/pkg/audio/file"
	"github.com/MrWong99/kindred/pkg/memory"
)

// hangUpTimeout covers the final memory sweep after Ctrl+C.
const hangUpTimeout = 45 * time.Second

type callFlags struct {
	companion string
	input     string
	output    string
	max       time.Duration
}

func (c *cli) newCallCmd() *cobra.Command {
	var f callFlags
	cmd := &cobra.Command{
		Use:   "call",
		Short: "Place one call using a WAV file as the microphone",
		Long: `Place one call with a companion. The input WAV file is streamed in real
time as the microphone; each reply is written to the output directory and
"played" for its duration. Press Ctrl+C to hang up.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.runCall(cmd.Context(), f)
		},
	}
	cmd.Flags().StringVar(&f.companion, "companion", "", "companion id (persona file name)")
	cmd.Flags().StringVar(&f.input, "input", "", "WAV file streamed as the microphone")
	cmd.Flags().StringVar(&f.output, "output", "replies", "directory receiving the played replies")
	cmd.Flags().DurationVar(&f.max, "max", 0, "hang up automatically after this long (0 = no limit)")
	_ = cmd.MarkFlagRequired("companion")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func (c *cli) runCall(ctx context.Context, f callFlags) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	flush, err := initTelemetry(ctx)
	if err != nil {
		return err
	}
	defer flush()

	rec, err := file.NewRecorder(f.input)
	if err != nil {
		return err
	}
	player, err := file.NewPlayer(f.output)
	if err != nil {
		return err
	}

	application, err := app.New(ctx, cfg, app.WithLogLevel(&c.level))
	if err != nil {
		return err
	}
	defer func() { _ = application.Shutdown(context.WithoutCancel(ctx)) }()

	ctrl := application.NewCall(app.CallRequest{
		CompanionID: f.companion,
		Recorder:    rec,
		Player:      player,
		MaxDuration: f.max,
	},
		call.WithStateHook(func(s call.State) { fmt.Fprintf(c.out, "[%s]\n", s) }),
		call.WithTranscriptHook(func(e memory.TranscriptEntry) { printTranscript(c.out, e) }),
	)

	if err := ctrl.Start(ctx); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "calling %s, press Ctrl+C to hang up\n", f.companion)

	select {
	case <-ctrl.Done():
	case <-ctx.Done():
		hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), hangUpTimeout)
		defer cancel()
		if err := ctrl.HangUp(hctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("hang up: %w", err)
		}
	}

	printSummary(c.out, ctrl.Summary())
	return nil
}

func printTranscript(w io.Writer, e memory.TranscriptEntry) {
	who := "companion"
	if e.IsUser() {
		who = "you"
	}
	fmt.Fprintf(w, "%s %-9s %s\n", e.Timestamp.Format("15:04:05"), who+":", e.Text)
}

func printSummary(w io.Writer, s call.Summary) {
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Call with %s ended (%s) after %s\n", s.Persona.Name, s.Reason, s.Duration.Round(time.Second))
	fmt.Fprintf(w, "  Greeting:     %s\n", s.Greeting.Kind)
	r := s.Result
	if r.Name != "" {
		fmt.Fprintf(w, "  Learned name: %s\n", r.Name)
	}
	if len(r.Facts) > 0 {
		fmt.Fprintf(w, "  New facts:    %s\n", strings.Join(r.Facts, "; "))
	}
	if len(r.Topics) > 0 {
		fmt.Fprintf(w, "  Topics:       %s\n", strings.Join(r.Topics, ", "))
	}
	if r.Sentiment.Mood != "" {
		fmt.Fprintf(w, "  Mood:         %s\n", r.Sentiment.Mood)
	}
	if r.RelationshipLevel > 0 {
		fmt.Fprintf(w, "  Relationship: level %d\n", r.RelationshipLevel)
	}
}
