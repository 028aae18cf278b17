// Package app wires the Kindred subsystems into a running application.
//
// The App struct owns the full lifecycle: New opens the transport, the
// memory store and the persona directory, NewCall builds one call controller
// per call, Run serves the health and metrics endpoints, and Shutdown tears
// everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithTransport, WithStore, etc.). When an option is not provided, New
// creates real implementations from the config through the registry.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/kindred/internal/call"
	"github.com/MrWong99/kindred/internal/config"
	"github.com/MrWong99/kindred/internal/extract"
	"github.com/MrWong99/kindred/internal/health"
	"github.com/MrWong99/kindred/internal/memctx"
	"github.com/MrWong99/kindred/internal/memguard"
	"github.com/MrWong99/kindred/internal/observe"
	"github.com/MrWong99/kindred/internal/persona"
	"github.com/MrWong99/kindred/pkg/audio"
	"github.com/MrWong99/kindred/pkg/memory"
	"github.com/MrWong99/kindred/pkg/provider/s2s"
)

// shutdownGrace bounds the HTTP server drain in Run.
const shutdownGrace = 5 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg      *config.Config
	registry *config.Registry
	metrics  *observe.Metrics
	logLevel *slog.LevelVar

	// Subsystems, initialised in New and torn down in Shutdown.
	transport s2s.Provider
	store     memory.Store
	guard     *memguard.Guard
	personas  persona.Source
	dir       *persona.Dir

	// callCfg is swapped by ApplyConfig; new calls pick it up.
	mu      sync.RWMutex
	callCfg config.CallConfig

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithRegistry replaces the registry used to build the transport and the
// memory store. Defaults to one populated by [RegisterBuiltins].
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithTransport injects a transport instead of creating one from config.
func WithTransport(p s2s.Provider) Option {
	return func(a *App) { a.transport = p }
}

// WithStore injects a memory store instead of opening one from config. The
// store is still wrapped for fail-open behaviour.
func WithStore(s memory.Store) Option {
	return func(a *App) { a.store = s }
}

// WithPersonas injects a persona source instead of opening the configured
// directory.
func WithPersonas(src persona.Source) Option {
	return func(a *App) { a.personas = src }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogLevel lets ApplyConfig adjust the level of the process logger.
func WithLogLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.logLevel = v }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together.
//
// A memory store that cannot be opened is not fatal: calls then run without
// memory and every read serves its default. A transport or persona directory
// that cannot be created is.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		cfg:     cfg,
		callCfg: cfg.Call,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.registry == nil {
		a.registry = config.NewRegistry()
		RegisterBuiltins(a.registry)
	}

	// ── 1. Transport ─────────────────────────────────────────────────────
	if err := a.initTransport(); err != nil {
		return nil, fmt.Errorf("app: init transport: %w", err)
	}

	// ── 2. Memory store ──────────────────────────────────────────────────
	a.initMemory(ctx)

	// ── 3. Personas ──────────────────────────────────────────────────────
	if err := a.initPersonas(); err != nil {
		a.runClosers()
		return nil, fmt.Errorf("app: init personas: %w", err)
	}

	slog.Info("app initialised",
		"transport", a.cfg.Transport.Provider,
		"memory_driver", a.cfg.Memory.Driver,
		"memory_degraded", a.guard.Degraded(),
		"personas_dir", a.cfg.Personas.Dir,
	)
	return a, nil
}

func (a *App) initTransport() error {
	if a.transport != nil {
		return nil
	}
	p, err := a.registry.CreateTransport(a.cfg.Transport)
	if err != nil {
		return err
	}
	a.transport = p
	return nil
}

func (a *App) initMemory(ctx context.Context) {
	if a.store == nil {
		s, err := a.registry.CreateMemory(ctx, a.cfg.Memory)
		if err != nil {
			slog.Warn("memory store unavailable, calls will run without memory",
				"driver", a.cfg.Memory.Driver,
				"err", err,
			)
		} else {
			a.store = s
		}
	}
	// A nil store yields a guard that serves defaults only.
	a.guard = memguard.New(a.store,
		memguard.WithMetrics(a.metrics),
		memguard.WithOpTimeout(a.cfg.Memory.OpTimeout),
	)
	a.closers = append(a.closers, a.guard.Close)
}

func (a *App) initPersonas() error {
	if a.personas != nil {
		return nil
	}
	dir, err := persona.OpenDir(a.cfg.Personas.Dir)
	if err != nil {
		return err
	}
	a.dir = dir
	a.personas = dir
	slog.Info("personas loaded", "dir", a.cfg.Personas.Dir, "count", len(dir.IDs()))
	return nil
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Memory returns the fail-open memory store shared by all calls.
func (a *App) Memory() memory.Store { return a.guard }

// Personas returns the persona source.
func (a *App) Personas() persona.Source { return a.personas }

// CallConfig returns the call settings that the next call will use.
func (a *App) CallConfig() config.CallConfig {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.callCfg
}

// ─── Calls ───────────────────────────────────────────────────────────────────

// CallRequest describes one call to place.
type CallRequest struct {
	CompanionID string
	Recorder    audio.Recorder
	Player      audio.Player

	// MaxDuration hangs the call up automatically. Zero means no limit.
	MaxDuration time.Duration
}

// NewCall builds an idle controller for req from the current configuration.
// Extra options are appended after the ones derived from config.
func (a *App) NewCall(req CallRequest, opts ...call.Option) *call.Controller {
	cc := a.CallConfig()
	cfg := call.Config{
		CompanionID: req.CompanionID,
		Provider:    a.transport,
		Personas:    a.personas,
		Memory:      a.guard,
		Recorder:    req.Recorder,
		Player:      req.Player,
		Capture: call.CaptureConfig{
			Segment:      cc.Segment,
			SuppressPoll: cc.SuppressPoll,
			SettleDelay:  cc.SettleDelay,
			RetryDelay:   cc.RetryDelay,
		},
		ConnectTimeout:     cc.ConnectTimeout,
		MaxDuration:        req.MaxDuration,
		DefaultVoice:       a.cfg.Transport.Voice,
		VADThreshold:       a.cfg.Transport.VADThreshold,
		TranscriptionModel: a.cfg.Transport.TranscriptionModel,
		Tools:              cc.Tools,
	}
	base := []call.Option{
		call.WithMetrics(a.metrics),
		call.WithAssemblerOptions(
			memctx.WithFactWindow(a.cfg.Memory.FactWindow),
			memctx.WithSummaryWindow(a.cfg.Memory.SummaryWindow),
		),
		call.WithExtractOptions(extract.WithRelationshipStep(a.cfg.Memory.RelationshipStepCalls)),
		call.WithPlaybackDir(cc.PlaybackDir),
	}
	return call.NewController(cfg, append(base, opts...)...)
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable parts of a changed configuration:
// the log level and the call settings. Everything else is logged as needing
// a restart.
func (a *App) ApplyConfig(next *config.Config, d config.ConfigDiff) {
	if d.LogLevelChanged && a.logLevel != nil {
		a.logLevel.Set(d.NewLogLevel.Level())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.CallChanged {
		a.mu.Lock()
		a.callCfg = next.Call
		a.mu.Unlock()
		slog.Info("call settings updated, applying to new calls")
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart", "sections", d.RestartRequired)
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Handler returns the HTTP handler serving /healthz, /readyz and /metrics.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	health.New(
		health.PingCheck("memory", a.guard),
		health.PingCheck("personas", pinger(a.personas)),
	).Register(mux)
	mux.Handle("GET /metrics", observe.MetricsHandler(nil))
	return observe.Middleware(a.metrics)(mux)
}

// Run serves the health and metrics endpoints and, when enabled, watches the
// persona directory. It blocks until ctx is cancelled or a component fails.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	if a.dir != nil && a.cfg.Personas.Watch {
		g.Go(func() error { return a.dir.Watch(ctx) })
	}

	return g.Wait()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in init order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

func (a *App) runClosers() {
	for _, closer := range a.closers {
		_ = closer()
	}
}

// pinger returns src as a [health.Pinger] when it can report its own state.
// Sources without a Ping method are always ready.
func pinger(src persona.Source) health.Pinger {
	if p, ok := src.(health.Pinger); ok {
		return p
	}
	return alwaysReady{}
}

type alwaysReady struct{}

func (alwaysReady) Ping(context.Context) error { return nil }
