package call

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/MrWong99/kindred/internal/observe"
	"github.com/MrWong99/kindred/pkg/audio"
	"github.com/MrWong99/kindred/pkg/audio/wav"
)

// PlaybackOption configures a [Playback].
type PlaybackOption func(*Playback)

// WithPlaybackMetrics records playback units on m.
func WithPlaybackMetrics(m *observe.Metrics) PlaybackOption {
	return func(p *Playback) { p.metrics = m }
}

// WithTempDir sets the directory for transient playback files. Empty selects
// [os.TempDir].
func WithTempDir(dir string) PlaybackOption {
	return func(p *Playback) { p.dir = dir }
}

// WithPlaybackFormat sets the PCM format of incoming fragments. The default
// is [audio.DefaultFormat].
func WithPlaybackFormat(f audio.Format) PlaybackOption {
	return func(p *Playback) { p.format = f }
}

// WithBusyHook registers fn to be called whenever playback starts or stops
// being busy. fn must not block.
func WithBusyHook(fn func(busy bool)) PlaybackOption {
	return func(p *Playback) { p.onBusy = fn }
}

// Playback plays synthesized audio fragments in arrival order.
//
// Only one unit plays at a time. Fragments that arrive while a unit is
// playing are queued, and when the unit finishes the whole queue is
// concatenated into the next unit. A failed unit is dropped and playback
// carries on with whatever was queued since.
//
// Playback owns the speaking flag in [Flags]: it is set while a unit is in
// flight and cleared, together with the drain time, when the queue runs
// empty.
type Playback struct {
	player  audio.Player
	flags   *Flags
	format  audio.Format
	dir     string
	metrics *observe.Metrics
	onBusy  func(bool)
	now     func() time.Time

	mu      sync.Mutex
	queue   [][]byte
	busy    bool
	started bool
	stopped bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewPlayback creates a playback pipeline. Fragments may be enqueued before
// [Playback.Start]; they are played as one unit once it is called.
func NewPlayback(player audio.Player, flags *Flags, opts ...PlaybackOption) *Playback {
	p := &Playback{
		player: player,
		flags:  flags,
		format: audio.DefaultFormat,
		now:    time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Start enables playback. ctx bounds every play operation.
func (p *Playback) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return
	}
	p.started = true
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.kickLocked()
}

// Enqueue appends one PCM fragment. It never blocks on playback.
func (p *Playback) Enqueue(fragment []byte) {
	if len(fragment) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.queue = append(p.queue, fragment)
	p.kickLocked()
}

// Busy reports whether a unit is being played or about to be.
func (p *Playback) Busy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.busy
}

// Pending returns the number of queued fragments not yet handed to the
// player.
func (p *Playback) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Stop cancels the unit in flight, drops the queue and waits for the drain
// goroutine to exit. It is safe to call more than once.
func (p *Playback) Stop() {
	p.mu.Lock()
	p.stopped = true
	p.queue = nil
	cancel := p.cancel
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
	p.flags.setPlaying(false)
}

// kickLocked starts the drain goroutine unless one is running.
func (p *Playback) kickLocked() {
	if !p.started || p.stopped || p.busy || len(p.queue) == 0 {
		return
	}
	p.busy = true
	p.flags.setPlaying(true)
	if p.onBusy != nil {
		p.onBusy(true)
	}
	p.wg.Go(p.drain)
}

func (p *Playback) drain() {
	for {
		p.mu.Lock()
		if p.stopped || len(p.queue) == 0 {
			p.busy = false
			if !p.stopped {
				p.flags.markDrained(p.now())
			}
			p.mu.Unlock()
			if p.onBusy != nil {
				p.onBusy(false)
			}
			return
		}
		batch := p.queue
		p.queue = nil
		ctx := p.ctx
		p.mu.Unlock()

		if err := p.play(ctx, batch); err != nil && ctx.Err() == nil {
			observe.Logger(ctx).Warn("playback: unit dropped", "fragments", len(batch), "err", err)
		}
	}
}

// play writes batch as one WAV file, plays it and removes the file.
func (p *Playback) play(ctx context.Context, batch [][]byte) (err error) {
	status := "ok"
	defer func() {
		if err != nil {
			status = "error"
		}
		if p.metrics != nil {
			p.metrics.RecordPlayback(ctx, len(batch), status)
		}
	}()

	f, err := os.CreateTemp(p.dir, "kindred-reply-*.wav")
	if err != nil {
		return fmt.Errorf("playback: create file: %w", err)
	}
	path := f.Name()
	defer func() {
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			slog.Debug("playback: remove file", "path", path, "err", rmErr)
		}
	}()

	_, werr := f.Write(wav.Wrap(bytes.Join(batch, nil), p.format))
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		return fmt.Errorf("playback: write file: %w", werr)
	}

	if err := p.player.Play(ctx, path); err != nil {
		return fmt.Errorf("playback: play: %w", err)
	}
	return nil
}
