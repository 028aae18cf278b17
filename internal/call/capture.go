package call

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/kindred/internal/observe"
	"github.com/MrWong99/kindred/pkg/audio"
	"github.com/MrWong99/kindred/pkg/audio/wav"
)

// Default capture timings.
const (
	DefaultSegment      = 200 * time.Millisecond
	DefaultSuppressPoll = 100 * time.Millisecond
	DefaultSettleDelay  = 800 * time.Millisecond
	DefaultRetryDelay   = 250 * time.Millisecond
)

// segmentGrace bounds how long a recording may overrun its segment length.
const segmentGrace = 2 * time.Second

// Sender receives captured PCM in [audio.DefaultFormat].
// [s2s.SessionHandle] satisfies it.
type Sender interface {
	SendAudio(pcm []byte) error
}

// CaptureConfig holds the capture loop timings. Zero fields select the
// defaults.
type CaptureConfig struct {
	// Segment is the length of one recorded segment.
	Segment time.Duration

	// SuppressPoll is how long the loop waits before re-checking while
	// capture is suppressed.
	SuppressPoll time.Duration

	// SettleDelay is the quiet window after playback drained during which no
	// segment starts, so that the tail of the companion's reply is not
	// recorded.
	SettleDelay time.Duration

	// RetryDelay is the pause after a failed segment.
	RetryDelay time.Duration
}

func (c CaptureConfig) withDefaults() CaptureConfig {
	if c.Segment <= 0 {
		c.Segment = DefaultSegment
	}
	if c.SuppressPoll <= 0 {
		c.SuppressPoll = DefaultSuppressPoll
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = DefaultSettleDelay
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	return c
}

// CaptureState is the lifecycle state of a [Capture].
type CaptureState int

const (
	CaptureIdle CaptureState = iota
	CaptureCapturing
	CaptureSuspended
	CaptureStopped
)

func (s CaptureState) String() string {
	switch s {
	case CaptureIdle:
		return "idle"
	case CaptureCapturing:
		return "capturing"
	case CaptureSuspended:
		return "suspended"
	case CaptureStopped:
		return "stopped"
	default:
		return fmt.Sprintf("CaptureState(%d)", int(s))
	}
}

// CaptureOption configures a [Capture].
type CaptureOption func(*Capture)

// WithCaptureMetrics records segment counters on m.
func WithCaptureMetrics(m *observe.Metrics) CaptureOption {
	return func(c *Capture) { c.metrics = m }
}

// WithCaptureClock replaces time.Now for suppression checks.
func WithCaptureClock(now func() time.Time) CaptureOption {
	return func(c *Capture) { c.now = now }
}

// Capture streams the microphone to a [Sender] as a sequence of short
// segments. Each segment is recorded, stripped of its WAV header, converted
// to [audio.DefaultFormat] and sent. The next segment starts right after.
//
// While the companion is speaking (see [Flags.Suppressed]) no new segment
// starts. A failed segment is logged and retried after the retry delay.
type Capture struct {
	rec     audio.Recorder
	send    Sender
	flags   *Flags
	cfg     CaptureConfig
	metrics *observe.Metrics
	now     func() time.Time
	conv    audio.Converter
	log     *slog.Logger

	mu     sync.Mutex
	state  CaptureState
	parent context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewCapture creates an idle capture pipeline.
func NewCapture(rec audio.Recorder, send Sender, flags *Flags, cfg CaptureConfig, opts ...CaptureOption) *Capture {
	c := &Capture{
		rec:   rec,
		send:  send,
		flags: flags,
		cfg:   cfg.withDefaults(),
		now:   time.Now,
		conv:  audio.Converter{Target: audio.DefaultFormat},
		log:   slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// State returns the current lifecycle state.
func (c *Capture) State() CaptureState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start begins capturing. ctx bounds the whole capture; cancelling it ends the
// loop like [Capture.Stop] would. Start is a no-op unless the pipeline is
// idle.
func (c *Capture) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != CaptureIdle {
		return
	}
	c.parent = ctx
	c.log = observe.Logger(ctx)
	c.launchLocked()
	c.state = CaptureCapturing
}

// Suspend pauses capturing (mute). It waits for the in-flight segment.
func (c *Capture) Suspend() {
	c.mu.Lock()
	if c.state != CaptureCapturing {
		c.mu.Unlock()
		return
	}
	c.state = CaptureSuspended
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	cancel()
	<-done
}

// Resume restarts a suspended capture (unmute).
func (c *Capture) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != CaptureSuspended {
		return
	}
	c.launchLocked()
	c.state = CaptureCapturing
}

// Stop ends capturing for good and waits for the in-flight segment to finish.
// It is safe to call more than once.
func (c *Capture) Stop() {
	c.mu.Lock()
	prev := c.state
	c.state = CaptureStopped
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	if prev != CaptureCapturing {
		return
	}
	cancel()
	<-done
}

func (c *Capture) launchLocked() {
	ctx, cancel := context.WithCancel(c.parent)
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.loop(ctx, c.done)
}

func (c *Capture) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for ctx.Err() == nil {
		if c.flags.Suppressed(c.now(), c.cfg.SettleDelay) {
			if c.metrics != nil {
				c.metrics.CaptureSuppressed.Add(ctx, 1)
			}
			sleep(ctx, c.cfg.SuppressPoll)
			continue
		}
		if err := c.segment(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Warn("capture: segment failed", "err", err)
			if c.metrics != nil {
				c.metrics.SegmentFailures.Add(ctx, 1)
			}
			sleep(ctx, c.cfg.RetryDelay)
		}
	}
}

// segment records, converts and sends one segment. Cancelling ctx does not
// interrupt the recording; a segment that completes after ctx was cancelled
// is discarded.
func (c *Capture) segment(ctx context.Context) error {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.Segment+segmentGrace)
	defer cancel()
	data, err := c.rec.RecordSegment(rctx, c.cfg.Segment)
	if err != nil {
		return fmt.Errorf("record: %w", err)
	}
	if ctx.Err() != nil {
		return nil
	}
	pcm, format, err := wav.Strip(data)
	if err != nil {
		return fmt.Errorf("strip: %w", err)
	}
	pcm = c.conv.Convert(pcm, format)
	if len(pcm) == 0 {
		c.log.Debug("capture: empty segment", "format", format)
		return nil
	}
	if err := c.send.SendAudio(pcm); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	if c.metrics != nil {
		c.metrics.SegmentsCaptured.Add(rctx, 1)
	}
	return nil
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
