package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/kindred/internal/extract"
	"github.com/MrWong99/kindred/internal/memctx"
	"github.com/MrWong99/kindred/internal/observe"
	"github.com/MrWong99/kindred/internal/persona"
	"github.com/MrWong99/kindred/internal/prompt"
	"github.com/MrWong99/kindred/pkg/audio"
	"github.com/MrWong99/kindred/pkg/memory"
	"github.com/MrWong99/kindred/pkg/provider/s2s"
)

// ErrCouldNotStart is returned by [Controller.Start] when the transport
// could not be connected. The call is Ended when it is returned.
var ErrCouldNotStart = errors.New("call: could not start")

// ErrAlreadyStarted is returned by a second [Controller.Start].
var ErrAlreadyStarted = errors.New("call: already started")

// DefaultConnectTimeout bounds the transport handshake.
const DefaultConnectTimeout = 15 * time.Second

const (
	// finalizeTimeout bounds the end-of-call memory sweep. It is independent
	// of the context the call was started with, which is often cancelled by
	// the time the user hangs up.
	finalizeTimeout = 30 * time.Second

	utteranceBuffer = 32
)

// End reasons reported in [Summary.Reason] and the calls-ended metric.
const (
	EndHangUp          = "hangup"
	EndTransportClosed = "transport_closed"
	EndMaxDuration     = "max_duration"
	EndNotConnected    = "not_connected"
)

// State is the user-facing state of a call.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateListening
	StateSpeaking
	StateEnded
)

var stateNames = [...]string{
	StateIdle:       "idle",
	StateConnecting: "connecting",
	StateConnected:  "connected",
	StateListening:  "listening",
	StateSpeaking:   "speaking",
	StateEnded:      "ended",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Config holds the collaborators and settings of one call.
type Config struct {
	// CompanionID keys the persona and the memory of the call. Required.
	CompanionID string

	Provider s2s.Provider
	Personas persona.Source
	// Memory should already be wrapped for fail-open behaviour.
	Memory   memory.Store
	Recorder audio.Recorder
	Player   audio.Player

	Capture CaptureConfig

	// ConnectTimeout bounds the transport handshake. Zero selects
	// [DefaultConnectTimeout].
	ConnectTimeout time.Duration

	// MaxDuration hangs the call up automatically. Zero means no limit.
	MaxDuration time.Duration

	// DefaultVoice is used for personas that do not name a voice. Empty
	// selects [persona.DefaultVoice].
	DefaultVoice string

	VADThreshold       float64
	TranscriptionModel string

	// Tools offers the remember tool to the model.
	Tools bool
}

// Option configures a [Controller].
type Option func(*Controller)

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithStateHook registers fn to be called on every state change. Hooks run
// on internal goroutines and must not block.
func WithStateHook(fn func(State)) Option {
	return func(c *Controller) { c.onState = fn }
}

// WithTranscriptHook registers fn to be called for every finalised
// utterance.
func WithTranscriptHook(fn func(memory.TranscriptEntry)) Option {
	return func(c *Controller) { c.onTranscript = fn }
}

// WithAssemblerOptions tunes how much memory is put into the prompt.
func WithAssemblerOptions(opts ...memctx.Option) Option {
	return func(c *Controller) { c.assemblerOpts = append(c.assemblerOpts, opts...) }
}

// WithExtractOptions tunes the extractor. The companion name and metrics
// are always set by the controller.
func WithExtractOptions(opts ...extract.Option) Option {
	return func(c *Controller) { c.extractOpts = append(c.extractOpts, opts...) }
}

// WithPlaybackDir sets the directory for transient playback files.
func WithPlaybackDir(dir string) Option {
	return func(c *Controller) { c.playbackDir = dir }
}

// Summary describes a finished call.
type Summary struct {
	Reason   string
	Duration time.Duration
	Persona  persona.Persona
	Greeting prompt.Greeting
	Result   extract.Result
}

// Controller runs one call from connect to hang-up. A Controller is single
// use.
type Controller struct {
	cfg           Config
	metrics       *observe.Metrics
	onState       func(State)
	onTranscript  func(memory.TranscriptEntry)
	assemblerOpts []memctx.Option
	extractOpts   []extract.Option
	playbackDir   string

	flags      Flags
	transcript transcript
	workers    sync.WaitGroup
	eventsDone chan struct{}
	done       chan struct{}

	mu         sync.Mutex
	state      State
	started    bool
	ending     bool
	ctx        context.Context
	cancel     context.CancelFunc
	session    s2s.SessionHandle
	capture    *Capture
	playback   *Playback
	extractor  *extract.Extractor
	utterances chan string
	maxTimer   *time.Timer
	startedAt  time.Time
	summary    Summary
}

// NewController creates an idle controller for one call.
func NewController(cfg Config, opts ...Option) *Controller {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	c := &Controller{
		cfg:        cfg,
		eventsDone: make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done is closed once the call has ended and the final sweep has run.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Summary returns the outcome of the call. It is only meaningful after
// [Controller.Done] is closed.
func (c *Controller) Summary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.summary
}

// Start prepares the call and connects the transport. It returns once the
// session is accepted and the opening line has been requested; the call then
// runs until [Controller.HangUp], the transport closes or the maximum
// duration elapses.
//
// The call outlives ctx: cancelling it after Start returned has no effect.
// On failure Start returns an error wrapping [ErrCouldNotStart] and the call
// is Ended.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	if c.ending {
		c.mu.Unlock()
		return fmt.Errorf("%w: hung up before start", ErrCouldNotStart)
	}
	c.started = true
	c.mu.Unlock()
	c.setState(StateConnecting)

	id := c.cfg.CompanionID
	ctx, span := observe.StartCallSpan(ctx, "call.Start", id)
	defer span.End()
	log := observe.CallLogger(ctx, id)

	p, fallback := persona.Resolve(ctx, c.cfg.Personas, id)
	mc, err := memctx.NewAssembler(c.cfg.Memory, c.assemblerOpts...).Context(ctx, id)
	if err != nil {
		log.Warn("call: memory context unavailable, treating as first contact", "err", err)
		mc = memory.EmptyContext()
	}
	greeting := prompt.SelectGreeting(mc, p.Name)

	voice := p.Voice
	if voice == "" {
		voice = c.cfg.DefaultVoice
	}
	if voice == "" {
		voice = p.VoiceOrDefault()
	}
	if !c.cfg.Provider.Capabilities().SupportsVoice(voice) {
		log.Warn("call: voice not offered by provider, using default", "voice", voice, "default", s2s.DefaultVoice)
		voice = s2s.DefaultVoice
	}
	scfg := s2s.SessionConfig{
		Voice:              voice,
		Instructions:       prompt.Instructions(p, mc, prompt.Options{Tools: c.cfg.Tools}),
		VADThreshold:       c.cfg.VADThreshold,
		TranscriptionModel: c.cfg.TranscriptionModel,
	}
	if c.cfg.Tools {
		scfg.Tools = []s2s.ToolDefinition{RememberTool()}
	}

	connectStart := time.Now()
	connectCtx, cancelConnect := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	sess, err := c.cfg.Provider.Connect(connectCtx, scfg)
	cancelConnect()
	if err != nil {
		span.RecordError(err)
		c.metrics.RecordCallStarted(ctx, "failed")
		c.end(EndNotConnected, false)
		return fmt.Errorf("%w: %w", ErrCouldNotStart, err)
	}
	c.metrics.ConnectDuration.Record(ctx, time.Since(connectStart).Seconds())

	callCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	ex := extract.New(c.cfg.Memory, append([]extract.Option{
		extract.WithCompanionName(p.Name),
		extract.WithMetrics(c.metrics),
	}, c.extractOpts...)...)

	c.mu.Lock()
	if c.ending {
		// Hung up while the handshake was in flight.
		c.mu.Unlock()
		cancel()
		_ = sess.Close()
		c.metrics.RecordCallStarted(ctx, "failed")
		return fmt.Errorf("%w: hung up while connecting", ErrCouldNotStart)
	}
	c.ctx, c.cancel = callCtx, cancel
	c.session = sess
	c.extractor = ex
	c.startedAt = time.Now()
	c.summary = Summary{Persona: p, Greeting: greeting}
	c.capture = NewCapture(c.cfg.Recorder, sess, &c.flags, c.cfg.Capture, WithCaptureMetrics(c.metrics))
	c.playback = NewPlayback(c.cfg.Player, &c.flags,
		WithPlaybackMetrics(c.metrics),
		WithTempDir(c.playbackDir),
		WithBusyHook(func(bool) { c.refreshState() }),
	)
	c.utterances = make(chan string, utteranceBuffer)
	if c.cfg.MaxDuration > 0 {
		c.maxTimer = time.AfterFunc(c.cfg.MaxDuration, func() { c.end(EndMaxDuration, false) })
	}
	c.mu.Unlock()

	c.metrics.RecordCallStarted(ctx, "connected")
	c.metrics.ActiveCalls.Add(ctx, 1)
	if c.cfg.Tools {
		sess.OnToolCall(c.handleTool)
	}
	c.setState(StateConnected)

	c.workers.Go(func() { c.extractLoop(callCtx, ex) })
	go c.eventLoop(callCtx, sess)
	c.playback.Start(callCtx)
	c.capture.Start(callCtx)
	if c.flags.Muted() {
		c.capture.Suspend()
	}

	if err := sess.RequestResponse(prompt.GreetingInstructions(greeting.Line)); err != nil {
		log.Warn("call: opening line request failed", "err", err)
	}
	log.Info("call connected",
		"persona", p.Name,
		"fallback_persona", fallback,
		"greeting", greeting.Kind.String(),
		"voice", voice,
	)
	return nil
}

// HangUp ends the call: capture and playback stop, the final memory sweep
// runs over the transcript and the transport is closed. It blocks until the
// call has ended or ctx is done, and is safe to call repeatedly.
func (c *Controller) HangUp(ctx context.Context) error {
	go c.end(EndHangUp, false)
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetMuted mutes or unmutes the microphone. While muted no audio is sent.
func (c *Controller) SetMuted(muted bool) {
	c.flags.setMuted(muted)

	c.mu.Lock()
	capture, ending := c.capture, c.ending
	c.mu.Unlock()
	if capture == nil || ending {
		return
	}
	if muted {
		capture.Suspend()
	} else {
		capture.Resume()
	}
}

// Muted reports whether the microphone is muted.
func (c *Controller) Muted() bool { return c.flags.Muted() }

// SetSpeakerphone routes output to the loudspeaker or the earpiece. Players
// that cannot route ignore it.
func (c *Controller) SetSpeakerphone(on bool) error {
	c.flags.setSpeakerphone(on)
	if r, ok := c.cfg.Player.(audio.Router); ok {
		if err := r.Route(on); err != nil {
			return fmt.Errorf("call: route audio: %w", err)
		}
	}
	return nil
}

// Speakerphone reports whether output is routed to the loudspeaker.
func (c *Controller) Speakerphone() bool { return c.flags.Speakerphone() }

// Transcript returns the utterances finalised so far.
func (c *Controller) Transcript() []memory.TranscriptEntry {
	return c.transcript.snapshot()
}

func (c *Controller) eventLoop(ctx context.Context, sess s2s.SessionHandle) {
	defer close(c.eventsDone)
	log := observe.CallLogger(ctx, c.cfg.CompanionID)

	for ev := range sess.Events() {
		switch ev.Kind {
		case s2s.EventAudioDelta:
			c.playback.Enqueue(ev.Audio)
		case s2s.EventAssistantTranscript:
			c.record(memory.SpeakerAssistant, ev.Text)
		case s2s.EventUserTranscript:
			if c.record(memory.SpeakerUser, ev.Text) {
				c.submit(ev.Text)
			}
		case s2s.EventSpeechStarted:
			c.flags.setUserSpeaking(true)
		case s2s.EventSpeechStopped:
			c.flags.setUserSpeaking(false)
		case s2s.EventError:
			log.Warn("call: transport reported an error", "err", ev.Err)
			c.metrics.TransportErrors.Add(ctx, 1)
		}
		c.refreshState()
	}

	if err := sess.Err(); err != nil {
		log.Warn("call: transport closed", "err", err)
		c.metrics.TransportErrors.Add(ctx, 1)
	}
	c.end(EndTransportClosed, true)
}

// record appends a non-empty utterance to the transcript.
func (c *Controller) record(speaker, text string) bool {
	if text == "" {
		return false
	}
	e := memory.TranscriptEntry{SpeakerID: speaker, Text: text, Timestamp: time.Now()}
	c.transcript.add(e)
	if c.onTranscript != nil {
		c.onTranscript(e)
	}
	return true
}

// submit hands a user utterance to the extraction worker without blocking.
// Utterances that arrive after the call started ending, or while the worker
// is backlogged, are covered by the final sweep.
func (c *Controller) submit(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ending {
		return
	}
	select {
	case c.utterances <- text:
	default:
		observe.CallLogger(c.ctx, c.cfg.CompanionID).Debug("call: extraction backlogged, deferring utterance to final sweep")
	}
}

func (c *Controller) extractLoop(ctx context.Context, ex *extract.Extractor) {
	for text := range c.utterances {
		f := ex.Incremental(ctx, c.cfg.CompanionID, text)
		if f.Name != "" || len(f.Facts) > 0 {
			observe.CallLogger(ctx, c.cfg.CompanionID).Debug("call: learned from utterance",
				"name", f.Name, "facts", f.Facts)
		}
	}
}

// end tears the call down once. fromEvents is set when called by the event
// loop, which must not wait for itself.
func (c *Controller) end(reason string, fromEvents bool) {
	c.mu.Lock()
	if c.ending {
		c.mu.Unlock()
		return
	}
	c.ending = true
	if c.utterances != nil {
		close(c.utterances)
	}
	sess, capture, playback, ex, timer := c.session, c.capture, c.playback, c.extractor, c.maxTimer
	c.mu.Unlock()

	if sess == nil {
		c.setState(StateEnded)
		c.mu.Lock()
		c.summary.Reason = reason
		c.mu.Unlock()
		close(c.done)
		return
	}

	if timer != nil {
		timer.Stop()
	}
	capture.Stop()
	playback.Stop()
	c.workers.Wait()

	id := c.cfg.CompanionID
	elapsed := time.Since(c.startedAt)
	ctx, span := observe.StartCallSpan(c.ctx, "call.End", id, attribute.String("reason", reason))
	fctx, cancel := context.WithTimeout(ctx, finalizeTimeout)
	res := ex.Finalize(fctx, id, c.transcript.snapshot(), elapsed)
	cancel()

	if err := sess.Close(); err != nil {
		observe.CallLogger(ctx, id).Debug("call: close transport", "err", err)
	}
	if !fromEvents {
		<-c.eventsDone
	}
	c.metrics.RecordCallEnded(ctx, reason, elapsed.Seconds())
	c.metrics.ActiveCalls.Add(ctx, -1)
	observe.CallLogger(ctx, id).Info("call ended",
		"reason", reason,
		"duration", elapsed.Round(time.Second).String(),
		"user_turns", res.UserTurns,
		"mood", res.Sentiment.Mood,
	)
	span.End()
	c.cancel()

	c.mu.Lock()
	c.summary.Reason = reason
	c.summary.Duration = elapsed
	c.summary.Result = res
	c.mu.Unlock()
	c.setState(StateEnded)
	close(c.done)
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	hook := c.onState
	c.mu.Unlock()
	if changed && hook != nil {
		hook(s)
	}
}

// refreshState projects the pipeline flags onto the user-facing state:
// Speaking wins over Listening, which wins over Connected.
func (c *Controller) refreshState() {
	c.mu.Lock()
	if c.ending || c.state < StateConnected || c.state == StateEnded {
		c.mu.Unlock()
		return
	}
	next := StateConnected
	switch {
	case c.flags.Playing():
		next = StateSpeaking
	case c.flags.UserSpeaking():
		next = StateListening
	}
	changed := c.state != next
	c.state = next
	hook := c.onState
	c.mu.Unlock()
	if changed && hook != nil {
		hook(next)
	}
}
