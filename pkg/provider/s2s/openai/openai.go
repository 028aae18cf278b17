// Package openai implements the s2s.Provider interface for OpenAI's Realtime API.
//
// It opens a WebSocket to the Realtime endpoint and exchanges JSON events.
// Connect waits for session.created, sends session.update with the voice,
// PCM16 formats, server VAD, input transcription, instructions and tools, and
// returns once session.updated confirms the configuration. Audio travels as
// base64-encoded PCM16; tool calls are surfaced via the ToolCallHandler.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/coder/websocket"

	"github.com/MrWong99/kindred/pkg/audio/wav"
	"github.com/MrWong99/kindred/pkg/provider/s2s"
)

// Compile-time assertions that Provider and session satisfy the s2s interfaces.
var _ s2s.Provider = (*Provider)(nil)
var _ s2s.SessionHandle = (*session)(nil)

const (
	defaultModel              = "gpt-4o-realtime-preview"
	defaultBaseURL            = "wss://api.openai.com/v1/realtime"
	defaultTranscriptionModel = "whisper-1"
	defaultVADThreshold       = 0.5
	eventBuffer               = 256
)

// ErrSessionClosed is returned by session methods after Close.
var ErrSessionClosed = errors.New("openai: session closed")

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the OpenAI model used for sessions.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements s2s.Provider for OpenAI's Realtime API.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
}

// New creates a new OpenAI Realtime Provider with the given API key and options.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		model:   defaultModel,
		baseURL: defaultBaseURL,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Capabilities returns static metadata about the OpenAI Realtime provider.
func (p *Provider) Capabilities() s2s.Capabilities {
	return s2s.Capabilities{
		Voices:            []string{"alloy", "ash", "ballad", "coral", "echo", "sage", "shimmer", "verse"},
		MaxSessionSeconds: 30 * 60,
	}
}

// Connect dials the Realtime endpoint and negotiates the session. ctx bounds
// the whole handshake; cancelling it afterwards does not affect the session.
func (p *Provider) Connect(ctx context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error) {
	wsURL := p.baseURL + "?model=" + url.QueryEscape(p.model)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + p.apiKey},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai: dial: %w", err)
	}
	conn.SetReadLimit(1 << 22)

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		conn:   conn,
		events: make(chan s2s.Event, eventBuffer),
		ctx:    sessCtx,
		cancel: sessCancel,
	}

	fail := func(stage string, err error) (s2s.SessionHandle, error) {
		sessCancel()
		conn.Close(websocket.StatusInternalError, stage+" failed")
		return nil, fmt.Errorf("openai: %s: %w", stage, err)
	}

	if err := sess.awaitEvent(ctx, "session.created"); err != nil {
		return fail("await session.created", err)
	}
	if err := sess.writeJSON(ctx, sessionUpdate(cfg)); err != nil {
		return fail("session update", err)
	}
	if err := sess.awaitEvent(ctx, "session.updated"); err != nil {
		return fail("await session.updated", err)
	}

	go sess.receiveLoop()
	return sess, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Modalities              []string             `json:"modalities"`
	Voice                   string               `json:"voice,omitempty"`
	Instructions            string               `json:"instructions,omitempty"`
	InputAudioFormat        string               `json:"input_audio_format"`
	OutputAudioFormat       string               `json:"output_audio_format"`
	InputAudioTranscription *transcriptionParams `json:"input_audio_transcription,omitempty"`
	TurnDetection           *turnDetection       `json:"turn_detection,omitempty"`
	Tools                   []oaiTool            `json:"tools,omitempty"`
	ToolChoice              string               `json:"tool_choice,omitempty"`
}

type transcriptionParams struct {
	Model string `json:"model"`
}

type turnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms"`
	SilenceDurationMs int     `json:"silence_duration_ms"`
}

type oaiTool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64-encoded PCM16
}

type responseCreateMessage struct {
	Type     string          `json:"type"`
	Response *responseParams `json:"response,omitempty"`
}

type responseParams struct {
	Instructions string `json:"instructions,omitempty"`
}

type createConversationItemMessage struct {
	Type string           `json:"type"`
	Item conversationItem `json:"item"`
}

type conversationItem struct {
	Type   string `json:"type"`
	CallID string `json:"call_id,omitempty"`
	Output string `json:"output,omitempty"`
}

// serverErrorDetail represents the nested error object in an OpenAI Realtime
// error event: {"type":"error","error":{"type":"...","code":"...","message":"..."}}.
type serverErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverEvent struct {
	Type string `json:"type"`

	// response.audio.delta / response.audio_transcript.delta
	Delta string `json:"delta,omitempty"`

	// response.audio_transcript.done /
	// conversation.item.input_audio_transcription.completed
	Transcript string `json:"transcript,omitempty"`

	// response.function_call_arguments.done
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	CallID    string `json:"call_id,omitempty"`

	// error event
	Error *serverErrorDetail `json:"error,omitempty"`
}

func sessionUpdate(cfg s2s.SessionConfig) sessionUpdateMessage {
	voice := cfg.Voice
	if voice == "" {
		voice = s2s.DefaultVoice
	}
	threshold := cfg.VADThreshold
	if threshold <= 0 || threshold > 1 {
		threshold = defaultVADThreshold
	}
	model := cfg.TranscriptionModel
	if model == "" {
		model = defaultTranscriptionModel
	}
	params := sessionParams{
		Modalities:              []string{"audio", "text"},
		Voice:                   voice,
		Instructions:            cfg.Instructions,
		InputAudioFormat:        s2s.AudioFormat,
		OutputAudioFormat:       s2s.AudioFormat,
		InputAudioTranscription: &transcriptionParams{Model: model},
		TurnDetection: &turnDetection{
			Type:              "server_vad",
			Threshold:         threshold,
			PrefixPaddingMs:   300,
			SilenceDurationMs: 500,
		},
	}
	if len(cfg.Tools) > 0 {
		params.Tools = toOAITools(cfg.Tools)
		params.ToolChoice = "auto"
	}
	return sessionUpdateMessage{Type: "session.update", Session: params}
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	conn        *websocket.Conn
	events      chan s2s.Event
	toolHandler s2s.ToolCallHandler

	mu     sync.Mutex
	errVal error
	closed bool

	// currentTxText accumulates response.audio_transcript.delta events until
	// response.audio_transcript.done is received.
	currentTxText string

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// awaitEvent reads until an event of type want arrives. An error event
// received while waiting fails the handshake.
func (s *session) awaitEvent(ctx context.Context, want string) error {
	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			return err
		}
		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			continue
		}
		switch evt.Type {
		case want:
			return nil
		case "error":
			return serverError(&evt)
		}
	}
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *session) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("openai: marshal: %w", err)
	}
	return s.conn.Write(ctx, websocket.MessageText, data)
}

// receiveLoop reads events from the WebSocket and dispatches them.
// It owns the events channel and closes it when it exits.
func (s *session) receiveLoop() {
	defer s.closeChannels()

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				s.setErr(fmt.Errorf("openai: read: %w", err))
			}
			return
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			slog.Debug("openai: undecodable event", "err", err)
			continue
		}

		s.handleServerEvent(&evt)
	}
}

func (s *session) emit(e s2s.Event) {
	select {
	case s.events <- e:
	case <-s.ctx.Done():
	}
}

func (s *session) handleServerEvent(evt *serverEvent) {
	switch evt.Type {
	case "response.audio.delta":
		if evt.Delta == "" {
			return
		}
		pcm, err := wav.Decode(evt.Delta)
		if err != nil || len(pcm) == 0 {
			return
		}
		s.emit(s2s.Event{Kind: s2s.EventAudioDelta, Audio: pcm})

	case "response.audio.done":
		s.emit(s2s.Event{Kind: s2s.EventAudioDone})

	case "response.audio_transcript.delta":
		if evt.Delta == "" {
			return
		}
		s.mu.Lock()
		s.currentTxText += evt.Delta
		s.mu.Unlock()

	case "response.audio_transcript.done":
		s.mu.Lock()
		text := s.currentTxText
		s.currentTxText = ""
		s.mu.Unlock()

		if evt.Transcript != "" {
			text = evt.Transcript
		}
		if text == "" {
			return
		}
		s.emit(s2s.Event{Kind: s2s.EventAssistantTranscript, Text: text})

	case "conversation.item.input_audio_transcription.completed":
		if evt.Transcript == "" {
			return
		}
		s.emit(s2s.Event{Kind: s2s.EventUserTranscript, Text: evt.Transcript})

	case "input_audio_buffer.speech_started":
		s.emit(s2s.Event{Kind: s2s.EventSpeechStarted})

	case "input_audio_buffer.speech_stopped":
		s.emit(s2s.Event{Kind: s2s.EventSpeechStopped})

	case "response.function_call_arguments.done":
		s.handleFunctionCall(evt)

	case "error":
		s.emit(s2s.Event{Kind: s2s.EventError, Err: serverError(evt)})
	}
}

func serverError(evt *serverEvent) error {
	msg := "unknown error"
	if evt.Error != nil && evt.Error.Message != "" {
		msg = evt.Error.Message
	}
	return fmt.Errorf("openai: %s", msg)
}

func (s *session) handleFunctionCall(evt *serverEvent) {
	s.mu.Lock()
	handler := s.toolHandler
	s.mu.Unlock()

	if handler == nil {
		return
	}

	result, callErr := handler(evt.Name, evt.Arguments)
	if callErr != nil {
		result = fmt.Sprintf(`{"error": %q}`, callErr.Error())
	}

	// Return tool result and trigger the next model response.
	_ = s.writeJSON(s.ctx, createConversationItemMessage{
		Type: "conversation.item.create",
		Item: conversationItem{
			Type:   "function_call_output",
			CallID: evt.CallID,
			Output: result,
		},
	})
	_ = s.writeJSON(s.ctx, responseCreateMessage{Type: "response.create"})
}

func (s *session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errVal == nil {
		s.errVal = err
	}
}

func (s *session) closeChannels() {
	s.closeOnce.Do(func() {
		close(s.events)
	})
}

func (s *session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// toOAITools converts tool definitions to the OpenAI Realtime tool format.
func toOAITools(tools []s2s.ToolDefinition) []oaiTool {
	out := make([]oaiTool, len(tools))
	for i, t := range tools {
		out[i] = oaiTool{
			Type:        "function",
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		}
	}
	return out
}

// ── SessionHandle methods ──────────────────────────────────────────────────────

// SendAudio delivers a raw PCM16 audio chunk to the model.
func (s *session) SendAudio(chunk []byte) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	return s.writeJSON(s.ctx, appendAudioMessage{
		Type:  "input_audio_buffer.append",
		Audio: wav.Encode(chunk),
	})
}

// Events returns the ordered event stream.
func (s *session) Events() <-chan s2s.Event { return s.events }

// Err returns the first non-nil error that caused the session to terminate.
func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// OnToolCall registers a callback for tool invocations from the model.
func (s *session) OnToolCall(handler s2s.ToolCallHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toolHandler = handler
}

// RequestResponse sends response.create, optionally with per-response
// instructions.
func (s *session) RequestResponse(instructions string) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	msg := responseCreateMessage{Type: "response.create"}
	if instructions != "" {
		msg.Response = &responseParams{Instructions: instructions}
	}
	return s.writeJSON(s.ctx, msg)
}

// Interrupt sends a response.cancel event to stop the current model response.
func (s *session) Interrupt() error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	return s.writeJSON(s.ctx, map[string]string{"type": "response.cancel"})
}

// Close terminates the session and releases all resources. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
