// Package s2s defines the Provider interface for speech-to-speech backends.
//
// An S2S provider wraps a real-time voice model that accepts raw audio and
// answers with synthesized audio in one stateful session. The model also
// transcribes the user, detects when the user starts and stops speaking, and
// may call tools.
//
// A session reports everything it receives as an ordered stream of [Event]
// values. The stream is closed when the session ends, whether the caller
// closed it or the remote side went away; [SessionHandle.Err] then reports
// why.
//
// All implementations must be safe for concurrent use.
package s2s

import (
	"context"
	"fmt"
	"slices"
)

// Audio format every session is negotiated with: 24 kHz mono PCM16.
const (
	SampleRate   = 24000
	AudioFormat  = "pcm16"
	DefaultVoice = "alloy"
)

// ToolCallHandler is invoked by the session whenever the model requests a tool
// call. It receives the tool name and the JSON-encoded arguments and returns
// the tool output that is handed back to the model.
//
// The handler runs on the session's receive goroutine and must not call
// blocking session methods.
type ToolCallHandler func(name string, args string) (string, error)

// ToolDefinition describes a function the model may call.
type ToolDefinition struct {
	Name        string
	Description string
	// Parameters is a JSON Schema object describing the arguments.
	Parameters map[string]any
}

// SessionConfig is the configuration negotiated when a session opens.
type SessionConfig struct {
	// Voice is the provider voice id for synthesized speech.
	Voice string

	// Instructions is the system-level prompt for the whole session.
	Instructions string

	// Tools is the set of tools offered to the model.
	Tools []ToolDefinition

	// VADThreshold is the server-side voice activity detection threshold in
	// [0,1]. Zero selects the provider default.
	VADThreshold float64

	// TranscriptionModel names the model used to transcribe user audio.
	// Empty selects the provider default.
	TranscriptionModel string
}

// Capabilities describes static properties of a provider.
type Capabilities struct {
	// Voices lists the voice ids the provider accepts.
	Voices []string

	// MaxSessionSeconds is the provider's hard session limit. Zero means no
	// documented limit.
	MaxSessionSeconds int
}

// SupportsVoice reports whether voice is one of c.Voices. An empty voice list
// accepts everything.
func (c Capabilities) SupportsVoice(voice string) bool {
	return len(c.Voices) == 0 || slices.Contains(c.Voices, voice)
}

// EventKind identifies an [Event].
type EventKind int

const (
	// EventAudioDelta carries one fragment of synthesized PCM in Audio.
	EventAudioDelta EventKind = iota
	// EventAudioDone marks the end of a response's audio.
	EventAudioDone
	// EventAssistantTranscript carries the complete text of a response.
	EventAssistantTranscript
	// EventUserTranscript carries the transcription of one user utterance.
	EventUserTranscript
	// EventSpeechStarted is sent when the server detects the user speaking.
	EventSpeechStarted
	// EventSpeechStopped is sent when the server detects the user went quiet.
	EventSpeechStopped
	// EventError carries a non-fatal error reported by the provider in Err.
	EventError
)

var eventKindNames = [...]string{
	EventAudioDelta:          "audio_delta",
	EventAudioDone:           "audio_done",
	EventAssistantTranscript: "assistant_transcript",
	EventUserTranscript:      "user_transcript",
	EventSpeechStarted:       "speech_started",
	EventSpeechStopped:       "speech_stopped",
	EventError:               "error",
}

// String returns the kind's name.
func (k EventKind) String() string {
	if k >= 0 && int(k) < len(eventKindNames) {
		return eventKindNames[k]
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event is one thing that happened in a session.
type Event struct {
	Kind EventKind

	// Audio is set for EventAudioDelta.
	Audio []byte

	// Text is set for the transcript events.
	Text string

	// Err is set for EventError.
	Err error
}

// SessionHandle represents an open S2S session.
//
// Callers must call Close when the session is no longer needed.
type SessionHandle interface {
	// SendAudio delivers one raw PCM16 chunk in the negotiated format.
	SendAudio(pcm []byte) error

	// Events returns the ordered event stream. It is closed when the session
	// ends. Consumers must drain it promptly.
	Events() <-chan Event

	// Err returns the error that ended the session, or nil if it ended
	// cleanly or is still open.
	Err() error

	// OnToolCall registers the tool handler, replacing any previous one.
	OnToolCall(handler ToolCallHandler)

	// RequestResponse asks the model to respond now, following the given
	// per-response instructions. Empty instructions use the session's.
	RequestResponse(instructions string) error

	// Interrupt stops the response in progress.
	Interrupt() error

	// Close terminates the session and closes the event stream. Calling Close
	// more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any S2S backend.
type Provider interface {
	// Connect opens a session and returns once the provider has accepted the
	// session configuration. The caller owns the returned handle.
	Connect(ctx context.Context, cfg SessionConfig) (SessionHandle, error)

	// Capabilities returns static metadata about the provider.
	Capabilities() Capabilities
}
