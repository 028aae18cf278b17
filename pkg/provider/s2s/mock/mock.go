// Package mock provides test doubles for the s2s package interfaces.
//
// Use Provider to verify Connect calls and hand out controlled sessions. Use
// Session to drive the event stream and inspect which methods the caller
// invoked.
//
// Example:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.Connect(ctx, cfg)
//
//	sess.Emit(s2s.Event{Kind: s2s.EventUserTranscript, Text: "Hi, I'm Morgan"})
//	sess.Drop(errors.New("network gone")) // simulate the remote side vanishing
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/MrWong99/kindred/pkg/provider/s2s"
)

// ErrClosed is returned by Session methods after Close or Drop.
var ErrClosed = errors.New("mock: session closed")

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the SessionConfig passed to Connect.
	Cfg s2s.SessionConfig
}

// Provider is a mock implementation of s2s.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by Connect. If nil, Connect returns
	// a new [NewSession].
	Session s2s.SessionHandle

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// ProviderCapabilities is returned by Capabilities.
	ProviderCapabilities s2s.Capabilities

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall
}

// Connect records the call and returns Session, ConnectErr. A cancelled ctx
// fails like a real handshake would.
func (p *Provider) Connect(ctx context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.Session == nil {
		p.Session = NewSession()
	}
	return p.Session, nil
}

// Capabilities returns ProviderCapabilities.
func (p *Provider) Capabilities() s2s.Capabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ProviderCapabilities
}

// Calls returns a copy of the recorded Connect calls.
func (p *Provider) Calls() []ConnectCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ConnectCall, len(p.ConnectCalls))
	copy(out, p.ConnectCalls)
	return out
}

// Ensure Provider implements s2s.Provider at compile time.
var _ s2s.Provider = (*Provider)(nil)

// Session is a mock implementation of s2s.SessionHandle. Its event stream is
// fed by the test through Emit and ends with Close or Drop.
type Session struct {
	mu sync.Mutex

	// streamMu serializes Emit against closing the stream.
	streamMu sync.Mutex
	events   chan s2s.Event
	closed   bool
	err      error

	toolCallHandler s2s.ToolCallHandler

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// RequestResponseErr, if non-nil, is returned by every RequestResponse call.
	RequestResponseErr error

	sent           [][]byte
	responses      []string
	interruptCount int
	closeCount     int
}

// NewSession returns a session with a buffered event stream.
func NewSession() *Session {
	return &Session{events: make(chan s2s.Event, 256)}
}

// Emit delivers e on the event stream. It reports false once the stream has
// ended.
func (s *Session) Emit(e s2s.Event) bool {
	s.streamMu.Lock()
	defer s.streamMu.Unlock()
	if s.isClosed() {
		return false
	}
	s.events <- e
	return true
}

// Drop simulates the remote side ending the session with err.
func (s *Session) Drop(err error) {
	s.end(err)
}

func (s *Session) end(err error) bool {
	s.streamMu.Lock()
	defer s.streamMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.closed = true
	s.err = err
	close(s.events)
	return true
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// SendAudio records a copy of pcm.
func (s *Session) SendAudio(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.SendAudioErr != nil {
		return s.SendAudioErr
	}
	s.sent = append(s.sent, append([]byte(nil), pcm...))
	return nil
}

// Events returns the event stream.
func (s *Session) Events() <-chan s2s.Event { return s.events }

// Err returns the error passed to Drop.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// OnToolCall stores the handler.
func (s *Session) OnToolCall(handler s2s.ToolCallHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toolCallHandler = handler
}

// CallTool invokes the registered tool handler as the model would. It
// returns an error if no handler is registered.
func (s *Session) CallTool(name, args string) (string, error) {
	s.mu.Lock()
	h := s.toolCallHandler
	s.mu.Unlock()
	if h == nil {
		return "", errors.New("mock: no tool handler registered")
	}
	return h(name, args)
}

// RequestResponse records the instructions.
func (s *Session) RequestResponse(instructions string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.responses = append(s.responses, instructions)
	return s.RequestResponseErr
}

// Interrupt records the call.
func (s *Session) Interrupt() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interruptCount++
	return nil
}

// Close ends the stream cleanly. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closeCount++
	s.mu.Unlock()
	s.end(nil)
	return nil
}

// Sent returns copies of every chunk passed to SendAudio.
func (s *Session) Sent() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.sent))
	copy(out, s.sent)
	return out
}

// Responses returns the instructions of every RequestResponse call.
func (s *Session) Responses() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.responses))
	copy(out, s.responses)
	return out
}

// CloseCount returns how often Close was called.
func (s *Session) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCount
}

// Closed reports whether the stream has ended.
func (s *Session) Closed() bool { return s.isClosed() }

// Ensure Session implements s2s.SessionHandle at compile time.
var _ s2s.SessionHandle = (*Session)(nil)
