// Package mock provides in-memory implementations of the [audio.Recorder] and
// [audio.Player] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every call so that tests
// can assert on timing, counts, and payloads, and they expose exported fields
// that the test can set to control behaviour.
//
// Typical usage:
//
//	rec := &mock.Recorder{}
//	player := &mock.Player{Duration: 10 * time.Millisecond}
//	pipeline := call.NewCapture(rec, sender, flags, cfg)
package mock

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/MrWong99/kindred/pkg/audio"
	"github.com/MrWong99/kindred/pkg/audio/wav"
)

// ─── Recorder ─────────────────────────────────────────────────────────────────

// RecordCall records a single [Recorder.RecordSegment] invocation.
type RecordCall struct {
	// Start is when the segment started recording.
	Start time.Time

	// Duration is the requested segment length.
	Duration time.Duration
	// Interrupted is set when ctx ended the recording early.
	Interrupted bool
}

// Recorder is a mock implementation of [audio.Recorder].
//
// By default each call blocks for the requested duration (or until ctx is
// done) and returns a WAV container holding that much silence in
// [audio.DefaultFormat].
type Recorder struct {
	mu sync.Mutex

	// Segment, if non-nil, is returned instead of generated silence.
	Segment []byte

	// Err is returned by every call while non-nil.
	Err error

	// FailFirst makes the first FailFirst calls return Err (or a generic
	// error when Err is nil); later calls succeed.
	FailFirst int

	// Instant skips the simulated recording time.
	Instant bool

	// Calls records all invocations in order.
	Calls []RecordCall
}

// RecordSegment implements [audio.Recorder].
func (r *Recorder) RecordSegment(ctx context.Context, d time.Duration) ([]byte, error) {
	r.mu.Lock()
	r.Calls = append(r.Calls, RecordCall{Start: time.Now(), Duration: d})
	n := len(r.Calls)
	var err error
	switch {
	case n <= r.FailFirst:
		err = r.Err
		if err == nil {
			err = errRecordFailed
		}
	case r.FailFirst == 0:
		err = r.Err
	}
	segment := r.Segment
	instant := r.Instant
	r.mu.Unlock()

	if !instant {
		t := time.NewTimer(d)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			r.mu.Lock()
			r.Calls[n-1].Interrupted = true
			r.mu.Unlock()
		}
	}
	if err != nil {
		return nil, err
	}
	if segment != nil {
		return segment, nil
	}
	f := audio.DefaultFormat
	return wav.Wrap(make([]byte, f.BytesPerSecond()*int(d/time.Millisecond)/1000), f), nil
}

// CallCount returns the number of RecordSegment invocations so far.
func (r *Recorder) CallCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Calls)
}

// Interrupted returns how many recordings were cut short by their context.
func (r *Recorder) Interrupted() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.Calls {
		if c.Interrupted {
			n++
		}
	}
	return n
}

// Starts returns a copy of the recorded segment start times.
func (r *Recorder) Starts() []time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]time.Time, len(r.Calls))
	for i, c := range r.Calls {
		out[i] = c.Start
	}
	return out
}

type recordError string

func (e recordError) Error() string { return string(e) }

const errRecordFailed = recordError("mock: record failed")

// ─── Player ───────────────────────────────────────────────────────────────────

// PlayCall records a single [Player.Play] invocation.
type PlayCall struct {
	// Path is the file path passed to Play.
	Path string

	// Data is the file content at the time Play was called.
	Data []byte

	// Start is when playback began.
	Start time.Time
}

// Player is a mock implementation of [audio.Player] and [audio.Router].
type Player struct {
	mu sync.Mutex

	// Duration is the simulated play time of every file.
	Duration time.Duration

	// Err is returned by Play while non-nil.
	Err error

	// Gate, if non-nil, blocks every Play until a value is received from it
	// or it is closed.
	Gate chan struct{}

	// Calls records all Play invocations in order.
	Calls []PlayCall

	// RouteCalls records all Route invocations in order.
	RouteCalls []bool

	active    int
	maxActive int
}

// Play implements [audio.Player]. The file is read before the simulated
// playback so that callers may delete it afterwards.
func (p *Player) Play(ctx context.Context, path string) error {
	data, readErr := os.ReadFile(path)

	p.mu.Lock()
	p.Calls = append(p.Calls, PlayCall{Path: path, Data: data, Start: time.Now()})
	p.active++
	if p.active > p.maxActive {
		p.maxActive = p.active
	}
	d, gate, err := p.Duration, p.Gate, p.Err
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.active--
		p.mu.Unlock()
	}()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if d > 0 {
		t := time.NewTimer(d)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}
	if readErr != nil {
		return readErr
	}
	return err
}

// Route implements [audio.Router].
func (p *Player) Route(speakerphone bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.RouteCalls = append(p.RouteCalls, speakerphone)
	return nil
}

// PlayCalls returns a copy of the recorded Play invocations.
func (p *Player) PlayCalls() []PlayCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PlayCall, len(p.Calls))
	copy(out, p.Calls)
	return out
}

// MaxConcurrent returns the highest number of Play calls that were active at
// the same time.
func (p *Player) MaxConcurrent() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxActive
}

// Compile-time interface checks.
var (
	_ audio.Recorder = (*Recorder)(nil)
	_ audio.Player   = (*Player)(nil)
	_ audio.Router   = (*Player)(nil)
)
