// Package file implements [audio.Recorder] and [audio.Player] on top of WAV
// files so that calls can be placed from a terminal: a pre-recorded WAV stands
// in for the microphone and every playback unit is written to an output
// directory.
//
// Both devices pace themselves in real time, so the capture and playback
// pipelines see the same timing as they would on a phone.
package file

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/MrWong99/kindred/pkg/audio"
	"github.com/MrWong99/kindred/pkg/audio/wav"
)

// Recorder streams a WAV file as consecutive microphone segments. Once the
// file is exhausted it yields silence, like an open microphone in a quiet room.
type Recorder struct {
	format audio.Format

	mu  sync.Mutex
	pcm []byte
	pos int
}

// NewRecorder loads the WAV file at path.
func NewRecorder(path string) (*Recorder, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("file recorder: read %q: %w", path, err)
	}
	pcm, f, err := wav.Strip(data)
	if err != nil {
		return nil, fmt.Errorf("file recorder: %q: %w", path, err)
	}
	if f.BitsPerSample != 16 {
		return nil, fmt.Errorf("file recorder: %q: unsupported sample width %d bits", path, f.BitsPerSample)
	}
	return &Recorder{format: f, pcm: pcm}, nil
}

// RecordSegment implements [audio.Recorder]. It waits d before returning the
// next d worth of audio in the file's own format.
func (r *Recorder) RecordSegment(ctx context.Context, d time.Duration) ([]byte, error) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	blockAlign := r.format.Channels * r.format.BitsPerSample / 8
	n := int(int64(r.format.BytesPerSecond()) * int64(d) / int64(time.Second))
	n -= n % blockAlign

	r.mu.Lock()
	defer r.mu.Unlock()

	seg := make([]byte, n)
	if r.pos < len(r.pcm) {
		r.pos += copy(seg, r.pcm[r.pos:])
	}
	return wav.Wrap(seg, r.format), nil
}

// Remaining returns the playback time of the unread part of the file.
func (r *Recorder) Remaining() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.format.Duration(len(r.pcm) - r.pos)
}

// Player copies every played file into a directory and blocks for the
// file's duration.
type Player struct {
	dir string

	mu           sync.Mutex
	n            int
	speakerphone bool
}

// NewPlayer creates a Player writing into dir, creating it if needed.
func NewPlayer(dir string) (*Player, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("file player: create %q: %w", dir, err)
	}
	return &Player{dir: dir}, nil
}

// Play implements [audio.Player].
func (p *Player) Play(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("file player: read: %w", err)
	}
	pcm, f, err := wav.Strip(data)
	if err != nil {
		return fmt.Errorf("file player: %w", err)
	}

	p.mu.Lock()
	p.n++
	out := filepath.Join(p.dir, fmt.Sprintf("reply-%04d.wav", p.n))
	speaker := p.speakerphone
	p.mu.Unlock()

	if err := os.WriteFile(out, data, 0o644); err != nil {
		return fmt.Errorf("file player: write: %w", err)
	}
	d := f.Duration(len(pcm))
	slog.Debug("file player: playing", "file", out, "duration", d, "speakerphone", speaker)

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Route implements [audio.Router]. The flag only affects logging.
func (p *Player) Route(speakerphone bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.speakerphone = speakerphone
	return nil
}

// Compile-time interface checks.
var (
	_ audio.Recorder = (*Recorder)(nil)
	_ audio.Player   = (*Player)(nil)
	_ audio.Router   = (*Player)(nil)
)
