// Package audio defines the device abstractions and PCM helpers used by the
// call engine.
//
// The two device interfaces are small:
//
//   - [Recorder] records one short microphone segment and returns it wrapped
//     in a WAV container, exactly like a mobile recording API would.
//   - [Player] plays a WAV file from disk to completion.
//
// Implementations live in sub-packages (audio/file for the CLI, audio/mock for
// tests). Container framing is handled by audio/wav.
package audio

import (
	"context"
	"time"
)

// Recorder captures microphone audio in discrete segments.
//
// RecordSegment blocks until a segment of roughly d has been recorded and
// returns it as a complete WAV container (header + PCM payload). It returns an
// error on device or permission failure; callers are expected to retry.
// Implementations must honour ctx cancellation but may finish an in-flight
// segment before returning.
type Recorder interface {
	RecordSegment(ctx context.Context, d time.Duration) ([]byte, error)
}

// Player renders audio files to the output device.
//
// Play blocks until the file at path has been fully played, ctx is cancelled,
// or playback fails. The caller owns the file and deletes it afterwards.
type Player interface {
	Play(ctx context.Context, path string) error
}

// Router is implemented by players that can switch between the earpiece and
// the loudspeaker.
type Router interface {
	Route(speakerphone bool) error
}
