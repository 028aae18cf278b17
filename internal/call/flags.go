// Package call runs one voice call between the user and a companion.
//
// A call is made of three cooperating parts:
//
//   - [Capture] records short microphone segments and streams them to the
//     speech-to-speech session.
//   - [Playback] queues synthesized audio fragments and plays them back as
//     few, gap-free units as possible.
//   - [Controller] owns the session lifecycle: it prepares the prompt from
//     memory, connects the transport, routes events to the pipelines and the
//     extractor, and runs the final memory sweep on hang-up.
//
// The pipelines share state only through a [Flags] value owned by the
// controller.
package call

import (
	"sync/atomic"
	"time"
)

// Flags is the state shared by the pipelines of one call. Every field has a
// single writer: [Playback] writes the speaking flag and the drain time, the
// [Controller] writes the user-speaking, mute and speakerphone flags. All
// reads are atomic.
type Flags struct {
	playing      atomic.Bool
	drainedAt    atomic.Int64 // unix nanoseconds, 0 until the first drain
	userSpeaking atomic.Bool
	muted        atomic.Bool
	speakerphone atomic.Bool
}

// Playing reports whether the companion's audio is currently being played.
func (f *Flags) Playing() bool { return f.playing.Load() }

// DrainedAt returns when the playback queue last ran empty. The zero time is
// returned before the first drain.
func (f *Flags) DrainedAt() time.Time {
	ns := f.drainedAt.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// UserSpeaking reports whether the transport's voice activity detection
// currently hears the user.
func (f *Flags) UserSpeaking() bool { return f.userSpeaking.Load() }

// Muted reports whether the microphone is muted.
func (f *Flags) Muted() bool { return f.muted.Load() }

// Speakerphone reports whether output is routed to the loudspeaker.
func (f *Flags) Speakerphone() bool { return f.speakerphone.Load() }

// Suppressed reports whether capture must not start a segment at now: the
// companion is speaking, or playback drained less than settle ago.
func (f *Flags) Suppressed(now time.Time, settle time.Duration) bool {
	if f.Playing() {
		return true
	}
	drained := f.drainedAt.Load()
	return drained != 0 && now.Sub(time.Unix(0, drained)) < settle
}

func (f *Flags) setPlaying(v bool) { f.playing.Store(v) }

// markDrained publishes the drain time before clearing playing, so a
// concurrent Suppressed never observes both unset.
func (f *Flags) markDrained(now time.Time) {
	f.drainedAt.Store(now.UnixNano())
	f.playing.Store(false)
}

func (f *Flags) setUserSpeaking(v bool) { f.userSpeaking.Store(v) }
func (f *Flags) setMuted(v bool)        { f.muted.Store(v) }
func (f *Flags) setSpeakerphone(v bool) { f.speakerphone.Store(v) }
