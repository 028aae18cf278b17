// Package persona provides companion profiles: the static personality bundle
// (name, backstory, interests, quirks, voice) that is interpolated into a
// call's instructions.
//
// Profiles come from a [Source]. [Dir] loads them from a directory of YAML
// files and can hot-reload it. [Resolve] never fails: when a lookup fails the
// generic [Fallback] persona is substituted so the call can still proceed.
package persona

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// ErrNotFound is returned by a [Source] that has no persona for an id.
var ErrNotFound = errors.New("persona: not found")

// DefaultVoice is used when a persona does not name a voice.
const DefaultVoice = "alloy"

// Persona is one companion's personality bundle.
type Persona struct {
	ID            string   `yaml:"id"`
	Name          string   `yaml:"name"`
	Voice         string   `yaml:"voice"`
	Backstory     string   `yaml:"backstory"`
	Interests     []string `yaml:"interests"`
	Quirks        []string `yaml:"quirks"`
	SpeakingStyle string   `yaml:"speaking_style"`
}

// Validate checks the fields a call cannot do without.
func (p Persona) Validate() error {
	var errs []error
	if strings.TrimSpace(p.ID) == "" {
		errs = append(errs, errors.New("id is required"))
	}
	if strings.TrimSpace(p.Name) == "" {
		errs = append(errs, errors.New("name is required"))
	}
	return errors.Join(errs...)
}

// VoiceOrDefault returns the persona's voice, or [DefaultVoice].
func (p Persona) VoiceOrDefault() string {
	if p.Voice == "" {
		return DefaultVoice
	}
	return p.Voice
}

// Source looks companion profiles up by id.
type Source interface {
	// Lookup returns the persona for id, or an error wrapping [ErrNotFound].
	Lookup(ctx context.Context, id string) (Persona, error)
}

// Fallback returns the generic persona used when the real one cannot be
// loaded. It carries the requested id so memory stays keyed correctly.
func Fallback(id string) Persona {
	return Persona{
		ID:    id,
		Name:  "Robin",
		Voice: DefaultVoice,
		Backstory: "You are a friendly, attentive companion who loves getting to know people. " +
			"You are curious about everyday life and always happy to chat.",
		Interests:     []string{"people's stories", "music", "good food", "the outdoors"},
		Quirks:        []string{"you laugh easily", "you remember small details"},
		SpeakingStyle: "warm and relaxed",
	}
}

// Resolve looks id up in src and substitutes [Fallback] on any failure,
// including a nil src. The second return value reports whether the fallback
// was used.
func Resolve(ctx context.Context, src Source, id string) (Persona, bool) {
	if src == nil {
		return Fallback(id), true
	}
	p, err := src.Lookup(ctx, id)
	if err == nil {
		err = p.Validate()
	}
	if err != nil {
		slog.Warn("persona: lookup failed, using fallback", "companion_id", id, "err", err)
		return Fallback(id), true
	}
	return p, false
}

// Map is an in-memory [Source], mostly useful in tests and for embedding a
// fixed set of companions.
type Map map[string]Persona

// Lookup implements [Source].
func (m Map) Lookup(_ context.Context, id string) (Persona, error) {
	p, ok := m[id]
	if !ok {
		return Persona{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return p, nil
}

var _ Source = Map(nil)
