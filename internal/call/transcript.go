package call

import (
	"sync"

	"github.com/MrWong99/kindred/pkg/memory"
)

// transcript accumulates the finalised utterances of a call.
type transcript struct {
	mu      sync.Mutex
	entries []memory.TranscriptEntry
}

func (t *transcript) add(e memory.TranscriptEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, e)
}

func (t *transcript) snapshot() []memory.TranscriptEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]memory.TranscriptEntry, len(t.entries))
	copy(out, t.entries)
	return out
}
