package persona

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// reloadDebounce coalesces the burst of events an editor produces on save.
const reloadDebounce = 200 * time.Millisecond

// Dir is a [Source] backed by a directory of YAML files, one persona per
// file. A file's id defaults to its base name without extension.
type Dir struct {
	path string

	mu       sync.RWMutex
	personas map[string]Persona
}

// OpenDir loads every *.yaml and *.yml file in path. Files that fail to parse
// or validate are skipped with a warning; an unreadable directory is an error.
func OpenDir(path string) (*Dir, error) {
	d := &Dir{path: path}
	if err := d.Reload(); err != nil {
		return nil, err
	}
	return d, nil
}

// Lookup implements [Source].
func (d *Dir) Lookup(_ context.Context, id string) (Persona, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.personas[id]
	if !ok {
		return Persona{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return p, nil
}

// IDs returns the ids of all loaded personas.
func (d *Dir) IDs() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]string, 0, len(d.personas))
	for id := range d.personas {
		ids = append(ids, id)
	}
	return ids
}

// Ping reports whether the directory is still readable.
func (d *Dir) Ping(context.Context) error {
	if _, err := os.Stat(d.path); err != nil {
		return fmt.Errorf("persona dir: %w", err)
	}
	return nil
}

// Reload re-reads the directory and atomically swaps the loaded set.
func (d *Dir) Reload() error {
	entries, err := os.ReadDir(d.path)
	if err != nil {
		return fmt.Errorf("persona dir: read %q: %w", d.path, err)
	}

	loaded := make(map[string]Persona, len(entries))
	for _, e := range entries {
		if e.IsDir() || !isYAML(e.Name()) {
			continue
		}
		file := filepath.Join(d.path, e.Name())
		p, err := loadFile(file)
		if err != nil {
			slog.Warn("persona dir: skipping file", "file", file, "err", err)
			continue
		}
		if _, dup := loaded[p.ID]; dup {
			slog.Warn("persona dir: duplicate id, keeping first", "file", file, "id", p.ID)
			continue
		}
		loaded[p.ID] = p
	}

	d.mu.Lock()
	d.personas = loaded
	d.mu.Unlock()
	slog.Debug("persona dir: loaded", "path", d.path, "count", len(loaded))
	return nil
}

// Watch reloads the directory whenever a YAML file in it changes, until ctx
// is cancelled. It blocks, so run it in its own goroutine.
func (d *Dir) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("persona dir: watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(d.path); err != nil {
		return fmt.Errorf("persona dir: watch %q: %w", d.path, err)
	}

	var (
		timer   *time.Timer
		pending <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !isYAML(ev.Name) || !ev.Has(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			pending = timer.C

		case <-pending:
			pending = nil
			if err := d.Reload(); err != nil {
				slog.Warn("persona dir: reload failed, keeping previous set", "err", err)
				continue
			}
			slog.Info("persona dir: reloaded", "path", d.path)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Warn("persona dir: watch error", "err", err)
		}
	}
}

func isYAML(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

func loadFile(path string) (Persona, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Persona{}, err
	}
	var p Persona
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return Persona{}, fmt.Errorf("parse: %w", err)
	}
	if p.ID == "" {
		base := filepath.Base(path)
		p.ID = strings.TrimSuffix(base, filepath.Ext(base))
	}
	if err := p.Validate(); err != nil {
		return Persona{}, errors.Join(errors.New("invalid persona"), err)
	}
	return p, nil
}

var _ Source = (*Dir)(nil)
