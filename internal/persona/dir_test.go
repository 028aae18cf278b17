package persona

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestOpenDir(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, dir, "ava.yaml", `
name: Ava
voice: shimmer
backstory: Grew up by the sea.
interests: [sailing, jazz]
quirks: [hums when thinking]
speaking_style: playful
`)
	writeFile(t, dir, "leo.yml", "id: leo-2\nname: Leo\n")
	writeFile(t, dir, "broken.yaml", "name: [unclosed\n")
	writeFile(t, dir, "unknown-field.yaml", "name: X\nshoe_size: 9\n")
	writeFile(t, dir, "nameless.yaml", "voice: echo\n")
	writeFile(t, dir, "notes.txt", "ignored")

	d, err := OpenDir(dir)
	if err != nil {
		t.Fatalf("OpenDir: %v", err)
	}

	ids := d.IDs()
	slices.Sort(ids)
	if want := []string{"ava", "leo-2"}; !slices.Equal(ids, want) {
		t.Fatalf("IDs = %v, want %v", ids, want)
	}

	ava, err := d.Lookup(context.Background(), "ava")
	if err != nil {
		t.Fatalf("Lookup ava: %v", err)
	}
	if ava.Name != "Ava" || ava.Voice != "shimmer" || len(ava.Interests) != 2 || ava.SpeakingStyle != "playful" {
		t.Errorf("ava = %+v", ava)
	}

	if _, err := d.Lookup(context.Background(), "broken"); !errors.Is(err, ErrNotFound) {
		t.Errorf("broken lookup err = %v, want ErrNotFound", err)
	}
	if err := d.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestOpenDir_Missing(t *testing.T) {
	t.Parallel()
	if _, err := OpenDir(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func TestDir_Reload(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, dir, "ava.yaml", "name: Ava\n")

	d, err := OpenDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	writeFile(t, dir, "ava.yaml", "name: Ava Marie\n")
	if err := d.Reload(); err != nil {
		t.Fatal(err)
	}
	p, _ := d.Lookup(context.Background(), "ava")
	if p.Name != "Ava Marie" {
		t.Errorf("Name = %q after reload, want Ava Marie", p.Name)
	}
}

func TestDir_Watch(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	d, err := OpenDir(dir)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Watch(ctx) }()

	// Give the watcher a moment to register before writing.
	time.Sleep(50 * time.Millisecond)
	writeFile(t, dir, "mia.yaml", "name: Mia\n")

	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, err := d.Lookup(context.Background(), "mia"); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("watcher did not pick up new persona")
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Watch returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}
