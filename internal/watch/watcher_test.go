package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

func TestWatcher_Accepts(t *testing.T) {
	w, err := New(nil, ".png", ".JPG")
	if err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	tests := []struct {
		name string
		want bool
	}{
		{"/data/image1.png", true},
		{"/data/image2.jpg", true},
		{"/data/notes.txt", false},
		{"/data/.checkpoint123.png", false},
		{"/data/image3.png.tmp", false},
	}
	for _, tt := range tests {
		if got := w.accepts(tt.name); got != tt.want {
			t.Errorf("accepts(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestWatcher_DebouncesEvents(t *testing.T) {
	got := make(chan []string, 4)
	w, err := New(func(changed []string) { got <- changed })
	if err != nil {
		t.Fatal(err)
	}
	defer w.Stop()
	w.SetDebounce(20 * time.Millisecond)

	w.handleEvent(fsnotify.Event{Name: "/d/b.json", Op: fsnotify.Write})
	w.handleEvent(fsnotify.Event{Name: "/d/a.json", Op: fsnotify.Create})
	w.handleEvent(fsnotify.Event{Name: "/d/a.json", Op: fsnotify.Write})
	w.handleEvent(fsnotify.Event{Name: "/d/c.json", Op: fsnotify.Remove})

	select {
	case files := <-got:
		if len(files) != 2 || files[0] != "/d/a.json" || files[1] != "/d/b.json" {
			t.Errorf("changed = %v, want [/d/a.json /d/b.json]", files)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("callback not called")
	}

	select {
	case files := <-got:
		t.Errorf("unexpected second flush: %v", files)
	case <-time.After(60 * time.Millisecond):
	}
}

func TestWatcher_RealFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "incoming")
	got := make(chan []string, 4)
	w, err := New(func(changed []string) { got <- changed }, ".png")
	if err != nil {
		t.Fatal(err)
	}
	defer w.Stop()
	w.SetDebounce(20 * time.Millisecond)

	if err := w.Add(dir); err != nil {
		t.Fatal(err)
	}
	w.Start(context.Background())

	path := filepath.Join(dir, "image7.png")
	if err := os.WriteFile(path, []byte("png"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case files := <-got:
		if len(files) != 1 || files[0] != path {
			t.Errorf("changed = %v, want [%s]", files, path)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no change reported")
	}
}
