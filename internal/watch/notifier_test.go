package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

func newTestNotifier(t *testing.T, root string) (*Notifier, *atomic.Int32) {
	t.Helper()
	n, err := NewNotifier(root, "processed", "error")
	if err != nil {
		t.Fatalf("NewNotifier() error = %v", err)
	}
	t.Cleanup(func() { n.Close() })

	var calls atomic.Int32
	n.SetDebounce(10 * time.Millisecond)
	n.OnChange = func() { calls.Add(1) }
	return n, &calls
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNotifier_HandleFiltersEvents(t *testing.T) {
	root := t.TempDir()
	n, calls := newTestNotifier(t, root)

	tests := []struct {
		name  string
		event fsnotify.Event
		want  int32
	}{
		{"csv create", fsnotify.Event{Name: filepath.Join(root, "a.csv"), Op: fsnotify.Create}, 1},
		{"csv write upper case", fsnotify.Event{Name: filepath.Join(root, "B.CSV"), Op: fsnotify.Write}, 1},
		{"csv remove", fsnotify.Event{Name: filepath.Join(root, "a.csv"), Op: fsnotify.Remove}, 0},
		{"other extension", fsnotify.Event{Name: filepath.Join(root, "a.txt"), Op: fsnotify.Create}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls.Store(0)
			n.handle(tt.event)
			time.Sleep(40 * time.Millisecond)
			if got := calls.Load(); got != tt.want {
				t.Errorf("OnChange calls = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestNotifier_Debounce(t *testing.T) {
	root := t.TempDir()
	n, calls := newTestNotifier(t, root)

	for i := 0; i < 20; i++ {
		n.handle(fsnotify.Event{Name: filepath.Join(root, "a.csv"), Op: fsnotify.Write})
	}
	waitFor(t, func() bool { return calls.Load() > 0 })
	time.Sleep(30 * time.Millisecond)
	if got := calls.Load(); got != 1 {
		t.Errorf("OnChange calls = %d, want 1", got)
	}
}

func TestNotifier_RunDetectsNewFilesInNewFolders(t *testing.T) {
	root := t.TempDir()
	n, calls := newTestNotifier(t, root)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()

	dir := filepath.Join(root, "reference_data", "append")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return calls.Load() > 0 })

	// give the notifier time to add the new folders
	time.Sleep(50 * time.Millisecond)
	calls.Store(0)
	if err := os.WriteFile(filepath.Join(dir, "rates.csv"), []byte("a,b\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return calls.Load() > 0 })

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return")
	}
}

func TestNewNotifier_MissingRoot(t *testing.T) {
	if _, err := NewNotifier(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("NewNotifier() succeeded for missing root")
	}
}
