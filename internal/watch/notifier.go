// Package watch turns filesystem events under the drop folder into early
// scan requests. Polling stays authoritative: a missed event only delays
// detection until the next scheduled scan.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces bursts of events into one nudge.
const DefaultDebounce = 500 * time.Millisecond

// Notifier watches a directory tree and calls OnChange when CSV files
// appear or grow.
type Notifier struct {
	watcher  *fsnotify.Watcher
	root     string
	skip     map[string]bool // lowercased folder names never watched
	debounce time.Duration

	// OnChange is called at most once per debounce window.
	OnChange func()

	mu    sync.Mutex
	timer *time.Timer
}

// NewNotifier creates a notifier for root. Folders named in skip are not
// watched, nor anything below them.
func NewNotifier(root string, skip ...string) (*Notifier, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	n := &Notifier{
		watcher:  fsWatcher,
		root:     abs,
		skip:     make(map[string]bool, len(skip)),
		debounce: DefaultDebounce,
	}
	for _, s := range skip {
		n.skip[strings.ToLower(s)] = true
	}

	if err := n.addTree(abs); err != nil {
		fsWatcher.Close()
		return nil, err
	}
	return n, nil
}

// SetDebounce changes the debounce window.
func (n *Notifier) SetDebounce(d time.Duration) {
	n.mu.Lock()
	n.debounce = d
	n.mu.Unlock()
}

// addTree watches dir and every folder below it.
func (n *Notifier) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return fmt.Errorf("failed to watch %s: %w", dir, err)
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != n.root && n.skip[strings.ToLower(d.Name())] {
			return filepath.SkipDir
		}
		if err := n.watcher.Add(path); err != nil {
			slog.Debug("watch failed", "dir", path, "error", err)
		}
		return nil
	})
}

// Run handles events until ctx is canceled.
func (n *Notifier) Run(ctx context.Context) error {
	defer n.watcher.Close()
	defer n.stopTimer()

	slog.Info("file notifications enabled", "root", n.root)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-n.watcher.Events:
			if !ok {
				return nil
			}
			n.handle(event)

		case err, ok := <-n.watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("file notification error", "error", err)
		}
	}
}

func (n *Notifier) handle(event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}

	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if n.skip[strings.ToLower(filepath.Base(event.Name))] {
				return
			}
			if err := n.addTree(event.Name); err != nil {
				slog.Debug("watch new folder failed", "dir", event.Name, "error", err)
			}
			n.schedule()
			return
		}
	}

	if !strings.EqualFold(filepath.Ext(event.Name), ".csv") {
		return
	}
	n.schedule()
}

// schedule arms the debounce timer unless it is already pending.
func (n *Notifier) schedule() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.timer != nil {
		return
	}
	n.timer = time.AfterFunc(n.debounce, func() {
		n.mu.Lock()
		n.timer = nil
		fn := n.OnChange
		n.mu.Unlock()

		if fn != nil {
			fn()
		}
	})
}

func (n *Notifier) stopTimer() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
}

// Close stops watching without waiting for Run.
func (n *Notifier) Close() error {
	return n.watcher.Close()
}
