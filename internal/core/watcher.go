package core

// watcher.go decides when a deposited file is safe to read.
//
// Every poll stats each tracked file. The first poll after Track only
// records a baseline. After that a size or mtime change resets the counter
// to 0 and an unchanged poll increments it, so every counted check spans a
// full poll interval. When the counter reaches the threshold the file is
// reported stable exactly once and dropped from tracking. A file that cannot
// be stat'ed is dropped silently; the next scan rediscovers it if it comes
// back.

import (
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"
)

// DefaultStabilityThreshold is the number of unchanged polls required.
const DefaultStabilityThreshold = 6

// StatFunc returns the size and modification time of path.
type StatFunc func(path string) (size int64, modTime time.Time, err error)

func osStat(path string) (int64, time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, time.Time{}, err
	}
	return info.Size(), info.ModTime(), nil
}

// Watcher owns the set of tracked candidate files.
type Watcher struct {
	mu        sync.Mutex
	files     map[string]*watched
	threshold int
	stat      StatFunc
}

type watched struct {
	TrackedFile
	baseline bool // polled at least once since Track
}

// NewWatcher creates a watcher. A nil stat uses os.Stat.
func NewWatcher(threshold int, stat StatFunc) *Watcher {
	if threshold <= 0 {
		threshold = DefaultStabilityThreshold
	}
	if stat == nil {
		stat = osStat
	}
	return &Watcher{
		files:     make(map[string]*watched),
		threshold: threshold,
		stat:      stat,
	}
}

// Threshold returns the number of unchanged polls required.
func (w *Watcher) Threshold() int { return w.threshold }

// Track starts watching f with its counter at 0.
// Returns false if the path is already tracked.
func (w *Watcher) Track(f TrackedFile) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.files[f.Path]; ok {
		return false
	}
	f.Unchanged = 0
	if f.DiscoveredAt.IsZero() {
		f.DiscoveredAt = time.Now()
	}
	w.files[f.Path] = &watched{TrackedFile: f}
	return true
}

// IsTracked reports whether path is being watched.
func (w *Watcher) IsTracked(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.files[path]
	return ok
}

// Forget stops watching path.
func (w *Watcher) Forget(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.files, path)
}

// Len returns the number of tracked files.
func (w *Watcher) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.files)
}

// Poll advances every baselined file by one check and returns the files that
// became stable, oldest discovery first. Stable files are no longer tracked.
func (w *Watcher) Poll() []TrackedFile {
	w.mu.Lock()
	defer w.mu.Unlock()

	var stable []TrackedFile
	for path, f := range w.files {
		size, modTime, err := w.stat(path)
		if err != nil {
			slog.Debug("tracked file vanished", "file", path, "error", err)
			delete(w.files, path)
			continue
		}

		if !f.baseline || size != f.Size || !modTime.Equal(f.ModTime) {
			f.baseline = true
			f.Size = size
			f.ModTime = modTime
			f.Unchanged = 0
			continue
		}

		f.Unchanged++
		if f.Unchanged >= w.threshold {
			stable = append(stable, f.TrackedFile)
			delete(w.files, path)
		}
	}

	sort.Slice(stable, func(i, j int) bool {
		if !stable[i].DiscoveredAt.Equal(stable[j].DiscoveredAt) {
			return stable[i].DiscoveredAt.Before(stable[j].DiscoveredAt)
		}
		return stable[i].Path < stable[j].Path
	})
	return stable
}

// Snapshot returns a copy of the tracked files sorted by path.
func (w *Watcher) Snapshot() []TrackedFile {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]TrackedFile, 0, len(w.files))
	for _, f := range w.files {
		out = append(out, f.TrackedFile)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}
