package core

// scanner.go walks the watched root and registers new CSV files with the
// Watcher. Classification is derived from the first two folders below the
// root and never reads file contents:
//
//	<root>/<reference_data|non_reference_data>/<fullload|append>/.../*.csv
//
// processed/ and error/ folders are skipped wherever they appear.

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Layout names the folders under the watched root.
type Layout struct {
	ReferenceDir    string
	NonReferenceDir string
	FullloadDir     string
	AppendDir       string
	ProcessedDir    string
	ErrorDir        string
}

// DefaultLayout is the folder layout used when none is configured.
var DefaultLayout = Layout{
	ReferenceDir:    "reference_data",
	NonReferenceDir: "non_reference_data",
	FullloadDir:     "fullload",
	AppendDir:       "append",
	ProcessedDir:    DefaultProcessedDir,
	ErrorDir:        DefaultErrorDir,
}

func (l Layout) withDefaults() Layout {
	d := DefaultLayout
	if l.ReferenceDir != "" {
		d.ReferenceDir = l.ReferenceDir
	}
	if l.NonReferenceDir != "" {
		d.NonReferenceDir = l.NonReferenceDir
	}
	if l.FullloadDir != "" {
		d.FullloadDir = l.FullloadDir
	}
	if l.AppendDir != "" {
		d.AppendDir = l.AppendDir
	}
	if l.ProcessedDir != "" {
		d.ProcessedDir = l.ProcessedDir
	}
	if l.ErrorDir != "" {
		d.ErrorDir = l.ErrorDir
	}
	return d
}

// Scanner discovers candidate files under a root.
type Scanner struct {
	root     string
	layout   Layout
	watcher  *Watcher
	tracking TrackingStore
	inFlight func(path string) bool
}

// NewScanner creates a scanner registering files with w. inFlight reports
// paths currently being ingested; it may be nil.
func NewScanner(root string, layout Layout, w *Watcher, tracking TrackingStore, inFlight func(string) bool) (*Scanner, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	if inFlight == nil {
		inFlight = func(string) bool { return false }
	}
	return &Scanner{
		root:     abs,
		layout:   layout.withDefaults(),
		watcher:  w,
		tracking: tracking,
		inFlight: inFlight,
	}, nil
}

// Root returns the absolute watched root.
func (s *Scanner) Root() string { return s.root }

// Layout returns the effective folder layout.
func (s *Scanner) Layout() Layout { return s.layout }

// Classify derives the classification of path from its folders.
// Returns false for paths outside the recognized layout.
func (s *Scanner) Classify(path string) (Classification, bool) {
	rel, err := filepath.Rel(s.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return Classification{}, false
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) < 3 {
		return Classification{}, false
	}

	var c Classification
	switch {
	case strings.EqualFold(parts[0], s.layout.ReferenceDir):
		c.Reference = true
	case strings.EqualFold(parts[0], s.layout.NonReferenceDir):
		c.Reference = false
	default:
		return Classification{}, false
	}

	switch {
	case strings.EqualFold(parts[1], s.layout.FullloadDir):
		c.Mode = LoadFull
	case strings.EqualFold(parts[1], s.layout.AppendDir):
		c.Mode = LoadAppend
	default:
		return Classification{}, false
	}

	for _, p := range parts[2 : len(parts)-1] {
		if s.isOutputDir(p) {
			return Classification{}, false
		}
	}
	return c, true
}

func (s *Scanner) isOutputDir(name string) bool {
	return strings.EqualFold(name, s.layout.ProcessedDir) || strings.EqualFold(name, s.layout.ErrorDir)
}

// IsCSV reports whether name has a .csv extension, in any case.
func IsCSV(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".csv")
}

// Scan walks the root once and returns the number of newly tracked files.
// Problems with individual files are logged and skipped.
func (s *Scanner) Scan(ctx context.Context) (int, error) {
	added := 0
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == s.root {
				return err
			}
			slog.Debug("scan skipped entry", "path", path, "error", err)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if d.IsDir() {
			if path != s.root && s.isOutputDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !IsCSV(d.Name()) {
			return nil
		}

		class, ok := s.Classify(path)
		if !ok {
			return nil
		}
		if s.watcher.IsTracked(path) || s.inFlight(path) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			slog.Debug("scan stat failed", "path", path, "error", err)
			return nil
		}

		if s.register(ctx, path, info, class) {
			added++
		}
		return nil
	})
	if err != nil {
		return added, fmt.Errorf("scan %s: %w", s.root, err)
	}
	return added, nil
}

// register tracks path unless its last record is terminal and not older
// than the file.
func (s *Scanner) register(ctx context.Context, path string, info fs.FileInfo, class Classification) bool {
	now := time.Now()

	rec, ok, err := s.tracking.LookupTracking(ctx, path)
	if err != nil {
		slog.Warn("tracking lookup failed, skipping file this scan", "file", path, "error", err)
		return false
	}
	if ok && rec.Status.Terminal() && !info.ModTime().After(rec.FinishedAt) {
		return false
	}
	if !ok || rec.Status.Terminal() {
		rec = TrackingRecord{
			ID:         uuid.New(),
			Path:       path,
			DetectedAt: now,
		}
	}

	f := TrackedFile{
		Path:         path,
		Size:         info.Size(),
		ModTime:      info.ModTime(),
		DiscoveredAt: now,
		Class:        class,
	}
	if !s.watcher.Track(f) {
		return false
	}

	rec.Status = TrackingDetected
	rec.LoadType = class.Mode
	rec.UpdatedAt = now
	if err := s.tracking.SaveTracking(ctx, rec); err != nil {
		slog.Warn("save detection record failed", "file", path, "error", err)
	}

	slog.Info("file detected", "file", path, "class", class.String(), "size", info.Size())
	return true
}
