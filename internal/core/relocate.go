package core

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// Default names of the sibling folders files are moved into.
const (
	DefaultProcessedDir = "processed"
	DefaultErrorDir     = "error"
)

// relocationStamp prefixes processed file names.
const relocationStamp = "20060102T150405"

// ProcessedPath returns processed/<timestamp>_<name> next to path.
func ProcessedPath(path, dir string, at time.Time) string {
	if dir == "" {
		dir = DefaultProcessedDir
	}
	name := at.UTC().Format(relocationStamp) + "_" + filepath.Base(path)
	return filepath.Join(filepath.Dir(path), dir, name)
}

// ErrorPath returns error/<name> next to path. When that name is taken the
// timestamp prefix is added so an earlier failure is not overwritten.
func ErrorPath(path, dir string, at time.Time) string {
	if dir == "" {
		dir = DefaultErrorDir
	}
	target := filepath.Join(filepath.Dir(path), dir, filepath.Base(path))
	if _, err := os.Stat(target); err == nil {
		target = filepath.Join(filepath.Dir(path), dir, at.UTC().Format(relocationStamp)+"_"+filepath.Base(path))
	}
	return target
}

// Relocate moves src to dst, creating dst's folder on demand. Permissions
// and modification time are kept, including across filesystems.
func Relocate(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(dst), err)
	}

	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return fmt.Errorf("move %s: %w", src, err)
	}
	return copyAndRemove(src, dst)
}

func copyAndRemove(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat %s: %w", src, err)
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("copy %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return fmt.Errorf("close %s: %w", dst, err)
	}

	if err := os.Chmod(dst, info.Mode().Perm()); err != nil {
		return fmt.Errorf("chmod %s: %w", dst, err)
	}
	if err := os.Chtimes(dst, info.ModTime(), info.ModTime()); err != nil {
		return fmt.Errorf("chtimes %s: %w", dst, err)
	}
	return os.Remove(src)
}
