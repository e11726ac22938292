package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Rotator is an io.Writer that rotates the underlying file once it grows
// past a size cap, keeping a bounded number of timestamped backups.
type Rotator struct {
	mu         sync.Mutex
	path       string
	maxBytes   int64
	maxBackups int
	file       *os.File
	size       int64
}

// NewRotator opens (or creates) the log file at path.
func NewRotator(path string, maxSizeMB int64, maxBackups int) (*Rotator, error) {
	if path == "" {
		return nil, fmt.Errorf("rotator: empty path")
	}
	if maxSizeMB <= 0 {
		maxSizeMB = 50
	}
	if maxBackups <= 0 {
		maxBackups = 3
	}

	r := &Rotator{
		path:       path,
		maxBytes:   maxSizeMB * 1024 * 1024,
		maxBackups: maxBackups,
	}

	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	if err := r.open(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Rotator) open() error {
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	r.file = f
	r.size = info.Size()
	return nil
}

// Write implements io.Writer.
func (r *Rotator) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		if err := r.open(); err != nil {
			return 0, err
		}
	}

	if r.size+int64(len(p)) > r.maxBytes {
		if err := r.rotate(); err != nil {
			return 0, fmt.Errorf("rotate log: %w", err)
		}
	}

	n, err := r.file.Write(p)
	r.size += int64(n)
	return n, err
}

func (r *Rotator) rotate() error {
	if r.file != nil {
		if err := r.file.Close(); err != nil {
			return fmt.Errorf("close current log: %w", err)
		}
		r.file = nil
	}

	stamp := time.Now().Format("20060102-150405")
	ext := filepath.Ext(r.path)
	rotated := strings.TrimSuffix(r.path, ext) + "-" + stamp + ext
	if err := os.Rename(r.path, rotated); err != nil {
		return fmt.Errorf("rename log: %w", err)
	}

	r.pruneBackups()
	return r.open()
}

// pruneBackups removes the oldest rotated files beyond maxBackups.
func (r *Rotator) pruneBackups() {
	ext := filepath.Ext(r.path)
	pattern := strings.TrimSuffix(r.path, ext) + "-*" + ext
	matches, err := filepath.Glob(pattern)
	if err != nil || len(matches) <= r.maxBackups {
		return
	}

	sort.Strings(matches)
	for _, old := range matches[:len(matches)-r.maxBackups] {
		os.Remove(old)
	}
}

// Close closes the current log file.
func (r *Rotator) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}
