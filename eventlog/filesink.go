package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// ─────────────────────────────────────────────────────────────────────────────
// FileSink
// ─────────────────────────────────────────────────────────────────────────────

// FileConfig controls the audit file and its rotation.
type FileConfig struct {
	// Path is the active audit file (required).
	Path string

	// MaxBytes triggers rotation when the active file exceeds this size.
	// Zero disables rotation (the file grows without bound).
	MaxBytes int64

	// MaxBackups is the number of rotated files to keep.
	// Zero means keep all rotated files.
	MaxBackups int
}

// FileSink appends events as JSON lines with size-based rotation:
//
//	events.json   → events.json.1
//	events.json.1 → events.json.2
//	...
//	events.json.N → (removed if N > MaxBackups)
//
// Safe for concurrent use.
type FileSink struct {
	mu     sync.Mutex
	cfg    FileConfig
	file   *os.File
	size   int64
	logger *slog.Logger
}

// NewFileSink opens (or creates) the audit file. The caller must call Close
// when finished.
func NewFileSink(cfg FileConfig, logger *slog.Logger) (*FileSink, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("eventlog: Path is required")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("eventlog: mkdir %s: %w", filepath.Dir(cfg.Path), err)
	}

	fs := &FileSink{cfg: cfg, logger: logger}
	if err := fs.openFile(); err != nil {
		return nil, err
	}
	return fs, nil
}

// Record appends ev as one JSON line, rotating first when the write would
// exceed MaxBytes.
func (fs *FileSink) Record(_ context.Context, ev Event) error {
	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("eventlog: marshal event: %w", err)
	}
	line = append(line, '\n')

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.cfg.MaxBytes > 0 && fs.size+int64(len(line)) > fs.cfg.MaxBytes {
		if err := fs.rotate(); err != nil {
			fs.logger.Error("eventlog: rotate failed", "error", err.Error())
			// Keep writing to the current file rather than losing the event.
		}
	}

	n, err := fs.file.Write(line)
	fs.size += int64(n)
	return err
}

// Close closes the underlying file.
func (fs *FileSink) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.file != nil {
		return fs.file.Close()
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Rotation
// ─────────────────────────────────────────────────────────────────────────────

func (fs *FileSink) openFile() error {
	f, err := os.OpenFile(fs.cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("eventlog: open %s: %w", fs.cfg.Path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("eventlog: stat %s: %w", fs.cfg.Path, err)
	}
	fs.file = f
	fs.size = info.Size()
	return nil
}

func (fs *FileSink) rotate() error {
	if fs.file != nil {
		if err := fs.file.Close(); err != nil {
			fs.logger.Warn("eventlog: rotate: close error", "error", err.Error())
		}
		fs.file = nil
	}

	base := fs.cfg.Path

	if fs.cfg.MaxBackups > 0 {
		oldest := fmt.Sprintf("%s.%d", base, fs.cfg.MaxBackups)
		_ = os.Remove(oldest) // ignore error if it doesn't exist
	}

	limit := fs.cfg.MaxBackups
	if limit == 0 {
		limit = fs.findMaxBackup()
	}
	for i := limit; i >= 1; i-- {
		src := fmt.Sprintf("%s.%d", base, i)
		dst := fmt.Sprintf("%s.%d", base, i+1)
		_ = os.Rename(src, dst) // ignore error if src doesn't exist
	}

	if err := os.Rename(base, base+".1"); err != nil && !os.IsNotExist(err) {
		fs.logger.Warn("eventlog: rotate: rename error", "error", err.Error())
	}

	if fs.cfg.MaxBackups > 0 {
		fs.prune()
	}

	fs.size = 0
	return fs.openFile()
}

func (fs *FileSink) findMaxBackup() int {
	max := 0
	for i := 1; ; i++ {
		if _, err := os.Stat(fmt.Sprintf("%s.%d", fs.cfg.Path, i)); os.IsNotExist(err) {
			break
		}
		max = i
	}
	return max
}

func (fs *FileSink) prune() {
	for i := fs.cfg.MaxBackups + 1; ; i++ {
		name := fmt.Sprintf("%s.%d", fs.cfg.Path, i)
		if err := os.Remove(name); err != nil {
			break // no more files
		}
		fs.logger.Debug("eventlog: pruned old backup", "file", name)
	}
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
