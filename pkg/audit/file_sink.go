package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// FileSinkConfig configures the JSON-lines file sink
type FileSinkConfig struct {
	Dir      string // directory for audit files
	MaxSize  int64  // rotate once the active file reaches this many bytes
	MaxFiles int    // rotated files to keep

	// OnRotate is called with the path of each rotated file, outside the
	// sink's lock
	OnRotate func(path string)
}

// DefaultFileSinkConfig returns default configuration
func DefaultFileSinkConfig() FileSinkConfig {
	return FileSinkConfig{
		Dir:      "/var/log/rbacd/audit",
		MaxSize:  50 * 1024 * 1024,
		MaxFiles: 10,
	}
}

// FileSink appends entries as JSON lines to <dir>/security-audit.log
type FileSink struct {
	cfg  FileSinkConfig
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
	size int64
	now  func() time.Time
}

const activeFileName = "security-audit.log"

// NewFileSink creates the directory and opens the active file
func NewFileSink(cfg FileSinkConfig) (*FileSink, error) {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 50 * 1024 * 1024
	}
	if cfg.MaxFiles <= 0 {
		cfg.MaxFiles = 10
	}
	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}

	s := &FileSink{cfg: cfg, now: time.Now}
	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileSink) activePath() string {
	return filepath.Join(s.cfg.Dir, activeFileName)
}

func (s *FileSink) open() error {
	f, err := os.OpenFile(s.activePath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return fmt.Errorf("failed to open audit log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to stat audit log file: %w", err)
	}
	s.file = f
	s.enc = json.NewEncoder(f)
	s.size = info.Size()
	return nil
}

// Record appends the entry, rotating first when the file is full
func (s *FileSink) Record(ctx context.Context, e *Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}
	data = append(data, '\n')

	var rotated string
	s.mu.Lock()
	if s.file == nil {
		s.mu.Unlock()
		return fmt.Errorf("audit file sink is closed")
	}
	if s.size > 0 && s.size+int64(len(data)) > s.cfg.MaxSize {
		if rotated, err = s.rotate(); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	n, err := s.file.Write(data)
	s.size += int64(n)
	s.mu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	if rotated != "" && s.cfg.OnRotate != nil {
		s.cfg.OnRotate(rotated)
	}
	return nil
}

// rotate renames the active file and reopens a fresh one. Caller holds mu.
func (s *FileSink) rotate() (string, error) {
	if err := s.file.Close(); err != nil {
		return "", fmt.Errorf("failed to close audit log file: %w", err)
	}
	s.file = nil

	rotated := filepath.Join(s.cfg.Dir, fmt.Sprintf("security-audit-%s.log", s.now().UTC().Format("20060102T150405.000000000")))
	if err := os.Rename(s.activePath(), rotated); err != nil {
		return "", fmt.Errorf("failed to rotate audit log file: %w", err)
	}
	if err := s.open(); err != nil {
		return "", err
	}
	s.prune()
	return rotated, nil
}

// prune removes the oldest rotated files beyond MaxFiles
func (s *FileSink) prune() {
	files, err := s.RotatedFiles()
	if err != nil || len(files) <= s.cfg.MaxFiles {
		return
	}
	for _, f := range files[:len(files)-s.cfg.MaxFiles] {
		os.Remove(f)
	}
}

// RotatedFiles lists rotated files, oldest first
func (s *FileSink) RotatedFiles() ([]string, error) {
	files, err := filepath.Glob(filepath.Join(s.cfg.Dir, "security-audit-*.log"))
	if err != nil {
		return nil, err
	}
	// the timestamp suffix sorts lexically
	sort.Strings(files)
	return files, nil
}

// Close closes the active file
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
