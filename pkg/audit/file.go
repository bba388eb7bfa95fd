package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// FileSink appends entries as newline-delimited JSON to audit.log under
// the configured directory, rotating by size.
type FileSink struct {
	basePath string
	maxSize  int64
	maxFiles int

	mu      sync.Mutex
	file    *os.File
	encoder *json.Encoder
}

// FileSinkConfig configures the file sink.
type FileSinkConfig struct {
	BasePath string
	MaxSize  int64 // bytes before rotation, default 100MB
	MaxFiles int   // rotated files kept, default 10
}

// DefaultFileSinkConfig returns default configuration.
func DefaultFileSinkConfig() FileSinkConfig {
	return FileSinkConfig{
		BasePath: "/var/log/authcore/audit",
		MaxSize:  100 * 1024 * 1024,
		MaxFiles: 10,
	}
}

// NewFileSink creates a file-backed audit sink.
func NewFileSink(config FileSinkConfig) (*FileSink, error) {
	if err := os.MkdirAll(config.BasePath, 0755); err != nil {
		return nil, fmt.Errorf("create audit log directory: %w", err)
	}

	s := &FileSink{
		basePath: config.BasePath,
		maxSize:  config.MaxSize,
		maxFiles: config.MaxFiles,
	}
	if s.maxSize == 0 {
		s.maxSize = 100 * 1024 * 1024
	}
	if s.maxFiles == 0 {
		s.maxFiles = 10
	}

	if err := s.openLogFile(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileSink) openLogFile() error {
	filename := filepath.Join(s.basePath, "audit.log")

	if info, err := os.Stat(filename); err == nil && info.Size() >= s.maxSize {
		if err := s.rotateFile(); err != nil {
			return fmt.Errorf("rotate audit log: %w", err)
		}
	}

	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}

	s.file = file
	s.encoder = json.NewEncoder(file)
	return nil
}

func (s *FileSink) rotateFile() error {
	current := filepath.Join(s.basePath, "audit.log")

	if s.file != nil {
		s.file.Close()
		s.file = nil
	}

	timestamp := time.Now().Format("2006-01-02-15-04-05")
	rotated := filepath.Join(s.basePath, fmt.Sprintf("audit-%s.log", timestamp))
	if err := os.Rename(current, rotated); err != nil {
		return fmt.Errorf("rename audit log: %w", err)
	}

	if err := s.cleanupOldFiles(); err != nil {
		fmt.Fprintf(os.Stderr, "cleanup old audit logs: %v\n", err)
	}
	return nil
}

func (s *FileSink) cleanupOldFiles() error {
	pattern := filepath.Join(s.basePath, "audit-*.log")
	files, err := filepath.Glob(pattern)
	if err != nil {
		return err
	}

	// Rotated names embed their timestamp, so lexical order is age order.
	sort.Strings(files)
	if len(files) > s.maxFiles {
		for _, file := range files[:len(files)-s.maxFiles] {
			if err := os.Remove(file); err != nil {
				fmt.Fprintf(os.Stderr, "remove old audit log %s: %v\n", file, err)
			}
		}
	}
	return nil
}

func (s *FileSink) Write(ctx context.Context, e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		if info, err := s.file.Stat(); err == nil && info.Size() >= s.maxSize {
			if err := s.openLogFile(); err != nil {
				return fmt.Errorf("rotate audit log: %w", err)
			}
		}
	}

	if err := s.encoder.Encode(e); err != nil {
		return fmt.Errorf("write audit entry: %w", err)
	}
	return nil
}

// ReadEntries reads up to count entries from the current log file. A count
// of zero reads everything.
func (s *FileSink) ReadEntries(count int) ([]*Entry, error) {
	filename := filepath.Join(s.basePath, "audit.log")

	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer file.Close()

	var entries []*Entry
	decoder := json.NewDecoder(file)
	for {
		var e Entry
		if err := decoder.Decode(&e); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("decode audit entry: %w", err)
		}
		entries = append(entries, &e)
		if count > 0 && len(entries) >= count {
			break
		}
	}
	return entries, nil
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		err := s.file.Close()
		s.file = nil
		return err
	}
	return nil
}
