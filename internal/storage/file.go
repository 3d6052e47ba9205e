package storage

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/IshaanNene/phonegoat/internal/types"
)

func openAppend(path string) (*os.File, bool, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, false, fmt.Errorf("create output dir: %w", err)
	}
	fresh := false
	if fi, err := os.Stat(path); err != nil || fi.Size() == 0 {
		fresh = true
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, false, fmt.Errorf("open output file: %w", err)
	}
	return f, fresh, nil
}

// --- JSONL Storage ---

// JSONLStorage appends entries as newline-delimited JSON.
type JSONLStorage struct {
	path   string
	file   *os.File
	enc    *json.Encoder
	mu     sync.Mutex
	count  int
	now    func() time.Time
	logger *slog.Logger
}

// NewJSONLStorage opens outputPath for appending.
func NewJSONLStorage(outputPath string, logger *slog.Logger) (*JSONLStorage, error) {
	f, _, err := openAppend(outputPath)
	if err != nil {
		return nil, err
	}
	enc := json.NewEncoder(f)
	enc.SetEscapeHTML(false)
	return &JSONLStorage{
		path:   outputPath,
		file:   f,
		enc:    enc,
		now:    time.Now,
		logger: logger.With("component", "jsonl_storage"),
	}, nil
}

func (s *JSONLStorage) Name() string { return "jsonl" }

func (s *JSONLStorage) Store(_ context.Context, entries []types.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	at := s.now()
	for _, e := range entries {
		if err := s.enc.Encode(toRow(e, at)); err != nil {
			return &types.StorageError{Backend: s.Name(), Err: err}
		}
		s.count++
	}
	return nil
}

func (s *JSONLStorage) Close() error {
	s.logger.Info("JSONL written", "path", s.path, "entries", s.count)
	return s.file.Close()
}

// --- CSV Storage ---

// CSVStorage appends entries as CSV rows. The header is written once, when
// the file is new.
type CSVStorage struct {
	path   string
	file   *os.File
	writer *csv.Writer
	header bool
	mu     sync.Mutex
	count  int
	now    func() time.Time
	logger *slog.Logger
}

// NewCSVStorage opens outputPath for appending.
func NewCSVStorage(outputPath string, logger *slog.Logger) (*CSVStorage, error) {
	f, fresh, err := openAppend(outputPath)
	if err != nil {
		return nil, err
	}
	return &CSVStorage{
		path:   outputPath,
		file:   f,
		writer: csv.NewWriter(f),
		header: !fresh,
		now:    time.Now,
		logger: logger.With("component", "csv_storage"),
	}, nil
}

func (s *CSVStorage) Name() string { return "csv" }

func (s *CSVStorage) Store(_ context.Context, entries []types.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.header {
		if err := s.writer.Write(csvHeader); err != nil {
			return &types.StorageError{Backend: s.Name(), Err: fmt.Errorf("write CSV header: %w", err)}
		}
		s.header = true
	}

	at := s.now()
	for _, e := range entries {
		if err := s.writer.Write(toRow(e, at).fields()); err != nil {
			return &types.StorageError{Backend: s.Name(), Err: fmt.Errorf("write CSV row: %w", err)}
		}
		s.count++
	}

	s.writer.Flush()
	return s.writer.Error()
}

func (s *CSVStorage) Close() error {
	s.logger.Info("CSV written", "path", s.path, "entries", s.count)
	s.writer.Flush()
	return s.file.Close()
}

// --- Text Storage ---

// TextStorage appends resolved phone numbers, one per line. Unresolved
// entries are skipped.
type TextStorage struct {
	path   string
	file   *os.File
	mu     sync.Mutex
	count  int
	logger *slog.Logger
}

// NewTextStorage opens outputPath for appending.
func NewTextStorage(outputPath string, logger *slog.Logger) (*TextStorage, error) {
	f, _, err := openAppend(outputPath)
	if err != nil {
		return nil, err
	}
	return &TextStorage{
		path:   outputPath,
		file:   f,
		logger: logger.With("component", "text_storage"),
	}, nil
}

func (s *TextStorage) Name() string { return "txt" }

func (s *TextStorage) Store(_ context.Context, entries []types.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := bufio.NewWriter(s.file)
	for _, e := range entries {
		if !e.Record.Resolved() {
			continue
		}
		if _, err := fmt.Fprintln(w, e.Record.Phone); err != nil {
			return &types.StorageError{Backend: s.Name(), Err: err}
		}
		s.count++
	}
	if err := w.Flush(); err != nil {
		return &types.StorageError{Backend: s.Name(), Err: err}
	}
	return nil
}

func (s *TextStorage) Close() error {
	s.logger.Info("phone list written", "path", s.path, "phones", s.count)
	return s.file.Close()
}
