// Package ledger persists resolution records keyed by listing ID.
package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/IshaanNene/phonegoat/internal/types"
)

// file is the on-disk layout.
type file struct {
	Data map[string]types.Record `json:"data"`
}

// Ledger is the in-memory record map plus its backing file. A ledger is
// owned by one session at a time.
type Ledger struct {
	path    string
	mu      sync.RWMutex
	records map[string]types.Record
	logger  *slog.Logger
}

// Open loads the ledger at path. A missing or unreadable file yields an
// empty ledger; the problem is logged, never returned.
func Open(path string, logger *slog.Logger) *Ledger {
	l := &Ledger{
		path:    path,
		records: make(map[string]types.Record),
		logger:  logger.With("component", "ledger"),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			l.logger.Warn("ledger unreadable, starting empty", "path", path, "error", err)
		} else {
			l.logger.Info("no ledger found, starting empty", "path", path)
		}
		return l
	}

	var f file
	if err := json.Unmarshal(data, &f); err != nil {
		l.logger.Warn("ledger corrupt, starting empty", "path", path, "error", err)
		return l
	}
	if f.Data != nil {
		l.records = f.Data
	}
	l.logger.Info("ledger loaded", "path", path, "records", len(l.records))
	return l
}

// Has reports whether id already has a record.
func (l *Ledger) Has(id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.records[id]
	return ok
}

// Get returns the record for id.
func (l *Ledger) Get(id string) (types.Record, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	r, ok := l.records[id]
	return r, ok
}

// Put stores the record for id, replacing any earlier one.
func (l *Ledger) Put(id string, r types.Record) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records[id] = r
}

// Len returns the number of records.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// Resolved returns the number of records holding a real phone.
func (l *Ledger) Resolved() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, r := range l.records {
		if r.Resolved() {
			n++
		}
	}
	return n
}

// IDs returns all IDs, numeric IDs in numeric order first.
func (l *Ledger) IDs() []string {
	l.mu.RLock()
	ids := make([]string, 0, len(l.records))
	for id := range l.records {
		ids = append(ids, id)
	}
	l.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool {
		a, errA := strconv.ParseInt(ids[i], 10, 64)
		b, errB := strconv.ParseInt(ids[j], 10, 64)
		switch {
		case errA == nil && errB == nil:
			return a < b
		case errA == nil:
			return true
		case errB == nil:
			return false
		}
		return ids[i] < ids[j]
	})
	return ids
}

// Save writes the whole ledger to a temporary file and renames it over the
// previous version. Output is deterministic for identical contents.
func (l *Ledger) Save() error {
	l.mu.RLock()
	data, err := encode(l.records)
	n := len(l.records)
	l.mu.RUnlock()
	if err != nil {
		return &types.StorageError{Backend: "ledger", Err: err}
	}

	if dir := filepath.Dir(l.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return &types.StorageError{Backend: "ledger", Err: fmt.Errorf("create ledger dir: %w", err)}
		}
	}

	tmpPath := l.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return &types.StorageError{Backend: "ledger", Err: fmt.Errorf("write ledger: %w", err)}
	}
	if err := os.Rename(tmpPath, l.path); err != nil {
		return &types.StorageError{Backend: "ledger", Err: fmt.Errorf("rename ledger: %w", err)}
	}

	l.logger.Debug("ledger saved", "path", l.path, "records", n)
	return nil
}

// Reset forgets every record and removes the backing file.
func (l *Ledger) Reset() error {
	l.mu.Lock()
	l.records = make(map[string]types.Record)
	l.mu.Unlock()

	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return &types.StorageError{Backend: "ledger", Err: err}
	}
	l.logger.Info("ledger reset", "path", l.path)
	return nil
}

// encode renders records as indented JSON. encoding/json sorts map keys, so
// identical contents produce identical bytes.
func encode(records map[string]types.Record) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(file{Data: records}); err != nil {
		return nil, fmt.Errorf("encode ledger: %w", err)
	}
	return buf.Bytes(), nil
}
