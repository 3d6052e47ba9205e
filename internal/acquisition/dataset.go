package acquisition

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/IshaanNene/phonegoat/internal/types"
)

// Dataset is the persisted result of one acquisition.
type Dataset struct {
	CreatedAt time.Time       `json:"created_at"`
	Region    types.Region    `json:"region"`
	Rooms     []int           `json:"rooms"`
	MinFloor  []int           `json:"min_floor"`
	MaxFloor  []int           `json:"max_floor"`
	MinPrice  *int64          `json:"min_price"`
	MaxPrice  *int64          `json:"max_price"`
	Data      []types.Listing `json:"data"`
}

// ReadDataset loads the dataset at path.
func ReadDataset(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var ds Dataset
	if err := json.Unmarshal(data, &ds); err != nil {
		return nil, fmt.Errorf("decode dataset %s: %w", path, err)
	}
	return &ds, nil
}

// WriteDataset stores ds at path, replacing any previous file atomically.
func WriteDataset(path string, ds *Dataset) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &types.StorageError{Backend: "dataset", Err: err}
	}
	data, err := json.MarshalIndent(ds, "", "  ")
	if err != nil {
		return &types.StorageError{Backend: "dataset", Err: err}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return &types.StorageError{Backend: "dataset", Err: err}
	}
	if err := os.Rename(tmp, path); err != nil {
		return &types.StorageError{Backend: "dataset", Err: err}
	}
	return nil
}

// IsStale reports whether the dataset at path is missing or its
// modification time is at least maxAge before now.
func IsStale(path string, maxAge time.Duration, now time.Time) bool {
	fi, err := os.Stat(path)
	if err != nil {
		return true
	}
	return now.Sub(fi.ModTime()) > maxAge
}
