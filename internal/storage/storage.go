// Package storage exports resolved records to external sinks.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"time"

	"github.com/IshaanNene/phonegoat/internal/config"
	"github.com/IshaanNene/phonegoat/internal/types"
)

// Storage is the interface for all export backends.
type Storage interface {
	// Store persists a batch of entries.
	Store(ctx context.Context, entries []types.Entry) error

	// Close flushes pending writes and releases resources.
	Close() error

	// Name returns the storage backend identifier.
	Name() string
}

// row is the flattened export form of an entry.
type row struct {
	ID                string    `json:"id"                bson:"_id"`
	Phone             string    `json:"phone"             bson:"phone"`
	NotFormattedPhone string    `json:"notFormattedPhone" bson:"notFormattedPhone"`
	Source            string    `json:"source"            bson:"source"`
	SiteBlockID       string    `json:"siteBlockId,omitempty" bson:"siteBlockId,omitempty"`
	ExportedAt        time.Time `json:"exported_at"       bson:"exported_at"`
}

var csvHeader = []string{"id", "phone", "not_formatted_phone", "source", "site_block_id", "exported_at"}

func toRow(e types.Entry, at time.Time) row {
	r := row{
		ID:                e.ID,
		Phone:             e.Record.Phone,
		NotFormattedPhone: e.Record.NotFormattedPhone,
		Source:            string(e.Record.Source),
		ExportedAt:        at.UTC(),
	}
	if e.Record.SiteBlockID != nil {
		r.SiteBlockID = strconv.FormatInt(int64(*e.Record.SiteBlockID), 10)
	}
	return r
}

func (r row) fields() []string {
	return []string{r.ID, r.Phone, r.NotFormattedPhone, r.Source, r.SiteBlockID, r.ExportedAt.Format(time.RFC3339)}
}

// New builds the sinks named in cfg.Exports. It returns nil when no export
// is configured.
func New(ctx context.Context, cfg *config.StorageConfig, logger *slog.Logger) (Storage, error) {
	if len(cfg.Exports) == 0 {
		return nil, nil
	}

	var backends []Storage
	closeAll := func() {
		for _, b := range backends {
			_ = b.Close()
		}
	}
	for _, name := range cfg.Exports {
		var (
			s   Storage
			err error
		)
		switch name {
		case "jsonl":
			s, err = NewJSONLStorage(filepath.Join(cfg.OutputPath, "phones.jsonl"), logger)
		case "csv":
			s, err = NewCSVStorage(filepath.Join(cfg.OutputPath, "phones.csv"), logger)
		case "txt":
			s, err = NewTextStorage(filepath.Join(cfg.OutputPath, "phones.txt"), logger)
		case "mongodb":
			s, err = NewMongoStorage(ctx, cfg.MongoURI, cfg.MongoDatabase, cfg.MongoCollection, logger)
		default:
			err = fmt.Errorf("unsupported export: %s", name)
		}
		if err != nil {
			closeAll()
			return nil, err
		}
		backends = append(backends, s)
	}

	if len(backends) == 1 {
		return backends[0], nil
	}
	return NewMultiStorage(backends, logger), nil
}
