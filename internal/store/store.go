// Package store persists the posting queue as an ordered collection of rows.
//
// The contract is deliberately load-all/save-all: the queue is small, row
// order is meaningful (it is the selection tie-break), and a full rewrite
// keeps the tabular file human-editable between runs.
package store

import (
	"context"
	"errors"
	"strings"

	"github.com/Ss-maker786/x-auto-post/internal/domain"
)

// ErrNotFound is returned when a row id is absent from the queue.
var ErrNotFound = errors.New("post not found")

// Find returns the row with the given id.
func Find(rows []domain.Post, id string) (domain.Post, error) {
	for _, p := range rows {
		if p.ID == id {
			return p, nil
		}
	}
	return domain.Post{}, ErrNotFound
}

// Config selects a backend.
//
// Driver values:
//   - "csv" (or empty): header-row tabular file, the default
//   - "sqlite": single-table SQLite database file
type Config struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

// Store reads and rewrites the entire queue. Order is preserved across a
// Load/Save round-trip; implementations never reorder or drop rows.
type Store interface {
	Load(ctx context.Context) ([]domain.Post, error)
	Save(ctx context.Context, rows []domain.Post) error
	Close() error
}

// Open initializes the configured backend.
func Open(cfg Config) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "csv":
		return openCSV(cfg)
	case "sqlite", "sqlite3":
		return openSQLite(cfg)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
