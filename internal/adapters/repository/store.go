// Package repository stores ranking runs.
package repository

import (
	"context"
	"time"

	"github.com/okian/quiver/internal/domain/model"
)

// Run is one ranked batch.
type Run struct {
	ID        string         `json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	Source    string         `json:"source"`
	Records   []model.Ranked `json:"records"`
}

// Summary describes a run without its records.
type Summary struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Source    string    `json:"source"`
	Records   int       `json:"records"`
}

// Summary returns r without its records.
func (r *Run) Summary() Summary {
	return Summary{ID: r.ID, CreatedAt: r.CreatedAt, Source: r.Source, Records: len(r.Records)}
}

// Store persists runs. Records keep their input order.
type Store interface {
	// Save stores run, replacing a run with the same id.
	Save(ctx context.Context, run Run) error
	// Get returns ErrNotFound for an unknown id.
	Get(ctx context.Context, id string) (Run, error)
	// List returns summaries, newest first.
	List(ctx context.Context) ([]Summary, error)
	Count(ctx context.Context) int
	Close() error
}
