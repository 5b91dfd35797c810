// Package store persists finished interview reports.
package store

import (
	"context"

	"github.com/MrWong99/nexus/internal/interview"
)

// Store saves and loads interview reports.
// Implementations must be safe for concurrent use.
type Store interface {
	// Save inserts or replaces r. An empty r.ID is filled with a new UUID
	// before the write.
	Save(ctx context.Context, r *interview.Report) error

	// Get returns the report with the given ID, or (nil, nil) if none exists.
	Get(ctx context.Context, id string) (*interview.Report, error)

	// List returns the most recent reports first, at most limit of them.
	// A limit <= 0 returns every report. An empty candidate matches all.
	List(ctx context.Context, candidate string, limit int) ([]interview.Report, error)
}
