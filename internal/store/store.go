package store

import (
	"context"
	"errors"
)

// Page size policy for List.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// InsertResult reports whether Insert created a new record.
type InsertResult int

const (
	// Inserted means the sample was new and is now stored.
	Inserted InsertResult = iota
	// Duplicate means a sample with the same batch id already existed; nothing was written.
	Duplicate
)

// String returns a lowercase label for the result.
func (r InsertResult) String() string {
	if r == Inserted {
		return "inserted"
	}
	return "duplicate"
}

// ErrNotFound is returned by Get when no sample has the requested batch id.
var ErrNotFound = errors.New("sample not found")

// Page is one slice of samples ordered newest-stored first.
type Page struct {
	Samples []Sample `json:"samples"`
	Total   int64    `json:"total"`
	Limit   int      `json:"limit"`
	Offset  int      `json:"offset"`
}

// Store is the deduplicated sample persistence layer.
//
// Insert must be atomic with respect to the uniqueness check: concurrent
// inserts of one batch id yield exactly one Inserted. A Duplicate result is
// not an error.
type Store interface {
	Insert(ctx context.Context, sample *Sample) (InsertResult, error)
	Get(ctx context.Context, batchID string) (*Sample, error)
	List(ctx context.Context, limit, offset int) (Page, error)
	Ping(ctx context.Context) error
}

// ClampLimit bounds a requested page size to [1, MaxLimit].
func ClampLimit(requested int) int {
	return max(1, min(requested, MaxLimit))
}

// clampOffset treats negative offsets as zero.
func clampOffset(offset int) int {
	return max(0, offset)
}
