// Package store provides the versioned storage primitives behind the group
// counters and the shared results file, with SQLite, in-memory, Redis and GCS
// implementations.
package store

import (
	"context"
	"errors"

	"github.com/rcliao/comic-survey/internal/model"
)

var (
	// ErrVersionConflict is returned when a conditional write finds the record
	// changed since it was read.
	ErrVersionConflict = errors.New("version conflict")

	// ErrNotFound is returned by Fetch for an object that was never written.
	ErrNotFound = errors.New("object not found")
)

// Counts maps each group to the number of participants assigned to it.
type Counts map[model.Group]int

// Clone returns a copy safe to mutate.
func (c Counts) Clone() Counts {
	out := make(Counts, len(c))
	for g, n := range c {
		out[g] = n
	}
	return out
}

// Total returns the sum of all counts.
func (c Counts) Total() int {
	n := 0
	for _, v := range c {
		n += v
	}
	return n
}

// Object is a stored blob together with its version token.
type Object struct {
	Key     string
	Content []byte
	Version int64
}

// CounterStore holds one group counter record per experiment namespace.
// The record is read and written as a whole.
type CounterStore interface {
	// LoadCounts returns the counts and their version. A namespace that was
	// never written yields empty counts and version 0.
	LoadCounts(ctx context.Context, ns string) (Counts, int64, error)

	// SaveCounts replaces the counts if the stored version still equals
	// version, otherwise returns ErrVersionConflict.
	SaveCounts(ctx context.Context, ns string, counts Counts, version int64) error
}

// ObjectStore holds whole-object blobs with compare-and-swap writes.
type ObjectStore interface {
	// Fetch returns the object or ErrNotFound.
	Fetch(ctx context.Context, key string) (*Object, error)

	// Put writes content if the stored version equals version (0 means the
	// object must not exist yet) and returns the new version.
	Put(ctx context.Context, key string, content []byte, version int64) (int64, error)
}

// Backend bundles both primitives with a Close method.
type Backend interface {
	CounterStore
	ObjectStore

	// Close releases the backend's resources.
	Close() error
}
