// Package store holds the shared mutable state worker cycles coordinate
// through: job records, the waiting queue, and the lease set. All mutation
// of a job record is by single-owner convention (only the lease holder
// writes it); correctness rests on Pop and Acquire being atomic.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/clinsim/osce-grader/internal/types"
)

// ErrJobNotFound is returned when a job id has no live record, either
// because it never existed or because its record expired.
var ErrJobNotFound = errors.New("job not found")

// JobStore persists job records. Records expire after a TTL regardless of
// terminal state.
type JobStore interface {
	Create(ctx context.Context, job *types.Job) error
	Get(ctx context.Context, id uuid.UUID) (*types.Job, error)
	Update(ctx context.Context, job *types.Job) error
}

// Queue is the shared waiting queue of job ids.
//
// Ordering is an explicit policy choice: FIFO. The queue grants no fairness
// beyond submission order.
type Queue interface {
	Push(ctx context.Context, id uuid.UUID) error
	// Pop removes and returns the next id; ok is false when empty.
	Pop(ctx context.Context) (id uuid.UUID, ok bool, err error)
	Len(ctx context.Context) (int, error)
	// Position returns the 1-based queue position of id, if still waiting.
	Position(ctx context.Context, id uuid.UUID) (int, bool, error)
}

// LeaseSet bounds worker concurrency. Active leases are counted by
// enumerating live lease records, not by a shared counter, so two cycles
// can never both act on a stale count. Records expire on their own TTL,
// which is what heals abandoned cycles.
type LeaseSet interface {
	// Acquire atomically counts live lease records and, if fewer than max
	// exist, creates one with the given expiry. ok is false at the ceiling.
	Acquire(ctx context.Context, ttl time.Duration, max int) (key string, ok bool, err error)
	Release(ctx context.Context, key string) error
	// ActiveCount enumerates lease records that have not yet expired.
	ActiveCount(ctx context.Context) (int, error)
}
