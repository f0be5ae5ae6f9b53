package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clinsim/osce-grader/internal/types"
)

// DefaultJobTTL is how long a job record stays addressable, terminal or not.
const DefaultJobTTL = 24 * time.Hour

// Memory implements JobStore, Queue, and LeaseSet in process memory.
// Suitable for a single-instance deployment; a multi-instance deployment
// swaps in a shared key-value store behind the same interfaces.
type Memory struct {
	mu     sync.Mutex
	jobs   map[uuid.UUID]memoryJob
	queue  []uuid.UUID
	leases map[string]time.Time
	jobTTL time.Duration
	now    func() time.Time
}

type memoryJob struct {
	job       types.Job
	expiresAt time.Time
}

// NewMemory creates an in-memory store. A non-positive jobTTL uses the
// default.
func NewMemory(jobTTL time.Duration) *Memory {
	if jobTTL <= 0 {
		jobTTL = DefaultJobTTL
	}
	return &Memory{
		jobs:   make(map[uuid.UUID]memoryJob),
		leases: make(map[string]time.Time),
		jobTTL: jobTTL,
		now:    time.Now,
	}
}

// WithClock replaces the time source. Tests use this to drive expiry.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

// Create stores a new job record with the store's TTL.
func (m *Memory) Create(_ context.Context, job *types.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = memoryJob{job: *job, expiresAt: m.now().Add(m.jobTTL)}
	return nil
}

// Get returns a copy of the job record, or ErrJobNotFound once expired.
func (m *Memory) Get(_ context.Context, id uuid.UUID) (*types.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked()

	entry, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	job := entry.job
	return &job, nil
}

// Update overwrites the job record, keeping its original expiry.
func (m *Memory) Update(_ context.Context, job *types.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.jobs[job.ID]
	if !ok {
		return ErrJobNotFound
	}
	entry.job = *job
	m.jobs[job.ID] = entry
	return nil
}

// sweepLocked drops expired job records. Caller holds the lock.
func (m *Memory) sweepLocked() {
	now := m.now()
	for id, entry := range m.jobs {
		if !entry.expiresAt.After(now) {
			delete(m.jobs, id)
		}
	}
}

// Push appends the id to the back of the queue (FIFO policy).
func (m *Memory) Push(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, id)
	return nil
}

// Pop removes and returns the id at the front of the queue.
func (m *Memory) Pop(_ context.Context) (uuid.UUID, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		return uuid.Nil, false, nil
	}
	id := m.queue[0]
	m.queue = m.queue[1:]
	return id, true, nil
}

// Len reports the number of waiting ids.
func (m *Memory) Len(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue), nil
}

// Position reports the 1-based position of id in the queue.
func (m *Memory) Position(_ context.Context, id uuid.UUID) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, queued := range m.queue {
		if queued == id {
			return i + 1, true, nil
		}
	}
	return 0, false, nil
}

// Acquire creates a lease record expiring after ttl, unless max live
// leases already exist. Expired records are pruned during the count, so a
// crashed holder's slot frees itself.
func (m *Memory) Acquire(_ context.Context, ttl time.Duration, max int) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.countLocked() >= max {
		return "", false, nil
	}
	key := uuid.New().String()
	m.leases[key] = m.now().Add(ttl)
	return key, true, nil
}

// Release removes the lease record.
func (m *Memory) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.leases, key)
	return nil
}

// ActiveCount counts live lease records, pruning expired ones as it goes.
func (m *Memory) ActiveCount(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.countLocked(), nil
}

// countLocked prunes expired leases and counts the rest. Caller holds the
// lock.
func (m *Memory) countLocked() int {
	now := m.now()
	count := 0
	for key, expires := range m.leases {
		if expires.After(now) {
			count++
		} else {
			delete(m.leases, key)
		}
	}
	return count
}
