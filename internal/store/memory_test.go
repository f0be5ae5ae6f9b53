package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinsim/osce-grader/internal/types"
)

func TestMemory_JobLifecycle(t *testing.T) {
	m := NewMemory(0)
	ctx := context.Background()

	job := &types.Job{ID: uuid.New(), CaseID: "case-1", Status: types.StatusWaiting}
	require.NoError(t, m.Create(ctx, job))

	got, err := m.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusWaiting, got.Status)

	got.Status = types.StatusProcessing
	require.NoError(t, m.Update(ctx, got))

	again, err := m.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusProcessing, again.Status)
}

func TestMemory_GetReturnsCopy(t *testing.T) {
	m := NewMemory(0)
	ctx := context.Background()

	job := &types.Job{ID: uuid.New(), Status: types.StatusWaiting}
	require.NoError(t, m.Create(ctx, job))

	first, err := m.Get(ctx, job.ID)
	require.NoError(t, err)
	first.Status = types.StatusFailed

	// Mutating the returned copy must not change the stored record.
	second, err := m.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusWaiting, second.Status)
}

func TestMemory_GetUnknownJob(t *testing.T) {
	m := NewMemory(0)
	_, err := m.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestMemory_UpdateUnknownJob(t *testing.T) {
	m := NewMemory(0)
	err := m.Update(context.Background(), &types.Job{ID: uuid.New()})
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestMemory_JobExpiresAfterTTL(t *testing.T) {
	current := time.Now()
	m := NewMemory(time.Hour).WithClock(func() time.Time { return current })
	ctx := context.Background()

	job := &types.Job{ID: uuid.New()}
	require.NoError(t, m.Create(ctx, job))

	_, err := m.Get(ctx, job.ID)
	require.NoError(t, err)

	current = current.Add(2 * time.Hour)
	_, err = m.Get(ctx, job.ID)
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestMemory_QueueIsFIFO(t *testing.T) {
	m := NewMemory(0)
	ctx := context.Background()

	a, b, c := uuid.New(), uuid.New(), uuid.New()
	require.NoError(t, m.Push(ctx, a))
	require.NoError(t, m.Push(ctx, b))
	require.NoError(t, m.Push(ctx, c))

	n, err := m.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	for _, want := range []uuid.UUID{a, b, c} {
		id, ok, err := m.Pop(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, want, id)
	}

	_, ok, err := m.Pop(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemory_QueuePosition(t *testing.T) {
	m := NewMemory(0)
	ctx := context.Background()

	a, b := uuid.New(), uuid.New()
	require.NoError(t, m.Push(ctx, a))
	require.NoError(t, m.Push(ctx, b))

	pos, ok, err := m.Position(ctx, b)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, pos)

	_, ok, err = m.Position(ctx, uuid.New())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemory_LeaseAcquireReleaseCount(t *testing.T) {
	m := NewMemory(0)
	ctx := context.Background()

	k1, ok, err := m.Acquire(ctx, time.Minute, 2)
	require.NoError(t, err)
	require.True(t, ok)
	k2, ok, err := m.Acquire(ctx, time.Minute, 2)
	require.NoError(t, err)
	require.True(t, ok)

	n, err := m.ActiveCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, m.Release(ctx, k1))
	n, err = m.ActiveCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, m.Release(ctx, k2))
	n, err = m.ActiveCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestMemory_AcquireRefusedAtCeiling(t *testing.T) {
	m := NewMemory(0)
	ctx := context.Background()

	k1, ok, err := m.Acquire(ctx, time.Minute, 1)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = m.Acquire(ctx, time.Minute, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Release(ctx, k1))
	_, ok, err = m.Acquire(ctx, time.Minute, 1)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemory_ExpiredLeaseFreesItsSlot(t *testing.T) {
	current := time.Now()
	m := NewMemory(0).WithClock(func() time.Time { return current })
	ctx := context.Background()

	_, ok, err := m.Acquire(ctx, 10*time.Minute, 1)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = m.Acquire(ctx, 10*time.Minute, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	// A crashed holder never releases; the TTL does it instead.
	current = current.Add(11 * time.Minute)
	n, err := m.ActiveCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, ok, err = m.Acquire(ctx, 10*time.Minute, 1)
	require.NoError(t, err)
	assert.True(t, ok)
}
