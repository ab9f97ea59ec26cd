package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeJobStore struct {
	mu      sync.Mutex
	jobs    map[int64]Job
	deleted []int64
	failAll error
}

func newFakeJobStore() *fakeJobStore { return &fakeJobStore{jobs: map[int64]Job{}} }

func (s *fakeJobStore) SaveJob(_ context.Context, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll != nil {
		return s.failAll
	}
	s.jobs[job.CommunityID] = job
	return nil
}

func (s *fakeJobStore) DeleteJob(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
	s.deleted = append(s.deleted, id)
	return nil
}

func (s *fakeJobStore) ListJobs(context.Context) ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	return out, nil
}

func (s *fakeJobStore) has(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[id]
	return ok
}

var base = time.Date(2026, 4, 6, 10, 0, 0, 0, time.UTC)

func TestQueuePopsInDueOrder(t *testing.T) {
	q := NewPayoutQueue(nil)
	ctx := context.Background()

	require.NoError(t, q.Schedule(ctx, 3, base.Add(3*time.Minute)))
	require.NoError(t, q.Schedule(ctx, 1, base.Add(time.Minute)))
	require.NoError(t, q.Schedule(ctx, 2, base.Add(time.Minute)))
	require.NoError(t, q.Schedule(ctx, 4, base.Add(time.Hour)))
	assert.Equal(t, 4, q.Len())

	next, ok := q.NextDue()
	require.True(t, ok)
	assert.Equal(t, base.Add(time.Minute), next)

	var popped []int64
	for {
		job, ok := q.PopDue(base.Add(5 * time.Minute))
		if !ok {
			break
		}
		popped = append(popped, job.CommunityID)
	}
	assert.Equal(t, []int64{1, 2, 3}, popped)
	assert.True(t, q.InFlight(1))
	assert.Equal(t, 1, q.Len())
}

func TestQueueReschedulesInPlace(t *testing.T) {
	q := NewPayoutQueue(nil)
	ctx := context.Background()

	require.NoError(t, q.Schedule(ctx, 1, base.Add(time.Hour)))
	require.NoError(t, q.Schedule(ctx, 2, base.Add(2*time.Hour)))
	require.NoError(t, q.Schedule(ctx, 2, base))
	assert.Equal(t, 2, q.Len())

	job, ok := q.PopDue(base)
	require.True(t, ok)
	assert.Equal(t, int64(2), job.CommunityID)

	require.NoError(t, q.Cancel(ctx, 1))
	assert.Zero(t, q.Len())
	_, ok = q.NextDue()
	assert.False(t, ok)
}

func TestQueueOfferSkipsKnownCommunities(t *testing.T) {
	q := NewPayoutQueue(nil)
	ctx := context.Background()

	ok, err := q.Offer(ctx, 1, base)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = q.Offer(ctx, 1, base.Add(-time.Hour))
	require.NoError(t, err)
	assert.False(t, ok, "already queued")

	_, popped := q.PopDue(base)
	require.True(t, popped)
	ok, err = q.Offer(ctx, 1, base)
	require.NoError(t, err)
	assert.False(t, ok, "still in flight")

	require.NoError(t, q.Done(ctx, 1))
	ok, err = q.Offer(ctx, 1, base)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestQueuePersistence(t *testing.T) {
	store := newFakeJobStore()
	q := NewPayoutQueue(store)
	ctx := context.Background()

	require.NoError(t, q.Schedule(ctx, 1, base))
	require.NoError(t, q.Schedule(ctx, 2, base))
	assert.True(t, store.has(1))

	_, ok := q.PopDue(base)
	require.True(t, ok)
	// Community 1 was rescheduled while its job ran, so its row must survive Done.
	require.NoError(t, q.Schedule(ctx, 1, base.Add(time.Hour)))
	require.NoError(t, q.Done(ctx, 1))
	assert.True(t, store.has(1))

	_, ok = q.PopDue(base)
	require.True(t, ok)
	require.NoError(t, q.Done(ctx, 2))
	assert.False(t, store.has(2))

	restored := NewPayoutQueue(store)
	n, err := restored.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	due, ok := restored.NextDue()
	require.True(t, ok)
	assert.Equal(t, base.Add(time.Hour), due)

	store.failAll = errors.New("disk full")
	err = q.Schedule(ctx, 5, base)
	assert.ErrorContains(t, err, "disk full")
	assert.Equal(t, 1, q.Len(), "a job that failed to persist is not queued")
}

func TestQueueCancelKeepsRowOfRunningJob(t *testing.T) {
	store := newFakeJobStore()
	q := NewPayoutQueue(store)
	ctx := context.Background()

	require.NoError(t, q.Schedule(ctx, 1, base))
	_, ok := q.PopDue(base)
	require.True(t, ok)
	require.NoError(t, q.Cancel(ctx, 1))
	assert.True(t, store.has(1))
	require.NoError(t, q.Done(ctx, 1))
	assert.False(t, store.has(1))
}

func TestQueueWakeIsCoalesced(t *testing.T) {
	q := NewPayoutQueue(nil)
	ctx := context.Background()
	require.NoError(t, q.Schedule(ctx, 1, base))
	require.NoError(t, q.Schedule(ctx, 2, base))

	select {
	case <-q.Wake():
	default:
		t.Fatal("expected a wake signal")
	}
	select {
	case <-q.Wake():
		t.Fatal("wake signals should coalesce")
	default:
	}
}

func TestQueueHoldsRescheduledJobWhileRunning(t *testing.T) {
	store := newFakeJobStore()
	q := NewPayoutQueue(store)
	ctx := context.Background()

	require.NoError(t, q.Schedule(ctx, 1, base))
	require.NoError(t, q.Schedule(ctx, 2, base.Add(time.Minute)))
	job, ok := q.PopDue(base)
	require.True(t, ok)
	require.Equal(t, int64(1), job.CommunityID)

	// Rescheduled and already due while the first job still runs.
	require.NoError(t, q.Schedule(ctx, 1, base))
	next, ok := q.NextDue()
	require.True(t, ok)
	assert.Equal(t, base.Add(time.Minute), next, "the running community is not offered")

	job, ok = q.PopDue(base.Add(time.Minute))
	require.True(t, ok)
	assert.Equal(t, int64(2), job.CommunityID)
	_, ok = q.PopDue(base.Add(time.Hour))
	assert.False(t, ok)
	assert.True(t, q.InFlight(1))
	assert.Equal(t, 2, q.InFlightCount())

	require.NoError(t, q.Done(ctx, 1))
	assert.True(t, store.has(1), "the rescheduled row survives")
	job, ok = q.PopDue(base.Add(time.Hour))
	require.True(t, ok)
	assert.Equal(t, int64(1), job.CommunityID)
	assert.Zero(t, q.Len())
}
