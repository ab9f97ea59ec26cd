package scheduler

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"
)

// Job is a pending payout for one community. The community id is the job identity.
type Job struct {
	CommunityID int64
	DueAt       time.Time
}

// JobStore persists the queue so pending payouts survive a restart.
type JobStore interface {
	SaveJob(ctx context.Context, job Job) error
	DeleteJob(ctx context.Context, communityID int64) error
	ListJobs(ctx context.Context) ([]Job, error)
}

type queued struct {
	job   Job
	index int
}

type jobHeap []*queued

func (h jobHeap) Len() int { return len(h) }
func (h jobHeap) Less(i, j int) bool {
	if h[i].job.DueAt.Equal(h[j].job.DueAt) {
		return h[i].job.CommunityID < h[j].job.CommunityID
	}
	return h[i].job.DueAt.Before(h[j].job.DueAt)
}
func (h jobHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *jobHeap) Push(x any) {
	q := x.(*queued)
	q.index = len(*h)
	*h = append(*h, q)
}
func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	q := old[n-1]
	old[n-1] = nil
	q.index = -1
	*h = old[:n-1]
	return q
}

// PayoutQueue is a min-heap of payout jobs ordered by due time, holding at
// most one job per community. Jobs handed out by PopDue stay in flight until
// Done.
type PayoutQueue struct {
	mu       sync.Mutex
	heap     jobHeap
	byID     map[int64]*queued
	inFlight map[int64]struct{}
	store    JobStore
	wake     chan struct{}
}

func NewPayoutQueue(store JobStore) *PayoutQueue {
	return &PayoutQueue{
		byID:     make(map[int64]*queued),
		inFlight: make(map[int64]struct{}),
		store:    store,
		wake:     make(chan struct{}, 1),
	}
}

// Restore loads persisted jobs, e.g. after a restart.
func (q *PayoutQueue) Restore(ctx context.Context) (int, error) {
	if q.store == nil {
		return 0, nil
	}
	jobs, err := q.store.ListJobs(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to restore payout jobs: %w", err)
	}
	q.mu.Lock()
	for _, job := range jobs {
		q.upsertLocked(job)
	}
	q.mu.Unlock()
	q.signal()
	return len(jobs), nil
}

// Schedule queues a payout for the community at dueAt, replacing any job
// already queued for it.
func (q *PayoutQueue) Schedule(ctx context.Context, communityID int64, dueAt time.Time) error {
	job := Job{CommunityID: communityID, DueAt: dueAt}
	if q.store != nil {
		if err := q.store.SaveJob(ctx, job); err != nil {
			return fmt.Errorf("failed to persist payout job for community %d: %w", communityID, err)
		}
	}
	q.mu.Lock()
	q.upsertLocked(job)
	q.mu.Unlock()
	jobsScheduledTotal.Inc()
	q.signal()
	return nil
}

// Offer queues the job only when the community has nothing queued or in flight.
func (q *PayoutQueue) Offer(ctx context.Context, communityID int64, dueAt time.Time) (bool, error) {
	q.mu.Lock()
	_, queuedAlready := q.byID[communityID]
	_, running := q.inFlight[communityID]
	q.mu.Unlock()
	if queuedAlready || running {
		return false, nil
	}
	return true, q.Schedule(ctx, communityID, dueAt)
}

// Cancel drops the queued job for the community.
func (q *PayoutQueue) Cancel(ctx context.Context, communityID int64) error {
	q.mu.Lock()
	if item, ok := q.byID[communityID]; ok {
		heap.Remove(&q.heap, item.index)
		delete(q.byID, communityID)
	}
	_, running := q.inFlight[communityID]
	q.mu.Unlock()

	if q.store != nil && !running {
		if err := q.store.DeleteJob(ctx, communityID); err != nil {
			return fmt.Errorf("failed to delete payout job for community %d: %w", communityID, err)
		}
	}
	return nil
}

// PopDue removes the earliest job due at or before now and marks it in flight.
// A community whose previous job is still running is left queued.
func (q *PayoutQueue) PopDue(now time.Time) (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	item := q.headLocked()
	if item == nil || item.job.DueAt.After(now) {
		return Job{}, false
	}
	heap.Remove(&q.heap, item.index)
	delete(q.byID, item.job.CommunityID)
	q.inFlight[item.job.CommunityID] = struct{}{}
	return item.job, true
}

// NextDue returns the earliest due time among jobs that can be popped.
func (q *PayoutQueue) NextDue() (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	item := q.headLocked()
	if item == nil {
		return time.Time{}, false
	}
	return item.job.DueAt, true
}

// headLocked returns the earliest queued job whose community is not in flight.
func (q *PayoutQueue) headLocked() *queued {
	var held []*queued
	var head *queued
	for len(q.heap) > 0 {
		top := q.heap[0]
		if _, running := q.inFlight[top.job.CommunityID]; !running {
			head = top
			break
		}
		held = append(held, heap.Pop(&q.heap).(*queued))
	}
	for _, item := range held {
		heap.Push(&q.heap, item)
	}
	return head
}

// Done clears the in-flight mark. The persisted job is removed unless the
// community was rescheduled while the job ran.
func (q *PayoutQueue) Done(ctx context.Context, communityID int64) error {
	q.mu.Lock()
	delete(q.inFlight, communityID)
	_, requeued := q.byID[communityID]
	q.mu.Unlock()
	if requeued {
		q.signal()
	}

	if q.store == nil || requeued {
		return nil
	}
	if err := q.store.DeleteJob(ctx, communityID); err != nil {
		return fmt.Errorf("failed to delete payout job for community %d: %w", communityID, err)
	}
	return nil
}

func (q *PayoutQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

// InFlightCount is the number of jobs currently running.
func (q *PayoutQueue) InFlightCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inFlight)
}

func (q *PayoutQueue) InFlight(communityID int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.inFlight[communityID]
	return ok
}

// Wake fires when the head of the queue may have changed.
func (q *PayoutQueue) Wake() <-chan struct{} {
	return q.wake
}

func (q *PayoutQueue) upsertLocked(job Job) {
	if item, ok := q.byID[job.CommunityID]; ok {
		item.job = job
		heap.Fix(&q.heap, item.index)
		return
	}
	item := &queued{job: job}
	heap.Push(&q.heap, item)
	q.byID[job.CommunityID] = item
}

func (q *PayoutQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
