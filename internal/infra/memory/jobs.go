package memory

import (
	"context"
	"sort"
	"sync"

	"savings_circle/internal/infra/scheduler"
)

// JobStore keeps payout jobs in memory.
type JobStore struct {
	mu   sync.Mutex
	jobs map[int64]scheduler.Job
}

func NewJobStore() *JobStore {
	return &JobStore{jobs: make(map[int64]scheduler.Job)}
}

func (s *JobStore) SaveJob(ctx context.Context, job scheduler.Job) error {
	s.mu.Lock()
	s.jobs[job.CommunityID] = job
	s.mu.Unlock()
	return nil
}

func (s *JobStore) DeleteJob(ctx context.Context, communityID int64) error {
	s.mu.Lock()
	delete(s.jobs, communityID)
	s.mu.Unlock()
	return nil
}

func (s *JobStore) ListJobs(ctx context.Context) ([]scheduler.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]scheduler.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].DueAt.Before(out[k].DueAt) })
	return out, nil
}
