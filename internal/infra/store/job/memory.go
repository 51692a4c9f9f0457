package jobstore

import (
	"context"
	"sync"
	"time"

	"github.com/dskam73/interview-automation/internal/domain"
)

// memoryStore holds committed job records in a mutex-protected map. Values
// are stored and returned by copy so a reader can never observe a record
// mid-mutation; Update builds the new record aside and publishes it with a
// single map assignment, mirroring the redis store's SET.
type memoryStore struct {
	mu   sync.RWMutex
	jobs map[string]domain.Job
}

func NewMemoryStore() *memoryStore {
	return &memoryStore{jobs: make(map[string]domain.Job)}
}

func (s *memoryStore) Create(_ context.Context, job domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *memoryStore) Get(_ context.Context, id string) (domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, domain.ErrJobNotFound
	}
	return cloneJob(job), nil
}

func (s *memoryStore) Update(_ context.Context, id string, mutate func(*domain.Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return domain.ErrJobNotFound
	}

	next := cloneJob(job)
	mutate(&next)
	s.jobs[id] = next
	return nil
}

func (s *memoryStore) ListActive(_ context.Context, maxAge time.Duration) ([]domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	border := time.Now().Add(-maxAge)
	var jobs []domain.Job
	for _, job := range s.jobs {
		if job.CreatedAt.After(border) {
			jobs = append(jobs, cloneJob(job))
		}
	}
	return jobs, nil
}

func (s *memoryStore) EvictOlderThan(_ context.Context, maxAge time.Duration) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	border := time.Now().Add(-maxAge)
	var evicted []domain.Job
	for id, job := range s.jobs {
		if !job.CreatedAt.After(border) {
			evicted = append(evicted, cloneJob(job))
			delete(s.jobs, id)
		}
	}
	return evicted, nil
}

// cloneJob deep-copies the slices so callers cannot alias store-owned state.
func cloneJob(job domain.Job) domain.Job {
	out := job
	out.InputFiles = append([]domain.InputFile(nil), job.InputFiles...)
	out.Options.Formats = append([]domain.OutputFormat(nil), job.Options.Formats...)
	out.Options.Recipients = append([]string(nil), job.Options.Recipients...)
	out.State.CompletedFiles = append([]domain.FileResult(nil), job.State.CompletedFiles...)
	out.State.Errors = append([]domain.JobError(nil), job.State.Errors...)
	return out
}
