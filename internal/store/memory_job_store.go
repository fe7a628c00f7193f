package store

import (
	"context"
	"sync"
	"time"

	"github.com/dunamismax/assetflow/internal/domain"
)

type MemoryJobStore struct {
	mu   sync.RWMutex
	jobs map[string]domain.Job
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{
		jobs: make(map[string]domain.Job),
	}
}

func (s *MemoryJobStore) Create(_ context.Context, job domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *MemoryJobStore) Get(_ context.Context, id string) (domain.Job, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	return cloneJob(job), ok, nil
}

func (s *MemoryJobStore) UpdateStatus(_ context.Context, id, status string) (domain.Job, error) {
	return s.update(id, func(job *domain.Job) {
		job.Status = status
	})
}

func (s *MemoryJobStore) Complete(_ context.Context, id string, result domain.Result) (domain.Job, error) {
	return s.update(id, func(job *domain.Job) {
		job.Status = result.Status
		job.Output = result.Output
		job.Usage = result.Usage
		job.Error = result.Error
	})
}

func (s *MemoryJobStore) update(id string, fn func(*domain.Job)) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, ErrJobNotFound
	}

	fn(&job)
	job.UpdatedAt = time.Now().UTC()
	job = cloneJob(job)
	s.jobs[id] = job
	return cloneJob(job), nil
}

func cloneJob(job domain.Job) domain.Job {
	if job.Output != nil {
		out := *job.Output
		job.Output = &out
	}
	return job
}
