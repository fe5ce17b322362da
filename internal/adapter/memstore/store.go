// Package memstore keeps jobs and blueprints in process memory. It backs the
// memory store driver for local runs and the generation tests.
package memstore

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Driserq/Convergence-sub001/internal/domain"
)

var (
	_ domain.JobStore       = (*Store)(nil)
	_ domain.BlueprintStore = (*Store)(nil)
)

// Store is safe for concurrent use.
type Store struct {
	mu sync.Mutex

	jobs        map[string]*domain.GenerationJob
	byBlueprint map[string]string
	blueprints  map[string]*domain.Blueprint

	lease time.Duration
	now   func() time.Time
	newID func() string
}

type Option func(*Store)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLease makes FetchDueJobs push claimed jobs forward by d, like the
// Postgres store does.
func WithLease(d time.Duration) Option {
	return func(s *Store) { s.lease = d }
}

func New(opts ...Option) *Store {
	s := &Store{
		jobs:        make(map[string]*domain.GenerationJob),
		byBlueprint: make(map[string]string),
		blueprints:  make(map[string]*domain.Blueprint),
		now:         time.Now,
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateJob replaces any job already stored for the same blueprint.
func (s *Store) CreateJob(_ context.Context, nj domain.NewJob) (*domain.GenerationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.byBlueprint[nj.BlueprintID]; ok {
		delete(s.jobs, old)
	}
	now := s.now()
	job := &domain.GenerationJob{
		ID:          s.newID(),
		BlueprintID: nj.BlueprintID,
		RequestData: nj.RequestData,
		RetryCount:  nj.RetryCount,
		NextRetryAt: nj.NextRetryAt,
		ErrorType:   cloneString(nj.ErrorType),
		LastError:   cloneString(nj.LastError),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.jobs[job.ID] = job
	s.byBlueprint[job.BlueprintID] = job.ID
	out := *job
	return &out, nil
}

func (s *Store) UpdateJob(_ context.Context, id string, retryCount int, u domain.JobUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok || job.RetryCount != retryCount {
		return domain.ErrJobClaimLost
	}
	if u.RetryCount != nil {
		job.RetryCount = *u.RetryCount
	}
	if u.NextRetryAt != nil {
		job.NextRetryAt = *u.NextRetryAt
	}
	if u.LastError != nil {
		job.LastError = cloneString(u.LastError)
	}
	if u.ErrorType != nil {
		job.ErrorType = cloneString(u.ErrorType)
	}
	job.UpdatedAt = s.now()
	return nil
}

func (s *Store) DeleteJob(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return false, nil
	}
	delete(s.jobs, id)
	if s.byBlueprint[job.BlueprintID] == id {
		delete(s.byBlueprint, job.BlueprintID)
	}
	return true, nil
}

func (s *Store) DeleteJobsForBlueprint(_ context.Context, blueprintID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, job := range s.jobs {
		if job.BlueprintID == blueprintID {
			delete(s.jobs, id)
			n++
		}
	}
	delete(s.byBlueprint, blueprintID)
	return n, nil
}

func (s *Store) FetchDueJobs(_ context.Context, limit int) ([]domain.GenerationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	due := make([]*domain.GenerationJob, 0)
	for _, job := range s.jobs {
		if !job.NextRetryAt.After(now) {
			due = append(due, job)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].NextRetryAt.Equal(due[j].NextRetryAt) {
			return due[i].CreatedAt.Before(due[j].CreatedAt)
		}
		return due[i].NextRetryAt.Before(due[j].NextRetryAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	out := make([]domain.GenerationJob, 0, len(due))
	for _, job := range due {
		claimed := *job
		if s.lease > 0 {
			job.NextRetryAt = now.Add(s.lease)
		}
		claimed.LeaseExpiresAt = job.NextRetryAt
		out = append(out, claimed)
	}
	return out, nil
}

// RenewLease holds while the stored job still carries the lease handed out
// with the claim.
func (s *Store) RenewLease(_ context.Context, claimed domain.GenerationJob) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[claimed.ID]
	if !ok || claimed.LeaseExpiresAt.IsZero() ||
		job.RetryCount != claimed.RetryCount ||
		!job.NextRetryAt.Equal(claimed.LeaseExpiresAt) {
		return time.Time{}, domain.ErrJobClaimLost
	}
	if s.lease > 0 {
		job.NextRetryAt = s.now().Add(s.lease)
	}
	return job.NextRetryAt, nil
}

// Job returns a copy of the stored job.
func (s *Store) Job(id string) (domain.GenerationJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return domain.GenerationJob{}, false
	}
	return *job, true
}

// JobForBlueprint returns the live job of a blueprint, if any.
func (s *Store) JobForBlueprint(blueprintID string) (domain.GenerationJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byBlueprint[blueprintID]
	if !ok {
		return domain.GenerationJob{}, false
	}
	return *s.jobs[id], true
}

func (s *Store) CreatePending(_ context.Context, bp *domain.Blueprint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	bp.Status = domain.BlueprintStatusPending
	bp.CreatedAt, bp.UpdatedAt = now, now
	stored := *bp
	s.blueprints[bp.ID] = &stored
	return nil
}

func (s *Store) ResetPending(_ context.Context, id string, req domain.RequestData) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bp, ok := s.blueprints[id]
	if !ok {
		return domain.ErrNotFound
	}
	bp.Status = domain.BlueprintStatusPending
	bp.RequestData = req
	bp.Payload = nil
	bp.Provider = ""
	bp.UpdatedAt = s.now()
	return nil
}

func (s *Store) Get(_ context.Context, id string) (*domain.Blueprint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bp, ok := s.blueprints[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := *bp
	out.Payload = append(json.RawMessage(nil), bp.Payload...)
	return &out, nil
}

func (s *Store) MarkCompleted(_ context.Context, id string, payload json.RawMessage, provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bp, ok := s.blueprints[id]
	if !ok || bp.Status != domain.BlueprintStatusPending {
		return nil
	}
	bp.Status = domain.BlueprintStatusCompleted
	bp.Payload = append(json.RawMessage(nil), payload...)
	bp.Provider = provider
	bp.UpdatedAt = s.now()
	return nil
}

func (s *Store) MarkFailed(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bp, ok := s.blueprints[id]
	if !ok || bp.Status != domain.BlueprintStatusPending {
		return nil
	}
	bp.Status = domain.BlueprintStatusFailed
	bp.UpdatedAt = s.now()
	return nil
}

func (s *Store) ListOrphanedPending(_ context.Context, olderThan time.Time, limit int) ([]domain.Blueprint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Blueprint
	for _, bp := range s.blueprints {
		if bp.Status != domain.BlueprintStatusPending || !bp.UpdatedAt.Before(olderThan) {
			continue
		}
		if _, live := s.byBlueprint[bp.ID]; live {
			continue
		}
		out = append(out, *bp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
