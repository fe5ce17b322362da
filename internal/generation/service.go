package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/Driserq/Convergence-sub001/internal/domain"
	"github.com/Driserq/Convergence-sub001/internal/infra"
)

// CreateInput is a new blueprint request. Either Content or Prompt is
// required; Content goes through the prompt builder.
type CreateInput struct {
	UserID   string
	Title    string
	Content  string
	Prompt   string
	Provider string
	Metadata map[string]string
}

type ServiceOptions struct {
	Blueprints domain.BlueprintStore
	Jobs       domain.JobStore
	Attempter  *Attempter
	Scheduler  *Scheduler
	Prompts    PromptBuilder
	Dispatch   DispatcherOptions
	Logger     *infra.Logger
}

// Service accepts blueprint requests and fires the first attempt of each
// generation cycle in the background.
type Service struct {
	blueprints domain.BlueprintStore
	jobs       domain.JobStore
	attempter  *Attempter
	scheduler  *Scheduler
	prompts    PromptBuilder
	dispatcher *Dispatcher
	logger     infra.Logger
	newID      func() string
}

func NewService(opts ServiceOptions) (*Service, error) {
	if opts.Blueprints == nil || opts.Jobs == nil {
		return nil, errors.New("generation: blueprint and job stores are required")
	}
	if opts.Attempter == nil || opts.Scheduler == nil {
		return nil, errors.New("generation: attempter and scheduler are required")
	}
	logger := infra.NopLogger()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	prompts := opts.Prompts
	if prompts.maxContentRunes == 0 {
		prompts = NewPromptBuilder(0)
	}
	s := &Service{
		blueprints: opts.Blueprints,
		jobs:       opts.Jobs,
		attempter:  opts.Attempter,
		scheduler:  opts.Scheduler,
		prompts:    prompts,
		logger:     logger,
		newID:      uuid.NewString,
	}
	dispatchOpts := opts.Dispatch
	if dispatchOpts.Logger == nil {
		dispatchOpts.Logger = &s.logger
	}
	s.dispatcher = NewDispatcher(s.RunInitial, dispatchOpts)
	return s, nil
}

// Start begins background processing of submitted attempts.
func (s *Service) Start(ctx context.Context) {
	s.dispatcher.Start(ctx)
}

// Close drains queued attempts.
func (s *Service) Close() {
	s.dispatcher.Close()
}

// Create stores a pending blueprint and returns before generation starts.
func (s *Service) Create(ctx context.Context, in CreateInput) (*domain.Blueprint, error) {
	req := domain.RequestData{Prompt: strings.TrimSpace(in.Prompt)}
	if req.Prompt == "" {
		req = s.prompts.Build(in.Title, in.Content)
	}
	req.Provider = strings.TrimSpace(in.Provider)
	if len(in.Metadata) > 0 {
		req.Metadata = in.Metadata
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	bp := &domain.Blueprint{
		ID:          s.newID(),
		UserID:      in.UserID,
		Title:       strings.TrimSpace(in.Title),
		Status:      domain.BlueprintStatusPending,
		RequestData: req,
	}
	if err := s.blueprints.CreatePending(ctx, bp); err != nil {
		return nil, fmt.Errorf("create blueprint: %w", err)
	}
	s.submit(ctx, bp.ID, req)
	return bp, nil
}

// Retry restarts generation for a failed or stuck blueprint owned by userID.
// Any live job is purged first so the old retry chain stops.
func (s *Service) Retry(ctx context.Context, userID, id string) (*domain.Blueprint, error) {
	bp, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if bp.Status == domain.BlueprintStatusCompleted {
		return nil, domain.ErrAlreadyCompleted
	}
	if _, err := s.jobs.DeleteJobsForBlueprint(ctx, bp.ID); err != nil {
		return nil, fmt.Errorf("purge jobs: %w", err)
	}
	if err := s.blueprints.ResetPending(ctx, bp.ID, bp.RequestData); err != nil {
		return nil, fmt.Errorf("reset blueprint: %w", err)
	}
	bp.Status = domain.BlueprintStatusPending
	s.submit(ctx, bp.ID, bp.RequestData)
	return bp, nil
}

// Get returns the blueprint when it belongs to userID. Other users' records
// are reported as not found.
func (s *Service) Get(ctx context.Context, userID, id string) (*domain.Blueprint, error) {
	bp, err := s.blueprints.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if bp.UserID != userID {
		return nil, domain.ErrNotFound
	}
	return bp, nil
}

// RunInitial runs the first attempt of a cycle and settles its outcome.
func (s *Service) RunInitial(ctx context.Context, blueprintID string, req domain.RequestData) {
	result := s.attempter.Attempt(ctx, blueprintID, req)
	if _, err := s.scheduler.HandleInitialResult(ctx, blueprintID, req, result); err != nil {
		s.logger.Error().Err(err).Str("blueprint_id", blueprintID).Msg("generation: settle initial attempt failed")
	}
}

func (s *Service) submit(ctx context.Context, blueprintID string, req domain.RequestData) {
	err := s.dispatcher.Submit(blueprintID, req)
	if err == nil {
		return
	}
	s.logger.Warn().Err(err).Str("blueprint_id", blueprintID).Msg("generation: dispatch unavailable, persisting due job")
	if err := s.scheduler.Enqueue(ctx, blueprintID, req); err != nil {
		s.logger.Error().Err(err).Str("blueprint_id", blueprintID).Msg("generation: persist due job failed")
	}
}
