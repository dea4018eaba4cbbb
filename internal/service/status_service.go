package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samknelson/sirius-dispatch/internal/domain"
	"github.com/samknelson/sirius-dispatch/internal/event"
	"github.com/samknelson/sirius-dispatch/internal/observability"
	"github.com/samknelson/sirius-dispatch/internal/repository"
	"go.uber.org/zap"
)

// StatusService owns every write to a dispatch's status. The transition is
// evaluated, applied and recorded in the outbox inside one transaction; the
// resulting event is published after commit.
type StatusService struct {
	tx         repository.Transactor
	dispatches repository.DispatchRepository
	jobs       repository.JobRepository
	events     repository.EventRepository
	publisher  event.Publisher
	policy     domain.TransitionPolicy
	logger     *zap.Logger
	metrics    *observability.Metrics
	now        func() time.Time
	newID      func() string
}

func NewStatusService(
	tx repository.Transactor,
	dispatches repository.DispatchRepository,
	jobs repository.JobRepository,
	events repository.EventRepository,
	publisher event.Publisher,
	policy domain.TransitionPolicy,
	logger *zap.Logger,
) (*StatusService, error) {
	if tx == nil {
		return nil, fmt.Errorf("transactor is required")
	}
	if dispatches == nil || jobs == nil || events == nil {
		return nil, fmt.Errorf("dispatch, job and event repositories are required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &StatusService{
		tx:         tx,
		dispatches: dispatches,
		jobs:       jobs,
		events:     events,
		publisher:  publisher,
		policy:     policy,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
		newID:      uuid.NewString,
	}, nil
}

func (s *StatusService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// SetStatus moves a dispatch to target. Disallowed moves return an
// *domain.InvalidTransitionError carrying the user-facing reason. Asking a
// finalized dispatch for the status it already has is a no-op.
func (s *StatusService) SetStatus(ctx context.Context, dispatchID string, target domain.DispatchStatus) (*domain.Dispatch, error) {
	if strings.TrimSpace(dispatchID) == "" {
		return nil, fmt.Errorf("%w: dispatch id is required", domain.ErrValidation)
	}
	if !target.IsValid() {
		return nil, fmt.Errorf("%w: invalid status %q", domain.ErrValidation, target)
	}

	var (
		updated *domain.Dispatch
		changed *domain.DispatchStatusChanged
	)
	err := s.tx.WithinTransaction(ctx, func(ctx context.Context, repos repository.Repositories) error {
		current, err := repos.Dispatches.LockByID(ctx, dispatchID)
		if err != nil {
			return err
		}

		if current.Status.IsTerminal() && current.Status == target {
			updated = current
			return nil
		}

		job, err := repos.Jobs.LockByID(ctx, current.JobID)
		if err != nil {
			return fmt.Errorf("failed to load job %s: %w", current.JobID, err)
		}
		if err := repos.Dispatches.LockWorker(ctx, current.WorkerID); err != nil {
			return fmt.Errorf("failed to lock worker %s: %w", current.WorkerID, err)
		}
		conflict, err := repos.Dispatches.HasConflict(ctx, current.WorkerID, current.JobID)
		if err != nil {
			return fmt.Errorf("failed to check worker conflicts: %w", err)
		}

		option := domain.EvaluateTransition(current.Status, target, factsFor(job, conflict), s.policy)
		if !option.Possible {
			return domain.NewInvalidTransitionError(current.Status, target, option.Reason)
		}

		if err := repos.Dispatches.UpdateStatus(ctx, current.ID, current.Status, target); err != nil {
			return err
		}

		now := s.now()
		evt := domain.DispatchStatusChanged{
			EventID:        s.newID(),
			DispatchID:     current.ID,
			WorkerID:       current.WorkerID,
			JobID:          current.JobID,
			Status:         target,
			PreviousStatus: current.Status,
			OccurredAt:     now,
		}
		if err := repos.Events.Create(ctx, &domain.DispatchEvent{
			ID:         evt.EventID,
			DispatchID: current.ID,
			Name:       domain.EventDispatchStatusChanged,
			Payload:    evt,
			CreatedAt:  now,
		}); err != nil {
			return fmt.Errorf("failed to record status change: %w", err)
		}

		previous := current.Status
		current.PreviousStatus = &previous
		current.Status = target
		current.UpdatedAt = now

		updated = current
		changed = &evt
		return nil
	})
	if err != nil {
		var invalid *domain.InvalidTransitionError
		if errors.As(err, &invalid) {
			s.metrics.IncTransitionRejected(target.String(), invalid.Reason)
			observability.WithContextLogger(s.logger, ctx).Debug("status change rejected",
				zap.String("dispatchId", dispatchID),
				zap.String("from", invalid.From.String()),
				zap.String("to", target.String()),
				zap.String("reason", invalid.Reason),
			)
		}
		return nil, err
	}

	if changed == nil {
		return updated, nil
	}

	s.metrics.IncTransition(changed.PreviousStatus.String(), changed.Status.String())
	s.publish(ctx, *changed)

	return updated, nil
}

// publish hands the committed event to the transport. Failures leave the
// outbox row unpublished for the relay.
func (s *StatusService) publish(ctx context.Context, evt domain.DispatchStatusChanged) {
	log := observability.WithContextLogger(s.logger, ctx).With(
		zap.String("eventId", evt.EventID),
		zap.String("dispatchId", evt.DispatchID),
		zap.String("status", evt.Status.String()),
	)

	if err := s.publisher.Publish(ctx, evt); err != nil {
		log.Error("failed to publish status change", zap.Error(err))
		return
	}

	if err := s.events.MarkPublished(context.WithoutCancel(ctx), evt.EventID, s.now()); err != nil {
		log.Warn("failed to mark status change published", zap.Error(err))
	}
}

// StatusOptions lists every status with whether the dispatch could move there
// now. It reads without locking.
func (s *StatusService) StatusOptions(ctx context.Context, dispatchID string) ([]domain.StatusOption, error) {
	current, err := s.dispatches.GetByID(ctx, dispatchID)
	if err != nil {
		return nil, err
	}

	job, err := s.jobs.GetByID(ctx, current.JobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", current.JobID, err)
	}
	conflict, err := s.dispatches.HasConflict(ctx, current.WorkerID, current.JobID)
	if err != nil {
		return nil, fmt.Errorf("failed to check worker conflicts: %w", err)
	}

	return domain.EvaluateTransitions(current.Status, factsFor(job, conflict), s.policy), nil
}

// Create registers a new dispatch for a worker on a job. Dispatches start as
// requested unless pending is asked for.
func (s *StatusService) Create(ctx context.Context, workerID, jobID string, initial domain.DispatchStatus) (*domain.Dispatch, error) {
	if initial == "" {
		initial = domain.StatusRequested
	}
	if !initial.IsInitial() {
		return nil, fmt.Errorf("%w: dispatches cannot be created as %s", domain.ErrValidation, initial)
	}

	now := s.now()
	dispatch := &domain.Dispatch{
		ID:        s.newID(),
		WorkerID:  strings.TrimSpace(workerID),
		JobID:     strings.TrimSpace(jobID),
		Status:    initial,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := dispatch.Validate(); err != nil {
		return nil, err
	}

	if _, err := s.jobs.GetByID(ctx, dispatch.JobID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: job %s does not exist", domain.ErrValidation, dispatch.JobID)
		}
		return nil, err
	}

	if err := s.dispatches.Create(ctx, dispatch); err != nil {
		return nil, err
	}

	return dispatch, nil
}

func (s *StatusService) Get(ctx context.Context, id string) (*domain.Dispatch, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: dispatch id is required", domain.ErrValidation)
	}
	return s.dispatches.GetByID(ctx, id)
}

func (s *StatusService) List(ctx context.Context, jobID string) ([]domain.Dispatch, error) {
	if strings.TrimSpace(jobID) == "" {
		return nil, fmt.Errorf("%w: jobId is required", domain.ErrValidation)
	}
	return s.dispatches.ListByJob(ctx, jobID)
}

func factsFor(job *domain.DispatchJob, conflict bool) domain.TransitionFacts {
	return domain.TransitionFacts{
		WorkerCount:       job.WorkerCount,
		AcceptedCount:     job.AcceptedCount,
		WorkerHasConflict: conflict,
	}
}
