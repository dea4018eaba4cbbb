package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/samknelson/sirius-dispatch/internal/channel"
	"github.com/samknelson/sirius-dispatch/internal/domain"
	"github.com/samknelson/sirius-dispatch/internal/observability"
	"github.com/samknelson/sirius-dispatch/internal/ratelimit"
	"github.com/samknelson/sirius-dispatch/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// NotifierConfig switches notification side effects.
type NotifierConfig struct {
	Enabled bool
	// RenotifyAfterRevert sends again when a dispatch that already produced
	// comms is reverted and notified a second time.
	RenotifyAfterRevert bool
	PublicBaseURL       string
}

// Notifier sends the worker a message on every configured medium the first
// time a dispatch becomes notified.
type Notifier struct {
	dispatches repository.DispatchRepository
	jobs       repository.JobRepository
	contacts   repository.ContactRepository
	comms      repository.CommRepository
	senders    channel.Senders
	renderer   *channel.Renderer
	limiter    ratelimit.RateLimiter
	cfg        NotifierConfig
	logger     *zap.Logger
	metrics    *observability.Metrics
	now        func() time.Time
	newID      func() string
}

func NewNotifier(
	dispatches repository.DispatchRepository,
	jobs repository.JobRepository,
	contacts repository.ContactRepository,
	comms repository.CommRepository,
	senders channel.Senders,
	renderer *channel.Renderer,
	limiter ratelimit.RateLimiter,
	cfg NotifierConfig,
	logger *zap.Logger,
) (*Notifier, error) {
	if dispatches == nil || jobs == nil || contacts == nil || comms == nil {
		return nil, fmt.Errorf("notifier repositories are required")
	}
	if renderer == nil {
		return nil, fmt.Errorf("renderer is required")
	}
	if limiter == nil {
		limiter = ratelimit.Unlimited{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Notifier{
		dispatches: dispatches,
		jobs:       jobs,
		contacts:   contacts,
		comms:      comms,
		senders:    senders,
		renderer:   renderer,
		limiter:    limiter,
		cfg:        cfg,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
		newID:      uuid.NewString,
	}, nil
}

func (n *Notifier) SetMetrics(metrics *observability.Metrics) {
	if n == nil {
		return
	}
	n.metrics = metrics
}

// HandleStatusChanged is subscribed to the event bus. Missing workers, jobs
// and recipients are logged and skipped; only storage failures are returned.
func (n *Notifier) HandleStatusChanged(ctx context.Context, evt domain.DispatchStatusChanged) error {
	if !evt.IsFirstNotification() {
		return nil
	}

	log := observability.WithContextLogger(n.logger, ctx).With(
		zap.String("dispatchId", evt.DispatchID),
		zap.String("workerId", evt.WorkerID),
	)

	if !n.cfg.Enabled {
		n.skip(log, "disabled")
		return nil
	}

	dispatch, err := n.dispatches.GetByID(ctx, evt.DispatchID)
	if errors.Is(err, domain.ErrNotFound) {
		log.Warn("dispatch not found, skipping notification")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load dispatch: %w", err)
	}
	if dispatch.Status != domain.StatusNotified {
		n.skip(log, "stale_event")
		return nil
	}

	history, err := n.comms.ListByDispatch(ctx, dispatch.ID)
	if err != nil {
		return fmt.Errorf("failed to load dispatch comms: %w", err)
	}
	delivered := deliveredForEvent(history, evt.EventID)
	if len(delivered) == 0 && !n.cfg.RenotifyAfterRevert && (dispatch.HasBeenNotified() || hasSentComm(history)) {
		n.skip(log, "already_notified")
		return nil
	}

	contact, err := n.contacts.GetWorkerContactInfo(ctx, dispatch.WorkerID)
	if errors.Is(err, domain.ErrNotFound) {
		log.Warn("worker contact info not found, skipping notification")
		n.metrics.IncNotificationSkipped("no_contact")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to resolve worker contact info: %w", err)
	}

	job, err := n.jobs.GetNotificationConfig(ctx, dispatch.JobID)
	if errors.Is(err, domain.ErrNotFound) {
		log.Warn("job notification config not found, skipping notification",
			zap.String("jobId", dispatch.JobID),
		)
		n.metrics.IncNotificationSkipped("no_job")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load job notification config: %w", err)
	}
	if len(job.Media) == 0 {
		n.skip(log, "no_media")
		return nil
	}

	link, err := dispatchLink(n.cfg.PublicBaseURL, dispatch.ID)
	if err != nil {
		log.Warn("failed to build dispatch link", zap.Error(err))
	}
	data := channel.TemplateData{
		DispatchID:   dispatch.ID,
		WorkerName:   contact.DisplayName,
		JobTitle:     job.JobTitle,
		EmployerName: job.EmployerName,
		Link:         link,
	}

	results := make([]*domain.Comm, len(job.Media))
	var g errgroup.Group
	for i, medium := range job.Media {
		if comm, ok := delivered[medium]; ok {
			results[i] = comm
			continue
		}
		g.Go(func() error {
			results[i] = n.send(ctx, log.With(zap.String("medium", medium.String())), evt.EventID, dispatch, medium, contact, data)
			return nil
		})
	}
	_ = g.Wait()

	recorded := make(map[string]bool, len(dispatch.CommIDs))
	for _, id := range dispatch.CommIDs {
		recorded[id] = true
	}
	commIDs := make([]string, 0, len(results))
	for _, comm := range results {
		if comm != nil && comm.Status == domain.CommStatusSent && !recorded[comm.ID] {
			commIDs = append(commIDs, comm.ID)
		}
	}

	if err := n.dispatches.AppendCommIDs(ctx, dispatch.ID, commIDs); err != nil {
		return fmt.Errorf("failed to record comm ids: %w", err)
	}

	log.Info("dispatch notification sent",
		zap.Int("media", len(job.Media)),
		zap.Int("delivered", len(commIDs)),
		zap.Int("alreadyDelivered", len(delivered)),
	)
	return nil
}

// send delivers one medium. It returns the persisted comm, or nil when
// nothing was attempted or the record could not be stored.
func (n *Notifier) send(
	ctx context.Context,
	log *zap.Logger,
	eventID string,
	dispatch *domain.Dispatch,
	medium domain.Medium,
	contact *domain.WorkerContactInfo,
	data channel.TemplateData,
) *domain.Comm {
	mediumLabel := medium.String()

	recipient := recipientFor(medium, contact)
	if recipient == "" {
		log.Info("worker has no recipient for medium, skipping")
		n.metrics.IncCommFailed(mediumLabel, "no_recipient")
		return nil
	}

	sender, ok := n.senders.For(medium)
	if !ok {
		log.Warn("no sender configured for medium, skipping")
		n.metrics.IncCommFailed(mediumLabel, "no_sender")
		return nil
	}

	if err := n.limiter.Wait(ctx, ratelimit.Key{Medium: medium, WorkerID: dispatch.WorkerID}); err != nil {
		if errors.Is(err, ratelimit.ErrWorkerThrottled) {
			log.Info("worker message limit reached, skipping", zap.Error(err))
			n.metrics.IncCommFailed(mediumLabel, "worker_throttled")
			return nil
		}
		log.Warn("rate limiter wait failed", zap.Error(err))
		n.metrics.IncCommFailed(mediumLabel, "rate_limited")
		return nil
	}

	rendered, err := n.renderer.Render(medium, data)
	if err != nil {
		log.Error("failed to render notification", zap.Error(err))
		n.metrics.IncCommFailed(mediumLabel, "render_error")
		return nil
	}

	msg := channel.Message{
		DispatchID: dispatch.ID,
		EventID:    eventID,
		WorkerID:   dispatch.WorkerID,
		Medium:     medium,
		Recipient:  recipient,
		Subject:    rendered.Subject,
		Body:       rendered.Body,
		Link:       data.Link,
	}

	start := n.now()
	delivery, sendErr := sender.Send(ctx, msg)
	n.metrics.ObserveCommSendDuration(mediumLabel, n.now().Sub(start))

	comm := &domain.Comm{
		ID:         n.newID(),
		DispatchID: dispatch.ID,
		EventID:    eventID,
		WorkerID:   dispatch.WorkerID,
		Medium:     medium,
		Recipient:  recipient,
		Subject:    rendered.Subject,
		Body:       rendered.Body,
		Status:     domain.CommStatusSent,
		CreatedAt:  n.now(),
	}
	if sendErr != nil {
		errText := sendErr.Error()
		comm.Status = domain.CommStatusFailed
		comm.Error = &errText
		log.Warn("failed to send notification", zap.Error(sendErr))
		n.metrics.IncCommFailed(mediumLabel, channel.FailureReason(sendErr))
	} else {
		if delivery != nil && delivery.MessageID != "" {
			messageID := delivery.MessageID
			comm.ProviderMessageID = &messageID
		}
		n.metrics.IncCommSent(mediumLabel)
	}

	if err := n.comms.Create(ctx, comm); err != nil {
		log.Error("failed to persist comm", zap.Error(err), zap.String("commStatus", comm.Status.String()))
		return nil
	}

	return comm
}

func (n *Notifier) skip(log *zap.Logger, reason string) {
	log.Debug("notification skipped", zap.String("reason", reason))
	n.metrics.IncNotificationSkipped(reason)
}

// deliveredForEvent returns the media already sent for eventID. A redelivered
// event resumes from here instead of messaging the worker twice.
func deliveredForEvent(history []domain.Comm, eventID string) map[domain.Medium]*domain.Comm {
	delivered := make(map[domain.Medium]*domain.Comm)
	if eventID == "" {
		return delivered
	}
	for i := range history {
		c := &history[i]
		if c.EventID == eventID && c.Status == domain.CommStatusSent {
			delivered[c.Medium] = c
		}
	}
	return delivered
}

func hasSentComm(history []domain.Comm) bool {
	for _, c := range history {
		if c.Status == domain.CommStatusSent {
			return true
		}
	}
	return false
}

func recipientFor(medium domain.Medium, contact *domain.WorkerContactInfo) string {
	switch medium {
	case domain.MediumSMS:
		return contact.Phone
	case domain.MediumEmail:
		return contact.Email
	case domain.MediumInApp:
		if contact.HasUser() {
			return *contact.UserID
		}
	}
	return ""
}

func dispatchLink(baseURL, dispatchID string) (string, error) {
	if baseURL == "" {
		return "/dispatch/" + url.PathEscape(dispatchID), nil
	}
	return url.JoinPath(baseURL, "dispatch", dispatchID)
}
