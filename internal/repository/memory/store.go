// Package memory is an in-process implementation of the repository
// interfaces. Transactions are serialized on a single mutex and rolled back
// by restoring a snapshot.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/samknelson/sirius-dispatch/internal/domain"
	"github.com/samknelson/sirius-dispatch/internal/repository"
)

// WorkerRecord seeds one worker together with its contact details.
type WorkerRecord struct {
	WorkerID    string
	ContactID   string
	DisplayName string
	Email       string
	UserID      *string
	Phones      []domain.PhoneNumber
}

type state struct {
	dispatches map[string]domain.Dispatch
	jobs       map[string]domain.DispatchJob
	jobTypes   map[string]domain.DispatchJobType
	employers  map[string]domain.Employer
	workers    map[string]WorkerRecord
	comms      map[string]domain.Comm
	events     map[string]domain.DispatchEvent
}

func newState() *state {
	return &state{
		dispatches: make(map[string]domain.Dispatch),
		jobs:       make(map[string]domain.DispatchJob),
		jobTypes:   make(map[string]domain.DispatchJobType),
		employers:  make(map[string]domain.Employer),
		workers:    make(map[string]WorkerRecord),
		comms:      make(map[string]domain.Comm),
		events:     make(map[string]domain.DispatchEvent),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.dispatches {
		v.CommIDs = append([]string(nil), v.CommIDs...)
		c.dispatches[k] = v
	}
	for k, v := range s.jobs {
		c.jobs[k] = v
	}
	for k, v := range s.jobTypes {
		c.jobTypes[k] = v
	}
	for k, v := range s.employers {
		c.employers[k] = v
	}
	for k, v := range s.workers {
		c.workers[k] = v
	}
	for k, v := range s.comms {
		c.comms[k] = v
	}
	for k, v := range s.events {
		c.events[k] = v
	}
	return c
}

type Store struct {
	mu  sync.Mutex
	st  *state
	now func() time.Time
}

func NewStore() *Store {
	return &Store{
		st:  newState(),
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) Dispatches() repository.DispatchRepository { return &dispatchRepo{store: s} }
func (s *Store) Jobs() repository.JobRepository { return &jobRepo{store: s} }
func (s *Store) Contacts() repository.ContactRepository { return &contactRepo{store: s} }
func (s *Store) Comms() repository.CommRepository { return &commRepo{store: s} }
func (s *Store) Events() repository.EventRepository { return &eventRepo{store: s} }

// WithinTransaction holds the store lock for the whole of fn. Repositories
// handed to fn must not be used after it returns.
func (s *Store) WithinTransaction(ctx context.Context, fn func(ctx context.Context, repos repository.Repositories) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	err := fn(ctx, repository.Repositories{
		Dispatches: &dispatchRepo{store: s, inTx: true},
		Jobs:       &jobRepo{store: s, inTx: true},
		Events:     &eventRepo{store: s, inTx: true},
	})
	if err != nil {
		s.st = snapshot
	}
	return err
}

func (s *Store) with(inTx bool, fn func(st *state)) {
	if !inTx {
		s.mu.Lock()
		defer s.mu.Unlock()
	}
	fn(s.st)
}

func (s *Store) SeedEmployer(e domain.Employer) {
	s.with(false, func(st *state) { st.employers[e.ID] = e })
}

func (s *Store) SeedJobType(t domain.DispatchJobType) {
	s.with(false, func(st *state) { st.jobTypes[t.ID] = t })
}

// SeedJob stores a job. AcceptedCount is ignored; it is always derived.
func (s *Store) SeedJob(j domain.DispatchJob) {
	s.with(false, func(st *state) {
		j.AcceptedCount = 0
		st.jobs[j.ID] = j
	})
}

func (s *Store) SeedWorker(w WorkerRecord) {
	s.with(false, func(st *state) { st.workers[w.WorkerID] = w })
}

// SeedDispatch stores a dispatch as-is, bypassing initial-status checks.
func (s *Store) SeedDispatch(d domain.Dispatch) {
	s.with(false, func(st *state) {
		d.CommIDs = append([]string(nil), d.CommIDs...)
		st.dispatches[d.ID] = d
	})
}

// CommsFor returns the comms recorded against a dispatch in creation order.
func (s *Store) CommsFor(dispatchID string) []domain.Comm {
	comms, _ := s.Comms().ListByDispatch(context.Background(), dispatchID)
	return comms
}

func (st *state) acceptedCount(jobID string) int {
	n := 0
	for _, d := range st.dispatches {
		if d.JobID == jobID && d.Status == domain.StatusAccepted {
			n++
		}
	}
	return n
}

type dispatchRepo struct {
	store *Store
	inTx  bool
}

func (r *dispatchRepo) Create(_ context.Context, d *domain.Dispatch) error {
	var err error
	r.store.with(r.inTx, func(st *state) {
		if _, exists := st.dispatches[d.ID]; exists {
			err = domain.ErrConflict
			return
		}
		copyD := *d
		copyD.CommIDs = append([]string{}, d.CommIDs...)
		st.dispatches[d.ID] = copyD
	})
	return err
}

func (r *dispatchRepo) GetByID(_ context.Context, id string) (*domain.Dispatch, error) {
	var (
		out *domain.Dispatch
		err error
	)
	r.store.with(r.inTx, func(st *state) {
		d, ok := st.dispatches[id]
		if !ok {
			err = domain.ErrNotFound
			return
		}
		d.CommIDs = append([]string{}, d.CommIDs...)
		out = &d
	})
	return out, err
}

func (r *dispatchRepo) ListByJob(_ context.Context, jobID string) ([]domain.Dispatch, error) {
	var out []domain.Dispatch
	r.store.with(r.inTx, func(st *state) {
		for _, d := range st.dispatches {
			if d.JobID == jobID {
				d.CommIDs = append([]string{}, d.CommIDs...)
				out = append(out, d)
			}
		}
	})
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *dispatchRepo) LockByID(ctx context.Context, id string) (*domain.Dispatch, error) {
	return r.GetByID(ctx, id)
}

func (r *dispatchRepo) UpdateStatus(_ context.Context, id string, from, to domain.DispatchStatus) error {
	var err error
	r.store.with(r.inTx, func(st *state) {
		d, ok := st.dispatches[id]
		if !ok || d.Status != from {
			err = domain.ErrConflict
			return
		}
		prev := from
		d.PreviousStatus = &prev
		d.Status = to
		d.UpdatedAt = r.store.now()
		st.dispatches[id] = d
	})
	return err
}

func (r *dispatchRepo) AppendCommIDs(_ context.Context, id string, commIDs []string) error {
	if len(commIDs) == 0 {
		return nil
	}
	var err error
	r.store.with(r.inTx, func(st *state) {
		d, ok := st.dispatches[id]
		if !ok {
			err = domain.ErrNotFound
			return
		}
		d.CommIDs = append(append([]string{}, d.CommIDs...), commIDs...)
		d.UpdatedAt = r.store.now()
		st.dispatches[id] = d
	})
	return err
}

// LockWorker is a no-op: transactions on the store already run one at a time.
func (r *dispatchRepo) LockWorker(context.Context, string) error {
	return nil
}

func (r *dispatchRepo) HasConflict(_ context.Context, workerID, jobID string) (bool, error) {
	conflict := false
	r.store.with(r.inTx, func(st *state) {
		for _, d := range st.dispatches {
			if d.WorkerID != workerID || d.JobID == jobID {
				continue
			}
			if d.Status == domain.StatusNotified || d.Status == domain.StatusAccepted {
				conflict = true
				return
			}
		}
	})
	return conflict, nil
}

type jobRepo struct {
	store *Store
	inTx  bool
}

func (r *jobRepo) GetByID(_ context.Context, id string) (*domain.DispatchJob, error) {
	var (
		out *domain.DispatchJob
		err error
	)
	r.store.with(r.inTx, func(st *state) {
		j, ok := st.jobs[id]
		if !ok {
			err = domain.ErrNotFound
			return
		}
		j.AcceptedCount = st.acceptedCount(id)
		out = &j
	})
	return out, err
}

func (r *jobRepo) LockByID(ctx context.Context, id string) (*domain.DispatchJob, error) {
	return r.GetByID(ctx, id)
}

func (r *jobRepo) GetNotificationConfig(_ context.Context, jobID string) (*domain.JobNotificationConfig, error) {
	var (
		out *domain.JobNotificationConfig
		err error
	)
	r.store.with(r.inTx, func(st *state) {
		j, ok := st.jobs[jobID]
		if !ok {
			err = domain.ErrNotFound
			return
		}
		employer, ok := st.employers[j.EmployerID]
		if !ok {
			err = domain.ErrNotFound
			return
		}
		jobType, ok := st.jobTypes[j.JobTypeID]
		if !ok {
			err = domain.ErrNotFound
			return
		}
		out = &domain.JobNotificationConfig{
			JobID:        j.ID,
			JobTitle:     j.Title,
			EmployerName: employer.Name,
			Media:        append([]domain.Medium{}, jobType.NotificationMedia...),
		}
	})
	return out, err
}

type contactRepo struct {
	store *Store
}

func (r *contactRepo) GetWorkerContactInfo(_ context.Context, workerID string) (*domain.WorkerContactInfo, error) {
	var (
		out *domain.WorkerContactInfo
		err error
	)
	r.store.with(false, func(st *state) {
		w, ok := st.workers[workerID]
		if !ok {
			err = domain.ErrNotFound
			return
		}
		phones := append([]domain.PhoneNumber{}, w.Phones...)
		sort.SliceStable(phones, func(i, j int) bool {
			return phones[i].IsPrimary && !phones[j].IsPrimary
		})
		out = &domain.WorkerContactInfo{
			WorkerID:    w.WorkerID,
			ContactID:   w.ContactID,
			DisplayName: w.DisplayName,
			Phone:       domain.PickPhone(phones),
			Email:       w.Email,
			UserID:      w.UserID,
		}
	})
	return out, err
}

type commRepo struct {
	store *Store
}

func (r *commRepo) Create(_ context.Context, c *domain.Comm) error {
	r.store.with(false, func(st *state) {
		if c.CreatedAt.IsZero() {
			c.CreatedAt = r.store.now()
		}
		st.comms[c.ID] = *c
	})
	return nil
}

func (r *commRepo) ListByDispatch(_ context.Context, dispatchID string) ([]domain.Comm, error) {
	var out []domain.Comm
	r.store.with(false, func(st *state) {
		for _, c := range st.comms {
			if c.DispatchID == dispatchID {
				out = append(out, c)
			}
		}
	})
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

type eventRepo struct {
	store *Store
	inTx  bool
}

func (r *eventRepo) Create(_ context.Context, e *domain.DispatchEvent) error {
	r.store.with(r.inTx, func(st *state) {
		if e.CreatedAt.IsZero() {
			e.CreatedAt = r.store.now()
		}
		st.events[e.ID] = *e
	})
	return nil
}

func (r *eventRepo) ListUnpublished(_ context.Context, createdBefore time.Time, limit int) ([]domain.DispatchEvent, error) {
	var out []domain.DispatchEvent
	r.store.with(r.inTx, func(st *state) {
		for _, e := range st.events {
			if e.PublishedAt == nil && !e.CreatedAt.After(createdBefore) {
				out = append(out, e)
			}
		}
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *eventRepo) MarkPublished(_ context.Context, id string, at time.Time) error {
	r.store.with(r.inTx, func(st *state) {
		e, ok := st.events[id]
		if !ok || e.PublishedAt != nil {
			return
		}
		e.PublishedAt = &at
		st.events[id] = e
	})
	return nil
}
