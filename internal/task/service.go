package task

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"homekeep/internal/eventbus"
	"homekeep/internal/recurrence"
	logx "homekeep/pkg/logx"
)

// Config controls the task service.
type Config struct {
	// Location decides which calendar date counts as "today" for the sweep.
	// Defaults to time.Local.
	Location *time.Location
	// Concurrency bounds in-flight sweep writes. Default 8.
	Concurrency int
	// Now overrides the clock (tests).
	Now func() time.Time
}

type Service struct {
	store Store
	log   logx.Logger
	bus   eventbus.Bus

	mu  sync.RWMutex
	cfg Config
}

func NewService(store Store, cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{store: store, log: log, bus: bus}
	s.Apply(cfg)
	return s
}

// Apply swaps location/concurrency (config hot reload).
func (s *Service) Apply(cfg Config) {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

func (s *Service) config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

func (s *Service) Location() *time.Location { return s.config().Location }

// Clock returns the service clock.
func (s *Service) Clock() func() time.Time { return s.config().Now }

func (s *Service) publish(typ string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: data})
}

// NewTask is the input for Create.
type NewTask struct {
	HomeID         string
	Title          string
	Description    string
	RoomID         string
	GroupID        string
	AssignedTo     string
	CreatedBy      string
	DueDate        *time.Time
	RecurrenceDays *int
}

func (s *Service) Create(ctx context.Context, in NewTask) (Task, error) {
	t := Task{
		ID:          uuid.NewString(),
		HomeID:      strings.TrimSpace(in.HomeID),
		Title:       strings.TrimSpace(in.Title),
		Description: strings.TrimSpace(in.Description),
		RoomID:      strings.TrimSpace(in.RoomID),
		GroupID:     strings.TrimSpace(in.GroupID),
		AssignedTo:  strings.TrimSpace(in.AssignedTo),
		CreatedBy:   strings.TrimSpace(in.CreatedBy),
		Status:      StatusPending,
		CreatedAt:   s.config().Now(),
	}
	if t.HomeID == "" {
		return Task{}, fmt.Errorf("%w: homeId required", ErrInvalidTask)
	}
	if t.Title == "" {
		return Task{}, fmt.Errorf("%w: title required", ErrInvalidTask)
	}
	if in.DueDate != nil {
		d := *in.DueDate
		t.DueDate = &d
	}
	if in.RecurrenceDays != nil {
		if err := validateRecurrence(*in.RecurrenceDays, t.DueDate != nil); err != nil {
			return Task{}, err
		}
		n := *in.RecurrenceDays
		t.RecurrenceDays = &n
	}

	created, err := s.store.Create(ctx, t)
	if err != nil {
		return Task{}, fmt.Errorf("create task: %w", err)
	}
	s.publish(EventCreated, created)
	return created, nil
}

func validateRecurrence(days int, hasDue bool) error {
	if err := recurrence.ValidateDays(days); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTask, err)
	}
	if !hasDue {
		return fmt.Errorf("%w: recurrence requires a due date", ErrInvalidTask)
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id string) (Task, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) ListByHomes(ctx context.Context, homeIDs []string) ([]Task, error) {
	homeIDs = normalizeIDs(homeIDs)
	if len(homeIDs) == 0 {
		return []Task{}, nil
	}
	return s.store.ListByHomes(ctx, homeIDs)
}

func (s *Service) Delete(ctx context.Context, id string) error {
	return s.store.Delete(ctx, id)
}

// Update edits task fields. Status changes go through SetStatus.
//
// Clearing the due date of a recurring task also clears its recurrence.
func (s *Service) Update(ctx context.Context, id string, p Patch) (Task, error) {
	if p.Status != nil || p.CompletedAt != nil {
		return Task{}, fmt.Errorf("%w: use SetStatus to change status", ErrInvalidTask)
	}
	if p.Title != nil && strings.TrimSpace(*p.Title) == "" {
		return Task{}, fmt.Errorf("%w: title required", ErrInvalidTask)
	}
	if p.IsEmpty() {
		return s.store.Get(ctx, id)
	}

	cur, err := s.store.Get(ctx, id)
	if err != nil {
		return Task{}, err
	}
	next := cur.Clone()
	p.Apply(&next)
	if p.RecurrenceDays != nil && !p.ClearRecurrence {
		if err := validateRecurrence(*p.RecurrenceDays, next.DueDate != nil); err != nil {
			return Task{}, err
		}
	}
	if p.ClearDueDate && next.RecurrenceDays != nil {
		p.ClearRecurrence = true
		p.RecurrenceDays = nil
	}
	return s.store.Update(ctx, id, p)
}

// SetStatus moves a task to status.
//
// Completing a recurring task advances its due date by exactly one interval
// from the previous due date, in the same write as the status change.
// Overdue tasks do not catch up. Completing an already completed task is a
// no-op.
func (s *Service) SetStatus(ctx context.Context, id string, status Status, actor string) (Task, error) {
	cur, err := s.store.Get(ctx, id)
	if err != nil {
		return Task{}, err
	}
	if cur.Status == status {
		return cur, nil
	}

	ev := StatusChangedEvent{From: cur.Status, Actor: actor}
	var updated Task
	switch status {
	case StatusCompleted:
		now := s.config().Now()
		p := Patch{Status: &status, CompletedAt: &now}
		if cur.IsRecurring() {
			next, err := recurrence.Advance(*cur.DueDate, *cur.RecurrenceDays)
			if err != nil {
				return Task{}, err
			}
			p.DueDate = &next
			prev := *cur.DueDate
			ev.PrevDueDate = &prev
		}
		updated, err = s.store.Update(ctx, id, p)
		if err != nil {
			return Task{}, fmt.Errorf("complete task %s: %w", id, err)
		}
	default:
		if err := s.store.UpdateStatus(ctx, id, status); err != nil {
			return Task{}, fmt.Errorf("set task %s status: %w", id, err)
		}
		updated = cur.Clone()
		updated.Status = status
	}

	ev.Task = updated
	s.publish(EventStatusChanged, ev)
	if status == StatusCompleted {
		s.publish(EventCompleted, ev)
	}
	fields := []logx.Field{
		logx.String("task_id", id),
		logx.String("from", string(cur.Status)),
		logx.String("to", string(status)),
	}
	if ev.PrevDueDate != nil && updated.DueDate != nil {
		fields = append(fields, logx.Time("next_due", *updated.DueDate))
	}
	s.log.Debug("task status changed", fields...)
	return updated, nil
}

// IsNotFound reports whether err means the task does not exist.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

func normalizeIDs(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
