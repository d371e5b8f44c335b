package habit

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"homekeep/internal/eventbus"
	logx "homekeep/pkg/logx"
)

// EventCompleted is published with a Completion after every Complete.
const EventCompleted = "habit.completed"

// HomeResolver lists the homes a user belongs to.
type HomeResolver interface {
	HomeIDsFor(ctx context.Context, userID string) ([]string, error)
}

type Service struct {
	store Store
	homes HomeResolver
	log   logx.Logger
	bus   eventbus.Bus
	now   func() time.Time
}

// NewService builds the habit service. now may be nil (time.Now).
func NewService(store Store, homes HomeResolver, log logx.Logger, bus eventbus.Bus, now func() time.Time) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if now == nil {
		now = time.Now
	}
	return &Service{store: store, homes: homes, log: log, bus: bus, now: now}
}

// NewHabit is the input for Create.
type NewHabit struct {
	HomeID      string
	Title       string
	Description string
	RoomID      string
	GroupID     string
	CreatedBy   string
}

func (s *Service) Create(ctx context.Context, in NewHabit) (Habit, error) {
	h := Habit{
		ID:          uuid.NewString(),
		HomeID:      strings.TrimSpace(in.HomeID),
		Title:       strings.TrimSpace(in.Title),
		Description: strings.TrimSpace(in.Description),
		RoomID:      strings.TrimSpace(in.RoomID),
		GroupID:     strings.TrimSpace(in.GroupID),
		CreatedBy:   strings.TrimSpace(in.CreatedBy),
		CreatedAt:   s.now(),
	}
	if h.HomeID == "" {
		return Habit{}, fmt.Errorf("%w: homeId required", ErrInvalid)
	}
	if h.Title == "" {
		return Habit{}, fmt.Errorf("%w: title required", ErrInvalid)
	}
	created, err := s.store.Create(ctx, h)
	if err != nil {
		return Habit{}, fmt.Errorf("create habit: %w", err)
	}
	s.log.Debug("habit created", logx.String("habit_id", created.ID), logx.String("home_id", created.HomeID))
	return created, nil
}

func (s *Service) Get(ctx context.Context, id string) (Habit, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) Update(ctx context.Context, id string, p Patch) (Habit, error) {
	if p.Title != nil {
		t := strings.TrimSpace(*p.Title)
		if t == "" {
			return Habit{}, fmt.Errorf("%w: title required", ErrInvalid)
		}
		p.Title = &t
	}
	if p.IsEmpty() {
		return s.store.Get(ctx, id)
	}
	return s.store.Update(ctx, id, p)
}

// Delete removes the habit and its history.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.store.Delete(ctx, id)
}

func (s *Service) ListByHome(ctx context.Context, homeID string) ([]Habit, error) {
	homeID = strings.TrimSpace(homeID)
	if homeID == "" {
		return []Habit{}, nil
	}
	return s.store.ListByHomes(ctx, []string{homeID})
}

// ListByUser returns the habits of every home userID belongs to.
func (s *Service) ListByUser(ctx context.Context, userID string) ([]Habit, error) {
	ids, err := s.homes.HomeIDsFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []Habit{}, nil
	}
	return s.store.ListByHomes(ctx, ids)
}

// Complete appends a completion by completedBy at the current time.
func (s *Service) Complete(ctx context.Context, habitID, completedBy string) (Completion, error) {
	completedBy = strings.TrimSpace(completedBy)
	if completedBy == "" {
		return Completion{}, fmt.Errorf("%w: completedBy required", ErrInvalid)
	}
	h, err := s.store.Get(ctx, habitID)
	if err != nil {
		return Completion{}, err
	}
	c, err := s.store.AddCompletion(ctx, Completion{
		ID:          uuid.NewString(),
		HabitID:     h.ID,
		HomeID:      h.HomeID,
		CompletedBy: completedBy,
		CompletedAt: s.now(),
	})
	if err != nil {
		return Completion{}, fmt.Errorf("complete habit %s: %w", habitID, err)
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: EventCompleted, Data: c})
	}
	s.log.Info("habit completed",
		logx.String("habit_id", h.ID),
		logx.String("home_id", h.HomeID),
		logx.String("by", completedBy),
	)
	return c, nil
}

// Completions returns the history of habitID, most recent first.
func (s *Service) Completions(ctx context.Context, habitID string) ([]Completion, error) {
	if _, err := s.store.Get(ctx, habitID); err != nil {
		return nil, err
	}
	cs, err := s.store.Completions(ctx, habitID)
	if err != nil {
		return nil, err
	}
	SortCompletions(cs)
	return cs, nil
}

func (s *Service) LastCompletion(ctx context.Context, habitID string) (Completion, bool, error) {
	if _, err := s.store.Get(ctx, habitID); err != nil {
		return Completion{}, false, err
	}
	return s.store.LastCompletion(ctx, habitID)
}

// SortCompletions orders cs most recent first; ties break on id.
func SortCompletions(cs []Completion) {
	sort.Slice(cs, func(i, j int) bool {
		if !cs[i].CompletedAt.Equal(cs[j].CompletedAt) {
			return cs[i].CompletedAt.After(cs[j].CompletedAt)
		}
		return cs[i].ID < cs[j].ID
	})
}
