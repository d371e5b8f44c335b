// Package home models households: the tenant unit that owns tasks and
// scopes every sweep.
package home

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	logx "homekeep/pkg/logx"
)

var (
	ErrNotFound = errors.New("home not found")
	ErrInvalid  = errors.New("invalid home")
)

type Home struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
	Members   []string  `json:"members"`
}

func (h Home) HasMember(userID string) bool { return slices.Contains(h.Members, userID) }

func (h Home) Clone() Home {
	cp := h
	cp.Members = append([]string(nil), h.Members...)
	return cp
}

type Store interface {
	Create(ctx context.Context, h Home) (Home, error)
	Get(ctx context.Context, id string) (Home, error)
	// AddMember is idempotent.
	AddMember(ctx context.Context, homeID, userID string) (Home, error)
	ListByMember(ctx context.Context, userID string) ([]Home, error)
	ListIDs(ctx context.Context) ([]string, error)
}

type Service struct {
	store Store
	log   logx.Logger
	now   func() time.Time
}

func NewService(store Store, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{store: store, log: log, now: time.Now}
}

// Create makes a home; the creator is its first member.
func (s *Service) Create(ctx context.Context, name, createdBy string) (Home, error) {
	name = strings.TrimSpace(name)
	createdBy = strings.TrimSpace(createdBy)
	if name == "" {
		return Home{}, fmt.Errorf("%w: name required", ErrInvalid)
	}
	if createdBy == "" {
		return Home{}, fmt.Errorf("%w: createdBy required", ErrInvalid)
	}
	h, err := s.store.Create(ctx, Home{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedBy: createdBy,
		CreatedAt: s.now(),
		Members:   []string{createdBy},
	})
	if err != nil {
		return Home{}, fmt.Errorf("create home: %w", err)
	}
	s.log.Info("home created", logx.String("home_id", h.ID), logx.String("created_by", createdBy))
	return h, nil
}

func (s *Service) Get(ctx context.Context, id string) (Home, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) AddMember(ctx context.Context, homeID, userID string) (Home, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Home{}, fmt.Errorf("%w: userId required", ErrInvalid)
	}
	return s.store.AddMember(ctx, homeID, userID)
}

// HomeIDsFor returns the ids of every home userID belongs to, sorted.
func (s *Service) HomeIDsFor(ctx context.Context, userID string) ([]string, error) {
	homes, err := s.store.ListByMember(ctx, strings.TrimSpace(userID))
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(homes))
	for _, h := range homes {
		ids = append(ids, h.ID)
	}
	sort.Strings(ids)
	return ids, nil
}

// AllHomeIDs is the scope of the scheduled sweep.
func (s *Service) AllHomeIDs(ctx context.Context) ([]string, error) {
	ids, err := s.store.ListIDs(ctx)
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}
