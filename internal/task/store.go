package task

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound    = errors.New("task not found")
	ErrInvalidTask = errors.New("invalid task")
)

// Store is the persistence contract for tasks.
//
// Each method touches a single task and must be atomic for that task; the
// sweep relies on nothing stronger.
type Store interface {
	Create(ctx context.Context, t Task) (Task, error)
	Get(ctx context.Context, id string) (Task, error)
	Update(ctx context.Context, id string, p Patch) (Task, error)
	Delete(ctx context.Context, id string) error

	// ListByHomes returns every task in the given homes, newest first.
	ListByHomes(ctx context.Context, homeIDs []string) ([]Task, error)
	// QueryByHomesAndStatus returns the tasks in homeIDs with the given status.
	QueryByHomesAndStatus(ctx context.Context, homeIDs []string, status Status) ([]Task, error)

	UpdateStatus(ctx context.Context, id string, status Status) error
	UpdateDueDate(ctx context.Context, id string, due time.Time) error
}
