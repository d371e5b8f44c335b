// Package storage persists homes, tasks, habits, user profiles, the audit
// trail and notification dedup state.
//
// Drivers:
//   - "memory": process-local maps (tests, throwaway runs)
//   - "file":   memory plus a JSON snapshot rewritten on every change and
//     an append-only audit log (<prefix>.audit.jsonl)
//   - "sqlite": a SQLite database file (modernc.org/sqlite, no cgo)
package storage

import (
	"context"
	"errors"
	"time"

	"homekeep/internal/habit"
	"homekeep/internal/home"
	"homekeep/internal/profile"
	"homekeep/internal/task"
)

var ErrDisabled = errors.New("storage disabled")

type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// AuditEntry records a state change worth keeping (status changes, sweeps).
// Keep it compact and schema-stable.
type AuditEntry struct {
	At       time.Time `json:"at"`
	Actor    string    `json:"actor,omitempty"`
	Action   string    `json:"action"`
	HomeID   string    `json:"homeId,omitempty"`
	Target   string    `json:"target,omitempty"`
	OK       int       `json:"ok"`
	Fail     int       `json:"fail"`
	Error    string    `json:"error,omitempty"`
	TookMS   int64     `json:"tookMs,omitempty"`
	MetaJSON string    `json:"meta,omitempty"`
}

// Store bundles every repository the app needs behind one handle.
type Store interface {
	Tasks() task.Store
	Habits() habit.Store
	Homes() home.Store
	Users() profile.Store

	AppendAudit(ctx context.Context, e AuditEntry) error
	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)

	Close() error
}
