package notifier

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
	ErrNoTarget  = errors.New("no chat configured for home")
)

// Bus event types.
const (
	EventQueued  = "notifier.queued"
	EventSent    = "notifier.sent"
	EventFailed  = "notifier.failed"
	EventDeduped = "notifier.deduped"
	EventDropped = "notifier.dropped"
)

// Config controls the notification pipeline.
type Config struct {
	Enabled bool

	DefaultChatID int64
	ThreadID      int
	HomeChats     map[string]int64 // home id -> chat id

	Workers     int
	QueueSize   int
	RatePerSec  int
	SendTimeout time.Duration

	DedupWindow time.Duration

	BreakerFailures uint32        // consecutive failures that open the breaker
	BreakerCooldown time.Duration // how long it stays open

	// Location renders due dates in notices. Defaults to time.Local.
	Location *time.Location
}

type Target struct {
	ChatID   int64 `json:"chatId"`
	ThreadID int   `json:"threadId,omitempty"`
}

type Notice struct {
	Target   Target
	Text     string
	DedupKey string // empty disables dedup
	HomeID   string
	TaskID   string
}

// Sender delivers one text message.
type Sender interface {
	Send(ctx context.Context, to Target, text string) error
}

// NameResolver maps a user id to a display name.
type NameResolver interface {
	DisplayName(ctx context.Context, userID string) string
}

// DedupStore persists suppression windows.
type DedupStore interface {
	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)
}

type HistoryItem struct {
	At     time.Time `json:"at"`
	ChatID int64     `json:"chatId"`
	Text   string    `json:"text"`
	Error  string    `json:"error,omitempty"`
}

// NotificationEvent is published on the bus for pipeline lifecycle events.
type NotificationEvent struct {
	ChatID   int64     `json:"chatId"`
	ThreadID int       `json:"threadId,omitempty"`
	HomeID   string    `json:"homeId,omitempty"`
	TaskID   string    `json:"taskId,omitempty"`
	Key      string    `json:"key,omitempty"`
	At       time.Time `json:"at"`
	Error    string    `json:"error,omitempty"`
}

type Snapshot struct {
	Enabled  bool          `json:"enabled"`
	Running  bool          `json:"running"`
	QueueLen int           `json:"queueLen"`
	Breaker  string        `json:"breaker"`
	Sent     uint64        `json:"sent"`
	Failed   uint64        `json:"failed"`
	Deduped  uint64        `json:"deduped"`
	History  []HistoryItem `json:"history"`
}
