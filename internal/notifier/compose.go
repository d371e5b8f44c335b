package notifier

import (
	"context"
	"fmt"
	"strings"

	"homekeep/internal/task"
)

// TargetFor picks the chat for homeID: its mapped chat, else the default.
func (s *Service) TargetFor(homeID string) (Target, error) {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	chat := cfg.HomeChats[homeID]
	if chat == 0 {
		chat = cfg.DefaultChatID
	}
	if chat == 0 {
		return Target{}, ErrNoTarget
	}
	return Target{ChatID: chat, ThreadID: cfg.ThreadID}, nil
}

// Compose builds the notice for a reactivated task.
func (s *Service) Compose(ctx context.Context, t task.Task) (Notice, error) {
	to, err := s.TargetFor(t.HomeID)
	if err != nil {
		return Notice{}, err
	}
	s.mu.Lock()
	loc := s.cfg.Location
	s.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "“%s” is due again", t.Title)
	if t.DueDate != nil {
		fmt.Fprintf(&b, " (%s)", t.DueDate.In(loc).Format("Mon 2 Jan"))
	}
	if who := strings.TrimSpace(t.AssignedTo); who != "" {
		name := who
		if s.names != nil {
			name = s.names.DisplayName(ctx, who)
		}
		fmt.Fprintf(&b, " · %s", name)
	}
	return Notice{
		Target:   to,
		Text:     b.String(),
		DedupKey: occurrenceKey(t),
		HomeID:   t.HomeID,
		TaskID:   t.ID,
	}, nil
}

// occurrenceKey identifies one due occurrence of a task.
func occurrenceKey(t task.Task) string {
	if t.DueDate == nil {
		return "reactivated:" + t.ID
	}
	return fmt.Sprintf("reactivated:%s:%d", t.ID, t.DueDate.UnixMilli())
}
