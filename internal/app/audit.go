package app

import (
	"context"
	"encoding/json"
	"strings"

	"homekeep/internal/eventbus"
	"homekeep/internal/habit"
	"homekeep/internal/storage"
	"homekeep/internal/task"
	logx "homekeep/pkg/logx"
)

// auditLoop records task and habit lifecycle events in the store.
func (a *App) auditLoop(ctx context.Context) error {
	events, unsub := a.bus.Subscribe(256,
		task.EventCreated, task.EventStatusChanged, task.EventSweepFinished, habit.EventCompleted)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			if entry, ok := auditFor(e); ok {
				a.appendAudit(ctx, entry)
			}
		}
	}
}

func (a *App) appendAudit(ctx context.Context, e storage.AuditEntry) {
	if err := a.store.AppendAudit(ctx, e); err != nil {
		a.log.Warn("audit append failed", logx.String("action", e.Action), logx.Err(err))
	}
}

func auditFor(e eventbus.Event) (storage.AuditEntry, bool) {
	switch d := e.Data.(type) {
	case task.Task:
		return storage.AuditEntry{
			At:     e.Time,
			Actor:  d.CreatedBy,
			Action: "task.create",
			HomeID: d.HomeID,
			Target: d.ID,
			OK:     1,
		}, true
	case task.StatusChangedEvent:
		entry := storage.AuditEntry{
			At:     e.Time,
			Actor:  d.Actor,
			Action: "task.status." + string(d.Task.Status),
			HomeID: d.Task.HomeID,
			Target: d.Task.ID,
			OK:     1,
		}
		if d.PrevDueDate != nil && d.Task.DueDate != nil {
			entry.MetaJSON = metaJSON(map[string]any{
				"from":    d.From,
				"prevDue": d.PrevDueDate,
				"nextDue": d.Task.DueDate,
			})
		}
		return entry, true
	case task.SweepReport:
		entry := sweepAudit("scheduler", d)
		entry.At = e.Time
		return entry, true
	case habit.Completion:
		return storage.AuditEntry{
			At:     e.Time,
			Actor:  d.CompletedBy,
			Action: "habit.complete",
			HomeID: d.HomeID,
			Target: d.HabitID,
			OK:     1,
		}, true
	}
	return storage.AuditEntry{}, false
}

func sweepAudit(actor string, r task.SweepReport) storage.AuditEntry {
	entry := storage.AuditEntry{
		Actor:  actor,
		Action: "sweep",
		OK:     len(r.Reactivated),
		Fail:   len(r.Failures),
		TookMS: r.Took.Milliseconds(),
	}
	if len(r.HomeIDs) == 1 {
		entry.HomeID = r.HomeIDs[0]
	}
	if err := r.Err(); err != nil {
		entry.Error = err.Error()
	}
	if len(r.Reactivated) > 0 {
		entry.Target = strings.Join(r.Reactivated, ",")
	}
	entry.MetaJSON = metaJSON(map[string]any{"scanned": r.Scanned, "homes": len(r.HomeIDs)})
	return entry
}

func metaJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
