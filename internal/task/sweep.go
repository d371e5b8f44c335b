package task

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"homekeep/internal/recurrence"
	logx "homekeep/pkg/logx"
)

// SweepFailure is one task whose reactivation write failed.
type SweepFailure struct {
	TaskID string `json:"taskId"`
	Err    error  `json:"-"`
	Error  string `json:"error"`
}

// SweepReport summarizes one reactivation pass.
//
// A report with failures is still a successful sweep: the failed tasks stay
// completed until the next pass picks them up.
type SweepReport struct {
	HomeIDs     []string       `json:"homeIds"`
	Today       time.Time      `json:"today"`
	Scanned     int            `json:"scanned"`
	Reactivated []string       `json:"reactivated"`
	Failures    []SweepFailure `json:"failures,omitempty"`
	Took        time.Duration  `json:"took"`
}

func (r SweepReport) OK() bool { return len(r.Failures) == 0 }

// Err joins the per-task failures (nil when every write succeeded).
func (r SweepReport) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Failures))
	for _, f := range r.Failures {
		errs = append(errs, fmt.Errorf("task %s: %w", f.TaskID, f.Err))
	}
	return errors.Join(errs...)
}

// Sweep reactivates due recurring tasks in homeIDs using the service clock.
func (s *Service) Sweep(ctx context.Context, homeIDs []string) (SweepReport, error) {
	return s.SweepAt(ctx, homeIDs, s.config().Now())
}

// SweepAt flips every completed recurring task in homeIDs whose due date is
// on or before now's calendar date back to pending. Only status is written.
//
// Writes run concurrently and independently; a failed write is recorded in
// the report and does not stop the others. The returned error is non-nil
// only when the scan itself fails. An empty homeIDs is a no-op.
func (s *Service) SweepAt(ctx context.Context, homeIDs []string, now time.Time) (SweepReport, error) {
	start := time.Now()
	cfg := s.config()
	homeIDs = normalizeIDs(homeIDs)
	rep := SweepReport{
		HomeIDs:     homeIDs,
		Today:       recurrence.Midnight(now, cfg.Location),
		Reactivated: []string{},
	}
	if len(homeIDs) == 0 {
		return rep, nil
	}

	completed, err := s.store.QueryByHomesAndStatus(ctx, homeIDs, StatusCompleted)
	if err != nil {
		return rep, fmt.Errorf("sweep: query completed tasks: %w", err)
	}
	rep.Scanned = len(completed)

	inScope := make(map[string]struct{}, len(homeIDs))
	for _, id := range homeIDs {
		inScope[id] = struct{}{}
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(cfg.Concurrency)
	for _, t := range completed {
		if _, ok := inScope[t.HomeID]; !ok {
			continue
		}
		if !ShouldReactivate(t, now, cfg.Location) {
			continue
		}
		t := t
		g.Go(func() error {
			if err := s.store.UpdateStatus(ctx, t.ID, StatusPending); err != nil {
				s.log.Warn("reactivate failed", logx.String("task_id", t.ID), logx.String("home_id", t.HomeID), logx.Err(err))
				mu.Lock()
				rep.Failures = append(rep.Failures, SweepFailure{TaskID: t.ID, Err: err, Error: err.Error()})
				mu.Unlock()
				return nil
			}
			mu.Lock()
			rep.Reactivated = append(rep.Reactivated, t.ID)
			mu.Unlock()

			t.Status = StatusPending
			s.publish(EventReactivated, ReactivatedEvent{Task: t})
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(rep.Reactivated)
	sort.Slice(rep.Failures, func(i, j int) bool { return rep.Failures[i].TaskID < rep.Failures[j].TaskID })
	rep.Took = time.Since(start)
	s.publish(EventSweepFinished, rep)

	fields := []logx.Field{
		logx.Int("homes", len(homeIDs)),
		logx.Int("scanned", rep.Scanned),
		logx.Int("reactivated", len(rep.Reactivated)),
		logx.Int("failed", len(rep.Failures)),
		logx.String("today", rep.Today.Format(time.DateOnly)),
		logx.Duration("took", rep.Took),
	}
	switch {
	case !rep.OK():
		s.log.Warn("sweep finished with failures", fields...)
	case len(rep.Reactivated) > 0:
		s.log.Info("sweep finished", fields...)
	default:
		s.log.Debug("sweep finished", fields...)
	}
	return rep, nil
}
