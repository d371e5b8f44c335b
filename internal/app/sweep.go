package app

import (
	"context"
	"fmt"

	"homekeep/internal/config"
	"homekeep/internal/task"
)

const sweepJobName = "sweep.daily"

// sweepJob is the scheduled reactivation pass over every home.
func (a *App) sweepJob(ctx context.Context) error {
	ids, err := a.homes.AllHomeIDs(ctx)
	if err != nil {
		return fmt.Errorf("list homes: %w", err)
	}
	// Per-task failures are logged by the task service and retried next pass.
	_, err = a.tasks.Sweep(ctx, ids)
	return err
}

func (a *App) applySweepSchedule(cfg *config.Config) error {
	if !cfg.Sweep.IsEnabled() {
		if a.sched.Remove(sweepJobName) {
			a.log.Info("sweep schedule removed")
		}
		return nil
	}
	if _, err := a.sched.AddSchedule(sweepJobName, cfg.SweepSchedule(), 0, a.sweepJob); err != nil {
		return fmt.Errorf("sweep.schedule: %w", err)
	}
	return nil
}

// SweepOnce runs one pass outside the scheduler. An empty homeIDs sweeps
// every home. Used by the CLI on an app that was never started, so the
// audit entry is written here.
func (a *App) SweepOnce(ctx context.Context, homeIDs []string) (task.SweepReport, error) {
	if len(homeIDs) == 0 {
		ids, err := a.homes.AllHomeIDs(ctx)
		if err != nil {
			return task.SweepReport{}, fmt.Errorf("list homes: %w", err)
		}
		homeIDs = ids
	}
	rep, err := a.tasks.Sweep(ctx, homeIDs)
	if err != nil {
		return rep, err
	}
	if a.sup == nil {
		a.appendAudit(ctx, sweepAudit("cli", rep))
	}
	return rep, nil
}
