// Package notifier tells a home's Telegram chat when a recurring chore comes
// due again.
//
// It listens for task.reactivated on the event bus, composes a short notice,
// and pushes it through a queue + worker pipeline guarded by a token bucket
// and a circuit breaker. Each occurrence (task id + due date) is announced at
// most once; suppression state lives in the store so restarts and
// overlapping sweeps do not double-notify.
//
// Delivery is best-effort. Failures are logged and published on the bus,
// never returned to whoever triggered the sweep.
package notifier
