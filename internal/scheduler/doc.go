// Package scheduler triggers named jobs from cron expressions or fixed
// intervals.
//
// # Schedule formats
//
//   - Cron: 5-field (min hour dom mon dow) or 6-field with optional seconds,
//     e.g. "5 0 * * *" or "0 */5 * * * *".
//   - Cron descriptors: "@daily", "@hourly".
//   - Interval durations: "55m", "2h30m", "@every 55m".
//   - Interval HH:MM: "00:50" means every 50 minutes.
//   - Wall clock: "daily:00:05" (or "at:00:05") runs once a day at that
//     time in the scheduler timezone.
//
// Prefix with "cron:", "interval:" or "every:" to force interpretation.
//
// # Overlap
//
// A job never runs twice at once. A trigger that fires while the previous
// run is still going is skipped and counted; there is no queue and no retry.
// The next trigger is the retry.
//
// # Lifecycle
//
// Jobs may be registered while stopped; they are armed on Start. Changing
// the timezone through Apply re-arms every job in the new location.
package scheduler
