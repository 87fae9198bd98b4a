// Package scheduler registers recurring jobs and computes their trigger times.
//
// Triggers come from robfig/cron driven by a fixed-rate schedule: the first fire
// happens after an initial delay and every later fire lands on first + k*period,
// regardless of how long an invocation takes. Execution is delegated to the task
// engine; the scheduler only enqueues.
//
// Every registration is tracked by a Handle keyed by a caller-chosen key (a group
// id for announcements), so re-registering a key replaces the previous handle
// instead of adding a second timer.
package scheduler
