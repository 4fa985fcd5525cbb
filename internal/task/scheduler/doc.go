// Package scheduler fires time-triggered work.
//
// Two kinds of triggers live here:
//   - one-shot jobs, held in an in-memory timer table and rebuilt at startup
//     from a Source (ReconcileOnStartup)
//   - recurring housekeeping schedules driven by robfig/cron
//
// Neither runs work itself: fired triggers are handed to the task engine.
package scheduler
