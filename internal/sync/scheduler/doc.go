// Package scheduler decides when to run automatic sync passes.
//
// The Scheduler subscribes to lifecycle event sources (application foreground,
// connectivity restored) and evaluates each event the same way a manual Trigger is
// evaluated:
//
//   - automatic sync must be enabled, which it is once a frequency preference has
//     been saved with SetFrequency
//   - no other pass may be running; a trigger that arrives during a pass is dropped,
//     not queued
//   - the pass must be due according to State.ShouldSyncNow
//   - a principal with a sync-eligible role must be signed in
//
// When all of these hold the Scheduler runs one full pass through the sync Manager,
// remembers the trigger time as the last automatic sync and appends a single audit
// entry with scope "all" summarising the pass.
package scheduler
