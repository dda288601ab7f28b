// Package runner drives collected task trees to terminal results.
//
// It provides:
//   - Mode interpretation (only, skip, todo, name/tag/id filters)
//   - Per-test attempts with fixtures, hooks, timeouts and async
//     assertions
//   - Retry, repeat and expected-failure handling
//   - Concurrent groups bounded by a semaphore and seeded shuffling
//   - A throttled result pack stream consumed by reporters
//
// Test bodies and hooks run on their own goroutines, so a timeout
// abandons a stuck body instead of blocking the run, and Skip/Fatal can
// stop a body with runtime.Goexit.
package runner
