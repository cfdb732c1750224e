// Package repositories implements SQLite persistence for run history.
//
// Key Implementations:
//   - [RunRepository] : export and migration runs with status, counts and soft deletes
//   - [OutcomeRepository] : per-entity audit rows (matched, created, skipped, failed)
//   - [History] : adapter the engines record through
//
// Sequence numbers give runs a stable, human-readable number (run #3) independent of their UUIDs.
// The [NextSequence] function atomically increments per-table sequence counters in dedicated sequence tables.
package repositories
