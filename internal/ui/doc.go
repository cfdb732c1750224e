// Package ui implements the "ncx migrate --tui" monitor using bubbletea's Elm architecture.
//
// The TUI moves through three views:
//  1. [ConfirmView] : show source, destination and enabled phases, start on y
//  2. [RunView] : progress bar, current phase and the most recent log lines
//  3. [ResultView] : per-phase tallies and a scrollable list of warnings and errors
//
// The [Model] subscribes to the engine's tasks.Broadcaster and turns each event into a [Msg].
// Pressing q while a run is in flight calls MigrationEngine.Cancel; the run stops between entities and the
// result view shows what was done.
package ui
