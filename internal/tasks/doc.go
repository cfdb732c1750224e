// Package tasks runs the long-lived operations of ncx against one or two N-central servers.
//
// # Migration
//
// [MigrationEngine.Run] copies a service org into another server in five ordered phases:
//
//  1. Customers and sites: matched by name, missing ones created by a paced worker pool
//  2. User roles: matched by name, permissions translated through [PermissionTable]
//  3. Access groups: created over every destination customer and user
//  4. Users: created through the SOAP API, roles bridged by role name
//  5. Org properties: values copied onto mapped org units
//
// Each phase reads the [IDMapping] built by the phases before it. Creation calls go through REST
// first and fall back to SOAP via [Attempt] and [Result.OrElse]; when both fail the error is a
// [FallbackError] carrying both causes.
//
// Per-entity failures are tallied in the [MigrationResult] and recorded through an optional
// [Recorder]. A failed fetch of a list a phase depends on aborts the run.
//
// # Export
//
// [ExportEngine.Export] writes a service org's hierarchy and related entities to CSV and JSON
// files. Fetch failures become warnings.
//
// # Progress Reporting
//
// Both engines publish [ProgressUpdate] and [LogEvent] values through a [Broadcaster]. Publishing
// never blocks; slow subscribers miss events.
//
// # Cancellation
//
// [MigrationEngine.Cancel] or cancelling the run context stops a migration between entities.
// Calls already in flight complete.
package tasks
