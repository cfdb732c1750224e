// Package models defines the N-central entities exchanged over the REST API and the run history entities
// persisted locally.
//
// The package contains two categories of types:
//
// 1. Data Transfer Objects (DTOs): JSON shapes returned by N-central
//   - [ServiceOrg], [Customer], [Site] : the org unit hierarchy, each with a ParentID resolver over the
//     parent aliases the server uses
//   - [User], [UserRole], [AccessGroup] : accounts and their permissions
//   - [OrgProperty], [Device], [DeviceProperty] : custom properties and inventory
//   - [Page] : the paginated list envelope
//
// 2. Persistent Entities: run history stored in SQLite
//   - [MigrationRun] : one export or migration invocation with its tallies
//   - [EntityOutcome] : what happened to one entity during a run
//
// Identifiers arrive as JSON numbers or numeric strings depending on the server release, so DTOs use [ID],
// [NullID] and [IDList] instead of plain integers. Every DTO implements [Record] for CSV output.
package models
