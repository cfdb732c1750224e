package models

import (
	"fmt"
	"time"
)

// Run kinds
const (
	RunMigration = "migration"
	RunExport    = "export"
)

// Run statuses
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Entity outcome actions
const (
	ActionMatched = "matched"
	ActionCreated = "created"
	ActionSkipped = "skipped"
	ActionFailed  = "failed"
)

// MigrationRun records one export or migration invocation.
type MigrationRun struct {
	id           string
	sequence     int
	kind         string
	sourceURL    string
	destURL      string
	sourceSOID   int64
	destSOID     int64
	options      string
	status       string
	created      int
	matched      int
	skipped      int
	failed       int
	errorMessage string
	startedAt    *time.Time
	completedAt  *time.Time
	createdAt    time.Time
	updatedAt    time.Time
	deletedAt    *time.Time
}

// NewMigrationRun creates a pending run.
func NewMigrationRun(kind, sourceURL, destURL string, sourceSOID, destSOID int64) *MigrationRun {
	now := time.Now()
	return &MigrationRun{
		kind:       kind,
		sourceURL:  sourceURL,
		destURL:    destURL,
		sourceSOID: sourceSOID,
		destSOID:   destSOID,
		status:     StatusPending,
		createdAt:  now,
		updatedAt:  now,
	}
}

func (r *MigrationRun) ID() string              { return r.id }
func (r *MigrationRun) Sequence() int           { return r.sequence }
func (r *MigrationRun) Kind() string            { return r.kind }
func (r *MigrationRun) SourceURL() string       { return r.sourceURL }
func (r *MigrationRun) DestURL() string         { return r.destURL }
func (r *MigrationRun) SourceSOID() int64       { return r.sourceSOID }
func (r *MigrationRun) DestSOID() int64         { return r.destSOID }
func (r *MigrationRun) Options() string         { return r.options }
func (r *MigrationRun) Status() string          { return r.status }
func (r *MigrationRun) Created() int            { return r.created }
func (r *MigrationRun) Matched() int            { return r.matched }
func (r *MigrationRun) Skipped() int            { return r.skipped }
func (r *MigrationRun) Failed() int             { return r.failed }
func (r *MigrationRun) ErrorMessage() string    { return r.errorMessage }
func (r *MigrationRun) StartedAt() *time.Time   { return r.startedAt }
func (r *MigrationRun) CompletedAt() *time.Time { return r.completedAt }
func (r *MigrationRun) CreatedAt() time.Time    { return r.createdAt }
func (r *MigrationRun) UpdatedAt() time.Time    { return r.updatedAt }
func (r *MigrationRun) DeletedAt() *time.Time   { return r.deletedAt }

func (r *MigrationRun) SetID(id string)             { r.id = id }
func (r *MigrationRun) SetSequence(seq int)         { r.sequence = seq }
func (r *MigrationRun) SetOptions(opts string)      { r.options = opts }
func (r *MigrationRun) SetStatus(status string)     { r.status = status }
func (r *MigrationRun) SetErrorMessage(msg string)  { r.errorMessage = msg }
func (r *MigrationRun) SetStartedAt(t *time.Time)   { r.startedAt = t }
func (r *MigrationRun) SetCompletedAt(t *time.Time) { r.completedAt = t }
func (r *MigrationRun) SetCreatedAt(t time.Time)    { r.createdAt = t }
func (r *MigrationRun) SetUpdatedAt(t time.Time)    { r.updatedAt = t }
func (r *MigrationRun) SetDeletedAt(t *time.Time)   { r.deletedAt = t }

// SetCounts replaces the outcome tallies.
func (r *MigrationRun) SetCounts(created, matched, skipped, failed int) {
	r.created, r.matched, r.skipped, r.failed = created, matched, skipped, failed
}

// Start marks the run as running.
func (r *MigrationRun) Start() {
	now := time.Now()
	r.status = StatusRunning
	r.startedAt = &now
}

// Finish marks the run terminal with the given status.
func (r *MigrationRun) Finish(status, errorMessage string) {
	now := time.Now()
	r.status = status
	r.errorMessage = errorMessage
	r.completedAt = &now
}

// Duration is zero until the run has both started and completed.
func (r *MigrationRun) Duration() time.Duration {
	if r.startedAt == nil || r.completedAt == nil {
		return 0
	}
	return r.completedAt.Sub(*r.startedAt)
}

// Validate implements [Model].
func (r *MigrationRun) Validate() error {
	switch r.kind {
	case RunMigration, RunExport:
	default:
		return fmt.Errorf("invalid run kind: %q", r.kind)
	}
	switch r.status {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
	default:
		return fmt.Errorf("invalid run status: %q", r.status)
	}
	if r.sourceURL == "" {
		return fmt.Errorf("source url is required")
	}
	if r.kind == RunMigration && r.destURL == "" {
		return fmt.Errorf("destination url is required for migrations")
	}
	return nil
}

func (*MigrationRun) CSVHeader() []string {
	return []string{"id", "kind", "status", "source", "destination", "created", "matched", "skipped", "failed", "startedAt", "completedAt"}
}

func (r *MigrationRun) CSVRow() []string {
	return []string{
		r.id, r.kind, r.status, r.sourceURL, r.destURL,
		fmt.Sprint(r.created), fmt.Sprint(r.matched), fmt.Sprint(r.skipped), fmt.Sprint(r.failed),
		formatTime(r.startedAt), formatTime(r.completedAt),
	}
}

// EntityOutcome is the audit row for one entity processed by a run.
type EntityOutcome struct {
	ID           int64     `json:"id"`
	RunID        string    `json:"runId"`
	Phase        string    `json:"phase"`
	Kind         string    `json:"kind"`
	SourceID     string    `json:"sourceId"`
	Name         string    `json:"name"`
	DestID       string    `json:"destId,omitempty"`
	Action       string    `json:"action"`
	ErrorMessage string    `json:"error,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Validate checks the action is one of the known values.
func (o EntityOutcome) Validate() error {
	if o.RunID == "" {
		return fmt.Errorf("outcome run id is required")
	}
	switch o.Action {
	case ActionMatched, ActionCreated, ActionSkipped, ActionFailed:
		return nil
	default:
		return fmt.Errorf("invalid outcome action: %q", o.Action)
	}
}

func (EntityOutcome) CSVHeader() []string {
	return []string{"phase", "kind", "sourceId", "name", "destId", "action", "error"}
}

func (o EntityOutcome) CSVRow() []string {
	return []string{o.Phase, o.Kind, o.SourceID, o.Name, o.DestID, o.Action, o.ErrorMessage}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}
