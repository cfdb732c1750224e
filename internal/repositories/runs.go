package repositories

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/ncx/internal/models"
	"github.com/desertthunder/ncx/internal/shared"
)

const runColumns = `
	id, sequence, kind, source_url, dest_url, source_so_id, dest_so_id, options, status,
	created_count, matched_count, skipped_count, failed_count, error_message,
	started_at, completed_at, created_at, updated_at, deleted_at`

// RunRepository implements models.Repository[*models.MigrationRun] for run history.
type RunRepository struct {
	db *sql.DB
}

// NewRunRepository creates a new RunRepository with the given database connection
func NewRunRepository(db *sql.DB) *RunRepository {
	return &RunRepository{db: db}
}

// Create inserts a run with the next sequence number. A run without an id gets a generated one.
func (r *RunRepository) Create(run *models.MigrationRun) error {
	if err := run.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	if run.ID() == "" {
		run.SetID(shared.GenerateID())
	}

	query := `
		INSERT INTO runs (
			id, sequence, kind, source_url, dest_url, source_so_id, dest_so_id, options, status,
			created_count, matched_count, skipped_count, failed_count, error_message,
			started_at, completed_at, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	return withTx(r.db, func(tx *sql.Tx) error {
		sequence, err := NextSequence(tx, "runs")
		if err != nil {
			return fmt.Errorf("failed to generate sequence: %w", err)
		}

		_, err = tx.Exec(query,
			run.ID(),
			sequence,
			run.Kind(),
			run.SourceURL(),
			run.DestURL(),
			run.SourceSOID(),
			run.DestSOID(),
			run.Options(),
			run.Status(),
			run.Created(),
			run.Matched(),
			run.Skipped(),
			run.Failed(),
			nullString(run.ErrorMessage()),
			run.StartedAt(),
			run.CompletedAt(),
			run.CreatedAt(),
			run.UpdatedAt(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert run: %w", err)
		}
		run.SetSequence(sequence)
		return nil
	})
}

// Get retrieves a run by ID, excluding soft-deleted runs
func (r *RunRepository) Get(id string) (*models.MigrationRun, error) {
	query := `SELECT` + runColumns + ` FROM runs WHERE id = ? AND deleted_at IS NULL`
	return scanRun(r.db.QueryRow(query, id))
}

// GetBySequence retrieves a run by its human-readable number.
func (r *RunRepository) GetBySequence(sequence int) (*models.MigrationRun, error) {
	query := `SELECT` + runColumns + ` FROM runs WHERE sequence = ? AND deleted_at IS NULL`
	return scanRun(r.db.QueryRow(query, sequence))
}

// Update writes the mutable state of a run: status, counts, error and timestamps.
func (r *RunRepository) Update(run *models.MigrationRun) error {
	if err := run.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	now := time.Now()
	run.SetUpdatedAt(now)

	query := `
		UPDATE runs
		SET options = ?, status = ?, created_count = ?, matched_count = ?, skipped_count = ?,
			failed_count = ?, error_message = ?, started_at = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`

	result, err := r.db.Exec(query,
		run.Options(),
		run.Status(),
		run.Created(),
		run.Matched(),
		run.Skipped(),
		run.Failed(),
		nullString(run.ErrorMessage()),
		run.StartedAt(),
		run.CompletedAt(),
		now,
		run.ID(),
	)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	return requireRow(result, run.ID())
}

// Delete soft-deletes a run by ID
func (r *RunRepository) Delete(id string) error {
	result, err := r.db.Exec(`UPDATE runs SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	return requireRow(result, id)
}

// List retrieves runs newest first. Supported criteria: "kind", "status" and "limit".
func (r *RunRepository) List(criteria map[string]any) ([]*models.MigrationRun, error) {
	query := `SELECT` + runColumns + ` FROM runs WHERE deleted_at IS NULL`
	args := []any{}

	if kind, ok := criteria["kind"].(string); ok && kind != "" {
		query += " AND kind = ?"
		args = append(args, kind)
	}
	if status, ok := criteria["status"].(string); ok && status != "" {
		query += " AND status = ?"
		args = append(args, status)
	}

	query += " ORDER BY sequence DESC"

	if limit, ok := criteria["limit"].(int); ok && limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.MigrationRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return runs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*models.MigrationRun, error) {
	var (
		id, kind, sourceURL, destURL, options, status string
		sequence                                      int
		sourceSOID, destSOID                          int64
		created, matched, skipped, failed             int
		errorMessage                                  sql.NullString
		startedAt, completedAt, deletedAt             sql.NullTime
		createdAt, updatedAt                          time.Time
	)

	err := row.Scan(
		&id, &sequence, &kind, &sourceURL, &destURL, &sourceSOID, &destSOID, &options, &status,
		&created, &matched, &skipped, &failed, &errorMessage,
		&startedAt, &completedAt, &createdAt, &updatedAt, &deletedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: run", shared.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}

	run := models.NewMigrationRun(kind, sourceURL, destURL, sourceSOID, destSOID)
	run.SetID(id)
	run.SetSequence(sequence)
	run.SetOptions(options)
	run.SetStatus(status)
	run.SetCounts(created, matched, skipped, failed)
	run.SetCreatedAt(createdAt)
	run.SetUpdatedAt(updatedAt)
	if errorMessage.Valid {
		run.SetErrorMessage(errorMessage.String)
	}
	if startedAt.Valid {
		run.SetStartedAt(&startedAt.Time)
	}
	if completedAt.Valid {
		run.SetCompletedAt(&completedAt.Time)
	}
	if deletedAt.Valid {
		run.SetDeletedAt(&deletedAt.Time)
	}
	return run, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func requireRow(result sql.Result, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: run not found or already deleted: %s", shared.ErrNotFound, id)
	}
	return nil
}
