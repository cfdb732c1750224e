package repositories

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/desertthunder/ncx/internal/models"
)

// OutcomeRepository stores per-entity audit rows for a run.
type OutcomeRepository struct {
	db *sql.DB
}

// NewOutcomeRepository creates a new OutcomeRepository with the given database connection
func NewOutcomeRepository(db *sql.DB) *OutcomeRepository {
	return &OutcomeRepository{db: db}
}

// Create inserts an outcome and sets its ID.
func (r *OutcomeRepository) Create(o *models.EntityOutcome) error {
	if err := o.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}

	result, err := r.db.Exec(`
		INSERT INTO run_entities (run_id, phase, kind, source_id, name, dest_id, action, error_message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.RunID, o.Phase, o.Kind, o.SourceID, o.Name, o.DestID, o.Action, nullString(o.ErrorMessage), o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert outcome: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read outcome id: %w", err)
	}
	o.ID = id
	return nil
}

// ListByRun returns a run's outcomes in insertion order, optionally filtered by action.
func (r *OutcomeRepository) ListByRun(runID, action string) ([]models.EntityOutcome, error) {
	query := `
		SELECT id, run_id, phase, kind, source_id, name, dest_id, action, error_message, created_at
		FROM run_entities
		WHERE run_id = ?`
	args := []any{runID}
	if action != "" {
		query += " AND action = ?"
		args = append(args, action)
	}
	query += " ORDER BY id"

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []models.EntityOutcome
	for rows.Next() {
		var (
			o      models.EntityOutcome
			errMsg sql.NullString
		)
		if err := rows.Scan(&o.ID, &o.RunID, &o.Phase, &o.Kind, &o.SourceID, &o.Name, &o.DestID, &o.Action, &errMsg, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan outcome: %w", err)
		}
		o.ErrorMessage = errMsg.String
		outcomes = append(outcomes, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return outcomes, nil
}

// CountByAction tallies a run's outcomes.
func (r *OutcomeRepository) CountByAction(runID string) (map[string]int, error) {
	rows, err := r.db.Query(`SELECT action, COUNT(*) FROM run_entities WHERE run_id = ? GROUP BY action`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to count outcomes: %w", err)
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var (
			action string
			n      int
		)
		if err := rows.Scan(&action, &n); err != nil {
			return nil, fmt.Errorf("failed to scan outcome count: %w", err)
		}
		counts[action] = n
	}
	return counts, rows.Err()
}
