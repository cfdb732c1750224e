package repositories

import (
	"database/sql"
	"fmt"
)

// NextSequence bumps the counter in <table>_sequence and returns the new value.
//
// It runs on the caller's transaction so a failed insert never consumes a number.
func NextSequence(tx *sql.Tx, table string) (int, error) {
	counter := table + "_sequence"

	var sequence int
	err := tx.QueryRow(fmt.Sprintf("UPDATE %s SET value = value + 1 WHERE id = 1 RETURNING value", counter)).Scan(&sequence)
	if err != nil {
		return 0, fmt.Errorf("failed to advance %s: %w", counter, err)
	}
	return sequence, nil
}

// withTx runs fn inside a transaction, committing only when fn succeeds.
func withTx(db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
