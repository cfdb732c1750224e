package repositories

import (
	"context"
	"database/sql"
	"strconv"

	"github.com/desertthunder/ncx/internal/models"
)

// History records runs and their entity outcomes. It satisfies the engines' Recorder interface.
type History struct {
	Runs     *RunRepository
	Outcomes *OutcomeRepository
}

// NewHistory creates a History over db.
func NewHistory(db *sql.DB) *History {
	return &History{Runs: NewRunRepository(db), Outcomes: NewOutcomeRepository(db)}
}

func (h *History) StartRun(_ context.Context, run *models.MigrationRun) error {
	return h.Runs.Create(run)
}

func (h *History) RecordOutcome(_ context.Context, runID string, outcome models.EntityOutcome) error {
	outcome.RunID = runID
	return h.Outcomes.Create(&outcome)
}

func (h *History) FinishRun(_ context.Context, run *models.MigrationRun) error {
	return h.Runs.Update(run)
}

// Report loads a run by id or sequence number together with its outcomes.
func (h *History) Report(ref string) (*models.MigrationRun, []models.EntityOutcome, error) {
	run, err := h.Runs.Get(ref)
	if err != nil {
		seq, convErr := strconv.Atoi(ref)
		if convErr != nil {
			return nil, nil, err
		}
		if run, err = h.Runs.GetBySequence(seq); err != nil {
			return nil, nil, err
		}
	}

	outcomes, err := h.Outcomes.ListByRun(run.ID(), "")
	if err != nil {
		return nil, nil, err
	}
	return run, outcomes, nil
}
