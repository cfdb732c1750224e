package repositories

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/desertthunder/ncx/internal/models"
	"github.com/desertthunder/ncx/internal/shared"
	"github.com/desertthunder/ncx/internal/tasks"
)

var (
	_ tasks.Recorder                          = (*History)(nil)
	_ models.Repository[*models.MigrationRun] = (*RunRepository)(nil)
)

// setupTestDB creates an in-memory SQLite database with migrations applied
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := shared.NewMigrator(db).Up(); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}
	return db
}

func newRun() *models.MigrationRun {
	return models.NewMigrationRun(models.RunMigration, "https://src.example.com", "https://dst.example.com", 50, 60)
}

func TestNextSequence(t *testing.T) {
	db := setupTestDB(t)

	t.Run("Increments Within Committed Transactions", func(t *testing.T) {
		for want := 1; want <= 3; want++ {
			var got int
			err := withTx(db, func(tx *sql.Tx) error {
				var err error
				got, err = NextSequence(tx, "runs")
				return err
			})
			if err != nil {
				t.Fatalf("NextSequence failed: %v", err)
			}
			if got != want {
				t.Errorf("expected %d, got %d", want, got)
			}
		}
	})

	t.Run("Rolled Back Transaction Keeps Counter", func(t *testing.T) {
		failed := errors.New("insert failed")
		err := withTx(db, func(tx *sql.Tx) error {
			if _, err := NextSequence(tx, "runs"); err != nil {
				return err
			}
			return failed
		})
		if !errors.Is(err, failed) {
			t.Fatalf("expected rollback error, got %v", err)
		}

		var value int
		if err := db.QueryRow("SELECT value FROM runs_sequence WHERE id = 1").Scan(&value); err != nil {
			t.Fatal(err)
		}
		if value != 3 {
			t.Errorf("expected counter 3 after rollback, got %d", value)
		}
	})

	t.Run("Missing Sequence Table", func(t *testing.T) {
		err := withTx(db, func(tx *sql.Tx) error {
			_, err := NextSequence(tx, "missing")
			return err
		})
		if err == nil {
			t.Error("expected an error for a table without a sequence")
		}
	})
}

func TestRunRepository(t *testing.T) {
	t.Run("Create", func(t *testing.T) {
		repo := NewRunRepository(setupTestDB(t))
		run := newRun()

		if err := repo.Create(run); err != nil {
			t.Fatalf("failed to create run: %v", err)
		}
		if run.ID() == "" {
			t.Error("run ID should be set after creation")
		}
		if run.Sequence() != 1 {
			t.Errorf("expected sequence 1, got %d", run.Sequence())
		}
	})

	t.Run("Create Keeps Existing ID", func(t *testing.T) {
		repo := NewRunRepository(setupTestDB(t))
		run := newRun()
		run.SetID("run-fixed")

		if err := repo.Create(run); err != nil {
			t.Fatalf("failed to create run: %v", err)
		}
		if _, err := repo.Get("run-fixed"); err != nil {
			t.Errorf("expected run to be stored under its own id: %v", err)
		}
	})

	t.Run("Validation Error", func(t *testing.T) {
		repo := NewRunRepository(setupTestDB(t))
		run := models.NewMigrationRun("sync", "https://src.example.com", "", 1, 0)

		if err := repo.Create(run); err == nil {
			t.Fatal("expected validation error for unknown kind")
		}
	})

	t.Run("Update Round Trip", func(t *testing.T) {
		repo := NewRunRepository(setupTestDB(t))
		run := newRun()
		if err := repo.Create(run); err != nil {
			t.Fatalf("failed to create run: %v", err)
		}

		run.Start()
		run.SetCounts(4, 3, 2, 1)
		run.Finish(models.StatusFailed, "destination customers unavailable")
		if err := repo.Update(run); err != nil {
			t.Fatalf("failed to update run: %v", err)
		}

		got, err := repo.GetBySequence(run.Sequence())
		if err != nil {
			t.Fatalf("failed to get run: %v", err)
		}
		if got.Status() != models.StatusFailed || got.ErrorMessage() != "destination customers unavailable" {
			t.Errorf("unexpected status %q %q", got.Status(), got.ErrorMessage())
		}
		if got.Created() != 4 || got.Matched() != 3 || got.Skipped() != 2 || got.Failed() != 1 {
			t.Errorf("unexpected counts %d %d %d %d", got.Created(), got.Matched(), got.Skipped(), got.Failed())
		}
		if got.StartedAt() == nil || got.CompletedAt() == nil {
			t.Error("expected timestamps to round trip")
		}
		if got.SourceSOID() != 50 || got.DestSOID() != 60 {
			t.Errorf("unexpected service orgs %d %d", got.SourceSOID(), got.DestSOID())
		}
	})

	t.Run("Get Not Found", func(t *testing.T) {
		repo := NewRunRepository(setupTestDB(t))
		if _, err := repo.Get("nope"); !errors.Is(err, shared.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		repo := NewRunRepository(setupTestDB(t))
		run := newRun()
		if err := repo.Create(run); err != nil {
			t.Fatalf("failed to create run: %v", err)
		}

		if err := repo.Delete(run.ID()); err != nil {
			t.Fatalf("failed to delete run: %v", err)
		}
		if _, err := repo.Get(run.ID()); err == nil {
			t.Error("expected deleted run to be hidden")
		}
		if err := repo.Delete(run.ID()); !errors.Is(err, shared.ErrNotFound) {
			t.Errorf("expected second delete to fail with ErrNotFound, got %v", err)
		}
	})

	t.Run("List", func(t *testing.T) {
		repo := NewRunRepository(setupTestDB(t))
		export := models.NewMigrationRun(models.RunExport, "https://src.example.com", "", 50, 0)
		for _, run := range []*models.MigrationRun{newRun(), export, newRun()} {
			if err := repo.Create(run); err != nil {
				t.Fatalf("failed to create run: %v", err)
			}
		}

		tests := []struct {
			name     string
			criteria map[string]any
			want     []int
		}{
			{"All Newest First", nil, []int{3, 2, 1}},
			{"By Kind", map[string]any{"kind": models.RunExport}, []int{2}},
			{"By Status", map[string]any{"status": models.StatusPending}, []int{3, 2, 1}},
			{"Limit", map[string]any{"limit": 2}, []int{3, 2}},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				runs, err := repo.List(tt.criteria)
				if err != nil {
					t.Fatalf("failed to list runs: %v", err)
				}
				if len(runs) != len(tt.want) {
					t.Fatalf("expected %d runs, got %d", len(tt.want), len(runs))
				}
				for i, run := range runs {
					if run.Sequence() != tt.want[i] {
						t.Errorf("position %d: expected run #%d, got #%d", i, tt.want[i], run.Sequence())
					}
				}
			})
		}
	})
}

func TestOutcomeRepository(t *testing.T) {
	db := setupTestDB(t)
	runs := NewRunRepository(db)
	repo := NewOutcomeRepository(db)

	run := newRun()
	if err := runs.Create(run); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}

	t.Run("Create And List", func(t *testing.T) {
		for _, o := range []models.EntityOutcome{
			{RunID: run.ID(), Phase: "customers", Kind: "customer", SourceID: "100", Name: "Acme", DestID: "1100", Action: models.ActionCreated},
			{RunID: run.ID(), Phase: "customers", Kind: "customer", SourceID: "200", Name: "Globex", Action: models.ActionFailed, ErrorMessage: "boom"},
			{RunID: run.ID(), Phase: "sites", Kind: "site", SourceID: "101", Name: "HQ", DestID: "1101", Action: models.ActionMatched},
		} {
			if err := repo.Create(&o); err != nil {
				t.Fatalf("failed to create outcome: %v", err)
			}
			if o.ID == 0 {
				t.Error("expected outcome ID to be set")
			}
		}

		all, err := repo.ListByRun(run.ID(), "")
		if err != nil {
			t.Fatalf("failed to list outcomes: %v", err)
		}
		if len(all) != 3 || all[0].Name != "Acme" || all[1].ErrorMessage != "boom" {
			t.Errorf("unexpected outcomes %+v", all)
		}

		failed, err := repo.ListByRun(run.ID(), models.ActionFailed)
		if err != nil {
			t.Fatalf("failed to list outcomes: %v", err)
		}
		if len(failed) != 1 || failed[0].SourceID != "200" {
			t.Errorf("unexpected failed outcomes %+v", failed)
		}
	})

	t.Run("Count By Action", func(t *testing.T) {
		counts, err := repo.CountByAction(run.ID())
		if err != nil {
			t.Fatalf("failed to count outcomes: %v", err)
		}
		if counts[models.ActionCreated] != 1 || counts[models.ActionFailed] != 1 || counts[models.ActionMatched] != 1 {
			t.Errorf("unexpected counts %v", counts)
		}
	})

	t.Run("Invalid Action", func(t *testing.T) {
		if err := repo.Create(&models.EntityOutcome{RunID: run.ID(), Action: "renamed"}); err == nil {
			t.Error("expected validation error")
		}
	})

	t.Run("Unknown Run", func(t *testing.T) {
		if err := repo.Create(&models.EntityOutcome{RunID: "missing", Action: models.ActionSkipped}); err == nil {
			t.Error("expected foreign key violation")
		}
	})
}

func TestHistory(t *testing.T) {
	ctx := context.Background()
	h := NewHistory(setupTestDB(t))

	run := newRun()
	run.SetID(shared.GenerateID())
	run.Start()
	if err := h.StartRun(ctx, run); err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	if err := h.RecordOutcome(ctx, run.ID(), models.EntityOutcome{Phase: "roles", Kind: "role", Name: "Technician", Action: models.ActionCreated}); err != nil {
		t.Fatalf("RecordOutcome failed: %v", err)
	}
	run.SetCounts(1, 0, 0, 0)
	run.Finish(models.StatusCompleted, "")
	if err := h.FinishRun(ctx, run); err != nil {
		t.Fatalf("FinishRun failed: %v", err)
	}

	t.Run("Report By ID", func(t *testing.T) {
		got, outcomes, err := h.Report(run.ID())
		if err != nil {
			t.Fatalf("Report failed: %v", err)
		}
		if got.Status() != models.StatusCompleted || len(outcomes) != 1 || outcomes[0].RunID != run.ID() {
			t.Errorf("unexpected report %v %+v", got.Status(), outcomes)
		}
	})

	t.Run("Report By Sequence", func(t *testing.T) {
		got, _, err := h.Report("1")
		if err != nil {
			t.Fatalf("Report failed: %v", err)
		}
		if got.ID() != run.ID() {
			t.Errorf("expected %s, got %s", run.ID(), got.ID())
		}
	})

	t.Run("Report Not Found", func(t *testing.T) {
		if _, _, err := h.Report("not-a-run"); !errors.Is(err, shared.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}
