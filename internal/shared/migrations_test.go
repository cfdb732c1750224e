package shared

import (
	"testing"
)

func TestMigrator(t *testing.T) {
	t.Run("Load", func(t *testing.T) {
		db, err := NewDatabase(":memory:")
		if err != nil {
			t.Fatalf("failed to create database: %v", err)
		}
		defer db.Close()

		migrations, err := NewMigrator(db).Load()
		if err != nil {
			t.Fatalf("failed to load migrations: %v", err)
		}
		if len(migrations) < 2 {
			t.Fatalf("expected at least two migrations, got %d", len(migrations))
		}

		for i := 1; i < len(migrations); i++ {
			if migrations[i].Version <= migrations[i-1].Version {
				t.Errorf("migrations not sorted: version %d comes after %d", migrations[i].Version, migrations[i-1].Version)
			}
		}
		if migrations[0].Name != "create_runs" {
			t.Errorf("expected first migration name create_runs, got %q", migrations[0].Name)
		}
	})

	t.Run("Up And Down", func(t *testing.T) {
		db, err := NewDatabase(":memory:")
		if err != nil {
			t.Fatalf("failed to create database: %v", err)
		}
		defer db.Close()

		m := NewMigrator(db)
		if err := m.Up(); err != nil {
			t.Fatalf("failed to run migrations: %v", err)
		}

		version, err := m.Version()
		if err != nil {
			t.Fatalf("failed to read version: %v", err)
		}
		if version != 1 {
			t.Errorf("expected version 1, got %d", version)
		}

		if _, err := db.Exec("SELECT 1 FROM run_entities LIMIT 1"); err != nil {
			t.Errorf("run_entities table should exist after migrations: %v", err)
		}

		if err := m.Up(); err != nil {
			t.Errorf("re-running migrations should be a no-op, got %v", err)
		}

		if err := m.Down(); err != nil {
			t.Fatalf("failed to rollback: %v", err)
		}
		if _, err := db.Exec("SELECT 1 FROM run_entities LIMIT 1"); err == nil {
			t.Error("run_entities table should be dropped after rollback")
		}
		if _, err := db.Exec("SELECT 1 FROM runs LIMIT 1"); err != nil {
			t.Errorf("runs table should survive single rollback: %v", err)
		}
	})

	t.Run("splitStatements", func(t *testing.T) {
		script := "-- header\nCREATE TABLE a (id INTEGER); -- trailing\n\nCREATE TABLE b (id INTEGER);\n"
		stmts := splitStatements(script)
		if len(stmts) != 2 {
			t.Fatalf("expected 2 statements, got %d: %v", len(stmts), stmts)
		}
		if stmts[0] != "CREATE TABLE a (id INTEGER)" {
			t.Errorf("unexpected first statement %q", stmts[0])
		}
	})
}
