package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/desertthunder/ncx/internal/credentials"
	"github.com/desertthunder/ncx/internal/models"
	"github.com/desertthunder/ncx/internal/shared"
	"github.com/desertthunder/ncx/internal/tasks"
	tu "github.com/desertthunder/ncx/internal/testing"
)

// harness runs the CLI the way a shell would: a fresh runner per invocation over a shared config file and
// credential store.
type harness struct {
	t      *testing.T
	dir    string
	config string
	store  *credentials.MemoryStore
	input  io.Reader
	out    bytes.Buffer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()

	cfg := shared.DefaultConfig()
	cfg.Database.Path = filepath.Join(dir, "ncx.db")
	cfg.Export.Directory = filepath.Join(dir, "export")
	path := filepath.Join(dir, "config.toml")
	if err := shared.SaveConfig(path, cfg); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	return &harness{t: t, dir: dir, config: path, store: credentials.NewMemoryStore()}
}

func (h *harness) run(args ...string) error {
	h.out.Reset()
	r := NewRunner(RunnerOpts{
		Store:  h.store,
		Logger: shared.NewLogger(io.Discard),
		Output: &h.out,
		Input:  h.input,
	})
	return newApp(r).Run(context.Background(), append([]string{"ncx", "--config", h.config}, args...))
}

func (h *harness) mustRun(args ...string) string {
	h.t.Helper()
	if err := h.run(args...); err != nil {
		h.t.Fatalf("ncx %s failed: %v\n%s", strings.Join(args, " "), err, h.out.String())
	}
	return h.out.String()
}

func (h *harness) loadConfig() *shared.Config {
	h.t.Helper()
	cfg, err := shared.LoadConfig(h.config)
	if err != nil {
		h.t.Fatalf("LoadConfig failed: %v", err)
	}
	return cfg
}

func seedTenant(f *tu.FakeNCentral, soID int64) {
	f.Seed(func(f *tu.FakeNCentral) {
		f.Customers = []models.Customer{{CustomerID: 100, CustomerName: "Acme", Parent: models.SomeID(soID)}}
		f.Sites = []models.Site{{SiteID: 101, SiteName: "HQ", Parent: models.SomeID(100)}}
	})
}

func TestRunner(t *testing.T) {
	t.Run("NewRunner", func(t *testing.T) {
		t.Run("With Dependencies Provided", func(t *testing.T) {
			config := shared.DefaultConfig()
			logger := shared.NewLogger(io.Discard)
			output := &bytes.Buffer{}
			httpClient := &http.Client{}
			store := credentials.NewMemoryStore()

			runner := NewRunner(RunnerOpts{
				Config:     config,
				ConfigPath: "/test/path/config.toml",
				Logger:     logger,
				Output:     output,
				HTTPClient: httpClient,
				Store:      store,
			})

			if runner.config != config || runner.logger != logger || runner.output != output {
				t.Error("expected config, logger and output to be set")
			}
			if runner.httpClient != httpClient || runner.store != store {
				t.Error("expected http client and store to be set")
			}
			if runner.configPath != "/test/path/config.toml" {
				t.Errorf("expected configPath to be set, got %s", runner.configPath)
			}
		})

		t.Run("With Nil Options Uses Defaults", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{})

			if runner.config == nil || runner.logger == nil || runner.store == nil {
				t.Error("expected defaults to be set")
			}
			if runner.output != os.Stdout || runner.input != os.Stdin {
				t.Error("expected stdio defaults")
			}
			if runner.httpClient == nil || runner.httpClient.Timeout != runner.config.API.Timeout() {
				t.Error("expected an http client with the configured timeout")
			}
			if runner.registry == nil || runner.metrics == nil {
				t.Error("expected a metrics registry")
			}
		})
	})

	t.Run("writeJSON", func(t *testing.T) {
		t.Run("Writes Formatted JSON", func(t *testing.T) {
			output := &bytes.Buffer{}
			runner := NewRunner(RunnerOpts{Output: output})

			if err := runner.writeJSON(map[string]string{"key": "value"}, true); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if !strings.Contains(output.String(), `"key": "value"`) || !strings.HasSuffix(output.String(), "\n") {
				t.Errorf("unexpected output %q", output.String())
			}
		})

		t.Run("Returns Write Errors", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Output: &tu.FWriter{}})
			if err := runner.writeJSON(map[string]string{}, false); err == nil {
				t.Error("expected write error")
			}
		})

		t.Run("Returns Newline Write Errors", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Output: tu.NewLimitedWriter(&bytes.Buffer{}, 1)})
			err := runner.writeJSON(map[string]string{}, false)
			if err == nil || !strings.Contains(err.Error(), "newline") {
				t.Errorf("expected newline write error, got %v", err)
			}
		})

		t.Run("Returns Marshal Errors", func(t *testing.T) {
			runner := NewRunner(RunnerOpts{Output: &bytes.Buffer{}})
			if err := runner.writeJSON(make(chan int), false); err == nil {
				t.Error("expected marshal error")
			}
		})
	})

	t.Run("writePlain", func(t *testing.T) {
		output := &bytes.Buffer{}
		runner := NewRunner(RunnerOpts{Output: output})

		runner.writePlainHeader("Title")
		runner.writePlainln("after %d", 1)
		if !strings.Contains(output.String(), "Title\n") || !strings.Contains(output.String(), "\nafter 1\n") {
			t.Errorf("unexpected output %q", output.String())
		}

		failing := NewRunner(RunnerOpts{Output: &tu.FWriter{}})
		if err := failing.writePlain("x"); err == nil {
			t.Error("expected write error")
		}
	})

	t.Run("Configure", func(t *testing.T) {
		t.Run("Invalid Config", func(t *testing.T) {
			h := newHarness(t)
			if err := os.WriteFile(h.config, []byte("api = [oops"), 0644); err != nil {
				t.Fatal(err)
			}
			if err := h.run("profile", "list"); !errors.Is(err, shared.ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})

		t.Run("Missing Config Uses Defaults", func(t *testing.T) {
			h := newHarness(t)
			h.config = filepath.Join(h.dir, "absent.toml")
			if out := h.mustRun("profile", "list"); !strings.Contains(out, "No profiles") {
				t.Errorf("unexpected output %q", out)
			}
		})
	})
}

func TestParsePhases(t *testing.T) {
	tests := []struct {
		name    string
		in      []string
		want    tasks.MigrationOptions
		wantErr bool
	}{
		{name: "Default All", in: nil, want: tasks.AllPhases()},
		{name: "Explicit All", in: []string{"all"}, want: tasks.AllPhases()},
		{name: "Subset", in: []string{"customers", "User-Roles"}, want: tasks.MigrationOptions{Customers: true, UserRoles: true}},
		{name: "Aliases", in: []string{"groups", "org_properties"}, want: tasks.MigrationOptions{AccessGroups: true, OrgProperties: true}},
		{name: "Device Properties", in: []string{"device_properties"}, want: tasks.MigrationOptions{DeviceProperties: true}},
		{name: "Unknown", in: []string{"widgets"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parsePhases(tt.in)
			if tt.wantErr {
				if !errors.Is(err, shared.ErrInvalidArgument) {
					t.Errorf("expected ErrInvalidArgument, got %v", err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("got %+v %v, want %+v", got, err, tt.want)
			}
		})
	}
}

func TestProfileCommands(t *testing.T) {
	h := newHarness(t)

	t.Run("Add Export Profile", func(t *testing.T) {
		h.mustRun("profile", "add", "--source", "nc.example.com", "--source-so-id", "50", "prod")

		cfg := h.loadConfig()
		p, err := cfg.FindProfile("prod")
		if err != nil {
			t.Fatalf("expected profile to be saved: %v", err)
		}
		if p.Type != shared.ProfileExport || p.Source.ServiceOrgID != 50 || cfg.ActiveProfile != "prod" {
			t.Errorf("unexpected profile %+v (active %q)", p, cfg.ActiveProfile)
		}
	})

	t.Run("Add Migration Profile", func(t *testing.T) {
		h.mustRun("profile", "add", "--source", "old.example.com", "--dest", "new.example.com", "--dest-username", "api@new", "move")

		p, err := h.loadConfig().FindProfile("move")
		if err != nil {
			t.Fatal(err)
		}
		if p.Type != shared.ProfileMigration || p.Destination == nil || p.Destination.Username != "api@new" {
			t.Errorf("unexpected profile %+v", p)
		}
	})

	t.Run("Use", func(t *testing.T) {
		h.mustRun("profile", "use", "move")
		if got := h.loadConfig().ActiveProfile; got != "move" {
			t.Errorf("expected move to be active, got %q", got)
		}
		if err := h.run("profile", "use", "nope"); !errors.Is(err, shared.ErrProfileNotFound) {
			t.Errorf("expected ErrProfileNotFound, got %v", err)
		}
	})

	t.Run("Set Credentials From Flag", func(t *testing.T) {
		h.mustRun("profile", "set-credentials", "--jwt", "jwt-prod", "prod")
		if got, _, _ := h.store.Get("prod"); got != "jwt-prod" {
			t.Errorf("expected stored credential, got %q", got)
		}
	})

	t.Run("Set Destination Credentials From Stdin", func(t *testing.T) {
		h.input = strings.NewReader("jwt-dest\n")
		defer func() { h.input = nil }()

		h.mustRun("profile", "set-credentials", "--dest", "move")
		if got, _, _ := h.store.Get("move_dest"); got != "jwt-dest" {
			t.Errorf("expected stored credential, got %q", got)
		}
	})

	t.Run("Destination Credentials Need Destination", func(t *testing.T) {
		if err := h.run("profile", "set-credentials", "--dest", "--jwt", "x", "prod"); !errors.Is(err, shared.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})

	t.Run("List", func(t *testing.T) {
		out := h.mustRun("profile", "list")
		for _, want := range []string{"prod", "credentials stored", "* move", "credentials incomplete"} {
			if !strings.Contains(out, want) {
				t.Errorf("expected %q in:\n%s", want, out)
			}
		}
	})

	t.Run("Delete", func(t *testing.T) {
		h.mustRun("profile", "delete", "prod")
		if _, err := h.loadConfig().FindProfile("prod"); !errors.Is(err, shared.ErrProfileNotFound) {
			t.Errorf("expected profile to be removed, got %v", err)
		}
		if credentials.HasCredential(h.store, "prod") {
			t.Error("expected credential to be removed")
		}
	})
}

func TestTestCommand(t *testing.T) {
	fake := tu.NewFakeNCentral(t, 50, "Source SO")

	t.Run("Success", func(t *testing.T) {
		h := newHarness(t)
		h.mustRun("profile", "add", "--source", fake.URL(), "prod")
		_ = h.store.Store("prod", "valid-jwt")

		out := h.mustRun("test")
		if !strings.Contains(out, "✓ source") || !strings.Contains(out, "2024.6.0.1") || !strings.Contains(out, "Source SO") {
			t.Errorf("unexpected output:\n%s", out)
		}
	})

	t.Run("JSON", func(t *testing.T) {
		h := newHarness(t)
		h.mustRun("profile", "add", "--source", fake.URL(), "prod")
		_ = h.store.Store("prod", "valid-jwt")

		var results map[string]tasks.ConnectionResult
		if err := json.Unmarshal([]byte(h.mustRun("test", "--json")), &results); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if !results["source"].Success || results["source"].ServiceOrgID != 50 {
			t.Errorf("unexpected results %+v", results)
		}
	})

	t.Run("Bad Credential", func(t *testing.T) {
		h := newHarness(t)
		h.mustRun("profile", "add", "--source", fake.URL(), "prod")
		_ = h.store.Store("prod", "wrong")

		if err := h.run("test"); !errors.Is(err, shared.ErrAuthentication) {
			t.Errorf("expected ErrAuthentication, got %v", err)
		}
		if !strings.Contains(h.out.String(), "✗ source") {
			t.Errorf("unexpected output:\n%s", h.out.String())
		}
	})

	t.Run("Missing Destination Credential", func(t *testing.T) {
		h := newHarness(t)
		h.mustRun("profile", "add", "--source", fake.URL(), "--dest", fake.URL(), "move")
		_ = h.store.Store("move", "valid-jwt")

		if err := h.run("test"); !errors.Is(err, shared.ErrAuthentication) {
			t.Errorf("expected ErrAuthentication, got %v", err)
		}
		out := h.out.String()
		if !strings.Contains(out, "✓ source") || !strings.Contains(out, "missing credentials") {
			t.Errorf("unexpected output:\n%s", out)
		}
	})

	t.Run("No Profile", func(t *testing.T) {
		h := newHarness(t)
		if err := h.run("test"); !errors.Is(err, shared.ErrProfileNotFound) {
			t.Errorf("expected ErrProfileNotFound, got %v", err)
		}
	})
}

func TestExportCommand(t *testing.T) {
	fake := tu.NewFakeNCentral(t, 50, "Source SO")
	seedTenant(fake, 50)

	h := newHarness(t)
	h.mustRun("profile", "add", "--source", fake.URL(), "prod")
	_ = h.store.Store("prod", "valid-jwt")

	t.Run("Writes Files", func(t *testing.T) {
		out := h.mustRun("export", "--kinds", "customers,sites", "--format", "csv,json")

		dir := filepath.Join(h.dir, "export")
		for _, name := range []string{"customers.csv", "customers.json", "sites.csv", "sites.json"} {
			tu.AssertFileExists(t, filepath.Join(dir, name))
		}
		if !strings.Contains(tu.MustReadFile(t, filepath.Join(dir, "customers.csv")), "Acme") {
			t.Error("expected Acme in customers.csv")
		}
		if !strings.Contains(out, "Records: 4") {
			t.Errorf("unexpected output:\n%s", out)
		}

		p, _ := h.loadConfig().FindProfile("prod")
		if p.LastUsed == "" {
			t.Error("expected profile use to be recorded")
		}
	})

	t.Run("Output Directory Flag", func(t *testing.T) {
		dir := filepath.Join(h.dir, "elsewhere")
		var result tasks.ExportResult
		if err := json.Unmarshal([]byte(h.mustRun("export", "--kinds", "service_orgs", "--output", dir, "--json")), &result); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if !result.Success || len(result.FilesCreated) != 1 {
			t.Errorf("unexpected result %+v", result)
		}
		tu.AssertFileExists(t, filepath.Join(dir, "service_orgs.csv"))
	})

	t.Run("Unknown Kind", func(t *testing.T) {
		if err := h.run("export", "--kinds", "widgets"); !errors.Is(err, shared.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})

	t.Run("Recorded In History", func(t *testing.T) {
		out := h.mustRun("history", "list")
		if !strings.Contains(out, "export") || !strings.Contains(out, models.StatusCompleted) {
			t.Errorf("unexpected history:\n%s", out)
		}

		report := h.mustRun("history", "show", "1")
		if !strings.Contains(report, "(export)") || !strings.Contains(report, fake.URL()) {
			t.Errorf("unexpected report:\n%s", report)
		}
	})
}

func TestMigrateCommand(t *testing.T) {
	source := tu.NewFakeNCentral(t, 50, "Source SO")
	dest := tu.NewFakeNCentral(t, 60, "Dest SO")
	seedTenant(source, 50)

	h := newHarness(t)
	h.mustRun("profile", "add", "--source", source.URL(), "--dest", dest.URL(), "move")
	_ = h.store.Store("move", "valid-jwt")
	_ = h.store.Store("move_dest", "valid-jwt")

	t.Run("Creates Hierarchy", func(t *testing.T) {
		report := filepath.Join(h.dir, "report.md")
		out := h.mustRun("migrate", "--phases", "customers", "--json", "--report", report, "--listen", "127.0.0.1:0")

		var result struct {
			RunID  string `json:"runId"`
			Phases map[string]tasks.PhaseTally
		}
		if err := json.Unmarshal([]byte(out), &result); err != nil {
			t.Fatalf("invalid JSON: %v\n%s", err, out)
		}
		if result.Phases["Customers"].Created != 1 || result.Phases["Sites"].Created != 1 {
			t.Errorf("unexpected tallies %+v", result.Phases)
		}
		if _, ok := dest.CustomerByName("Acme"); !ok {
			t.Error("expected Acme on the destination")
		}
		if _, ok := dest.SiteByName("HQ"); !ok {
			t.Error("expected HQ on the destination")
		}

		md := tu.MustReadFile(t, report)
		if !strings.Contains(md, result.RunID) || !strings.Contains(md, "Acme") {
			t.Errorf("unexpected report:\n%s", md)
		}
	})

	t.Run("Rerun Matches Existing", func(t *testing.T) {
		out := h.mustRun("migrate", "--phases", "customers", "--no-history")
		for _, want := range []string{"Migrate ", "Customers", "Total", "Run "} {
			if !strings.Contains(out, want) {
				t.Errorf("expected %q in:\n%s", want, out)
			}
		}
		if n := dest.Count("POST /api/service-orgs"); n != 1 {
			t.Errorf("expected no new customer creations, got %d", n)
		}
	})

	t.Run("Unknown Phase", func(t *testing.T) {
		if err := h.run("migrate", "--phases", "widgets"); !errors.Is(err, shared.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})

	t.Run("Export Profile Rejected", func(t *testing.T) {
		h.mustRun("profile", "add", "--source", source.URL(), "solo")
		if err := h.run("--profile", "solo", "migrate"); !errors.Is(err, shared.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})

	t.Run("Missing Destination Credential", func(t *testing.T) {
		_ = h.store.Delete("move_dest")
		if err := h.run("migrate"); !errors.Is(err, shared.ErrMissingCredentials) {
			t.Errorf("expected ErrMissingCredentials, got %v", err)
		}
	})
}

func TestSetupCommands(t *testing.T) {
	t.Run("Config", func(t *testing.T) {
		h := newHarness(t)
		h.config = filepath.Join(h.dir, "nested", "fresh.toml")
		if err := os.MkdirAll(filepath.Dir(h.config), 0755); err != nil {
			t.Fatal(err)
		}

		h.mustRun("setup", "config")
		tu.AssertFileExists(t, h.config)
		if err := h.run("setup", "config"); err == nil {
			t.Error("expected an error when the config already exists")
		}
	})

	t.Run("Config Defaults To Working Directory", func(t *testing.T) {
		dir := t.TempDir()
		tu.Chdir(t, dir)

		var out bytes.Buffer
		r := NewRunner(RunnerOpts{Store: credentials.NewMemoryStore(), Logger: shared.NewLogger(io.Discard), Output: &out})
		if err := newApp(r).Run(context.Background(), []string{"ncx", "setup", "config"}); err != nil {
			t.Fatalf("setup config failed: %v", err)
		}
		tu.AssertFileExists(t, filepath.Join(dir, "config.toml"))
	})

	t.Run("Database", func(t *testing.T) {
		h := newHarness(t)
		out := h.mustRun("setup", "database")
		tu.AssertFileExists(t, filepath.Join(h.dir, "ncx.db"))
		if !strings.Contains(out, "Database ready") {
			t.Errorf("unexpected output %q", out)
		}
	})
}

func TestHistoryCommands(t *testing.T) {
	h := newHarness(t)

	if out := h.mustRun("history", "list"); !strings.Contains(out, "No runs recorded") {
		t.Errorf("unexpected output %q", out)
	}
	if err := h.run("history", "show", "42"); !errors.Is(err, shared.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := h.run("history", "show"); !errors.Is(err, shared.ErrMissingArgument) {
		t.Errorf("expected ErrMissingArgument, got %v", err)
	}
}
