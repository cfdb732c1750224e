package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/ncx/internal/credentials"
	"github.com/desertthunder/ncx/internal/formatter"
	"github.com/desertthunder/ncx/internal/repositories"
	"github.com/desertthunder/ncx/internal/server"
	"github.com/desertthunder/ncx/internal/services"
	"github.com/desertthunder/ncx/internal/shared"
	"github.com/desertthunder/ncx/internal/tasks"
	"github.com/desertthunder/ncx/internal/ui"
)

// tuiLogPath receives log output while the monitor owns the terminal.
const tuiLogPath = "./tmp/ncx-tui.log"

var summaryPhases = []tasks.Phase{
	tasks.PhaseCustomers, tasks.PhaseSites, tasks.PhaseRoles,
	tasks.PhaseAccessGroups, tasks.PhaseUsers, tasks.PhaseProperties,
}

// Migrate copies the profile's source service org into its destination.
func (r *Runner) Migrate(ctx context.Context, cmd *cli.Command) error {
	profile, err := r.profile(cmd)
	if err != nil {
		return err
	}
	if profile.Type != shared.ProfileMigration || profile.Destination == nil {
		return fmt.Errorf("%w: profile %q has no destination server", shared.ErrInvalidArgument, profile.Name)
	}

	options, err := parsePhases(cmd.StringSlice("phases"))
	if err != nil {
		return err
	}
	permissions, err := loadPermissions(cmd.String("permissions"))
	if err != nil {
		return err
	}

	useTUI := cmd.Bool("tui")
	if useTUI {
		fileLogger, closer, err := shared.NewFileLogger(tuiLogPath)
		if err != nil {
			return err
		}
		defer closer.Close()
		shared.SetLogLevel(fileLogger, r.logger.GetLevel())
		r.SetLogger(fileLogger)
	}

	source, err := r.connect(ctx, "source", profile.Source, profile.CredentialKey())
	if err != nil {
		return err
	}
	dest, err := r.connect(ctx, "destination", *profile.Destination, profile.DestCredentialKey())
	if err != nil {
		return err
	}

	sourceSO := source.serviceOrg(cmd.Int64("so-id"))
	destSO := dest.serviceOrg(cmd.Int64("dest-so-id"))
	if sourceSO <= 0 || destSO <= 0 {
		return fmt.Errorf("%w: service organization ids are required (source %d, destination %d)", shared.ErrMissingArgument, sourceSO, destSO)
	}

	soap := services.NewSoapClient(dest.result.ServerURL, dest.credential, r.httpClient, r.logger)
	soap.SetUsername(profile.Destination.Username)

	history, closeHistory := r.openHistory(cmd)
	defer closeHistory()

	events := tasks.NewBroadcaster()
	opts := tasks.EngineOptionsFromConfig(r.config.Migration)
	opts.Logger = r.logger
	opts.Events = events
	opts.Permissions = permissions
	if history != nil {
		opts.Recorder = history
	}
	engine := tasks.NewMigrationEngine(source.client, dest.client, soap, opts)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if addr := r.statusAddr(cmd); addr != "" {
		status := server.NewStatusServer(events, r.registry, r.logger)
		served := make(chan error, 1)
		go func() { served <- status.ListenAndServe(runCtx, addr) }()
		defer func() {
			cancel()
			if err := <-served; err != nil {
				r.logger.Warn("status server stopped", "error", err)
			}
		}()
	}

	var result *tasks.MigrationResult
	if useTUI {
		plan := ui.Plan{
			Options:   options,
			SourceURL: source.result.ServerURL,
			DestURL:   dest.result.ServerURL,
			SourceSO:  sourceSO,
			DestSO:    destSO,
		}
		result, err = ui.Run(runCtx, engine, plan, !cmd.Bool("yes"))
		if err == nil && result == nil {
			return r.writePlain("Migration not started\n")
		}
	} else {
		if !cmd.Bool("json") {
			r.writePlainHeader(fmt.Sprintf("Migrate %s (SO %d) → %s (SO %d)",
				source.result.ServerURL, sourceSO, dest.result.ServerURL, destSO))
		}
		result, err = r.runFollowing(runCtx, engine, options, sourceSO, destSO, !cmd.Bool("json"))
	}
	if err != nil {
		return err
	}

	r.markUsed(profile)

	if path := cmd.String("report"); path != "" {
		r.writeReport(history, result.RunID, path)
	}

	if cmd.Bool("json") {
		return r.writeJSON(result, true)
	}
	r.printMigrationSummary(result)
	return nil
}

func (r *Runner) runFollowing(ctx context.Context, engine *tasks.MigrationEngine, options tasks.MigrationOptions, sourceSO, destSO int64, follow bool) (*tasks.MigrationResult, error) {
	if !follow {
		return engine.Run(ctx, options, sourceSO, destSO)
	}
	followCtx, stop := context.WithCancel(ctx)
	followed := r.followEvents(followCtx, engine.Events())
	result, err := engine.Run(ctx, options, sourceSO, destSO)
	stop()
	<-followed
	return result, err
}

// statusAddr returns --listen, or the configured address with --serve.
func (r *Runner) statusAddr(cmd *cli.Command) string {
	if addr := cmd.String("listen"); addr != "" {
		return addr
	}
	if cmd.Bool("serve") {
		return r.config.Server.Addr()
	}
	return ""
}

func (r *Runner) writeReport(history *repositories.History, runID, path string) {
	if history == nil {
		r.logger.Warn("report skipped: run history is disabled", "path", path)
		return
	}
	run, outcomes, err := history.Report(runID)
	if err != nil {
		r.logger.Warn("report skipped", "run", runID, "error", err)
		return
	}
	if err := formatter.WriteRunReport(run, outcomes, path); err != nil {
		r.logger.Warn("failed to write report", "path", path, "error", err)
		return
	}
	r.logger.Info("report written", "path", path)
}

func (r *Runner) printMigrationSummary(result *tasks.MigrationResult) {
	switch {
	case result.Cancelled:
		r.writePlainln("Migration cancelled")
	case len(result.Errors) > 0:
		r.writePlainln("✗ Migration finished with %d errors", len(result.Errors))
	default:
		r.writePlainln("✓ Migration complete")
	}

	r.writePlain("%-15s %8s %8s %8s %8s\n", "Phase", "Matched", "Created", "Skipped", "Failed")
	for _, phase := range summaryPhases {
		t, ok := result.Phases[phase]
		if !ok {
			continue
		}
		r.writePlain("%-15s %8d %8d %8d %8d\n", phase, t.Matched, t.Created, t.Skipped, t.Failed)
	}
	total := result.Totals()
	r.writePlain("%-15s %8d %8d %8d %8d\n", "Total", total.Matched, total.Created, total.Skipped, total.Failed)

	for _, w := range result.Warnings {
		r.writePlain("  ! %s\n", w)
	}
	for _, e := range result.Errors {
		r.writePlain("  ✗ %s\n", e)
	}
	r.writePlain("Run %s in %s\n", result.RunID, result.Duration)
}

// parsePhases maps phase names to options. No names selects every phase.
func parsePhases(names []string) (tasks.MigrationOptions, error) {
	if len(names) == 0 {
		return tasks.AllPhases(), nil
	}

	var o tasks.MigrationOptions
	for _, name := range names {
		switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_") {
		case "all":
			return tasks.AllPhases(), nil
		case "customers", "sites":
			o.Customers = true
		case "roles", "user_roles":
			o.UserRoles = true
		case "access_groups", "groups":
			o.AccessGroups = true
		case "users":
			o.Users = true
		case "properties", "org_properties":
			o.OrgProperties = true
		case "device_properties":
			o.DeviceProperties = true
		default:
			return o, fmt.Errorf("%w: unknown phase %q", shared.ErrInvalidArgument, name)
		}
	}
	return o, nil
}

func loadPermissions(path string) (tasks.PermissionTable, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: permissions file: %v", shared.ErrInvalidArgument, err)
	}
	defer f.Close()
	return tasks.LoadPermissions(f)
}

// Test authenticates against every server of the profile.
func (r *Runner) Test(ctx context.Context, cmd *cli.Command) error {
	profile, err := r.profile(cmd)
	if err != nil {
		return err
	}

	type target struct {
		name   string
		server shared.ConnectionConfig
		key    string
	}
	targets := []target{{"source", profile.Source, profile.CredentialKey()}}
	if profile.Destination != nil {
		targets = append(targets, target{"destination", *profile.Destination, profile.DestCredentialKey()})
	}

	results := make(map[string]tasks.ConnectionResult, len(targets))
	failed := 0
	for _, t := range targets {
		var result tasks.ConnectionResult
		if credential, err := credentials.Require(r.store, t.key); err != nil {
			result = tasks.ConnectionResult{Message: err.Error(), ServerURL: t.server.BaseURL()}
		} else {
			_, result = tasks.TestConnection(ctx, t.server.FQDN, credential, r.clientOptions(t.name))
		}
		if !result.Success {
			failed++
		}
		results[t.name] = result
	}

	if cmd.Bool("json") {
		if err := r.writeJSON(results, true); err != nil {
			return err
		}
	} else {
		r.writePlainHeader("Profile " + profile.Name)
		for _, t := range targets {
			res := results[t.name]
			if !res.Success {
				r.writePlain("✗ %-12s %s: %s\n", t.name, res.ServerURL, res.Message)
				continue
			}
			r.writePlain("✓ %-12s %s (version %s, SO %d %s)\n",
				t.name, res.ServerURL, res.ServerVersion, res.ServiceOrgID, res.ServiceOrgName)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%w: %d of %d servers failed", shared.ErrAuthentication, failed, len(targets))
	}
	return nil
}
