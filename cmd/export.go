package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/ncx/internal/shared"
	"github.com/desertthunder/ncx/internal/tasks"
)

// Export writes the profile's service org to files.
func (r *Runner) Export(ctx context.Context, cmd *cli.Command) error {
	profile, err := r.profile(cmd)
	if err != nil {
		return err
	}

	options := tasks.AllExports()
	if kinds := cmd.StringSlice("kinds"); len(kinds) > 0 {
		if options, err = tasks.ExportOptionsFromKinds(kinds); err != nil {
			return err
		}
	}

	formats := cmd.StringSlice("format")
	if len(formats) == 0 {
		formats = r.config.Export.Formats
	}
	dir := cmd.String("output")
	if dir == "" {
		dir = r.config.Export.Directory
	}
	if dir == "" {
		return fmt.Errorf("%w: no output directory", shared.ErrMissingArgument)
	}

	conn, err := r.connect(ctx, "source", profile.Source, profile.CredentialKey())
	if err != nil {
		return err
	}
	soID := conn.serviceOrg(cmd.Int64("so-id"))
	if soID <= 0 {
		return fmt.Errorf("%w: no service organization id; pass --so-id", shared.ErrMissingArgument)
	}

	history, closeHistory := r.openHistory(cmd)
	defer closeHistory()

	events := tasks.NewBroadcaster()
	opts := tasks.ExportEngineOptions{
		Concurrency: r.config.Export.Concurrency,
		Logger:      r.logger,
		Events:      events,
	}
	if history != nil {
		opts.Recorder = history
	}
	engine := tasks.NewExportEngine(conn.client, opts)

	useJSON := cmd.Bool("json")
	if !useJSON {
		r.writePlainHeader(fmt.Sprintf("Export %s (SO %d) → %s", conn.result.ServerURL, soID, dir))
	}

	followCtx, stopFollowing := context.WithCancel(ctx)
	var followed <-chan struct{}
	if !useJSON {
		followed = r.followEvents(followCtx, events)
	}

	result, err := engine.Export(ctx, dir, options, formats, soID)
	stopFollowing()
	if followed != nil {
		<-followed
	}
	if err != nil {
		return err
	}

	r.markUsed(profile)

	if useJSON {
		return r.writeJSON(result, true)
	}

	r.writePlainln("✓ %s", result.Message)
	for _, f := range result.FilesCreated {
		r.writePlain("  %s\n", f)
	}
	r.writePlain("Records: %d\n", result.TotalRecords)
	if len(result.Warnings) > 0 {
		r.writePlainln("%d warnings:", len(result.Warnings))
		for _, w := range result.Warnings {
			r.writePlain("  ! %s\n", w)
		}
	}
	return nil
}
