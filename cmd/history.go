package main

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/ncx/internal/formatter"
	"github.com/desertthunder/ncx/internal/repositories"
	"github.com/desertthunder/ncx/internal/shared"
)

type runView struct {
	ID        string `json:"id"`
	Sequence  int    `json:"sequence"`
	Kind      string `json:"kind"`
	Status    string `json:"status"`
	Source    string `json:"source"`
	Dest      string `json:"destination,omitempty"`
	Created   int    `json:"created"`
	Matched   int    `json:"matched"`
	Skipped   int    `json:"skipped"`
	Failed    int    `json:"failed"`
	Error     string `json:"error,omitempty"`
	StartedAt string `json:"startedAt,omitempty"`
}

func (r *Runner) history() (*repositories.History, func(), error) {
	db, err := shared.OpenDatabase(r.config.Database)
	if err != nil {
		return nil, nil, err
	}
	return repositories.NewHistory(db), func() { closeDB(r.logger, db) }, nil
}

// HistoryList prints recent runs, newest first.
func (r *Runner) HistoryList(ctx context.Context, cmd *cli.Command) error {
	h, done, err := r.history()
	if err != nil {
		return err
	}
	defer done()

	runs, err := h.Runs.List(map[string]any{
		"kind":   cmd.String("kind"),
		"status": cmd.String("status"),
		"limit":  cmd.Int("limit"),
	})
	if err != nil {
		return err
	}

	views := make([]runView, 0, len(runs))
	for _, run := range runs {
		v := runView{
			ID:       run.ID(),
			Sequence: run.Sequence(),
			Kind:     run.Kind(),
			Status:   run.Status(),
			Source:   run.SourceURL(),
			Dest:     run.DestURL(),
			Created:  run.Created(),
			Matched:  run.Matched(),
			Skipped:  run.Skipped(),
			Failed:   run.Failed(),
			Error:    run.ErrorMessage(),
		}
		if t := run.StartedAt(); t != nil {
			v.StartedAt = t.Format(time.RFC3339)
		}
		views = append(views, v)
	}

	if cmd.Bool("json") {
		return r.writeJSON(views, true)
	}
	if len(views) == 0 {
		return r.writePlain("No runs recorded\n")
	}
	for _, v := range views {
		target := v.Source
		if v.Dest != "" {
			target += " → " + v.Dest
		}
		r.writePlain("#%-4d %-9s %-9s %s  +%d =%d ~%d !%d  %s\n",
			v.Sequence, v.Kind, v.Status, v.StartedAt, v.Created, v.Matched, v.Skipped, v.Failed, target)
	}
	return nil
}

// HistoryShow renders one run and its entity outcomes as Markdown.
func (r *Runner) HistoryShow(ctx context.Context, cmd *cli.Command) error {
	ref := cmd.StringArg("run")
	if ref == "" {
		return fmt.Errorf("%w: run id or sequence number", shared.ErrMissingArgument)
	}

	h, done, err := r.history()
	if err != nil {
		return err
	}
	defer done()

	run, outcomes, err := h.Report(ref)
	if err != nil {
		return err
	}

	if path := cmd.String("output"); path != "" {
		if err := formatter.WriteRunReport(run, outcomes, path); err != nil {
			return err
		}
		return r.writePlain("✓ Report written to %s\n", path)
	}

	_, err = r.output.Write(formatter.RunToMarkdown(run, outcomes))
	return err
}
