// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

// Flags keep parse state, so shared ones are built per command.
func noHistoryFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:  "no-history",
		Usage: "Do not record this run in the history database",
	}
}

func jsonFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:  "json",
		Usage: "Output raw JSON",
	}
}

// exportCommand writes a service org's data to files
func exportCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Export a service organization to CSV and/or JSON files",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Output directory (defaults to [export] directory)",
			},
			&cli.StringSliceFlag{
				Name:    "format",
				Aliases: []string{"f"},
				Usage:   "Output formats: csv, json (defaults to [export] formats)",
			},
			&cli.StringSliceFlag{
				Name:    "kinds",
				Aliases: []string{"k"},
				Usage:   "Entity kinds to export, e.g. customers,sites,users (default all)",
			},
			&cli.Int64Flag{
				Name:  "so-id",
				Usage: "Service organization id (defaults to the profile, then the first service org)",
			},
			noHistoryFlag(),
			jsonFlag(),
		},
		Action: r.Export,
	}
}

// migrateCommand copies one service org into another
func migrateCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Migrate a service organization between two N-central servers",
		Flags: []cli.Flag{
			&cli.Int64Flag{
				Name:  "so-id",
				Usage: "Source service organization id",
			},
			&cli.Int64Flag{
				Name:  "dest-so-id",
				Usage: "Destination service organization id",
			},
			&cli.StringSliceFlag{
				Name:  "phases",
				Usage: "Phases to run: customers, roles, access_groups, users, properties, device_properties (default all)",
			},
			&cli.StringFlag{
				Name:  "permissions",
				Usage: "CSV of permission name,id rows replacing the built-in role permission table",
			},
			&cli.StringFlag{
				Name:  "report",
				Usage: "Write a Markdown report of the run to this path",
			},
			&cli.BoolFlag{
				Name:  "tui",
				Usage: "Show an interactive progress monitor",
			},
			&cli.BoolFlag{
				Name:    "yes",
				Aliases: []string{"y"},
				Usage:   "Start without asking for confirmation in the monitor",
			},
			&cli.StringFlag{
				Name:  "listen",
				Usage: "Serve status, events and metrics on this address while the run is active",
			},
			&cli.BoolFlag{
				Name:  "serve",
				Usage: "Serve status on the [server] address from the config",
			},
			noHistoryFlag(),
			jsonFlag(),
		},
		Action: r.Migrate,
	}
}

// testCommand checks the configured servers
func testCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "test",
		Usage:  "Test connectivity and credentials for the profile's servers",
		Flags:  []cli.Flag{jsonFlag()},
		Action: r.Test,
	}
}

// profileCommand manages connection profiles and their credentials
func profileCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "profile",
		Usage: "Manage connection profiles",
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List profiles",
				Flags:  []cli.Flag{jsonFlag()},
				Action: r.ProfileList,
			},
			{
				Name:  "add",
				Usage: "Add or replace a profile",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "name"},
				},
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "source",
						Aliases:  []string{"s"},
						Usage:    "Source (or export) server address",
						Required: true,
					},
					&cli.StringFlag{
						Name:    "dest",
						Aliases: []string{"d"},
						Usage:   "Destination server address; makes this a migration profile",
					},
					&cli.Int64Flag{
						Name:  "source-so-id",
						Usage: "Source service organization id",
					},
					&cli.Int64Flag{
						Name:  "dest-so-id",
						Usage: "Destination service organization id",
					},
					&cli.StringFlag{
						Name:  "dest-username",
						Usage: "Destination API username, used for SOAP calls",
					},
				},
				Action: r.ProfileAdd,
			},
			{
				Name:  "delete",
				Usage: "Delete a profile and its stored credentials",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "name"},
				},
				Action: r.ProfileDelete,
			},
			{
				Name:  "use",
				Usage: "Set the active profile",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "name"},
				},
				Action: r.ProfileUse,
			},
			{
				Name:  "set-credentials",
				Usage: "Store the API-user JWT for a profile's server",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "name"},
				},
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "dest",
						Usage: "Store the destination server's credential",
					},
					&cli.StringFlag{
						Name:  "jwt",
						Usage: "JWT to store (read from stdin when omitted)",
					},
				},
				Action: r.ProfileSetCredentials,
			},
		},
	}
}

// historyCommand reads the run history database
func historyCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Inspect recorded export and migration runs",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List recent runs",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of runs to list",
						Value: 20,
					},
					&cli.StringFlag{
						Name:  "kind",
						Usage: "Filter by kind: migration or export",
					},
					&cli.StringFlag{
						Name:  "status",
						Usage: "Filter by status",
					},
					jsonFlag(),
				},
				Action: r.HistoryList,
			},
			{
				Name:  "show",
				Usage: "Show a run by id or sequence number as Markdown",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "run"},
				},
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Write the report to this path instead of stdout",
					},
				},
				Action: r.HistoryShow,
			},
		},
	}
}

// setupCommand handles setup operations for config and database.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Setup and configuration commands",
		Commands: []*cli.Command{
			{
				Name:   "config",
				Usage:  "Create a config file from the built-in template",
				Action: r.SetupConfig,
			},
			{
				Name:   "database",
				Usage:  "Initialize the history database and run migrations",
				Action: r.SetupDatabase,
			},
		},
	}
}
