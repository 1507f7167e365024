// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to configuration file",
		Value:   "config.toml",
	}
}

// setupCommand initializes the database and config file.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "setup",
		Usage:  "Initialize config file, database and run migrations",
		Flags:  []cli.Flag{configFlag()},
		Action: r.Setup,
	}
}

// runCommand starts the sync engine and the HTTP server.
func runCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "run",
		Usage:  "Run the sync engine and status server until interrupted",
		Flags:  []cli.Flag{configFlag()},
		Action: r.Run,
	}
}

// syncCommand runs a single cycle for one direction.
func syncCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Run one sync cycle for a direction and exit",
		Arguments: []cli.Argument{
			&cli.StringArg{
				Name:      "direction",
				UsageText: "tg_to_yt | yt_to_tg | tg_to_sp | sp_to_tg | yt_to_sp | sp_to_yt",
			},
		},
		Flags:  []cli.Flag{configFlag()},
		Action: r.SyncOnce,
	}
}

// tracksCommand inspects track records.
func tracksCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "tracks",
		Usage: "Inspect track records",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List recent track records",
				Flags: []cli.Flag{
					configFlag(),
					&cli.StringFlag{
						Name:  "direction",
						Usage: "Filter by direction",
					},
					&cli.StringFlag{
						Name:  "status",
						Usage: "Filter by status",
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of records",
						Value: 25,
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output raw JSON",
					},
				},
				Action: r.TracksList,
			},
			{
				Name:  "failed",
				Usage: "List failed track records",
				Flags: []cli.Flag{
					configFlag(),
					&cli.StringFlag{
						Name:  "direction",
						Usage: "Filter by direction",
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of records",
						Value: 25,
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output raw JSON",
					},
				},
				Action: r.TracksFailed,
			},
		},
	}
}

// retryCommand requeues failed records.
func retryCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "retry",
		Usage: "Requeue failed track records",
		Flags: []cli.Flag{
			configFlag(),
			&cli.StringFlag{
				Name:  "id",
				Usage: "Requeue a single track by id",
			},
			&cli.StringFlag{
				Name:  "direction",
				Usage: "Requeue every failed track of one direction",
			},
			&cli.BoolFlag{
				Name:  "clear-retries",
				Usage: "Reset the retry counter as well",
			},
		},
		Action: r.Retry,
	}
}

// statsCommand prints aggregate sync statistics.
func statsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Show sync statistics",
		Flags: []cli.Flag{
			configFlag(),
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output raw JSON",
			},
		},
		Action: r.Stats,
	}
}

// logsCommand prints the audit trail.
func logsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "logs",
		Usage: "Show the sync audit log",
		Flags: []cli.Flag{
			configFlag(),
			&cli.StringFlag{
				Name:  "track",
				Usage: "Only entries for one track id",
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of entries",
				Value: 50,
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output raw JSON",
			},
		},
		Action: r.Logs,
	}
}
