package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/Paddel87/AIMAlocal-sub001/cmd/commands"
)

func envFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "env",
		Usage: "path to an env file",
		Value: ".env",
	}
}

func main() {
	// Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "aima",
		Usage: "live job status client for the AIMA media-analysis platform",
		Commands: []*cli.Command{
			{
				Name:      "watch",
				Usage:     "follow job status over the push channel",
				ArgsUsage: "[job-id...]",
				Flags: []cli.Flag{
					envFlag(),
					&cli.StringSliceFlag{
						Name:    "job",
						Aliases: []string{"j"},
						Usage:   "job id to watch (repeatable)",
					},
					&cli.IntFlag{
						Name:  "recent",
						Usage: "also watch the N most recently updated cached jobs",
					},
					&cli.BoolFlag{
						Name:  "until-done",
						Usage: "exit once every watched job is finished",
					},
					&cli.StringFlag{
						Name:  "status-addr",
						Usage: "serve /healthz and /status on this address (overrides STATUS_ADDR)",
					},
				},
				Action: commands.WatchAction,
			},
			{
				Name:  "events",
				Usage: "show push events recorded by watch sessions",
				Flags: []cli.Flag{
					envFlag(),
					&cli.IntFlag{
						Name:  "tail",
						Usage: "number of recent events to print",
						Value: 20,
					},
					&cli.BoolFlag{
						Name:    "follow",
						Aliases: []string{"f"},
						Usage:   "keep printing new events",
					},
					&cli.BoolFlag{
						Name:  "clear",
						Usage: "delete the recorded events",
					},
				},
				Action: commands.EventsAction,
			},
			{
				Name:  "jobs",
				Usage: "query jobs",
				Commands: []*cli.Command{
					{
						Name:  "list",
						Usage: "list jobs",
						Flags: []cli.Flag{
							envFlag(),
							&cli.IntFlag{
								Name:  "page",
								Usage: "page number",
								Value: 1,
							},
							&cli.IntFlag{
								Name:  "limit",
								Usage: "page size",
								Value: 20,
							},
							&cli.StringFlag{
								Name:  "status",
								Usage: "filter by status (pending, processing, completed, failed)",
							},
						},
						Action: commands.JobsListAction,
					},
					{
						Name:      "show",
						Usage:     "show one job",
						ArgsUsage: "<job-id>",
						Flags:     []cli.Flag{envFlag()},
						Action:    commands.JobsShowAction,
					},
				},
			},
			{
				Name:   "stats",
				Usage:  "show processing statistics",
				Flags:  []cli.Flag{envFlag()},
				Action: commands.StatsAction,
			},
			{
				Name:  "detect-faces",
				Usage: "upload an image for face detection",
				Flags: []cli.Flag{
					envFlag(),
					&cli.StringFlag{
						Name:     "file",
						Usage:    "image file",
						Required: true,
					},
					&cli.BoolFlag{
						Name:  "watch",
						Usage: "follow the job until it finishes",
					},
				},
				Action: commands.DetectFacesAction,
			},
			{
				Name:  "transcribe",
				Usage: "upload an audio file for transcription",
				Flags: []cli.Flag{
					envFlag(),
					&cli.StringFlag{
						Name:     "file",
						Usage:    "audio file",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "language",
						Usage: "spoken language hint, e.g. en or de",
					},
					&cli.BoolFlag{
						Name:  "watch",
						Usage: "follow the job until it finishes",
					},
				},
				Action: commands.TranscribeAction,
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
