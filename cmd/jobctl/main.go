package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/cloudconsole/jobtracker/cmd/jobctl/commands"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "jobctl",
		Usage: "Run asynchronous control-plane operations and wait for their jobs",
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Submit an operation and poll its job until it settles",
				Flags: []cli.Flag{
					envFlag(),
					&cli.StringFlag{
						Name:     "command",
						Usage:    "Command name, e.g. startVirtualMachine",
						Required: true,
					},
					&cli.StringSliceFlag{
						Name:  "param",
						Usage: "Command parameter as key=value (repeatable)",
					},
					&cli.DurationFlag{
						Name:  "interval",
						Usage: "Polling interval (default: from the operation catalog)",
					},
					&cli.DurationFlag{
						Name:  "max-wait",
						Usage: "Give up after this long (default: no limit)",
					},
					&cli.IntFlag{
						Name:  "max-attempts",
						Usage: "Give up after this many status queries (default: no limit)",
					},
				},
				Action: commands.RunAction,
			},
			{
				Name:  "track",
				Usage: "Poll a job submitted elsewhere until it settles",
				Flags: []cli.Flag{
					envFlag(),
					&cli.StringFlag{
						Name:     "job",
						Usage:    "Job id",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "command",
						Usage: "Command the job belongs to",
						Value: "unknown",
					},
					&cli.DurationFlag{
						Name:  "interval",
						Usage: "Polling interval (default: JOBTRACKER_DEFAULT_INTERVAL)",
					},
					&cli.DurationFlag{
						Name:  "max-wait",
						Usage: "Give up after this long (default: no limit)",
					},
				},
				Action: commands.TrackAction,
			},
			{
				Name:  "catalog",
				Usage: "List the operations known to the catalog",
				Flags: []cli.Flag{
					envFlag(),
				},
				Action: commands.CatalogAction,
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

func envFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "env",
		Usage: "Path to an environment file",
		Value: ".env",
	}
}
