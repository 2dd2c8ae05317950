// Command hoverhold is the ground station that holds a small drone's heading,
// altitude and position over a ground target.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

const (
	flagConfig = "config"
	flagAuto   = "auto"
	flagThrust = "thrust"
)

func newApp() *cli.App {
	return &cli.App{
		Name:  "hoverhold",
		Usage: "hold a drone over a ground target",
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "run the control loop against the configured vehicle link",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    flagConfig,
						Aliases: []string{"c"},
						Value:   "./hoverhold.yaml",
						Usage:   "path to YAML config",
					},
					&cli.BoolFlag{
						Name:  flagAuto,
						Usage: "switch to auto on the first tick",
					},
				},
				Action: runAction,
			},
			{
				Name:      "replay",
				Usage:     "feed recorded telemetry through the controllers and print the frames as CSV",
				ArgsUsage: "<session.log>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    flagConfig,
						Aliases: []string{"c"},
						Usage:   "path to YAML config (defaults when empty)",
					},
					&cli.BoolFlag{
						Name:  flagAuto,
						Usage: "switch to auto on the first tick",
					},
					&cli.Float64Flag{
						Name:  flagThrust,
						Usage: "manual thrust axis in [0,1] held for the whole replay",
					},
				},
				Action: replayAction,
			},
			{
				Name:      "summarize",
				Usage:     "print segment counts and command statistics for a session log",
				ArgsUsage: "<session.log>",
				Action:    summarizeAction,
			},
		},
	}
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "hoverhold:", err)
		os.Exit(1)
	}
}
