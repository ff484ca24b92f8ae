// Package main is the pcplant command. It replays recorded sensor topics through the point cloud
// plant and reports how fresh the plant's inputs were from the control loop's point of view.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"go.viam.com/pcplant/logging"
)

const (
	// Flags.
	flagConfig  = "config"
	flagBag     = "bag"
	flagSpeed   = "speed"
	flagLinger  = "linger"
	flagParams  = "params"
	flagLogFile = "log-file"
	flagDebug   = "debug"
)

var (
	logger      = logging.NewLogger("pcplant")
	logFileSink *logging.FileAppender
)

func main() {
	app := newApp()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := app.RunContext(ctx, os.Args); err != nil {
		logger.Error(err)
		stop()
		os.Exit(1)
	}
}

func newApp() *cli.App {
	bagFlag := &cli.StringFlag{
		Name:     flagBag,
		Aliases:  []string{"b"},
		Usage:    "read recorded topics from `FILE`",
		Required: true,
	}
	return &cli.App{
		Name:            "pcplant",
		Usage:           "drive the point cloud plant from recorded topics",
		HideHelpCommand: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagLogFile,
				Usage:   "also write logs to rotating `FILE`",
				EnvVars: []string{"PCPLANT_LOG_FILE"},
			},
			&cli.BoolFlag{
				Name:    flagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
		},
		Before: setupLogging,
		After: func(*cli.Context) error {
			if logFileSink != nil {
				return logFileSink.Close()
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "replay",
				Usage: "replay a bag into the plant and run the control loop against it",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     flagConfig,
						Aliases:  []string{"c"},
						Usage:    "load plant configuration from `FILE`",
						Required: true,
					},
					bagFlag,
					&cli.Float64Flag{
						Name:  flagSpeed,
						Usage: "playback speed relative to recording time, 0 replays as fast as possible",
						Value: 1,
					},
					&cli.StringFlag{
						Name:  flagParams,
						Usage: "watch `FILE` for obstacle cost parameters and apply every change",
					},
					&cli.DurationFlag{
						Name:  flagLinger,
						Usage: "keep the control loop running this long after the last message",
						Value: defaultLinger,
					},
				},
				Action: ReplayAction,
			},
			{
				Name:      "inspect",
				Usage:     "summarize the point cloud topics of a bag",
				ArgsUsage: "<topic> [topic...]",
				Flags:     []cli.Flag{bagFlag},
				Action:    InspectAction,
			},
		},
	}
}

func setupLogging(c *cli.Context) error {
	if c.Bool(flagDebug) {
		logging.GlobalLogLevel.SetLevel(logging.DEBUG.AsZap())
	}
	if path := c.String(flagLogFile); path != "" {
		logFileSink = logging.NewFileAppender(path, defaultLogFileSizeMB)
		logger.AddAppender(logFileSink)
	}
	return nil
}
