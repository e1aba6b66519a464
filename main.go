package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/chalmers-revere/cloudrec/cmd"
	"github.com/chalmers-revere/cloudrec/internal/config"
	"github.com/chalmers-revere/cloudrec/internal/logging"
	"github.com/chalmers-revere/cloudrec/internal/process"
	"github.com/chalmers-revere/cloudrec/internal/recorder"
)

func main() {
	opts := &recorder.Options{}

	root := &cobra.Command{
		Use:   "cloudrec",
		Short: "Record xyz point cloud frames from shared memory",
		Long: `Attaches to a shared memory area filled by a point cloud producer and
appends every notified frame to an append-only .rec file as an envelope
record. With --cid set, envelopes received from the OD4 session are
merged into the same file.`,
		Run: func(c *cobra.Command, _ []string) {
			// Load configuration with CLI > env > TOML precedence
			if loadErr := config.LoadConfig(opts, c); loadErr != nil {
				slog.Warn("Failed to load config", "error", loadErr)
			}

			logging.Initialize(opts.LoggingConfig())
			logger := logging.GetLogger("main")

			ctx, cancel := process.SignalContext(context.Background(), logger)
			defer cancel()

			if err := recorder.New(*opts).Run(ctx); err != nil {
				logger.Error("Recording failed", "error", err)
				os.Exit(1)
			}
		},
	}

	flags := root.Flags()
	flags.StringVarP(&opts.Config, "config", "c", "cloudrec.toml", "Path to TOML configuration file")
	flags.StringVar(&opts.Name, "name", "", "Name of the shared memory area to attach to")
	flags.Uint32Var(&opts.Width, "width", 0, "Width of the frames in the shared memory area")
	flags.Uint32Var(&opts.Height, "height", 0, "Height of the frames in the shared memory area")
	flags.Uint32Var(&opts.ID, "id", 0, "Sender stamp to tell multiple recorder instances apart")
	flags.Uint32Var(&opts.CID, "cid", 0, "OD4 session whose envelopes are merged into the recording")
	flags.StringVar(&opts.Rec, "rec", "", "Name of the recording file (default YYYY-MM-DD_HHMMSS.rec)")
	flags.StringVar(&opts.RecSuffix, "recsuffix", "", "Suffix to add to the recording file name")
	flags.BoolVar(&opts.Verbose, "verbose", false, "Log every recorded frame")
	flags.StringVar(&opts.AttachTimeout, "attach-timeout", "", "How long to wait for the producer to create the segment (e.g. 30s)")
	flags.StringVar(&opts.OnWriteError, "on-write-error", "abort", "Reaction to recording write failures (abort, drop)")
	flags.BoolVar(&opts.Fsync, "fsync", false, "Force the recording to disk after every record")
	flags.StringVar(&opts.HTTP, "http", "", "Listen address for the status API (disabled when empty)")
	flags.StringVar(&opts.LogLevel, "log-level", "info", "Global logging level (debug, info, warn, error)")
	flags.StringVar(&opts.LogFormat, "log-format", "text", "Logging format (text, json)")
	flags.StringVar(&opts.LoggingCapture, "logging-capture", "info", "Capture logging level")
	flags.StringVar(&opts.LoggingSession, "logging-session", "info", "Session logging level")
	flags.StringVar(&opts.LoggingAPI, "logging-api", "info", "API logging level")

	for _, required := range []string{"name", "width", "height"} {
		_ = root.MarkFlagRequired(required)
	}

	root.AddCommand(
		cmd.CreateInspectCmd(),
		cmd.CreateUploadCmd(),
		cmd.CreateUpdateCmd(),
		cmd.CreateVersionCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
