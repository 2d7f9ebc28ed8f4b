package cmd

import (
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/lehigh-university-libraries/annotator/internal/config"
)

// app carries state shared by every subcommand
type app struct {
	loader     *config.Loader
	configFile string
	config     *config.Config
}

func NewRootCmd() *cobra.Command {
	a := &app{loader: config.NewLoader()}

	cmd := &cobra.Command{
		Use:   "annotator",
		Short: "Image annotation pipeline with captioning, object detection and OCR",
		Long: `Annotator describes images, lists the objects they contain and extracts
their text, translating the results and embedding them into the image files.

It runs as an HTTP service storing annotated uploads, or annotates local
files and datasets from the command line.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Load .env file if present (ignore errors)
			_ = godotenv.Load()

			a.bindFlags(cmd)
			cfg, err := a.loader.Load(a.configFile)
			if err != nil {
				return err
			}
			a.config = cfg
			setupLogging(cfg.LogLevel, cfg.LogFormat)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&a.configFile, "config", "", "Path to config file (default: ./annotator.yaml)")

	// Add subcommands
	cmd.AddCommand(newServeCmd(a))
	cmd.AddCommand(newAnnotateCmd(a))
	cmd.AddCommand(newDatasetCmd(a))
	cmd.AddCommand(newRecordsCmd(a))
	cmd.AddCommand(newInspectCmd())

	return cmd
}

// flagKeys maps command flags onto the configuration keys they override
var flagKeys = map[string]string{
	"port":   "server.port",
	"remote": "inference.remote_url",
}

// bindFlags binds the flags of the command being run
func (a *app) bindFlags(cmd *cobra.Command) {
	for name, key := range flagKeys {
		flag := cmd.Flags().Lookup(name)
		if flag == nil {
			continue
		}
		if err := a.loader.Viper().BindPFlag(key, flag); err != nil {
			slog.Error("Unable to bind flag", "flag", name, "key", key, "err", err)
		}
	}
}

func setupLogging(level, format string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
