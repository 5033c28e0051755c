package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/23skdu/attnscope/internal/config"
	"github.com/23skdu/attnscope/internal/flight"
	"github.com/23skdu/attnscope/internal/logger"
	"github.com/23skdu/attnscope/internal/render"
	"github.com/23skdu/attnscope/internal/store"
)

func NewCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "attnscope",
		Short: "Inspect captured attention weights across languages",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cmd.SilenceUsage = true
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.String("config", os.Getenv("ATTNSCOPE_CONFIG"), "YAML config file")
	flags.String("data-dir", "", "Directory holding attention_data_* and output_data_* artifacts")
	flags.String("format", "", "Artifact format: auto, arrow or cbor")
	flags.String("flight", "", "Load artifacts from an Arrow Flight server at host:port")
	flags.String("log-level", "", "Log level: debug, info, warn, error")
	flags.String("log-format", "", "Log format: console or json")

	cobra.EnableCommandSorting = false

	rootCmd.AddCommand(
		NewModelsCmd(),
		NewShowCmd(),
		NewServeCmd(),
		NewFlightServeCmd(),
		NewConvertCmd(),
	)
	return rootCmd
}

// loadConfig layers defaults, the config file, ATTNSCOPE_* variables and
// explicitly set flags, then sets up logging.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return cfg, err
	}

	for flag, dst := range map[string]*string{
		"data-dir":   &cfg.DataDir,
		"format":     &cfg.Format,
		"flight":     &cfg.FlightAddr,
		"log-level":  &cfg.LogLevel,
		"log-format": &cfg.LogFormat,
	} {
		if cmd.Flags().Changed(flag) {
			*dst, _ = cmd.Flags().GetString(flag)
		}
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	logger.SetupWriter(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
	return cfg, nil
}

type source interface {
	store.Source
	fmt.Stringer
}

// openSource returns a Flight client when an address is configured and the
// data directory otherwise. The returned closer is never nil.
func openSource(ctx context.Context, cfg config.Config) (source, io.Closer, error) {
	if cfg.FlightAddr != "" {
		c := flight.NewClient(cfg.FlightAddr)
		if err := c.Connect(ctx); err != nil {
			return nil, nil, err
		}
		return c, c, nil
	}
	d, err := store.NewDirSource(cfg.DataDir)
	if err != nil {
		return nil, nil, err
	}
	return d, nopCloser{}, nil
}

func fontResolver(cfg config.Config) *render.FontResolver {
	paths := cfg.FontPaths
	if len(paths) == 0 {
		paths = render.DefaultFontPaths()
	}
	return render.NewFontResolver(paths)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
