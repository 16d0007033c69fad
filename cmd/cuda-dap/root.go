package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ctagard/cuda-dap/internal/config"
	"github.com/ctagard/cuda-dap/internal/logging"
	"github.com/ctagard/cuda-dap/internal/version"
)

// app carries what every command needs once flags are parsed.
type app struct {
	v          *viper.Viper
	configPath string
}

func newRootCmd() *cobra.Command {
	a := &app{v: config.New()}

	rootCmd := &cobra.Command{
		Use:   "cuda-dap",
		Short: "Debug Adapter Protocol server for cuda-gdb",
		Long: `cuda-dap speaks the Debug Adapter Protocol to an editor and drives cuda-gdb
through its machine interface. It adds CUDA focus switching, device threads
in the thread list and GPU topology events on top of the standard protocol.

Without a subcommand it serves one session on stdin/stdout, which is how
editors start debug adapters.`,
		SilenceUsage: true,
		Version:      version.Version,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "path to a cuda-dap.yaml configuration file")
	flags.String("log-level", "", "log level: debug, info, warn or error")
	flags.String("log-format", "", "log encoding: auto, console or json")
	flags.String("debugger-path", "", "path to cuda-gdb")
	flags.String("listen", "", "serve DAP on this TCP address instead of stdio, e.g. 127.0.0.1:4711")
	// BindPFlag only fails for a nil flag.
	_ = a.v.BindPFlag("log_level", flags.Lookup("log-level"))
	_ = a.v.BindPFlag("log_format", flags.Lookup("log-format"))
	_ = a.v.BindPFlag("debugger_path", flags.Lookup("debugger-path"))
	_ = a.v.BindPFlag("listen", flags.Lookup("listen"))

	rootCmd.AddCommand(
		newServeCmd(a),
		newMCPCmd(a),
		newVersionCmd(),
	)

	return rootCmd
}

// load reads the configuration and builds the process logger from it.
func (a *app) load() (*config.Config, *zap.Logger, error) {
	if a.configPath != "" {
		a.v.SetConfigFile(a.configPath)
	}
	cfg, err := config.Load(a.v)
	if err != nil {
		return nil, nil, fmt.Errorf("loading configuration: %w", err)
	}

	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version.String())
			return err
		},
	}
}
