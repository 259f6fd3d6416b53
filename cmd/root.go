package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/audiolibrelab/pipecast/internal/config"

	"github.com/spf13/cobra"
)

var (
	settings     *config.Settings
	cfgFile      string
	socketPath   string
	verboseLevel int
)

var rootCmd = &cobra.Command{
	Use:   "pipecast",
	Short: "Audio routing daemon for PipeWire",
	Long: `PipeCast keeps a routing matrix of audio sources and targets on a PipeWire
host. Every source gets two filter nodes (mix A and mix B), every target one,
and the daemon links them according to the active profile.

Run 'pipecast daemon' to start the daemon. The other commands talk to a
running daemon over its unix socket.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Configure slog based on verbose level
		setupLogging(verboseLevel)

		// config init must work before any settings file exists
		if cmd.Name() == "init" && cmd.Parent() == configCmd {
			return nil
		}

		var err error
		settings, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if socketPath != "" {
			settings.IPC.Socket = socketPath
		}
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "settings file (default is $XDG_CONFIG_HOME/pipecast/settings.yaml)")
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", "", "daemon socket path (overrides ipc.socket)")
	rootCmd.PersistentFlags().IntVarP(&verboseLevel, "verbose", "v", 0, "verbose level: 0=info, 1=debug, 2=host tool tracing")

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(pingCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(routeCmd)
	rootCmd.AddCommand(muteCmd)
	rootCmd.AddCommand(mixCmd)
	rootCmd.AddCommand(nodeCmd)
	rootCmd.AddCommand(volumeCmd)
	rootCmd.AddCommand(profileCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(devicesCmd)
}

// setupLogging configures slog based on the verbose level
func setupLogging(level int) {
	var slogLevel slog.Level
	switch {
	case level <= 0:
		slogLevel = slog.LevelInfo
	default:
		// Level 2 additionally traces the spawned pw-* tools
		slogLevel = slog.LevelDebug
	}

	// Configure text handler for clean terminal output
	opts := &slog.HandlerOptions{
		Level: slogLevel,
	}
	handler := slog.NewTextHandler(os.Stderr, opts)
	logger := slog.New(handler)
	slog.SetDefault(logger)

	if level >= 2 {
		os.Setenv("PIPEWIRE_DEBUG", "3")
	}
}
