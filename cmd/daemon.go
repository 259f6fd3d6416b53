package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/audiolibrelab/pipecast/internal/ipc"
	"github.com/audiolibrelab/pipecast/internal/manager"
	"github.com/audiolibrelab/pipecast/internal/pipewire"
	"github.com/audiolibrelab/pipecast/internal/profile"
	"github.com/audiolibrelab/pipecast/internal/server"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the routing daemon",
	Long: `Run the PipeCast daemon in the foreground. It creates the filter nodes of the
active profile, links them according to the routing matrix and serves clients
on the unix socket and, when enabled, the HTTP API.

Everything the daemon created on the host is removed again when it stops.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemon(cmd.Context())
	},
}

func runDaemon(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	sigCtx, stopSignals := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stopSignals()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	profilePath := settings.ProfilePath()
	p, exists, err := profile.Load(profilePath)
	if err != nil {
		return err
	}
	if !exists {
		if err := p.Save(profilePath); err != nil {
			slog.Warn("Failed to write default profile", "path", profilePath, "error", err)
		}
	}

	// The host client outlives the manager so teardown can still reach it.
	hostCtx, cancelHost := context.WithCancel(context.Background())
	defer cancelHost()
	host := pipewire.NewClient(pipewire.ExecRunner{}, settings.Binaries(), settings.Host.CommandTimeout)
	hostDone := make(chan struct{})
	go func() {
		defer close(hostDone)
		host.Run(hostCtx)
	}()

	mgr := manager.New(host, p, manager.Options{
		ProfilePath:     profilePath,
		HTTP:            settings.HTTPSettings(),
		QueueSize:       settings.Manager.QueueSize,
		TeardownTimeout: settings.Manager.TeardownTimeout,
		Stop:            cancel,
	})

	socket, err := ipc.Listen(settings.IPC.Socket, mgr.Submit)
	if err != nil {
		return fmt.Errorf("failed to open socket: %w", err)
	}

	slog.Info("PipeCast daemon starting",
		"profile", profilePath,
		"socket", socket.Path(),
		"http", settings.HTTP.Enabled)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return mgr.Run(gctx)
	})
	g.Go(func() error {
		return pipewire.NewMonitor(settings.Host.PwDump, mgr.Events()).Run(gctx)
	})
	g.Go(func() error {
		return socket.Serve(gctx)
	})
	if settings.HTTP.Enabled {
		api := server.New(settings.HTTPSettings(), mgr, mgr.Patches())
		g.Go(func() error {
			return api.Start(gctx)
		})
	}

	err = g.Wait()
	cancelHost()
	<-hostDone

	if err != nil {
		return fmt.Errorf("daemon failed: %w", err)
	}
	slog.Info("PipeCast daemon stopped")
	return nil
}
