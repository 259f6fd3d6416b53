package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/pipecast/internal/nodes"
	"github.com/audiolibrelab/pipecast/internal/pipewire"
	"github.com/audiolibrelab/pipecast/internal/registry"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List host audio devices physical nodes can match",
	Long: `List the device nodes of the PipeWire host with the names a physical node's
match list can refer to. Capture devices suit physical sources, playback
devices physical targets. Does not need a running daemon.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		ctx, cancel := context.WithTimeout(ctx, settings.Host.CommandTimeout)
		defer cancel()

		mirror, err := pipewire.Snapshot(ctx, pipewire.ExecRunner{}, settings.Host.PwDump, nodes.Prefix)
		if err != nil {
			return fmt.Errorf("failed to read PipeWire registry: %w", err)
		}

		listDevices(mirror)
		return nil
	},
}

func listDevices(mirror *registry.Mirror) {
	ids := mirror.DeviceNodes()
	fmt.Printf("Audio Devices (%d found)\n", len(ids))
	fmt.Printf("═══════════════════════════════════════\n\n")

	for _, id := range ids {
		node, _ := mirror.DeviceNode(id)
		in, out := len(mirror.Ports(id, registry.In)), len(mirror.Ports(id, registry.Out))

		role := "playback"
		switch {
		case in > 0 && out > 0:
			role = "duplex"
		case out > 0:
			role = "capture"
		case in == 0:
			role = "no ports"
		}

		fmt.Printf("  %d. %s [%s]\n", id, node.Name, role)
		if node.Description != "" {
			fmt.Printf("     description: %s\n", node.Description)
		}
		if node.Nickname != "" {
			fmt.Printf("     nickname: %s\n", node.Nickname)
		}
	}

	fmt.Printf("\nUsage:\n")
	fmt.Printf("  • pipecast node add PhysicalSource Mic --match \"<name or description>\"\n")
	fmt.Printf("  • Capture devices feed physical sources, playback devices physical targets\n")
}
