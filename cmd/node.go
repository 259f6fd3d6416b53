package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/pipecast/internal/ipc"
	"github.com/audiolibrelab/pipecast/internal/profile"
)

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Add, remove and rename profile nodes",
}

var nodeAddCmd = &cobra.Command{
	Use:   "add <PhysicalSource|VirtualSource|PhysicalTarget|VirtualTarget> <name>",
	Short: "Define a new node",
	Long: `Define a new node in the active profile. Physical nodes bind to the host
device whose node name, description or nickname equals one of --match, or
equals the node name when no match is given.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var kind profile.NodeKind
		if err := kind.UnmarshalText([]byte(args[0])); err != nil {
			return err
		}
		match, _ := cmd.Flags().GetStringSlice("match")

		resp, err := sendPipewire(cmd, ipc.PipewireCommand{
			AddNode: &ipc.AddNode{Kind: kind, Name: args[1], Match: match},
		})
		if err != nil {
			return err
		}
		if resp.NodeCreated != nil {
			fmt.Printf("Node %q added: %s\n", args[1], resp.NodeCreated)
		}
		return nil
	},
}

var nodeRemoveCmd = &cobra.Command{
	Use:   "remove <node>",
	Short: "Remove a node, its routes and its filters",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := (&resolver{cmd: cmd}).node(args[0])
		if err != nil {
			return err
		}
		if _, err := sendPipewire(cmd, ipc.PipewireCommand{RemoveNode: &ipc.RemoveNode{ID: id}}); err != nil {
			return err
		}
		fmt.Printf("Node %s removed\n", args[0])
		return nil
	},
}

var nodeRenameCmd = &cobra.Command{
	Use:   "rename <node> <new-name>",
	Short: "Rename a node",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := (&resolver{cmd: cmd}).node(args[0])
		if err != nil {
			return err
		}
		if _, err := sendPipewire(cmd, ipc.PipewireCommand{RenameNode: &ipc.RenameNode{ID: id, Name: args[1]}}); err != nil {
			return err
		}
		fmt.Printf("Node %s renamed to %q\n", args[0], args[1])
		return nil
	},
}

var volumeCmd = &cobra.Command{
	Use:   "volume <node> <0-100>",
	Short: "Set a node's volume",
	Long: `Set the volume of a target, or of one mix of a source (--mix, default A).
The level is a percentage applied to the node's filter on a cubic curve.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := (&resolver{cmd: cmd}).node(args[0])
		if err != nil {
			return err
		}
		volume, err := strconv.ParseUint(args[1], 10, 8)
		if err != nil || volume > 100 {
			return fmt.Errorf("volume must be between 0 and 100, got %q", args[1])
		}
		var mix profile.Mix
		mixFlag, _ := cmd.Flags().GetString("mix")
		if err := mix.UnmarshalText([]byte(mixFlag)); err != nil {
			return err
		}

		_, err = sendPipewire(cmd, ipc.PipewireCommand{
			SetVolume: &ipc.SetVolume{ID: id, Mix: mix, Volume: uint8(volume)},
		})
		if err != nil {
			return err
		}
		fmt.Printf("Volume of %s set to %d\n", args[0], volume)
		return nil
	},
}

func init() {
	nodeAddCmd.Flags().StringSlice("match", nil, "host device names for physical nodes (repeatable)")
	volumeCmd.Flags().String("mix", "A", "mix of a source node to change")

	nodeCmd.AddCommand(nodeAddCmd)
	nodeCmd.AddCommand(nodeRemoveCmd)
	nodeCmd.AddCommand(nodeRenameCmd)
}
