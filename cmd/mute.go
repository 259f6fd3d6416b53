package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/pipecast/internal/ipc"
	"github.com/audiolibrelab/pipecast/internal/profile"
)

var muteCmd = &cobra.Command{
	Use:   "mute",
	Short: "Control a source's mute states",
	Long: `Every source has two independent mute states, TargetA and TargetB. An active
state silences the source on the targets it lists, or on every target when
its list is empty.`,
}

var muteStateCmd = &cobra.Command{
	Use:   "state <source> <A|B> <on|off>",
	Short: "Activate or clear one of a source's mute states",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		source, err := (&resolver{cmd: cmd}).node(args[0])
		if err != nil {
			return err
		}
		var muteTarget profile.MuteTarget
		if err := muteTarget.UnmarshalText([]byte(args[1])); err != nil {
			return err
		}
		active, err := parseBool(args[2])
		if err != nil {
			return err
		}

		_, err = sendPipewire(cmd, ipc.PipewireCommand{
			SetSourceMuteState: &ipc.SetSourceMuteState{Source: source, MuteTarget: muteTarget, Active: active},
		})
		if err != nil {
			return err
		}
		fmt.Printf("Mute %s of %s %s\n", muteTarget, args[0], onOff(active))
		return nil
	},
}

var muteTargetsCmd = &cobra.Command{
	Use:   "targets <source> <A|B> [target...]",
	Short: "Set the targets a mute state applies to (none means all)",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		r := &resolver{cmd: cmd}
		source, err := r.node(args[0])
		if err != nil {
			return err
		}
		var muteTarget profile.MuteTarget
		if err := muteTarget.UnmarshalText([]byte(args[1])); err != nil {
			return err
		}
		targets, err := r.nodes(args[2:])
		if err != nil {
			return err
		}

		_, err = sendPipewire(cmd, ipc.PipewireCommand{
			SetSourceMuteTargets: &ipc.SetSourceMuteTargets{Source: source, MuteTarget: muteTarget, Targets: targets},
		})
		if err != nil {
			return err
		}
		if len(targets) == 0 {
			fmt.Printf("Mute %s of %s applies to all targets\n", muteTarget, args[0])
		} else {
			fmt.Printf("Mute %s of %s applies to %d target(s)\n", muteTarget, args[0], len(targets))
		}
		return nil
	},
}

func init() {
	muteCmd.AddCommand(muteStateCmd)
	muteCmd.AddCommand(muteTargetsCmd)
}
