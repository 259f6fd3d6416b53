package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/pipecast/internal/ipc"
	"github.com/audiolibrelab/pipecast/internal/profile"
)

var mixCmd = &cobra.Command{
	Use:   "mix <target> <A|B>",
	Short: "Select which mix feeds a target",
	Long: `Switch a target between the A and B filters of its routed sources. Volumes
and mute states are kept per mix, so switching changes what the target hears
without touching the routing matrix.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		target, err := (&resolver{cmd: cmd}).node(args[0])
		if err != nil {
			return err
		}
		var mix profile.Mix
		if err := mix.UnmarshalText([]byte(args[1])); err != nil {
			return err
		}

		_, err = sendPipewire(cmd, ipc.PipewireCommand{
			SetTargetMix: &ipc.SetTargetMix{Target: target, Mix: mix},
		})
		if err != nil {
			return err
		}
		fmt.Printf("Target %s now uses mix %s\n", args[0], mix)
		return nil
	},
}
