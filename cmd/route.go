package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/pipecast/internal/ipc"
)

var routeCmd = &cobra.Command{
	Use:   "route",
	Short: "Query and change the routing matrix",
}

var routeSetCmd = &cobra.Command{
	Use:   "set <source> <target> <on|off>",
	Short: "Enable or disable a route from a source to a target",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		r := &resolver{cmd: cmd}
		source, err := r.node(args[0])
		if err != nil {
			return err
		}
		target, err := r.node(args[1])
		if err != nil {
			return err
		}
		enabled, err := parseBool(args[2])
		if err != nil {
			return err
		}

		_, err = sendPipewire(cmd, ipc.PipewireCommand{
			SetRoute: &ipc.SetRoute{Source: source, Target: target, Enabled: enabled},
		})
		if err != nil {
			return err
		}
		fmt.Printf("Route %s -> %s %s\n", args[0], args[1], onOff(enabled))
		return nil
	},
}

var routeGetCmd = &cobra.Command{
	Use:   "get <source> <target>",
	Short: "Show whether a route from a source to a target is enabled",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		r := &resolver{cmd: cmd}
		ids, err := r.nodes(args)
		if err != nil {
			return err
		}

		resp, err := sendPipewire(cmd, ipc.PipewireCommand{
			GetRoute: &ipc.GetRoute{Source: ids[0], Target: ids[1]},
		})
		if err != nil {
			return err
		}
		if resp.RouteState == nil {
			return fmt.Errorf("unexpected response from daemon")
		}
		fmt.Println(onOff(*resp.RouteState))
		return nil
	},
}

func onOff(enabled bool) string {
	if enabled {
		return "on"
	}
	return "off"
}

func init() {
	routeCmd.AddCommand(routeSetCmd)
	routeCmd.AddCommand(routeGetCmd)
}
