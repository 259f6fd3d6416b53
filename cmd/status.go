package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/pipecast/internal/ipc"
	"github.com/audiolibrelab/pipecast/internal/profile"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the daemon's nodes, routes and realized filters",
	Long: `Display the active profile of the running daemon: every node with its kind,
volume and mute state, the routing matrix, and the host filter nodes that
currently realize it.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := fetchStatus(cmd)
		if err != nil {
			return err
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(status)
		}

		printStatus(status)
		return nil
	},
}

func printStatus(status *ipc.DaemonStatus) {
	p := status.Audio.Profile

	fmt.Printf("=== SOURCES ===\n")
	for _, d := range p.Devices.Sources.Physical {
		fmt.Printf("%s  %s (physical)\n", d.ID, d.Name)
		if len(d.Match) > 0 {
			fmt.Printf("   match: %s\n", strings.Join(d.Match, ", "))
		}
		printSource(status, d.ID, d.Volumes, d.MuteStates)
	}
	for _, d := range p.Devices.Sources.Virtual {
		fmt.Printf("%s  %s (virtual)\n", d.ID, d.Name)
		printSource(status, d.ID, d.Volumes, d.MuteStates)
	}

	fmt.Printf("\n=== TARGETS ===\n")
	for _, d := range p.Devices.Targets.Physical {
		fmt.Printf("%s  %s (physical)\n", d.ID, d.Name)
		if len(d.Match) > 0 {
			fmt.Printf("   match: %s\n", strings.Join(d.Match, ", "))
		}
		fmt.Printf("   volume: %d, mix: %s, filter: %s\n", d.Volume, d.Mix, filterIDs(status, d.ID))
	}
	for _, d := range p.Devices.Targets.Virtual {
		fmt.Printf("%s  %s (virtual)\n", d.ID, d.Name)
		fmt.Printf("   volume: %d, mix: %s, filter: %s\n", d.Volume, d.Mix, filterIDs(status, d.ID))
	}

	fmt.Printf("\n=== ROUTES ===\n")
	for _, source := range p.RouteSources() {
		targets := p.RoutedTargets(source)
		names := make([]string, 0, len(targets))
		for _, target := range targets {
			names = append(names, nodeName(p, target))
		}
		if len(names) == 0 {
			names = append(names, "-")
		}
		fmt.Printf("%s -> %s\n", nodeName(p, source), strings.Join(names, ", "))
	}

	fmt.Printf("\n=== DAEMON ===\n")
	fmt.Printf("links: %d\n", status.Audio.Links)
	http := status.Config.HTTPSettings
	if http.Enabled {
		fmt.Printf("http: %s:%d (cors: %t)\n", http.BindAddress, http.Port, http.CorsEnabled)
	} else {
		fmt.Printf("http: disabled\n")
	}
}

func printSource(status *ipc.DaemonStatus, id profile.ID, volumes [2]uint8, mutes profile.MuteStates) {
	fmt.Printf("   volume: A=%d B=%d, filters: %s\n", volumes[profile.MixA], volumes[profile.MixB], filterIDs(status, id))
	for _, target := range []profile.MuteTarget{profile.TargetA, profile.TargetB} {
		state := mutes[target]
		if !state.Active {
			continue
		}
		scope := "all targets"
		if len(state.Targets) > 0 {
			names := make([]string, 0, len(state.Targets))
			for _, t := range state.Targets {
				names = append(names, nodeName(status.Audio.Profile, t))
			}
			scope = strings.Join(names, ", ")
		}
		fmt.Printf("   muted (%s): %s\n", target, scope)
	}
}

func filterIDs(status *ipc.DaemonStatus, id profile.ID) string {
	ids := status.Audio.Filters[id.String()]
	if len(ids) == 0 {
		return "pending"
	}
	parts := make([]string, 0, len(ids))
	for _, host := range ids {
		parts = append(parts, fmt.Sprint(host))
	}
	return strings.Join(parts, ", ")
}

func nodeName(p *profile.Profile, id profile.ID) string {
	if d, ok := p.Description(id); ok {
		return d.Name
	}
	return id.String()
}

func init() {
	statusCmd.Flags().Bool("json", false, "print the raw status document")
}
