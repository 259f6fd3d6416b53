package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/audiolibrelab/pipecast/internal/ipc"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Persist or reload the daemon's profile",
}

var profileSaveCmd = &cobra.Command{
	Use:   "save",
	Short: "Write the daemon's current profile to disk",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := send(cmd, ipc.Daemon(ipc.SaveProfile)); err != nil {
			return err
		}
		fmt.Println("Profile saved")
		return nil
	},
}

var profileReloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Discard in-memory changes and reload the profile from disk",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := send(cmd, ipc.Daemon(ipc.ReloadProfile)); err != nil {
			return err
		}
		fmt.Println("Profile reloaded")
		return nil
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the daemon, removing everything it created on the host",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := send(cmd, ipc.Daemon(ipc.StopDaemon)); err != nil {
			return err
		}
		fmt.Println("Daemon stopping")
		return nil
	},
}

func init() {
	profileCmd.AddCommand(profileSaveCmd)
	profileCmd.AddCommand(profileReloadCmd)
	rootCmd.AddCommand(stopCmd)
}
