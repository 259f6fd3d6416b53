package cmd

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/audiolibrelab/pipecast/internal/config"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `View and initialize PipeCast settings.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show resolved settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := yaml.Marshal(settings)
		if err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}
		if settings.File != "" {
			fmt.Printf("# %s\n", settings.File)
		}
		fmt.Print(string(out))
		fmt.Printf("# profile file: %s\n", settings.ProfilePath())
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a settings file with the default values",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfgFile
		if path == "" {
			path = config.DefaultFile()
		}
		if err := config.WriteDefaults(path); err != nil {
			return err
		}
		fmt.Printf("Settings written to %s\n", path)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
}
