package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/psantana5/rescue/internal/config"
)

var (
	configOutput string
	initPath     string
	initForce    bool
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
	Long:  `Commands for inspecting and creating the rescue configuration file.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Prints the configuration after defaults, the config file and RESCUE_*
environment variables have been applied.`,
	RunE: runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file with the defaults",
	RunE:  runConfigInit,
}

var configWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print the configuration every time the file changes",
	Long:  `Watches the config file and prints each valid revision until interrupted.`,
	RunE:  runConfigWatch,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configWatchCmd)

	configShowCmd.Flags().StringVarP(&configOutput, "output", "o", "yaml", "Output format: yaml, json")
	configInitCmd.Flags().StringVar(&initPath, "path", "", "file to write (default is $HOME/.rescue/config.yaml)")
	configInitCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing file")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	switch configOutput {
	case "yaml":
		return cfg.Dump(cmd.OutOrStdout())
	case "json":
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(cfg)
	default:
		return fmt.Errorf("unsupported output format: %s", configOutput)
	}
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := initPath
	if path == "" {
		var err error
		if path, err = config.DefaultPath(); err != nil {
			return err
		}
	}
	if err := config.WriteFile(path, config.Default(), initForce); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	return nil
}

func runConfigWatch(cmd *cobra.Command, args []string) error {
	file := loader.ConfigFile()
	if file == "" {
		return fmt.Errorf("no config file to watch, create one with 'rescue config init'")
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Watching %s (Ctrl+C to stop)\n", file)
	loader.Watch(func(c *config.Config) {
		fmt.Fprintln(out, "---")
		if err := c.Dump(out); err != nil {
			logger.Error("Failed to print config", map[string]interface{}{"error": err.Error()})
		}
	})

	<-commandContext(cmd).Done()
	return nil
}
