package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/tikaramgahane2k4/khetbook/internal/config"
	"github.com/tikaramgahane2k4/khetbook/internal/ui"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "advanced",
	Short:   "Create or inspect the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:         "init [path]",
	Short:       "Write a configuration file with the default settings",
	Args:        cobra.MaximumNArgs(1),
	Annotations: map[string]string{skipConfig: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		path := config.DefaultFileName
		switch {
		case len(args) == 1:
			path = args[0]
		case cfgFile != "":
			path = cfgFile
		}

		if err := config.Write(path, config.DefaultConfig(), force); err != nil {
			if errors.Is(err, fs.ErrExist) {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			return err
		}
		fmt.Printf("%s Wrote %s\n", ui.RenderPass("✓"), path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the configuration after merging defaults, the config file,
KHETBOOK_* environment variables and command-line flags.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if file := loader.File(); file != "" {
			fmt.Println(ui.RenderMuted("# from " + file))
		} else {
			fmt.Println(ui.RenderMuted("# no config file; defaults and environment"))
		}
		return toml.NewEncoder(os.Stdout).Encode(cfg)
	},
}

func init() {
	configInitCmd.Flags().Bool("force", false, "Overwrite an existing file")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
