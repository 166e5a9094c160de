package cmd

import (
	"fmt"

	"github.com/javi11/zipxtract/internal/config"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var configInitForce bool

func init() {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create the configuration file",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := config.YAML(cfgManager.Snapshot())
			if err != nil {
				return err
			}
			fmt.Printf("# %s\n%s", cfgManager.Path(), data)
			return nil
		},
	}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.WriteDefault(afero.NewOsFs(), cfgManager.Path(), configInitForce); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", cfgManager.Path())
			return nil
		},
	}
	initCmd.Flags().BoolVarP(&configInitForce, "force", "f", false, "overwrite an existing file")

	configCmd.AddCommand(showCmd, initCmd)
	rootCmd.AddCommand(configCmd)
}
