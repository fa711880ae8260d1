package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/SmitUplenchwar2687/Sieve/internal/config"
)

func newConfigCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create or inspect configuration files",
	}

	var output string
	initCmd := &cobra.Command{
		Use:     "init",
		Short:   "Write an example config file",
		Example: "  sieve config init --output sieve.yaml",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.WriteExample(output); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "Example config written to %s\n", output)
			return err
		},
	}
	initCmd.Flags().StringVarP(&output, "output", "o", "sieve.yaml", "output file path")

	storage := defaultStorageOptions()
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration after flags and defaults",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := resolveConfig(cmd, root, &storage)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if cfg.Storage.Redis.Password != "" {
				cfg.Storage.Redis.Password = "********"
			}
			data, err := config.Marshal(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	storage.addFlags(showCmd)

	cmd.AddCommand(initCmd, showCmd)
	return cmd
}
