package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amankb/internal/config"
	"github.com/Aman-CERP/amankb/internal/output"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Manage amankb configuration.

Configuration is merged from defaults, the user config file
(~/.config/amankb/config.yaml), the project .amankb.yaml and AMANKB_*
environment variables, later sources winning.`,
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default user configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, backup, err := config.InitUserConfig(force)
			if err != nil {
				return err
			}
			out := output.New(cmd.OutOrStdout())
			if backup != "" {
				out.Statusf("💾", "Backed up previous config to %s", backup)
			}
			out.Successf("Wrote %s", path)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing config (a backup is kept)")

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			root, cfg, err := loadConfig()
			if err != nil {
				return err
			}
			data, err := cfg.Marshal()
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			_, _ = w.Write([]byte("# project: " + root + "\n"))
			_, err = w.Write(data)
			return err
		},
	}
}
