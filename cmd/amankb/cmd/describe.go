package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amankb/internal/output"
)

func newDescribeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "describe <collection> <description>",
		Short: "Set a collection's description without reindexing",
		Long: `Replace the description shown by 'amankb collections' and to MCP
clients. No notes are read and no embedding calls are made.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			description := strings.Join(args[1:], " ")
			if err := a.reconciler().UpdateDescriptionOnly(cmd.Context(), args[0], description); err != nil {
				return err
			}
			output.New(cmd.OutOrStdout()).Successf("Updated description of %q", args[0])
			return nil
		},
	}
}
