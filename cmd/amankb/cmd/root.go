// Package cmd provides the CLI commands for amankb.
package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	amerrors "github.com/Aman-CERP/amankb/internal/errors"
	"github.com/Aman-CERP/amankb/internal/logging"
	"github.com/Aman-CERP/amankb/pkg/version"
)

// Global flags
var (
	debugMode      bool
	projectDir     string
	loggingCleanup func()
)

// NewRootCmd creates the root command for the amankb CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "amankb",
		Short: "Incremental semantic index for personal notes",
		Long: `amankb keeps a vector index of your notes in sync with the notes
themselves. Each run embeds only what changed, and every collection
remembers the embedding model it was built with so queries never mix
vector spaces.

Index a JSON notes file or a directory of markdown notes, then search it
from the command line or from an AI assistant over MCP.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("amankb version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.amankb/logs/")
	cmd.PersistentFlags().StringVarP(&projectDir, "dir", "C", ".", "Project directory used to find .amankb.yaml and .env")

	cmd.PersistentPreRunE = startLogging
	cmd.PersistentPostRunE = stopLogging

	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newDescribeCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newCollectionsCmd())
	cmd.AddCommand(newCheckCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newSecretCmd())
	cmd.AddCommand(newLogsCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// startLogging installs the process logger. serve replaces it with a
// file-only logger once the data directory is known.
func startLogging(_ *cobra.Command, _ []string) error {
	cfg := logging.DefaultConfig()
	if debugMode {
		cfg = logging.DebugConfig("")
		cfg.WriteToStderr = false
	}
	cleanup, err := logging.SetupDefault(cfg)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	loggingCleanup = cleanup
	if debugMode {
		slog.Info("debug_logging_enabled",
			slog.String("log_file", cfg.FilePath),
			slog.String("version", version.Version))
	}
	return nil
}

func stopLogging(_ *cobra.Command, _ []string) error {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

// Execute runs the root command and prints any error for the terminal.
func Execute() error {
	err := NewRootCmd().Execute()
	if err != nil {
		printError(os.Stderr, err)
	}
	// PersistentPostRunE does not run after a failed command.
	_ = stopLogging(nil, nil)
	return err
}

func printError(w io.Writer, err error) {
	if debugMode {
		_, _ = fmt.Fprint(w, amerrors.FormatForUser(err, true))
		_, _ = fmt.Fprintln(w)
		return
	}
	_, _ = fmt.Fprint(w, amerrors.FormatForCLI(err))
}
