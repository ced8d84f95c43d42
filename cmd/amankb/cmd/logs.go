package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"regexp"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amankb/internal/logging"
	"github.com/Aman-CERP/amankb/internal/output"
)

type logsOptions struct {
	follow  bool
	lines   int
	level   string
	filter  string
	noColor bool
	file    string
}

func newLogsCmd() *cobra.Command {
	var opts logsOptions

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "View amankb logs",
		Long: `Show the last lines of the amankb log file.

The MCP server logs under <data_dir>/logs/amankb.log, --debug runs log to
~/.amankb/logs/amankb.log. The first one found is shown.

Examples:
  amankb logs
  amankb logs -n 200 --level warn
  amankb logs -f --filter reconcile`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLogs(cmd, opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.follow, "follow", "f", false, "Follow log output")
	cmd.Flags().IntVarP(&opts.lines, "lines", "n", 50, "Number of lines to show")
	cmd.Flags().StringVar(&opts.level, "level", "", "Minimum level (debug|info|warn|error)")
	cmd.Flags().StringVar(&opts.filter, "filter", "", "Only show lines matching this regular expression")
	cmd.Flags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")
	cmd.Flags().StringVar(&opts.file, "file", "", "Path to a log file")

	return cmd
}

func runLogs(cmd *cobra.Command, opts logsOptions) error {
	path, err := findLogFile(opts.file)
	if err != nil {
		return err
	}

	var pattern *regexp.Regexp
	if opts.filter != "" {
		pattern, err = regexp.Compile(opts.filter)
		if err != nil {
			return fmt.Errorf("invalid filter pattern: %w", err)
		}
	}

	w := cmd.OutOrStdout()
	viewer := logging.NewViewer(logging.ViewerConfig{
		Level:   opts.level,
		Pattern: pattern,
		NoColor: opts.noColor || !output.IsTTY(w) || output.DetectNoColor(),
	}, w)

	_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Log file: %s\n", path)

	if !opts.follow {
		entries, err := viewer.Tail(path, opts.lines)
		if err != nil {
			return err
		}
		viewer.Print(entries)
		return nil
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	entries := make(chan logging.Entry, 100)
	errCh := make(chan error, 1)
	go func() { errCh <- viewer.Follow(ctx, path, entries) }()

	for {
		select {
		case e := <-entries:
			viewer.Print([]logging.Entry{e})
		case err := <-errCh:
			return err
		}
	}
}

// findLogFile prefers an explicit path, then the server log under the
// configured data directory, then the default debug log.
func findLogFile(explicit string) (string, error) {
	if explicit != "" {
		return logging.FindLogFile(explicit)
	}
	if _, cfg, err := loadConfig(); err == nil {
		path := logging.LogPathIn(cfg.Indexing.DataDir)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return logging.FindLogFile("")
}
