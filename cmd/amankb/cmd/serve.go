package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/amankb/internal/logging"
	"github.com/Aman-CERP/amankb/internal/mcp"
)

func newServeCmd() *cobra.Command {
	var transport string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server",
		Long: `Start the MCP server so AI assistants can search your collections.

The server speaks MCP over stdio and logs only to the log file under the
data directory, since stdout and stderr belong to the client.

Example client configuration:
  {"command": "amankb", "args": ["serve", "--dir", "/path/to/project"]}`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			level := a.cfg.Server.LogLevel
			if debugMode {
				level = "debug"
			}
			_ = stopLogging(nil, nil)
			cleanup, err := logging.SetupDefault(logging.ServeConfig(a.cfg.Indexing.DataDir, level))
			if err != nil {
				return fmt.Errorf("failed to setup logging: %w", err)
			}
			loggingCleanup = cleanup

			if transport == "" {
				transport = a.cfg.Server.Transport
			}

			s := a.searcher()
			defer func() { _ = s.Close() }()

			srv, err := mcp.NewServer(s)
			if err != nil {
				return err
			}
			slog.Info("serve_started",
				slog.String("root", a.root),
				slog.String("transport", transport))
			return srv.Serve(ctx, transport)
		},
	}
	cmd.Flags().StringVar(&transport, "transport", "", "Transport to serve on (default from config: stdio)")

	return cmd
}
