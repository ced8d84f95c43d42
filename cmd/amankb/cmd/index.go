package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	amerrors "github.com/Aman-CERP/amankb/internal/errors"
	"github.com/Aman-CERP/amankb/internal/index"
	"github.com/Aman-CERP/amankb/internal/output"
	"github.com/Aman-CERP/amankb/internal/profiling"
	"github.com/Aman-CERP/amankb/internal/watcher"
)

type indexOptions struct {
	notes       string
	force       bool
	watch       bool
	description string
	profile     profiling.Options
}

func newIndexCmd() *cobra.Command {
	var opts indexOptions

	cmd := &cobra.Command{
		Use:   "index <collection>",
		Short: "Bring a collection in line with a set of notes",
		Long: `Reconcile a collection with the complete set of notes in --notes.

--notes is either a JSON file holding an array of {"title", "body",
"createdAt"} objects or a directory of markdown files. New notes are
embedded and added, edited notes are re-embedded, and notes that are no
longer present are deleted. Unchanged notes cost nothing.

A collection remembers the embedding provider, model and chunk size it
was built with. If the configuration no longer matches, indexing stops
before any embedding call; restore the configuration or rebuild the
collection with --force.

Use --watch to keep reconciling whenever the notes change.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runIndex(ctx, cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.notes, "notes", "", "JSON notes file or markdown directory (required)")
	cmd.Flags().BoolVar(&opts.force, "force", false, "Delete every chunk and rebuild under the current provider")
	cmd.Flags().BoolVar(&opts.watch, "watch", false, "Reconcile again whenever the notes change")
	cmd.Flags().StringVar(&opts.description, "description", "", "Set the collection description")
	_ = cmd.MarkFlagRequired("notes")

	cmd.Flags().StringVar(&opts.profile.CPU, "cpuprofile", "", "Write a CPU profile to this file")
	cmd.Flags().StringVar(&opts.profile.Heap, "memprofile", "", "Write a heap profile to this file")
	cmd.Flags().StringVar(&opts.profile.Trace, "trace", "", "Write an execution trace to this file")
	for _, name := range []string{"cpuprofile", "memprofile", "trace"} {
		_ = cmd.Flags().MarkHidden(name)
	}

	return cmd
}

func runIndex(ctx context.Context, cmd *cobra.Command, collection string, opts indexOptions) (err error) {
	if opts.profile.Enabled() {
		prof, perr := profiling.Start(opts.profile)
		if perr != nil {
			return perr
		}
		defer func() {
			if serr := prof.Stop(); serr != nil && err == nil {
				err = serr
			}
		}()
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := a.newProvider()
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()

	out := output.New(cmd.OutOrStdout())
	rec := a.reconciler()

	run := func(force bool) (*index.Stats, error) {
		notes, err := a.loadNotes(ctx, opts.notes)
		if err != nil {
			return nil, err
		}
		out.Statusf("📚", "Reconciling %d notes into %q with %s/%s",
			len(notes), collection, p.Info().Provider, p.Info().EmbeddingModel)
		return rec.Reconcile(ctx, index.ReconcileRequest{
			Collection:  collection,
			Notes:       notes,
			Provider:    p,
			ChunkSize:   a.cfg.Indexing.ChunkSize,
			Force:       force,
			Description: opts.description,
			Progress: func(done, total int) {
				out.Progress(done, total, "notes")
			},
		})
	}

	stats, err := run(opts.force)
	if stats != nil {
		printStats(out, stats)
	}
	if err != nil {
		return err
	}
	if !opts.watch {
		if stats.Failed > 0 {
			return amerrors.New(amerrors.ErrCodeNoteFailed,
				fmt.Sprintf("%d notes failed", stats.Failed), nil).
				WithSuggestion("Fix or wait out the cause and run the same command again; only the failed notes are retried")
		}
		return nil
	}

	return watchAndReconcile(ctx, out, a.cfg.Indexing.DebounceDuration(), opts.notes, func() error {
		stats, err := run(false)
		if stats != nil {
			printStats(out, stats)
		}
		return err
	})
}

// watchAndReconcile calls reconcile after every debounced change to path
// until ctx is done. Guard failures stop the loop; other errors are shown
// and the watch continues.
func watchAndReconcile(ctx context.Context, out *output.Writer, debounce time.Duration,
	path string, reconcile func() error) error {
	opts := watcher.DefaultOptions()
	opts.DebounceWindow = debounce

	w, err := watcher.New(path, opts)
	if err != nil {
		return err
	}
	defer func() { _ = w.Stop() }()

	errCh := make(chan error, 1)
	go func() { errCh <- w.Start(ctx) }()

	out.Statusf("👀", "Watching %s (%s). Press Ctrl+C to stop.", w.Path(), w.Mode())
	werrs := w.Errors()
	for {
		select {
		case <-ctx.Done():
			out.Newline()
			out.Status("👋", "Stopped watching")
			return nil
		case err := <-errCh:
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		case werr, ok := <-werrs:
			if !ok {
				werrs = nil
				continue
			}
			slog.Warn("watch_error", slog.String("error", werr.Error()))
		case batch, ok := <-w.Events():
			if !ok {
				return nil
			}
			slog.Info("notes_changed", slog.Int("files", len(batch)))
			if err := reconcile(); err != nil {
				if isGuardError(err) || errors.Is(err, context.Canceled) {
					return err
				}
				out.Error(amerrors.FormatForCLI(err))
			}
		}
	}
}

// isGuardError reports errors that will repeat on every run until the
// user acts.
func isGuardError(err error) bool {
	return amerrors.HasCode(err, amerrors.ErrCodeConfigDrift) ||
		amerrors.HasCode(err, amerrors.ErrCodeUnversionedCollection) ||
		amerrors.HasCode(err, amerrors.ErrCodeDimensionMismatch)
}

func printStats(out *output.Writer, s *index.Stats) {
	if s.Rebuilt {
		out.Warning("Collection rebuilt from scratch")
	}
	msg := fmt.Sprintf("%s: %d added, %d updated, %d deleted, %d unchanged (%d chunks embedded in %s)",
		s.Collection, s.Added, s.Updated, s.Deleted, s.Unchanged, s.ChunksEmbedded, s.Duration.Round(time.Millisecond))
	if s.Failed == 0 {
		out.Success(msg)
		return
	}
	out.Warning(msg)
	out.Warningf("%d notes failed:", s.Failed)
	for _, f := range s.Failures {
		label := f.Title
		if label == "" {
			label = f.NoteID
		}
		out.Status("", fmt.Sprintf("%s: %s", label, failureMessage(f.Err)))
	}
}

func failureMessage(err error) string {
	if ae, ok := amerrors.As(err); ok {
		if ae.Cause != nil {
			return ae.Cause.Error()
		}
		return ae.Message
	}
	return err.Error()
}
