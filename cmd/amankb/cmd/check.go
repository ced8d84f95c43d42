package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	amerrors "github.com/Aman-CERP/amankb/internal/errors"
	"github.com/Aman-CERP/amankb/internal/index"
	"github.com/Aman-CERP/amankb/internal/output"
)

func newCheckCmd() *cobra.Command {
	var repair bool

	cmd := &cobra.Command{
		Use:   "check [collection]",
		Short: "Check the provider or a collection's consistency",
		Long: `Without arguments, check that the configured provider is reachable,
that its models exist and report the embedding dimension it produces.

With a collection, verify every stored chunk against the collection's
recorded embedding contract. --repair deletes the chunks of broken notes
so the next index run rebuilds them.

Examples:
  amankb check
  amankb check journal
  amankb check journal --repair`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.New(cmd.OutOrStdout())
			if len(args) == 0 {
				return runProviderCheck(cmd.Context(), out)
			}
			return runCollectionCheck(cmd.Context(), out, args[0], repair)
		},
	}
	cmd.Flags().BoolVar(&repair, "repair", false, "Delete the chunks of notes with issues so they are re-indexed")

	return cmd
}

func runProviderCheck(ctx context.Context, out *output.Writer) error {
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

	info := p.Info()
	out.Heading("Provider")
	out.KeyValue("provider", info.Provider)
	out.KeyValue("embedding model", info.EmbeddingModel)
	if info.CompletionModel != "" {
		out.KeyValue("completion model", info.CompletionModel)
	}
	if info.Endpoint != "" {
		out.KeyValue("endpoint", info.Endpoint)
	}
	if info.APIKeyRef != "" {
		out.KeyValue("api key", info.APIKeyRef.String())
	}
	out.Newline()

	if err := p.VerifyModels(ctx); err != nil {
		out.Error("Model check failed")
		return err
	}
	av := p.CheckAvailability(ctx)
	if !av.Available {
		out.Error("Embedding probe failed")
		return av.Err
	}
	out.Successf("%s produces %d-dimensional embeddings", av.Model, av.Dimension)
	return nil
}

func runCollectionCheck(ctx context.Context, out *output.Writer, collection string, repair bool) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := index.CheckCollection(ctx, a.store, collection)
	if err != nil {
		return err
	}

	c := result.Contract
	out.Heading(collection)
	out.KeyValue("embedding", fmt.Sprintf("%s/%s (%d dims)", c.Provider.Provider, c.Provider.EmbeddingModel, c.Dimension))
	out.KeyValue("notes", result.Notes)
	out.KeyValue("chunks", result.Checked)
	out.Newline()

	if result.OK() {
		out.Successf("No issues found (%s)", result.Duration.Round(time.Microsecond))
		return nil
	}

	out.Warningf("%d issue(s) found", len(result.Issues))
	for _, is := range result.Issues {
		out.Statusf("", "%s %s: %s", is.Type, is.ChunkID, is.Details)
	}

	if !repair {
		return amerrors.New(amerrors.ErrCodeCorruptIndex,
			fmt.Sprintf("collection %q has %d consistency issue(s)", collection, len(result.Issues)), nil).
			WithSuggestion("Run 'amankb check " + collection + " --repair' and then index again")
	}

	deleted, err := index.Repair(ctx, a.store, collection, result.Issues)
	if err != nil {
		return err
	}
	out.Successf("Deleted %d chunk(s). Run 'amankb index %s --notes <path>' to rebuild them.", deleted, collection)
	return nil
}
