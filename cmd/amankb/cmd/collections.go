package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	amerrors "github.com/Aman-CERP/amankb/internal/errors"
	"github.com/Aman-CERP/amankb/internal/output"
	"github.com/Aman-CERP/amankb/internal/search"
	"github.com/Aman-CERP/amankb/internal/store"
)

func newCollectionsCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "collections",
		Aliases: []string{"ls"},
		Short:   "List indexed collections",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			s := a.searcher()
			defer func() { _ = s.Close() }()

			collections, err := s.ListCollections(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput {
				if collections == nil {
					collections = []search.CollectionSummary{}
				}
				return encodeJSON(cmd.OutOrStdout(), collections)
			}
			printCollections(output.New(cmd.OutOrStdout()), collections)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	cmd.AddCommand(newCollectionsRemoveCmd())
	return cmd
}

func printCollections(out *output.Writer, collections []search.CollectionSummary) {
	if len(collections) == 0 {
		out.Status("📭", "No collections yet. Create one with 'amankb index <collection> --notes <path>'.")
		return
	}
	for i, c := range collections {
		if i > 0 {
			out.Newline()
		}
		out.Heading(c.Name)
		if c.Description != "" {
			out.KeyValue("description", c.Description)
		}
		out.KeyValue("notes", c.Notes)
		out.KeyValue("chunks", c.Chunks)
		if c.EmbeddingModel != "" {
			out.KeyValue("embedding", fmt.Sprintf("%s/%s (%d dims)", c.EmbeddingProvider, c.EmbeddingModel, c.Dimension))
		} else {
			out.KeyValue("embedding", "unversioned")
		}
		if c.LastUpdatedAt != "" {
			out.KeyValue("updated", c.LastUpdatedAt)
		}
	}
}

func newCollectionsRemoveCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:     "rm <collection>",
		Aliases: []string{"remove", "delete"},
		Short:   "Delete a collection with all its chunks and metadata",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if err := store.ValidateCollectionName(name); err != nil {
				return err
			}
			if !yes {
				return fmt.Errorf("refusing to delete %q without --yes", name)
			}

			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			info, err := a.store.Info(cmd.Context(), name)
			if err != nil {
				return err
			}
			if info.Chunks == 0 && len(info.Metadata) == 0 {
				return amerrors.New(amerrors.ErrCodeCollectionNotFound,
					fmt.Sprintf("collection %q not found", name), nil)
			}
			if err := a.store.DeleteCollection(cmd.Context(), name); err != nil {
				return err
			}
			output.New(cmd.OutOrStdout()).Successf("Deleted %q (%d notes, %d chunks)", name, info.Notes, info.Chunks)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Confirm deletion")
	return cmd
}
