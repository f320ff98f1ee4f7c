package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/viveksaraswat123/medical-chatbot/internal/app"
	"github.com/viveksaraswat123/medical-chatbot/internal/rag"
	"github.com/viveksaraswat123/medical-chatbot/pkg/config"
)

func newRootCmd(cfg *config.Config) *cobra.Command {
	var verbose bool
	root := &cobra.Command{
		Use:          "medibot-index",
		Short:        "Build and query the MediBot knowledge index",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			if verbose {
				cfg.LogLevel = "debug"
			}
			slog.SetDefault(cfg.Logger(cmd.ErrOrStderr()))
		},
	}
	root.PersistentFlags().StringVar(&cfg.KnowledgeBaseDir, "corpus", cfg.KnowledgeBaseDir, "knowledge base directory")
	root.PersistentFlags().StringVar(&cfg.VectorStoreDir, "index", cfg.VectorStoreDir, "index directory")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(newRebuildCmd(cfg), newSearchCmd(cfg), newStatusCmd(cfg))
	return root
}

func newRebuildCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild",
		Short: "Re-read the corpus and replace the persisted index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			manager, err := app.NewIndexManager(cfg, nil)
			if err != nil {
				return err
			}

			start := time.Now()
			ctx := rag.WithProgress(cmd.Context(), func(done, total int) {
				slog.Debug("embedding", "done", done, "total", total)
			})
			idx, err := manager.Rebuild(ctx)
			if err != nil {
				return fmt.Errorf("rebuild failed: %w", err)
			}
			cmd.Printf("Indexed %d chunks with %s in %s\n", idx.Len(), idx.ModelID(), time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
}

func newSearchCmd(cfg *config.Config) *cobra.Command {
	var (
		k      int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Show the passages retrieved for a query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := app.NewIndexManager(cfg, nil)
			if err != nil {
				return err
			}
			hits, err := app.NewRetriever(cfg, manager, nil).RetrieveScored(cmd.Context(), args[0], k)
			if err != nil {
				return fmt.Errorf("search failed: %w", err)
			}

			if asJSON {
				data, err := json.MarshalIndent(hits, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to marshal results: %w", err)
				}
				cmd.Println(string(data))
				return nil
			}
			if len(hits) == 0 {
				cmd.Println("No results found.")
				return nil
			}
			for i, h := range hits {
				cmd.Printf("  [%d] %s#%d (%.2f)\n", i+1, h.SourceID, h.Index, h.Score)
				cmd.Printf("      %s\n", h.Text)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&k, "top-k", "k", 0, "number of passages (0 uses RETRIEVAL_K)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "output results as JSON")
	return cmd
}

func newStatusCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Describe the persisted index without loading it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := rag.ReadManifest(cfg.VectorStoreDir)
			if errors.Is(err, fs.ErrNotExist) {
				cmd.Printf("No index at %s\n", cfg.VectorStoreDir)
				return nil
			}
			if err != nil {
				return err
			}
			cmd.Printf("Index:    %s\n", cfg.VectorStoreDir)
			cmd.Printf("Model:    %s\n", m.ModelID)
			cmd.Printf("Chunks:   %d (dim %d)\n", m.Count, m.Dimension)
			cmd.Printf("Built at: %s\n", m.BuiltAt.Format(time.RFC3339))
			return nil
		},
	}
}
