package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"pkm-search/internal/indexer"
)

var indexFull bool

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Bring the index up to date with the document roots",
	Long: `Reconciles the vector index with the document roots: new and changed files
are chunked and embedded, deleted files are removed, unchanged files are skipped.

Use --full to clear everything first and rebuild from scratch.`,
	Args: cobra.NoArgs,
	RunE: runIndex,
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear the vector index, document map and metadata",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		removed, err := indexSvc.Reset(cmd.Context())
		if err != nil {
			return fmt.Errorf("reset failed: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd, map[string]any{"ok": true, "removed": removed})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Cleared: %v\n", removed)
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show index statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		stats, err := indexSvc.Stats(cmd.Context())
		if err != nil {
			return fmt.Errorf("stats failed: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd, stats)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Documents:     %d (tracked %d)\n", stats.Documents, stats.TrackedDocuments)
		fmt.Fprintf(cmd.OutOrStdout(), "Chunks:        %d\n", stats.Chunks)
		fmt.Fprintf(cmd.OutOrStdout(), "Vectors:       %d (tracked %d, consistent %v)\n", stats.Vectors, stats.TrackedVectors, stats.Consistent)
		fmt.Fprintf(cmd.OutOrStdout(), "Dimension:     %d\n", stats.IndexDim)
		fmt.Fprintf(cmd.OutOrStdout(), "Next id:       %d\n", stats.NextVectorID)
		fmt.Fprintf(cmd.OutOrStdout(), "Failures:      %d pending\n", len(stats.PendingFailures))
		fmt.Fprintf(cmd.OutOrStdout(), "Index version: %s (chunker %s)\n", stats.IndexVersion, stats.ChunkerVersion)
		return nil
	},
}

func init() {
	indexCmd.Flags().BoolVar(&indexFull, "full", false, "reset and rebuild the whole index")
	rootCmd.AddCommand(indexCmd, resetCmd, statsCmd)
}

func runIndex(cmd *cobra.Command, _ []string) error {
	run := indexSvc.ReconcileLibrary
	if indexFull {
		run = indexSvc.Reindex
	}
	summary, err := run(cmd.Context())
	if err != nil {
		return fmt.Errorf("index failed: %w", err)
	}
	if jsonOutput {
		return printJSON(cmd, summary)
	}
	printSummary(cmd, summary)
	return nil
}

func printSummary(cmd *cobra.Command, s indexer.Summary) {
	fmt.Fprintf(cmd.OutOrStdout(), "Files seen:    %d\n", s.FilesSeen)
	fmt.Fprintf(cmd.OutOrStdout(), "Changed:       %d (%d chunks added)\n", s.DocsChanged, s.ChunksAdded)
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted:       %d (%d vectors removed)\n", s.DocsDeleted, s.IDsRemoved)
	if s.DocsFailed > 0 || s.DocsDeferred > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "Failed:        %d (%d deferred)\n", s.DocsFailed, s.DocsDeferred)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Elapsed:       %.3fs\n", s.Elapsed)
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
