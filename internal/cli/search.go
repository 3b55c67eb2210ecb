package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"pkm-search/internal/rag"
)

var (
	searchK       int
	filterType    string
	filterTag     string
	filterAfter   string
	askMaxContext int
	contextRadius int
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search indexed documents",
	Long:  `Embeds the query and returns the closest chunks from the index.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := engine.Search(cmd.Context(), rag.SearchRequest{
			Query:   args[0],
			K:       searchK,
			Filters: currentFilters(),
		})
		if err != nil {
			return fmt.Errorf("search failed: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd, resp)
		}
		printSources(cmd, resp.Results)
		return nil
	},
}

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Answer a question from the indexed documents",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := engine.Answer(cmd.Context(), rag.AnswerRequest{
			Query:           args[0],
			K:               searchK,
			Filters:         currentFilters(),
			MaxContextChars: askMaxContext,
		})
		if err != nil {
			return fmt.Errorf("ask failed: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd, resp)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, resp.Answer)
		if len(resp.Sources) > 0 {
			fmt.Fprintln(out)
			fmt.Fprintln(out, "Sources:")
			printSources(cmd, resp.Sources)
		}
		return nil
	},
}

var contextCmd = &cobra.Command{
	Use:   "context [id]",
	Short: "Show the chunks around a search result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || id < 0 {
			return fmt.Errorf("invalid id %q: must be a non-negative integer", args[0])
		}
		if contextRadius < 0 || contextRadius > 3 {
			return fmt.Errorf("radius must be between 0 and 3")
		}
		resp, err := engine.Context(cmd.Context(), id, contextRadius)
		if err != nil {
			return fmt.Errorf("context failed: %w", err)
		}
		if jsonOutput {
			return printJSON(cmd, resp)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s\n\n", resp.DocPath)
		for _, item := range resp.Context {
			marker := " "
			if item.ID == resp.Center {
				marker = ">"
			}
			fmt.Fprintf(out, "%s [%d] #%d\n%s\n\n", marker, item.ID, item.Position, item.Text)
		}
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{searchCmd, askCmd} {
		c.Flags().IntVarP(&searchK, "top-k", "k", rag.DefaultK, "number of results (1-20)")
		c.Flags().StringVar(&filterType, "type", "", "only documents of this file type")
		c.Flags().StringVar(&filterTag, "tag", "", "only documents whose tags contain this text")
		c.Flags().StringVar(&filterAfter, "modified-after", "", "only documents modified on or after this date")
	}
	askCmd.Flags().IntVar(&askMaxContext, "max-ctx-chars", rag.DefaultMaxContextChars, "context characters sent to the model")
	contextCmd.Flags().IntVarP(&contextRadius, "radius", "r", 1, "chunks on each side (0-3)")
	rootCmd.AddCommand(searchCmd, askCmd, contextCmd)
}

func currentFilters() rag.Filters {
	return rag.Filters{FileType: filterType, Tag: filterTag, ModifiedAfter: filterAfter}
}

func printSources(cmd *cobra.Command, sources []rag.Source) {
	out := cmd.OutOrStdout()
	if len(sources) == 0 {
		fmt.Fprintln(out, "No results found.")
		return
	}
	for i, s := range sources {
		fmt.Fprintf(out, "  [%d] %s #%d (%.3f) id=%d\n", i+1, s.DocPath, s.Position, s.Score, s.ID)
		if p := strings.TrimSpace(s.Preview); p != "" {
			fmt.Fprintf(out, "      %s\n", strings.ReplaceAll(p, "\n", " "))
		}
	}
}
