package cli

import (
	"github.com/spf13/cobra"

	"pkm-search/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the document tools over MCP stdio",
	Long: `Starts a Model Context Protocol server on stdio exposing search_documents,
ask_documents, chunk_context and reconcile_library.

Example client configuration:
  {
    "mcpServers": {
      "pkm": {
        "command": "/path/to/pkmctl",
        "args": ["mcp"]
      }
    }
  }`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return mcp.NewServer(engine, indexSvc).Serve(cmd.Context())
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Reconcile the index whenever documents change",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if watchFn == nil {
			return errNoWatcher
		}
		return watchFn(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd, watchCmd)
}
