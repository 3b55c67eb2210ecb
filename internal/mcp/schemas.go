package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// filterProperties are the optional metadata filters shared by search and ask.
func filterProperties(props map[string]interface{}) map[string]interface{} {
	props["file_type"] = map[string]interface{}{
		"type":        "string",
		"description": "Only documents of this type (extension without dot, e.g. md, txt)",
	}
	props["tag"] = map[string]interface{}{
		"type":        "string",
		"description": "Only documents whose tags contain this text (case-insensitive)",
	}
	props["modified_after"] = map[string]interface{}{
		"type":        "string",
		"description": "Only documents modified on or after this ISO date (e.g. 2024-05-01)",
	}
	return props
}

// searchDocumentsTool returns the tool definition for search_documents
func searchDocumentsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_documents",
		Description: "Semantic search over the indexed personal documents",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: filterProperties(map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Natural language query",
				},
				"k": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results (1-20)",
					"default":     5,
					"minimum":     1,
					"maximum":     20,
				},
			}),
			Required: []string{"query"},
		},
	}
}

// askDocumentsTool returns the tool definition for ask_documents
func askDocumentsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "ask_documents",
		Description: "Answer a question using only the indexed personal documents, with sources",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: filterProperties(map[string]interface{}{
				"question": map[string]interface{}{
					"type":        "string",
					"description": "The question to answer",
				},
				"k": map[string]interface{}{
					"type":        "integer",
					"description": "Number of chunks to ground the answer in (1-20)",
					"default":     5,
					"minimum":     1,
					"maximum":     20,
				},
				"max_ctx_chars": map[string]interface{}{
					"type":        "integer",
					"description": "Upper bound on context characters sent to the model",
					"default":     2400,
				},
			}),
			Required: []string{"question"},
		},
	}
}

// chunkContextTool returns the tool definition for chunk_context
func chunkContextTool() mcp.Tool {
	return mcp.Tool{
		Name:        "chunk_context",
		Description: "Read the chunks surrounding a search result",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"id": map[string]interface{}{
					"type":        "integer",
					"description": "Result id returned by search_documents or ask_documents",
				},
				"radius": map[string]interface{}{
					"type":        "integer",
					"description": "Chunks to include on each side (0-3)",
					"default":     1,
					"minimum":     0,
					"maximum":     3,
				},
			},
			Required: []string{"id"},
		},
	}
}

// reconcileLibraryTool returns the tool definition for reconcile_library
func reconcileLibraryTool() mcp.Tool {
	return mcp.Tool{
		Name:        "reconcile_library",
		Description: "Bring the index up to date with the document folders (incremental)",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}
