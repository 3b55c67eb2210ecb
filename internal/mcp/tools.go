package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"pkm-search/internal/contextutil"
	"pkm-search/internal/rag"
	"pkm-search/internal/service"
)

// MCP error codes
const (
	ErrorCodeInvalidParams        = -32602 // Invalid method parameters
	ErrorCodeInternalError        = -32603 // Internal JSON-RPC error
	ErrorCodeNotFound             = -32001 // Unknown chunk id
	ErrorCodeReconcileInProgress  = -32002 // Another reconcile is already running
	ErrorCodeEmptyQuery           = -32004 // Query parameter is empty
	ErrorCodeExternalServiceError = -32005 // Embedding or generation service failed
)

// handleSearchDocuments handles the search_documents tool invocation
func (s *Server) handleSearchDocuments(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx = withToolLogger(ctx, "search_documents")
	args := arguments(request)

	query := strings.TrimSpace(getStringDefault(args, "query", ""))
	if query == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}
	k, err := boundedInt(args, "k", rag.DefaultK, 1, rag.MaxK)
	if err != nil {
		return nil, err
	}

	resp, err := s.engine.Search(ctx, rag.SearchRequest{
		Query:   query,
		K:       k,
		Filters: filtersFrom(args),
	})
	if err != nil {
		return nil, toMCPError(ctx, "search failed", err)
	}
	return mcp.NewToolResultText(formatJSON(resp)), nil
}

// handleAskDocuments handles the ask_documents tool invocation
func (s *Server) handleAskDocuments(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx = withToolLogger(ctx, "ask_documents")
	args := arguments(request)

	question := strings.TrimSpace(getStringDefault(args, "question", ""))
	if question == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "question parameter is required and cannot be empty", map[string]interface{}{
			"param":  "question",
			"reason": "missing or empty",
		})
	}
	k, err := boundedInt(args, "k", rag.DefaultK, 1, rag.MaxK)
	if err != nil {
		return nil, err
	}
	maxCtx := getIntDefault(args, "max_ctx_chars", rag.DefaultMaxContextChars)
	if maxCtx < 1 {
		return nil, newMCPError(ErrorCodeInvalidParams, "max_ctx_chars must be positive", map[string]interface{}{
			"param": "max_ctx_chars",
			"value": maxCtx,
		})
	}

	resp, err := s.engine.Answer(ctx, rag.AnswerRequest{
		Query:           question,
		K:               k,
		Filters:         filtersFrom(args),
		MaxContextChars: maxCtx,
	})
	if err != nil {
		return nil, toMCPError(ctx, "answer failed", err)
	}
	return mcp.NewToolResultText(formatJSON(resp)), nil
}

// handleChunkContext handles the chunk_context tool invocation
func (s *Server) handleChunkContext(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx = withToolLogger(ctx, "chunk_context")
	args := arguments(request)

	if _, ok := args["id"]; !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "id parameter is required", map[string]interface{}{
			"param":  "id",
			"reason": "missing",
		})
	}
	id := getIntDefault(args, "id", -1)
	if id < 0 {
		return nil, newMCPError(ErrorCodeInvalidParams, "id must be a non-negative integer", map[string]interface{}{
			"param": "id",
			"value": args["id"],
		})
	}
	radius, err := boundedInt(args, "radius", 1, 0, 3)
	if err != nil {
		return nil, err
	}

	resp, err := s.engine.Context(ctx, int64(id), radius)
	if err != nil {
		return nil, toMCPError(ctx, "context lookup failed", err)
	}
	return mcp.NewToolResultText(formatJSON(resp)), nil
}

// handleReconcileLibrary handles the reconcile_library tool invocation
func (s *Server) handleReconcileLibrary(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx = withToolLogger(ctx, "reconcile_library")

	summary, err := s.reconciler.ReconcileLibrary(ctx)
	if !errors.Is(err, service.ErrReconcileInProgress) {
		s.engine.InvalidateCaches()
	}
	if err != nil {
		return nil, toMCPError(ctx, "reconcile failed", err)
	}
	return mcp.NewToolResultText(formatJSON(summary)), nil
}

func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// toMCPError classifies a service error into an MCP error code.
func toMCPError(ctx context.Context, message string, err error) error {
	code := ErrorCodeInternalError
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		code = ErrorCodeInvalidParams
	case errors.Is(err, service.ErrNotFound):
		code = ErrorCodeNotFound
	case errors.Is(err, service.ErrReconcileInProgress):
		code = ErrorCodeReconcileInProgress
	case errors.Is(err, service.ErrExternalService):
		code = ErrorCodeExternalServiceError
	}
	contextutil.LoggerFromContext(ctx).ErrorContext(ctx, message, "code", code, "error", err)
	return newMCPError(code, message, map[string]interface{}{
		"error": err.Error(),
	})
}

func withToolLogger(ctx context.Context, tool string) context.Context {
	return contextutil.WithLogger(ctx, contextutil.LoggerFromContext(ctx).With("tool", tool))
}

// arguments returns the call arguments, empty when the client sent none.
func arguments(request mcp.CallToolRequest) map[string]interface{} {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return map[string]interface{}{}
	}
	return args
}

func filtersFrom(args map[string]interface{}) rag.Filters {
	return rag.Filters{
		FileType:      strings.TrimSpace(getStringDefault(args, "file_type", "")),
		Tag:           strings.TrimSpace(getStringDefault(args, "tag", "")),
		ModifiedAfter: strings.TrimSpace(getStringDefault(args, "modified_after", "")),
	}
}

// boundedInt reads an optional integer and rejects values outside [lo, hi].
func boundedInt(args map[string]interface{}, key string, def, lo, hi int) (int, error) {
	v := getIntDefault(args, key, def)
	if v < lo || v > hi {
		return 0, newMCPError(ErrorCodeInvalidParams, fmt.Sprintf("%s must be between %d and %d", key, lo, hi), map[string]interface{}{
			"param": key,
			"value": v,
		})
	}
	return v, nil
}

// formatJSON formats a value as indented JSON
func formatJSON(data interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}
