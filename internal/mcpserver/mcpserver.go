// Package mcpserver exposes the memory engine to MCP clients over stdio.
// Agents wire it as a tool server (memory_search, memory_context,
// memory_stats) instead of talking to the HTTP gateway; run it with the
// `engramd mcp` subcommand.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/engramd/engramd/internal/memory"
)

// Engine is the retrieval-side subset of the memory engine the tool
// surface needs.
type Engine interface {
	GetRelevantMemories(ctx context.Context, owner, query string) (memory.RetrievalResult, error)
	GetMemoryContext(ctx context.Context, owner, query string) (string, error)
	GetMemoryStats(ctx context.Context, owner string) (memory.Stats, error)
}

// Server wraps an MCP stdio server over the memory engine.
type Server struct {
	engine Engine
	logger *slog.Logger
	mcp    *server.MCPServer
}

// New builds the tool server. The version string shows up in the MCP
// initialize handshake.
func New(engine Engine, logger *slog.Logger, version string) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{engine: engine, logger: logger}

	srv := server.NewMCPServer("engramd", version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	srv.AddTool(mcp.NewTool("memory_search",
		mcp.WithDescription("Search a user's long-term memories. Returns records ranked by relevance (similarity weighted by importance)."),
		mcp.WithString("user_id", mcp.Required(), mcp.Description("User whose memories to search")),
		mcp.WithString("query", mcp.Required(), mcp.Description("Free-text query")),
	), s.handleSearch)

	srv.AddTool(mcp.NewTool("memory_context",
		mcp.WithDescription("Build a ready-to-inject prompt context block from a user's memories relevant to the query. Returns an empty string when nothing matches."),
		mcp.WithString("user_id", mcp.Required(), mcp.Description("User whose memories to use")),
		mcp.WithString("query", mcp.Required(), mcp.Description("The message the context should be relevant to")),
	), s.handleContext)

	srv.AddTool(mcp.NewTool("memory_stats",
		mcp.WithDescription("Summarize a user's memory store: total count, counts per type, average importance, and records created in the last week."),
		mcp.WithString("user_id", mcp.Required(), mcp.Description("User to summarize")),
	), s.handleStats)

	s.mcp = srv
	return s
}

// ServeStdio blocks serving MCP requests on stdin/stdout until the
// client disconnects.
func (s *Server) ServeStdio() error {
	s.logger.Info("mcp server listening on stdio")
	return server.ServeStdio(s.mcp)
}

// searchHit is the wire shape for one memory_search result.
type searchHit struct {
	ID         string      `json:"id"`
	Content    string      `json:"content"`
	Type       memory.Type `json:"type"`
	Importance float64     `json:"importance"`
	Relevance  float64     `json:"relevance"`
}

func (s *Server) handleSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, err := req.RequireString("user_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result, err := s.engine.GetRelevantMemories(ctx, userID, query)
	if err != nil {
		s.logger.Warn("mcp: search failed", "user", userID, "error", err)
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}

	hits := make([]searchHit, 0, len(result.Memories))
	for _, m := range result.Memories {
		hits = append(hits, searchHit{
			ID:         m.ID,
			Content:    m.Content,
			Type:       m.Type,
			Importance: m.Importance,
			Relevance:  m.Relevance,
		})
	}

	return jsonResult(struct {
		Memories []searchHit `json:"memories"`
		Found    int         `json:"found"`
		Degraded bool        `json:"degraded,omitempty"`
	}{hits, result.Found, result.Degraded})
}

func (s *Server) handleContext(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, err := req.RequireString("user_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	block, err := s.engine.GetMemoryContext(ctx, userID, query)
	if err != nil {
		s.logger.Warn("mcp: context build failed", "user", userID, "error", err)
		return mcp.NewToolResultError(fmt.Sprintf("context build failed: %v", err)), nil
	}

	return mcp.NewToolResultText(block), nil
}

func (s *Server) handleStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, err := req.RequireString("user_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	stats, err := s.engine.GetMemoryStats(ctx, userID)
	if err != nil {
		s.logger.Warn("mcp: stats failed", "user", userID, "error", err)
		return mcp.NewToolResultError(fmt.Sprintf("stats failed: %v", err)), nil
	}

	return jsonResult(stats)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("mcpserver: marshal result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
