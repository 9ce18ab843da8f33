// Package mcp implements the Model Context Protocol server for Kiroku.
//
// The MCP server exposes the same capabilities as the HTTP API through
// MCP resources and tools, allowing MCP-compatible AI agents to record
// thoughts, plans, and changelog entries.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/kiroku-ai/kiroku/internal/auth"
	"github.com/kiroku-ai/kiroku/internal/storage"
)

// Server wraps the MCP server with Kiroku's storage layer.
type Server struct {
	mcpServer *mcpserver.MCPServer
	db        *storage.DB
	logger    *slog.Logger
}

// New creates and configures a new MCP server with all resources and tools.
func New(db *storage.DB, version string, logger *slog.Logger) *Server {
	s := &Server{
		db:     db,
		logger: logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"kiroku",
		version,
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
	)

	s.registerResources()
	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// agentIDFromContext resolves the agent attribution for a tool call. The
// StreamableHTTP transport carries the authenticated principal in the
// context; stdio sessions fall back to a fixed identity.
func agentIDFromContext(ctx context.Context) string {
	if p := auth.PrincipalFromContext(ctx); p != nil {
		return p.AgentID
	}
	return "mcp"
}

func (s *Server) registerResources() {
	// kiroku://plans/recent — most recently created plans.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"kiroku://plans/recent",
			"Recent Plans",
			mcplib.WithResourceDescription("Most recently created plans with dependencies and status"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handlePlansRecent,
	)

	// kiroku://changelog/recent — most recent changelog entries.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"kiroku://changelog/recent",
			"Recent Changelog",
			mcplib.WithResourceDescription("Most recent changelog entries with plan and thought citations"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleChangelogRecent,
	)
}

func (s *Server) handlePlansRecent(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	plans, _, err := s.db.ListPlans(ctx, 20, 0)
	if err != nil {
		return nil, fmt.Errorf("mcp: recent plans: %w", err)
	}

	data, err := json.MarshalIndent(plans, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal plans: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      "kiroku://plans/recent",
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleChangelogRecent(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	changes, _, err := s.db.ListChanges(ctx, 20, 0)
	if err != nil {
		return nil, fmt.Errorf("mcp: recent changelog: %w", err)
	}

	data, err := json.MarshalIndent(changes, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal changelog: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      "kiroku://changelog/recent",
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}

func jsonResult(v any) *mcplib.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("failed to serialize result: %v", err))
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}
}
