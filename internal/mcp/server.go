// Package mcp exposes the pipeline as MCP tools so chat clients can drive
// Genie conversationally.
package mcp

import (
	"github.com/mark3labs/mcp-go/server"

	"github.com/kolapsis/genie/internal/pipeline"
	"github.com/kolapsis/genie/internal/store"
)

// Deps are the dependencies handed to tool handlers.
type Deps struct {
	Pipeline *pipeline.Pipeline
	Store    store.Store
	Version  string
}

// NewServer creates the MCP server with all Genie tools registered.
func NewServer(deps *Deps) *server.MCPServer {
	s := server.NewMCPServer(
		"Genie",
		deps.Version,
		server.WithToolCapabilities(true),
		server.WithLogging(),
	)

	registerTools(s, deps)

	return s
}
