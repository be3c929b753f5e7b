// Package handlers implements the MCP tool handlers. Each handler is a
// closure over its dependencies, defined at the consumer side.
package handlers

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kolapsis/genie/internal/pipeline"
)

// HandleUtterance returns a handler running the full pipeline for one
// natural-language statement.
func HandleUtterance(p *pipeline.Pipeline) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()

		userID, _ := args["user_id"].(string)
		utterance, _ := args["utterance"].(string)
		if userID == "" || utterance == "" {
			return mcp.NewToolResultError("user_id and utterance are required"), nil
		}

		resp, err := p.HandleUtterance(ctx, userID, utterance)
		if err != nil {
			return mcp.NewToolResultError("utterance failed: " + err.Error()), nil
		}

		return jsonResult(resp)
	}
}

// GetRecommendation returns a handler computing the current best next
// subtask.
func GetRecommendation(p *pipeline.Pipeline) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, _ := req.GetArguments()["user_id"].(string)
		if userID == "" {
			return mcp.NewToolResultError("user_id is required"), nil
		}

		rec, err := p.Recommendation(ctx, userID)
		if err != nil {
			return mcp.NewToolResultError("recommendation failed: " + err.Error()), nil
		}

		return jsonResult(rec)
	}
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError("encoding result: " + err.Error()), nil
	}
	return mcp.NewToolResultText(string(raw)), nil
}
