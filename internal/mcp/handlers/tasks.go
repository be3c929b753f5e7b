package handlers

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kolapsis/genie/internal/model"
	"github.com/kolapsis/genie/internal/store"
)

// ListTasks returns a handler listing a user's tasks.
func ListTasks(st store.Store) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()

		userID, _ := args["user_id"].(string)
		if userID == "" {
			return mcp.NewToolResultError("user_id is required"), nil
		}

		filter := store.TaskFilter{}
		if status, ok := args["status"].(string); ok && status != "" {
			parsed := model.Status(status)
			if !parsed.Valid() {
				return mcp.NewToolResultError("unknown status " + status), nil
			}
			filter.Status = parsed
		}
		if limit, ok := args["limit"].(float64); ok && limit > 0 {
			filter.Limit = int(limit)
		}

		tasks, err := st.ListTasks(userID, filter)
		if err != nil {
			return mcp.NewToolResultError("listing tasks failed: " + err.Error()), nil
		}

		return jsonResult(map[string]any{"tasks": tasks})
	}
}

// GetAnalytics returns a handler for the derived per-user statistics view.
func GetAnalytics(st store.Store) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, _ := req.GetArguments()["user_id"].(string)
		if userID == "" {
			return mcp.NewToolResultError("user_id is required"), nil
		}

		analytics, err := st.GetAnalytics(userID)
		if err != nil {
			return mcp.NewToolResultError("analytics failed: " + err.Error()), nil
		}

		return jsonResult(analytics)
	}
}
