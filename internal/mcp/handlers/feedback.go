package handlers

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kolapsis/genie/internal/model"
	"github.com/kolapsis/genie/internal/pipeline"
)

// RecordFeedback returns a handler appending a feedback record.
func RecordFeedback(p *pipeline.Pipeline) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()

		userID, _ := args["user_id"].(string)
		kind, _ := args["kind"].(string)
		if userID == "" || kind == "" {
			return mcp.NewToolResultError("user_id and kind are required"), nil
		}

		rec := model.Feedback{Kind: model.FeedbackKind(kind)}
		rec.TaskID, _ = args["task_id"].(string)
		rec.SubtaskID, _ = args["subtask_id"].(string)
		if v, ok := args["actual_minutes"].(float64); ok {
			rec.ActualMinutes = int(v)
		}
		if v, ok := args["difficulty"].(float64); ok {
			rec.Difficulty = int(v)
		}
		if v, ok := args["energy"].(float64); ok {
			rec.Energy = int(v)
		}

		ack, err := p.RecordFeedback(ctx, userID, rec)
		if err != nil {
			return mcp.NewToolResultError("feedback failed: " + err.Error()), nil
		}

		return jsonResult(ack)
	}
}
