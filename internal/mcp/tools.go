package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kolapsis/genie/internal/mcp/handlers"
)

func registerTools(s *server.MCPServer, deps *Deps) {
	// handle_utterance — run the full pipeline on a natural-language statement
	s.AddTool(
		mcp.NewTool("handle_utterance",
			mcp.WithDescription("Process a natural-language task statement: extract intents, update tasks, and return the recommended next action."),
			mcp.WithString("user_id",
				mcp.Required(),
				mcp.Description("Identifier of the user whose tasks are affected"),
			),
			mcp.WithString("utterance",
				mcp.Required(),
				mcp.Description("The user's statement, e.g. 'Learn Python by end of September'"),
			),
		),
		handlers.HandleUtterance(deps.Pipeline),
	)

	// list_tasks — list a user's tasks
	s.AddTool(
		mcp.NewTool("list_tasks",
			mcp.WithDescription("List a user's tasks ordered by creation time, with subtasks and statuses."),
			mcp.WithString("user_id",
				mcp.Required(),
				mcp.Description("Identifier of the user"),
			),
			mcp.WithString("status",
				mcp.Description("Filter by status"),
				mcp.Enum("pending", "in_progress", "done", "cancelled"),
			),
			mcp.WithNumber("limit",
				mcp.Description("Maximum number of tasks to return"),
			),
		),
		handlers.ListTasks(deps.Store),
	)

	// get_recommendation — current best next action
	s.AddTool(
		mcp.NewTool("get_recommendation",
			mcp.WithDescription("Return the single best next subtask for the user given their calendar and energy profile."),
			mcp.WithString("user_id",
				mcp.Required(),
				mcp.Description("Identifier of the user"),
			),
		),
		handlers.GetRecommendation(deps.Pipeline),
	)

	// record_feedback — append a feedback record
	s.AddTool(
		mcp.NewTool("record_feedback",
			mcp.WithDescription("Record feedback after working: completion, difficulty, energy, or scheduling."),
			mcp.WithString("user_id",
				mcp.Required(),
				mcp.Description("Identifier of the user"),
			),
			mcp.WithString("kind",
				mcp.Required(),
				mcp.Description("Feedback kind"),
				mcp.Enum("task_completion", "scheduling", "difficulty", "energy"),
			),
			mcp.WithString("task_id",
				mcp.Description("Task the feedback refers to"),
			),
			mcp.WithString("subtask_id",
				mcp.Description("Subtask the feedback refers to"),
			),
			mcp.WithNumber("actual_minutes",
				mcp.Description("Minutes the work actually took"),
			),
			mcp.WithNumber("difficulty",
				mcp.Description("Perceived difficulty, 1–10"),
			),
			mcp.WithNumber("energy",
				mcp.Description("Energy level while working, 1–10"),
			),
		),
		handlers.RecordFeedback(deps.Pipeline),
	)

	// get_analytics — derived per-user statistics
	s.AddTool(
		mcp.NewTool("get_analytics",
			mcp.WithDescription("Return task counts by status, completion rate, estimate accuracy, and the energy histogram."),
			mcp.WithString("user_id",
				mcp.Required(),
				mcp.Description("Identifier of the user"),
			),
		),
		handlers.GetAnalytics(deps.Store),
	)
}
