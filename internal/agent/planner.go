package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kolapsis/genie/internal/llm"
	"github.com/kolapsis/genie/internal/model"
	"github.com/kolapsis/genie/internal/research"
)

// Subtask count and estimate bounds the planner enforces on model output.
const (
	minSubtasks        = 2
	maxSubtasks        = 5
	minEstimateMinutes = 15
	maxEstimateMinutes = model.MaxSchedulableMinutes
)

// Planner decomposes a task into short, ordered, executable subtasks and
// attaches at most one research resource to each.
type Planner struct {
	llm      Completer
	research research.Finder
}

// NewPlanner creates a Planner.
func NewPlanner(c Completer, r research.Finder) *Planner {
	return &Planner{llm: c, research: r}
}

type rawPlan struct {
	Subtasks []rawPlanSubtask `json:"subtasks"`
}

type rawPlanSubtask struct {
	Heading      string `json:"heading"`
	Details      string `json:"details"`
	TimeEstimate int    `json:"time_estimate_minutes"`
}

// Plan produces between 2 and 5 subtasks for the task, ordered so that
// earlier subtasks are prerequisites of later ones. An invalid model
// response is retried once with a clarifying suffix; a second failure
// returns the single fallback subtask (the task heading, 30 minutes) and
// llm.ErrInvalidOutput so the caller can flag the task for re-planning.
func (p *Planner) Plan(ctx context.Context, task *model.Task, prefs model.Preferences, now time.Time) ([]*model.Subtask, error) {
	taskJSON, err := json.Marshal(map[string]any{
		"heading":  task.Heading,
		"details":  task.Details,
		"deadline": task.Deadline,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding task: %w", err)
	}
	prefsJSON, err := json.Marshal(prefs)
	if err != nil {
		return nil, fmt.Errorf("encoding preferences: %w", err)
	}

	vars := map[string]string{
		"task_json":        string(taskJSON),
		"preferences_json": string(prefsJSON),
		"current_time_utc": now.UTC().Format(time.RFC3339),
		"clarify":          "",
	}

	plan, err := p.tryPlan(ctx, vars)
	if err != nil {
		if errors.Is(err, llm.ErrAuth) || errors.Is(err, llm.ErrTransient) {
			return p.fallback(task, now), err
		}
		slog.Warn("plan response invalid, retrying with clarification", "task_id", task.ID, "error", err)
		vars["clarify"] = "\n\nYour previous answer was not valid. Respond with ONLY a JSON object of the form " +
			`{"subtasks":[{"heading":"...","details":"...","time_estimate_minutes":20}]} and nothing else.`
		plan, err = p.tryPlan(ctx, vars)
		if err != nil {
			slog.Warn("plan retry failed, using fallback subtask", "task_id", task.ID, "error", err)
			return p.fallback(task, now), fmt.Errorf("%w: plan retry failed", llm.ErrInvalidOutput)
		}
	}

	subtasks := make([]*model.Subtask, 0, len(plan))
	for _, rs := range plan {
		sub := model.NewSubtask(rs.Heading, rs.Details, now)
		sub.TimeEstimate = clampEstimate(rs.TimeEstimate)
		if resources := p.research.FindResources(ctx, rs.Heading, 1); len(resources) > 0 {
			r := resources[0]
			sub.Resource = &r
		}
		subtasks = append(subtasks, sub)
	}
	return subtasks, nil
}

func (p *Planner) tryPlan(ctx context.Context, vars map[string]string) ([]rawPlanSubtask, error) {
	text, err := p.llm.CompleteJSON(ctx, "breakdown", vars)
	if err != nil {
		return nil, err
	}

	var plan rawPlan
	if err := json.Unmarshal([]byte(text), &plan); err != nil || len(plan.Subtasks) == 0 {
		// Some models return the bare array.
		var bare []rawPlanSubtask
		if err2 := json.Unmarshal([]byte(text), &bare); err2 != nil || len(bare) == 0 {
			return nil, fmt.Errorf("%w: expected a subtask list", llm.ErrInvalidOutput)
		}
		plan.Subtasks = bare
	}

	var out []rawPlanSubtask
	for _, rs := range plan.Subtasks {
		if rs.Heading == "" {
			continue
		}
		out = append(out, rs)
	}
	if len(out) < minSubtasks {
		return nil, fmt.Errorf("%w: got %d subtasks, need at least %d", llm.ErrInvalidOutput, len(out), minSubtasks)
	}
	if len(out) > maxSubtasks {
		out = out[:maxSubtasks]
	}
	return out, nil
}

// fallback is the degenerate one-subtask plan used when the model cannot
// produce a valid decomposition.
func (p *Planner) fallback(task *model.Task, now time.Time) []*model.Subtask {
	sub := model.NewSubtask(task.Heading, task.Details, now)
	sub.TimeEstimate = maxEstimateMinutes
	return []*model.Subtask{sub}
}

func clampEstimate(minutes int) int {
	if minutes < minEstimateMinutes {
		return minEstimateMinutes
	}
	if minutes > maxEstimateMinutes {
		return maxEstimateMinutes
	}
	return minutes
}
