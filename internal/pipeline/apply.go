package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kolapsis/genie/internal/agent"
	"github.com/kolapsis/genie/internal/llm"
	"github.com/kolapsis/genie/internal/model"
	"github.com/kolapsis/genie/internal/notify"
	"github.com/kolapsis/genie/internal/store"
)

// applyAction mutates the draft snapshot for one action and reports the
// outcome. Validation and targeting failures are per-action results; the
// remaining actions still run.
func (p *Pipeline) applyAction(ctx context.Context, snap *store.UserSnapshot, action agent.Action, now time.Time) (ActionResult, []eventCleanup) {
	result := ActionResult{Kind: string(action.Kind)}

	var target *model.Task
	if action.NeedsTarget() {
		t, err := agent.ResolveTarget(snap, action.Target)
		if err != nil {
			result.Error = "not_found"
			result.Message = err.Error()
			return result, nil
		}
		target = t
	}

	switch action.Kind {
	case agent.ActionAdd:
		return p.applyAdd(ctx, snap, action, now)

	case agent.ActionEdit:
		if action.Heading != "" {
			target.Heading = action.Heading
		}
		if action.Details != "" {
			target.Details = action.Details
		}
		if action.Deadline != nil {
			target.Deadline = action.Deadline
		}
		target.UpdatedAt = now
		result.Ok = true
		result.TaskID = target.ID
		result.Message = fmt.Sprintf("updated %q", target.Heading)
		return result, nil

	case agent.ActionMarkDone:
		cleanups := collectEventCleanups(target, false)
		target.CascadeDone(now)
		result.Ok = true
		result.TaskID = target.ID
		result.Message = fmt.Sprintf("marked %q and its open subtasks done", target.Heading)
		p.hub.Notify(notify.Event{Type: "task.completed", UserID: snap.UserID, TaskID: target.ID, Message: target.Heading})
		return result, cleanups

	case agent.ActionReschedule:
		target.Deadline = action.Deadline
		target.UpdatedAt = now
		// A new deadline invalidates every calendar placement of the task.
		cleanups := collectEventCleanups(target, false)
		for _, sub := range target.Subtasks {
			sub.EventID = ""
			sub.EventStart = nil
			sub.EventEnd = nil
		}
		result.Ok = true
		result.TaskID = target.ID
		result.Message = fmt.Sprintf("moved %q to %s", target.Heading, action.Deadline.Format("2006-01-02"))
		return result, cleanups

	case agent.ActionAddSubtask:
		sub := model.NewSubtask(action.Subtask.Heading, action.Subtask.Details, now)
		sub.Deadline = action.Subtask.Deadline
		if action.Subtask.TimeEstimate > 0 {
			sub.TimeEstimate = action.Subtask.TimeEstimate
		} else {
			sub.TimeEstimate = model.MaxSchedulableMinutes
		}
		if sub.TimeEstimate > model.MaxSchedulableMinutes {
			// Too big for the calendar granule; flag the task for a
			// re-planning pass.
			target.NeedsPlanning = true
		}
		target.Subtasks = append(target.Subtasks, sub)
		target.UpdatedAt = now
		result.Ok = true
		result.TaskID = target.ID
		result.Message = fmt.Sprintf("added subtask %q to %q", sub.Heading, target.Heading)
		return result, nil

	case agent.ActionDelete:
		cleanups := collectEventCleanups(target, true)
		delete(snap.Tasks, target.ID)
		result.Ok = true
		result.TaskID = target.ID
		result.Message = fmt.Sprintf("deleted %q", target.Heading)
		return result, cleanups

	case agent.ActionQueryProgress:
		result.Ok = true
		result.Message = progressSummary(snap)
		return result, nil

	case agent.ActionQueryNext:
		result.Ok = true
		result.Message = "recommendation follows"
		return result, nil

	default:
		result.Error = "validation"
		result.Message = fmt.Sprintf("unsupported action kind %q", action.Kind)
		return result, nil
	}
}

func (p *Pipeline) applyAdd(ctx context.Context, snap *store.UserSnapshot, action agent.Action, now time.Time) (ActionResult, []eventCleanup) {
	result := ActionResult{Kind: string(agent.ActionAdd)}

	task := model.NewTask(action.Heading, action.Details, now)
	task.Deadline = action.Deadline

	if len(action.Subtasks) > 0 {
		// The utterance already spelled the subtasks out; no planning call.
		for _, spec := range action.Subtasks {
			sub := model.NewSubtask(spec.Heading, spec.Details, now)
			sub.Deadline = spec.Deadline
			if spec.TimeEstimate > 0 {
				sub.TimeEstimate = spec.TimeEstimate
			} else {
				sub.TimeEstimate = model.MaxSchedulableMinutes
			}
			if sub.TimeEstimate > model.MaxSchedulableMinutes {
				task.NeedsPlanning = true
			}
			task.Subtasks = append(task.Subtasks, sub)
		}
	} else {
		subtasks, err := p.planner.Plan(ctx, task, snap.Preferences, now)
		switch {
		case err == nil:
			task.Subtasks = subtasks
		case errors.Is(err, llm.ErrInvalidOutput):
			// The planner's degenerate one-subtask plan still lets work
			// start; keep the flag so a later pass can re-plan.
			task.Subtasks = subtasks
			task.NeedsPlanning = true
			slog.Warn("planner produced fallback plan", "task_id", task.ID, "error", err)
		default:
			task.NeedsPlanning = true
			slog.Warn("planning failed, task created without subtasks", "task_id", task.ID, "error", err)
		}
	}

	snap.Tasks[task.ID] = task
	result.Ok = true
	result.TaskID = task.ID
	result.Message = fmt.Sprintf("created %q with %d subtasks", task.Heading, len(task.Subtasks))
	p.hub.Notify(notify.Event{Type: "task.created", UserID: snap.UserID, TaskID: task.ID, Message: task.Heading})
	return result, nil
}

// collectEventCleanups gathers the calendar handles that an action
// invalidates. gone marks handles whose task will no longer exist.
func collectEventCleanups(task *model.Task, gone bool) []eventCleanup {
	var cleanups []eventCleanup
	for _, sub := range task.Subtasks {
		if sub.EventID != "" {
			cleanups = append(cleanups, eventCleanup{
				eventID:   sub.EventID,
				taskID:    task.ID,
				subtaskID: sub.ID,
				gone:      gone,
			})
		}
	}
	return cleanups
}

// progressSummary renders the status overview behind query_progress.
func progressSummary(snap *store.UserSnapshot) string {
	tasks := snap.TasksByCreation()
	if len(tasks) == 0 {
		return "no tasks yet"
	}

	out := fmt.Sprintf("%d tasks:", len(tasks))
	for _, t := range tasks {
		done, total := 0, len(t.Subtasks)
		for _, s := range t.Subtasks {
			if s.Status == model.StatusDone {
				done++
			}
		}
		out += fmt.Sprintf("\n- %q [%s]", t.Heading, t.Status)
		if total > 0 {
			out += fmt.Sprintf(" %d/%d subtasks done", done, total)
		}
		if t.Deadline != nil {
			out += " (due " + t.Deadline.Format("2006-01-02") + ")"
		}
	}
	return out
}
