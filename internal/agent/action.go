// Package agent holds the four pipeline agents: intent extraction, task
// decomposition, prioritization, and calendar scheduling. Agents receive
// read-only snapshots and return values; all state mutation happens in the
// pipeline's single writer path.
package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/kolapsis/genie/internal/model"
	"github.com/kolapsis/genie/internal/store"
)

// ActionKind discriminates the tagged Action variant.
type ActionKind string

const (
	ActionAdd           ActionKind = "add"
	ActionEdit          ActionKind = "edit"
	ActionMarkDone      ActionKind = "mark_done"
	ActionReschedule    ActionKind = "reschedule"
	ActionAddSubtask    ActionKind = "add_subtask"
	ActionDelete        ActionKind = "delete"
	ActionQueryProgress ActionKind = "query_progress"
	ActionQueryNext     ActionKind = "query_next"
)

// SubtaskSpec is the payload for subtasks carried by add and add_subtask.
type SubtaskSpec struct {
	Heading      string
	Details      string
	Deadline     *time.Time
	TimeEstimate int
}

// Action is one typed operation derived from a user utterance. Kind selects
// which payload fields are meaningful; dispatch is by kind, never by probing.
type Action struct {
	Kind ActionKind

	// add / edit payload
	Heading  string
	Details  string
	Deadline *time.Time
	Priority string
	Subtasks []SubtaskSpec

	// edit / mark_done / reschedule / add_subtask / delete target:
	// task ID, heading, or "last_task"
	Target string

	// add_subtask payload
	Subtask *SubtaskSpec
}

// NeedsTarget reports whether the action kind requires target resolution.
func (a Action) NeedsTarget() bool {
	switch a.Kind {
	case ActionEdit, ActionMarkDone, ActionReschedule, ActionAddSubtask, ActionDelete:
		return true
	}
	return false
}

// ResolveTarget finds the task an action refers to, in order: exact ID,
// case-insensitive heading equality, unique case-insensitive heading
// substring, then the literal "last_task" for the most recently created
// task. Ambiguous or unknown targets return an error and the action is
// dropped by the caller.
func ResolveTarget(snap *store.UserSnapshot, target string) (*model.Task, error) {
	if target == "" {
		return nil, fmt.Errorf("empty target")
	}

	if t := snap.Task(target); t != nil {
		return t, nil
	}

	if target == "last_task" {
		if t := snap.LastTask(); t != nil {
			return t, nil
		}
		return nil, fmt.Errorf("no tasks exist yet")
	}

	folded := strings.ToLower(target)
	for _, t := range snap.TasksByCreation() {
		if strings.ToLower(t.Heading) == folded {
			return t, nil
		}
	}

	var matches []*model.Task
	for _, t := range snap.TasksByCreation() {
		if strings.Contains(strings.ToLower(t.Heading), folded) {
			matches = append(matches, t)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return nil, fmt.Errorf("no task matches %q", target)
	default:
		return nil, fmt.Errorf("target %q is ambiguous (%d matches)", target, len(matches))
	}
}
