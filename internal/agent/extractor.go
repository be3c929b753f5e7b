package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/kolapsis/genie/internal/model"
	"github.com/kolapsis/genie/internal/store"
)

// Completer is the slice of the LLM client the agents depend on.
type Completer interface {
	CompleteJSON(ctx context.Context, template string, vars map[string]string) (string, error)
}

// Extractor turns a user utterance plus the current task graph into an
// ordered list of typed actions.
type Extractor struct {
	llm Completer
}

// NewExtractor creates an Extractor backed by the given completer.
func NewExtractor(c Completer) *Extractor {
	return &Extractor{llm: c}
}

// rawAction mirrors the JSON shape the extraction prompt requests.
type rawAction struct {
	Action       string           `json:"action"`
	Heading      string           `json:"heading"`
	Details      string           `json:"details"`
	Deadline     string           `json:"deadline"`
	Priority     string           `json:"priority"`
	Target       string           `json:"target"`
	TimeEstimate int              `json:"time_estimate"`
	Subtask      *rawSubtaskSpec  `json:"subtask"`
	Subtasks     []rawSubtaskSpec `json:"subtasks"`
}

type rawSubtaskSpec struct {
	Heading      string `json:"heading"`
	Details      string `json:"details"`
	Deadline     string `json:"deadline"`
	TimeEstimate int    `json:"time_estimate"`
}

// Extract returns the actions found in the utterance, in the order the
// model produced them, plus human-readable warnings for anything dropped.
// Parse failure of the whole output never loses the user's input: the
// fallback is a single add action carrying the raw utterance.
func (e *Extractor) Extract(ctx context.Context, utterance string, snap *store.UserSnapshot, now time.Time) ([]Action, []string) {
	vars := map[string]string{
		"user_input":          utterance,
		"existing_tasks_json": taskGraphJSON(snap),
		"current_time_utc":    now.UTC().Format(time.RFC3339),
	}

	text, err := e.llm.CompleteJSON(ctx, "extract_task", vars)
	if err != nil {
		slog.Warn("intent extraction failed, falling back to add", "error", err)
		return fallbackActions(utterance), []string{"could not interpret input, recorded it as a new task"}
	}

	var raws []rawAction
	if err := json.Unmarshal([]byte(text), &raws); err != nil {
		// Some models wrap the list in an object.
		var wrapped struct {
			Actions []rawAction `json:"actions"`
		}
		if err2 := json.Unmarshal([]byte(text), &wrapped); err2 != nil || len(wrapped.Actions) == 0 {
			slog.Warn("extraction output not an action list", "error", err)
			return fallbackActions(utterance), []string{"could not interpret input, recorded it as a new task"}
		}
		raws = wrapped.Actions
	}

	var actions []Action
	var warnings []string
	for _, raw := range raws {
		action, warn := validateAction(raw, snap)
		if warn != "" {
			warnings = append(warnings, warn)
		}
		if action != nil {
			actions = append(actions, *action)
		}
	}

	if len(actions) == 0 {
		return fallbackActions(utterance), append(warnings, "no usable action found, recorded input as a new task")
	}
	return actions, warnings
}

func fallbackActions(utterance string) []Action {
	heading := strings.TrimSpace(utterance)
	if len(heading) > 120 {
		heading = heading[:120]
	}
	return []Action{{
		Kind:    ActionAdd,
		Heading: heading,
		Details: utterance,
	}}
}

// validateAction checks one raw action against its kind's schema. Unknown
// kinds and malformed actions are dropped; the returned warning explains why.
func validateAction(raw rawAction, snap *store.UserSnapshot) (*Action, string) {
	kind := ActionKind(raw.Action)

	switch kind {
	case ActionAdd:
		if raw.Heading == "" {
			return nil, "dropped add action without heading"
		}
		a := Action{
			Kind:     ActionAdd,
			Heading:  raw.Heading,
			Details:  raw.Details,
			Deadline: parseDeadline(raw.Deadline),
			Priority: raw.Priority,
		}
		for _, rs := range raw.Subtasks {
			if rs.Heading == "" {
				continue
			}
			a.Subtasks = append(a.Subtasks, SubtaskSpec{
				Heading:      rs.Heading,
				Details:      rs.Details,
				Deadline:     parseDeadline(rs.Deadline),
				TimeEstimate: rs.TimeEstimate,
			})
		}
		return &a, ""

	case ActionEdit:
		if raw.Target == "" {
			return nil, "dropped edit action without target"
		}
		if raw.Heading == "" && raw.Details == "" && raw.Deadline == "" && raw.TimeEstimate == 0 {
			return nil, "dropped edit action without changes"
		}
		if warn := checkTarget(raw.Target, snap); warn != "" {
			return nil, warn
		}
		return &Action{
			Kind:     ActionEdit,
			Target:   raw.Target,
			Heading:  raw.Heading,
			Details:  raw.Details,
			Deadline: parseDeadline(raw.Deadline),
		}, ""

	case ActionMarkDone, ActionDelete:
		if raw.Target == "" {
			return nil, "dropped " + raw.Action + " action without target"
		}
		if warn := checkTarget(raw.Target, snap); warn != "" {
			return nil, warn
		}
		return &Action{Kind: kind, Target: raw.Target}, ""

	case ActionReschedule:
		if raw.Target == "" {
			return nil, "dropped reschedule action without target"
		}
		deadline := parseDeadline(raw.Deadline)
		if deadline == nil {
			return nil, "dropped reschedule action without a valid deadline"
		}
		if warn := checkTarget(raw.Target, snap); warn != "" {
			return nil, warn
		}
		return &Action{Kind: ActionReschedule, Target: raw.Target, Deadline: deadline}, ""

	case ActionAddSubtask:
		if raw.Target == "" {
			return nil, "dropped add_subtask action without target"
		}
		if raw.Subtask == nil || raw.Subtask.Heading == "" {
			return nil, "dropped add_subtask action without subtask heading"
		}
		if warn := checkTarget(raw.Target, snap); warn != "" {
			return nil, warn
		}
		return &Action{
			Kind:   ActionAddSubtask,
			Target: raw.Target,
			Subtask: &SubtaskSpec{
				Heading:      raw.Subtask.Heading,
				Details:      raw.Subtask.Details,
				Deadline:     parseDeadline(raw.Subtask.Deadline),
				TimeEstimate: raw.Subtask.TimeEstimate,
			},
		}, ""

	case ActionQueryProgress, ActionQueryNext:
		return &Action{Kind: kind}, ""

	default:
		return nil, "dropped unknown action kind " + raw.Action
	}
}

func checkTarget(target string, snap *store.UserSnapshot) string {
	if _, err := ResolveTarget(snap, target); err != nil {
		return "dropped action: " + err.Error()
	}
	return ""
}

// parseDeadline accepts the formats models actually produce: RFC3339,
// naive ISO timestamps, and bare dates. Naive values are taken as UTC.
func parseDeadline(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "null") {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			u := t.UTC()
			return &u
		}
	}
	return nil
}

// graphTask is the compact task view handed to the extraction prompt.
type graphTask struct {
	ID       string         `json:"id"`
	Heading  string         `json:"heading"`
	Status   model.Status   `json:"status"`
	Deadline *time.Time     `json:"deadline,omitempty"`
	Subtasks []graphSubtask `json:"subtasks,omitempty"`
}

type graphSubtask struct {
	ID      string       `json:"id"`
	Heading string       `json:"heading"`
	Status  model.Status `json:"status"`
}

func taskGraphJSON(snap *store.UserSnapshot) string {
	graph := make([]graphTask, 0, len(snap.Tasks))
	for _, t := range snap.TasksByCreation() {
		gt := graphTask{
			ID:       t.ID,
			Heading:  t.Heading,
			Status:   t.Status,
			Deadline: t.Deadline,
		}
		for _, s := range t.Subtasks {
			gt.Subtasks = append(gt.Subtasks, graphSubtask{ID: s.ID, Heading: s.Heading, Status: s.Status})
		}
		graph = append(graph, gt)
	}
	raw, err := json.Marshal(graph)
	if err != nil {
		return "[]"
	}
	return string(raw)
}
