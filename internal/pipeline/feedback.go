package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kolapsis/genie/internal/model"
	"github.com/kolapsis/genie/internal/notify"
	"github.com/kolapsis/genie/internal/store"
)

// ErrValidation marks malformed caller input; surfaced as a 400.
var ErrValidation = errors.New("validation failed")

const (
	// adjustmentWindow is how many recent completions feed the
	// estimate-accuracy check.
	adjustmentWindow = 5
	// Ratios outside [underRatio, overRatio] trigger re-estimation of the
	// pending siblings.
	overRatio  = 1.5
	underRatio = 0.5
)

// FeedbackAck is the user-visible response to a feedback record.
type FeedbackAck struct {
	Message         string `json:"message"`
	EstimatesScaled bool   `json:"estimates_scaled,omitempty"`
}

// RecordFeedback validates and appends a feedback record, folds energy
// readings into the per-hour pattern, and rescales pending sibling
// estimates when the user's actuals drift far from the estimates.
func (p *Pipeline) RecordFeedback(ctx context.Context, userID string, rec model.Feedback) (*FeedbackAck, error) {
	if !rec.Kind.Valid() {
		return nil, fmt.Errorf("%w: unknown feedback kind %q", ErrValidation, rec.Kind)
	}
	if rec.Difficulty != 0 && (rec.Difficulty < 1 || rec.Difficulty > 10) {
		return nil, fmt.Errorf("%w: difficulty must be between 1 and 10", ErrValidation)
	}
	if rec.Energy != 0 && (rec.Energy < 1 || rec.Energy > 10) {
		return nil, fmt.Errorf("%w: energy must be between 1 and 10", ErrValidation)
	}

	lock := p.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	snap, err := p.store.GetUser(userID)
	if err != nil {
		return nil, err
	}

	if rec.TaskID != "" && snap.Task(rec.TaskID) == nil {
		return nil, fmt.Errorf("task %q: %w", rec.TaskID, store.ErrNotFound)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	if err := p.store.AddFeedback(userID, rec); err != nil {
		return nil, err
	}

	ack := &FeedbackAck{Message: motivationalMessage(rec)}

	if rec.Kind == model.FeedbackCompletion && rec.ActualMinutes > 0 && rec.TaskID != "" {
		ack.EstimatesScaled = p.adjustEstimates(snap, userID, rec)
	}

	p.hub.Notify(notify.Event{Type: "feedback.recorded", UserID: userID, TaskID: rec.TaskID, Message: string(rec.Kind)})
	return ack, nil
}

// adjustEstimates rescales pending sibling estimates when the mean
// actual-vs-estimate ratio over the recent completions drifts outside the
// accepted band. Returns true when anything changed.
func (p *Pipeline) adjustEstimates(snap *store.UserSnapshot, userID string, latest model.Feedback) bool {
	ratio := meanCompletionRatio(snap, latest)
	if ratio == 0 || (ratio <= overRatio && ratio >= underRatio) {
		return false
	}

	task := snap.Task(latest.TaskID)
	if task == nil {
		return false
	}

	changed := false
	for _, sub := range task.Subtasks {
		if sub.Status != model.StatusPending || sub.ID == latest.SubtaskID {
			continue
		}
		scaled := clampMinutes(int(float64(sub.TimeEstimate) * ratio))
		if scaled == sub.TimeEstimate {
			continue
		}
		if _, err := p.store.UpdateSubtask(userID, task.ID, sub.ID, store.SubtaskPatch{TimeEstimate: &scaled}); err == nil {
			changed = true
		}
	}
	return changed
}

// meanCompletionRatio averages actual/estimate over the latest completions,
// including the record being added.
func meanCompletionRatio(snap *store.UserSnapshot, latest model.Feedback) float64 {
	records := append(append([]model.Feedback{}, snap.Feedback...), latest)

	sum, n := 0.0, 0
	for i := len(records) - 1; i >= 0 && n < adjustmentWindow; i-- {
		f := records[i]
		if f.Kind != model.FeedbackCompletion || f.ActualMinutes <= 0 {
			continue
		}
		task := snap.Task(f.TaskID)
		if task == nil {
			continue
		}
		estimate := task.TimeEstimate
		if f.SubtaskID != "" {
			if sub, _ := task.FindSubtask(f.SubtaskID); sub != nil {
				estimate = sub.TimeEstimate
			}
		}
		if estimate <= 0 {
			continue
		}
		sum += float64(f.ActualMinutes) / float64(estimate)
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func clampMinutes(minutes int) int {
	if minutes < 15 {
		return 15
	}
	if minutes > model.MaxSchedulableMinutes {
		return model.MaxSchedulableMinutes
	}
	return minutes
}

// motivationalMessage picks the acknowledgement for a feedback record.
// Deterministic rule table; no model call.
func motivationalMessage(rec model.Feedback) string {
	switch rec.Kind {
	case model.FeedbackCompletion:
		if rec.Difficulty >= 8 {
			return "That was a tough one — finishing it anyway is what moves the needle."
		}
		return "Nice work. One chunk down, momentum up."
	case model.FeedbackDifficulty:
		if rec.Difficulty >= 7 {
			return "Noted — this one was harder than it looked."
		}
		return "Thanks, difficulty recorded."
	case model.FeedbackEnergy:
		if rec.Energy <= 3 {
			return "Low-energy hours are for light work; pick an easy chunk for now."
		}
		return "Energy level recorded for this hour."
	case model.FeedbackScheduling:
		return "Scheduling feedback recorded."
	default:
		return "Feedback recorded."
	}
}
