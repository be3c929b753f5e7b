package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kolapsis/genie/internal/calendar"
	"github.com/kolapsis/genie/internal/model"
	"github.com/kolapsis/genie/internal/store"
)

const (
	// placementHorizon is how far ahead the scheduler looks for a slot.
	placementHorizon = 2 * time.Hour
	// trailingBuffer is free time required after the work window.
	trailingBuffer = 5 * time.Minute
)

// EventWriter is the slice of the store the scheduler needs to record
// calendar handles.
type EventWriter interface {
	UpdateSubtask(userID, taskID, subtaskID string, patch store.SubtaskPatch) (bool, error)
}

// Scheduler places a recommended subtask into the user's calendar when
// availability permits. Repeated invocations on the same pending subtask
// never create duplicate events: the event handle is recorded before
// returning, and an orphaned event (created but not recorded) is adopted by
// scanning the window for the ownership marker.
type Scheduler struct {
	cal    calendar.Client
	events EventWriter
}

// NewScheduler creates a Scheduler.
func NewScheduler(cal calendar.Client, events EventWriter) *Scheduler {
	return &Scheduler{cal: cal, events: events}
}

// Schedule attempts calendar placement for the recommendation and returns it
// annotated with the chosen window. When no slot fits, the recommendation
// comes back unscheduled and is advisory-only.
func (s *Scheduler) Schedule(ctx context.Context, userID string, rec model.Recommendation, snap *store.UserSnapshot, fb calendar.FreeBusy, now time.Time) model.Recommendation {
	if rec.Empty() {
		return rec
	}

	task := snap.Task(rec.TaskID)
	if task == nil {
		return rec
	}
	sub, _ := task.FindSubtask(rec.SubtaskID)
	if sub == nil || !sub.Schedulable() {
		return rec
	}

	now = now.UTC()
	window := calendar.Interval{Start: now, End: now.Add(placementHorizon)}
	slot, ok := findSlot(fb, window, time.Duration(sub.TimeEstimate)*time.Minute)
	if !ok {
		slog.Info("no free slot in placement horizon", "user_id", userID, "subtask_id", sub.ID)
		return rec
	}

	eventID := sub.EventID
	if eventID == "" {
		eventID = s.adoptOrphan(ctx, sub, window)
	}

	req := calendar.EventRequest{
		Summary:     sub.Heading,
		Description: eventDescription(sub),
		Start:       slot.Start,
		End:         slot.End,
	}

	switch {
	case eventID == "":
		created, err := s.cal.CreateEvent(ctx, req)
		if err != nil {
			slog.Warn("event creation failed, recommendation stays advisory", "user_id", userID, "subtask_id", sub.ID, "error", err)
			return rec
		}
		eventID = created
	case sub.EventStart == nil || !sub.EventStart.Equal(slot.Start) || sub.EventEnd == nil || !sub.EventEnd.Equal(slot.End):
		if err := s.cal.UpdateEvent(ctx, eventID, req); err != nil {
			slog.Warn("event update failed", "user_id", userID, "event_id", eventID, "error", err)
			return rec
		}
	default:
		// Existing event already sits in the chosen window.
		rec.ScheduledStart = &slot.Start
		rec.ScheduledEnd = &slot.End
		return rec
	}

	if _, err := s.events.UpdateSubtask(userID, rec.TaskID, sub.ID, store.SubtaskPatch{
		EventID:    &eventID,
		EventStart: &slot.Start,
		EventEnd:   &slot.End,
	}); err != nil {
		// The event exists but the handle was not recorded; the next
		// invocation adopts it through the marker scan.
		slog.Error("recording event handle failed", "user_id", userID, "event_id", eventID, "error", err)
	}

	rec.ScheduledStart = &slot.Start
	rec.ScheduledEnd = &slot.End
	return rec
}

// Unschedule removes the subtask's calendar event, if any, and clears the
// stored handle. The pipeline does not call it: mark_done, reschedule and
// delete invalidate events through the pipeline's own cleanup path.
func (s *Scheduler) Unschedule(ctx context.Context, userID string, taskID string, sub *model.Subtask) {
	if sub.EventID == "" {
		return
	}
	if err := s.cal.DeleteEvent(ctx, sub.EventID); err != nil {
		slog.Warn("event deletion failed", "event_id", sub.EventID, "error", err)
	}
	if _, err := s.events.UpdateSubtask(userID, taskID, sub.ID, store.SubtaskPatch{ClearEvent: true}); err != nil {
		slog.Warn("clearing event handle failed", "subtask_id", sub.ID, "error", err)
	}
}

// CleanupOwnEvents deletes every Genie-owned event in the window. Exposed
// for the admin cleanup operation.
func (s *Scheduler) CleanupOwnEvents(ctx context.Context, window calendar.Interval) (int, error) {
	events, err := s.cal.FindOwnEvents(ctx, window)
	if err != nil {
		return 0, fmt.Errorf("finding own events: %w", err)
	}
	deleted := 0
	for _, ev := range events {
		if err := s.cal.DeleteEvent(ctx, ev.ID); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

// adoptOrphan looks for an existing Genie event matching the subtask heading
// in the window. Covers the crash window between event creation and handle
// persistence.
func (s *Scheduler) adoptOrphan(ctx context.Context, sub *model.Subtask, window calendar.Interval) string {
	events, err := s.cal.FindOwnEvents(ctx, window)
	if err != nil {
		return ""
	}
	want := s.cal.SummaryPrefix() + sub.Heading
	for _, ev := range events {
		if ev.Summary == want {
			slog.Info("adopted orphaned event", "event_id", ev.ID, "subtask_id", sub.ID)
			return ev.ID
		}
	}
	return ""
}

// findSlot returns the earliest free interval inside window long enough for
// the estimate plus the trailing buffer.
func findSlot(fb calendar.FreeBusy, window calendar.Interval, estimate time.Duration) (calendar.Interval, bool) {
	need := estimate + trailingBuffer
	for _, free := range fb.Free {
		if !free.Overlaps(window) {
			continue
		}
		clamped := free.Clamp(window)
		if clamped.Duration() >= need {
			return calendar.Interval{Start: clamped.Start, End: clamped.Start.Add(estimate)}, true
		}
	}
	return calendar.Interval{}, false
}

func eventDescription(sub *model.Subtask) string {
	desc := sub.Details
	if sub.Resource != nil && sub.Resource.URL != "" {
		if desc != "" {
			desc += "\n\n"
		}
		desc += "Resource: " + sub.Resource.URL
	}
	return desc
}
