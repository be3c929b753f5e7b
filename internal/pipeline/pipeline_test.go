package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kolapsis/genie/internal/agent"
	"github.com/kolapsis/genie/internal/calendar"
	"github.com/kolapsis/genie/internal/llm"
	"github.com/kolapsis/genie/internal/model"
	"github.com/kolapsis/genie/internal/store"
)

// scriptedCompleter routes CompleteJSON calls through a test-provided func.
type scriptedCompleter struct {
	fn func(template string, vars map[string]string) (string, error)
}

func (s *scriptedCompleter) CompleteJSON(_ context.Context, template string, vars map[string]string) (string, error) {
	return s.fn(template, vars)
}

// noResearch satisfies research.Finder without network access.
type noResearch struct{}

func (noResearch) FindResources(context.Context, string, int) []model.Resource { return nil }

// fakeCalendar is an in-memory calendar.Client.
type fakeCalendar struct {
	mu         sync.Mutex
	connected  bool
	failWrites bool
	events     map[string]calendar.EventRequest
	deleted    []string
	nextID     int
}

func newFakeCalendar() *fakeCalendar {
	return &fakeCalendar{connected: true, events: make(map[string]calendar.EventRequest)}
}

func (f *fakeCalendar) SummaryPrefix() string { return "[Genie] " }

func (f *fakeCalendar) FreeBusy(_ context.Context, window calendar.Interval) calendar.FreeBusy {
	return calendar.FreeBusy{Free: []calendar.Interval{window}, Connected: f.connected}
}

func (f *fakeCalendar) CreateEvent(_ context.Context, req calendar.EventRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrites {
		return "", fmt.Errorf("calendar offline")
	}
	f.nextID++
	id := fmt.Sprintf("evt-%d", f.nextID)
	f.events[id] = req
	return id, nil
}

func (f *fakeCalendar) UpdateEvent(_ context.Context, eventID string, req calendar.EventRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWrites {
		return fmt.Errorf("calendar offline")
	}
	f.events[eventID] = req
	return nil
}

func (f *fakeCalendar) DeleteEvent(_ context.Context, eventID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, eventID)
	delete(f.events, eventID)
	return nil
}

func (f *fakeCalendar) ListEvents(_ context.Context, _ calendar.Interval) ([]calendar.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []calendar.Event
	for id, req := range f.events {
		out = append(out, calendar.Event{
			ID:      id,
			Summary: f.SummaryPrefix() + req.Summary,
			Start:   req.Start,
			End:     req.End,
		})
	}
	return out, nil
}

func (f *fakeCalendar) FindOwnEvents(ctx context.Context, window calendar.Interval) ([]calendar.Event, error) {
	return f.ListEvents(ctx, window)
}

func (f *fakeCalendar) eventCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

const validBreakdown = `{"subtasks":[
	{"heading":"Create a project folder","details":"folder exists","time_estimate_minutes":15},
	{"heading":"Complete a variables exercise","details":"exercise passes","time_estimate_minutes":20},
	{"heading":"Complete a loops exercise","details":"exercise passes","time_estimate_minutes":25}]}`

func newTestPipeline(t *testing.T, completer *scriptedCompleter, cal calendar.Client) (*Pipeline, store.Store) {
	t.Helper()

	dir := t.TempDir()
	st, err := store.NewJSONStore(store.Options{
		Path:                filepath.Join(dir, "progress.json"),
		BackupDir:           filepath.Join(dir, "backups"),
		BackupRetentionDays: 30,
	})
	require.NoError(t, err)

	p := New(Options{
		Store:       st,
		Extractor:   agent.NewExtractor(completer),
		Planner:     agent.NewPlanner(completer, noResearch{}),
		Prioritizer: agent.NewPrioritizer(),
		Scheduler:   agent.NewScheduler(cal, st),
		Calendar:    cal,
	})
	return p, st
}

// S1: a fresh add runs planning, recommendation, and calendar placement.
func TestHandleUtterance_AddPlanRecommendSchedule(t *testing.T) {
	t.Parallel()

	completer := &scriptedCompleter{fn: func(template string, vars map[string]string) (string, error) {
		switch template {
		case "extract_task":
			return `[{"action":"add","heading":"Learn Python","details":"from scratch","deadline":"2025-09-30T00:00:00"}]`, nil
		case "breakdown":
			return validBreakdown, nil
		}
		return "", fmt.Errorf("unexpected template %s", template)
	}}
	cal := newFakeCalendar()
	p, st := newTestPipeline(t, completer, cal)

	resp, err := p.HandleUtterance(context.Background(), "alice", "Learn Python by 2025-09-30")
	require.NoError(t, err)

	require.Len(t, resp.Applied, 1)
	assert.True(t, resp.Applied[0].Ok)

	tasks, err := st.ListTasks("alice", store.TaskFilter{})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	task := tasks[0]
	assert.Contains(t, task.Heading, "Python")
	require.NotNil(t, task.Deadline)
	assert.Equal(t, 2025, task.Deadline.Year())
	assert.Equal(t, time.September, task.Deadline.Month())

	require.GreaterOrEqual(t, len(task.Subtasks), 2)
	require.LessOrEqual(t, len(task.Subtasks), 5)
	for _, sub := range task.Subtasks {
		assert.LessOrEqual(t, sub.TimeEstimate, 30)
		assert.GreaterOrEqual(t, sub.TimeEstimate, 15)
	}

	rec := resp.Recommendation
	assert.Equal(t, task.ID, rec.TaskID)
	assert.Equal(t, task.Subtasks[0].ID, rec.SubtaskID, "first subtask wins")
	assert.Contains(t, rec.Reasoning, "dependency order")
	require.NotNil(t, rec.ScheduledStart)
	assert.WithinDuration(t, time.Now().UTC(), *rec.ScheduledStart, 5*time.Second)

	// The calendar holds exactly one event and the store holds its handle.
	assert.Equal(t, 1, cal.eventCount())
	stored, err := st.GetTask("alice", task.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, stored.Subtasks[0].EventID)
}

// S2: mark_done cascades to open subtasks.
func TestHandleUtterance_MarkDoneCascades(t *testing.T) {
	t.Parallel()

	completer := &scriptedCompleter{fn: func(template string, vars map[string]string) (string, error) {
		if template == "extract_task" {
			return `[{"action":"mark_done","target":"last_task"}]`, nil
		}
		return "", fmt.Errorf("unexpected template %s", template)
	}}
	cal := newFakeCalendar()
	p, st := newTestPipeline(t, completer, cal)

	_, err := st.GetOrCreateUser("alice")
	require.NoError(t, err)

	task := model.NewTask("Big thing", "", time.Now())
	statuses := []model.Status{model.StatusPending, model.StatusInProgress, model.StatusDone}
	for i, status := range statuses {
		sub := model.NewSubtask(fmt.Sprintf("part %d", i+1), "", time.Now())
		sub.Status = status
		sub.TimeEstimate = 20
		task.Subtasks = append(task.Subtasks, sub)
	}
	doneAt := task.Subtasks[2].UpdatedAt
	id, err := st.AddTask("alice", task)
	require.NoError(t, err)

	resp, err := p.HandleUtterance(context.Background(), "alice", "I finished the whole thing")
	require.NoError(t, err)
	require.Len(t, resp.Applied, 1)
	require.True(t, resp.Applied[0].Ok)

	got, err := st.GetTask("alice", id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDone, got.Status)
	assert.Equal(t, model.StatusDone, got.Subtasks[0].Status)
	assert.Equal(t, model.StatusDone, got.Subtasks[1].Status)
	assert.Equal(t, model.StatusDone, got.Subtasks[2].Status)
	assert.True(t, got.Subtasks[2].UpdatedAt.Equal(doneAt), "already-done subtask untouched")
}

// S3: reschedule deletes the placed event; the next recommendation may
// re-create one.
func TestHandleUtterance_RescheduleInvalidatesEvent(t *testing.T) {
	t.Parallel()

	completer := &scriptedCompleter{fn: func(template string, vars map[string]string) (string, error) {
		if template == "extract_task" {
			return `[{"action":"reschedule","target":"Big thing","deadline":"2025-10-03T00:00:00"}]`, nil
		}
		return "", fmt.Errorf("unexpected template %s", template)
	}}
	cal := newFakeCalendar()
	p, st := newTestPipeline(t, completer, cal)

	_, err := st.GetOrCreateUser("alice")
	require.NoError(t, err)

	task := model.NewTask("Big thing", "", time.Now())
	sub := model.NewSubtask("Complete a chunk", "", time.Now())
	sub.TimeEstimate = 20
	sub.EventID = "evt-old"
	task.Subtasks = append(task.Subtasks, sub)
	id, err := st.AddTask("alice", task)
	require.NoError(t, err)

	resp, err := p.HandleUtterance(context.Background(), "alice", "move it to next Friday")
	require.NoError(t, err)
	require.Len(t, resp.Applied, 1)
	require.True(t, resp.Applied[0].Ok)

	got, err := st.GetTask("alice", id)
	require.NoError(t, err)
	require.NotNil(t, got.Deadline)
	assert.Equal(t, time.October, got.Deadline.Month())

	cal.mu.Lock()
	deleted := append([]string{}, cal.deleted...)
	cal.mu.Unlock()
	assert.Contains(t, deleted, "evt-old")

	// Still fitting work, so a fresh event was placed.
	require.False(t, resp.Recommendation.Empty())
	assert.NotNil(t, resp.Recommendation.ScheduledStart)
	stored, err := st.GetTask("alice", id)
	require.NoError(t, err)
	assert.NotEqual(t, "evt-old", stored.Subtasks[0].EventID)
}

// S4: extraction falls back to a raw add; a planner failure leaves the task
// without subtasks but flagged.
func TestHandleUtterance_InvalidLLMOutputFallback(t *testing.T) {
	t.Parallel()

	completer := &scriptedCompleter{fn: func(template string, vars map[string]string) (string, error) {
		switch template {
		case "extract_task":
			return "", llm.ErrInvalidOutput
		case "breakdown":
			return "", llm.ErrTransient
		}
		return "", fmt.Errorf("unexpected template %s", template)
	}}
	cal := newFakeCalendar()
	p, st := newTestPipeline(t, completer, cal)

	utterance := "write blog post about caching"
	resp, err := p.HandleUtterance(context.Background(), "alice", utterance)
	require.NoError(t, err)

	require.Len(t, resp.Applied, 1)
	assert.True(t, resp.Applied[0].Ok)
	assert.Equal(t, "add", resp.Applied[0].Kind)

	tasks, err := st.ListTasks("alice", store.TaskFilter{})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, utterance, tasks[0].Heading)
	assert.Equal(t, utterance, tasks[0].Details)
	assert.Empty(t, tasks[0].Subtasks)
	assert.True(t, tasks[0].NeedsPlanning)
}

// S5: with the calendar offline, the recommendation still comes back,
// unscheduled, with its fit intact.
func TestHandleUtterance_CalendarOffline(t *testing.T) {
	t.Parallel()

	completer := &scriptedCompleter{fn: func(template string, vars map[string]string) (string, error) {
		switch template {
		case "extract_task":
			return `[{"action":"add","heading":"Learn Python"}]`, nil
		case "breakdown":
			return validBreakdown, nil
		}
		return "", fmt.Errorf("unexpected template %s", template)
	}}
	cal := newFakeCalendar()
	cal.connected = false
	cal.failWrites = true
	p, _ := newTestPipeline(t, completer, cal)

	resp, err := p.HandleUtterance(context.Background(), "alice", "Learn Python")
	require.NoError(t, err)

	rec := resp.Recommendation
	require.False(t, rec.Empty(), "prioritizer assumes the window is free")
	assert.Nil(t, rec.ScheduledStart, "placement failed, recommendation is advisory")
	assert.NotEmpty(t, rec.Fit)
	assert.Equal(t, 0, cal.eventCount())
}

// S6: concurrent utterances for one user are serialized; no write is lost.
func TestHandleUtterance_ConcurrentSameUser(t *testing.T) {
	t.Parallel()

	completer := &scriptedCompleter{fn: func(template string, vars map[string]string) (string, error) {
		switch template {
		case "extract_task":
			if strings.Contains(vars["user_input"], "task A") {
				return `[{"action":"add","heading":"task A"}]`, nil
			}
			return `[{"action":"add","heading":"task B"}]`, nil
		case "breakdown":
			return validBreakdown, nil
		}
		return "", fmt.Errorf("unexpected template %s", template)
	}}
	cal := newFakeCalendar()
	p, st := newTestPipeline(t, completer, cal)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, utterance := range []string{"add task A", "add task B"} {
		wg.Add(1)
		go func(i int, utterance string) {
			defer wg.Done()
			_, errs[i] = p.HandleUtterance(context.Background(), "bob", utterance)
		}(i, utterance)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	tasks, err := st.ListTasks("bob", store.TaskFilter{})
	require.NoError(t, err)
	require.Len(t, tasks, 2, "no lost write")

	headings := []string{tasks[0].Heading, tasks[1].Heading}
	assert.ElementsMatch(t, []string{"task A", "task B"}, headings)
	assert.False(t, tasks[0].CreatedAt.After(tasks[1].CreatedAt), "creation order preserved")
}

func TestHandleUtterance_PerActionFailuresDoNotAbort(t *testing.T) {
	t.Parallel()

	completer := &scriptedCompleter{fn: func(template string, vars map[string]string) (string, error) {
		switch template {
		case "extract_task":
			return `[{"action":"add","heading":"good one"},
				 {"action":"add","heading":"second good one"}]`, nil
		case "breakdown":
			return "", llm.ErrTransient
		}
		return "", fmt.Errorf("unexpected template %s", template)
	}}
	cal := newFakeCalendar()
	p, st := newTestPipeline(t, completer, cal)

	resp, err := p.HandleUtterance(context.Background(), "alice", "add both")
	require.NoError(t, err)
	require.Len(t, resp.Applied, 2)
	assert.True(t, resp.Applied[0].Ok)
	assert.True(t, resp.Applied[1].Ok)

	tasks, err := st.ListTasks("alice", store.TaskFilter{})
	require.NoError(t, err)
	assert.Len(t, tasks, 2)
}

func TestRecordFeedback_ValidatesAndAcks(t *testing.T) {
	t.Parallel()

	completer := &scriptedCompleter{fn: func(string, map[string]string) (string, error) {
		return "", fmt.Errorf("no llm in this test")
	}}
	cal := newFakeCalendar()
	p, st := newTestPipeline(t, completer, cal)

	_, err := st.GetOrCreateUser("alice")
	require.NoError(t, err)

	task := model.NewTask("T", "", time.Now())
	sub := model.NewSubtask("chunk", "", time.Now())
	sub.TimeEstimate = 20
	task.Subtasks = append(task.Subtasks, sub)
	id, err := st.AddTask("alice", task)
	require.NoError(t, err)

	ack, err := p.RecordFeedback(context.Background(), "alice", model.Feedback{
		Kind:          model.FeedbackCompletion,
		TaskID:        id,
		SubtaskID:     sub.ID,
		ActualMinutes: 22,
		Difficulty:    5,
		Energy:        7,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, ack.Message)

	_, err = p.RecordFeedback(context.Background(), "alice", model.Feedback{Kind: "bogus"})
	require.Error(t, err)

	_, err = p.RecordFeedback(context.Background(), "alice", model.Feedback{
		Kind:       model.FeedbackDifficulty,
		Difficulty: 11,
	})
	require.Error(t, err)
}

func TestRecordFeedback_ScalesPendingEstimates(t *testing.T) {
	t.Parallel()

	completer := &scriptedCompleter{fn: func(string, map[string]string) (string, error) {
		return "", fmt.Errorf("no llm in this test")
	}}
	cal := newFakeCalendar()
	p, st := newTestPipeline(t, completer, cal)

	_, err := st.GetOrCreateUser("alice")
	require.NoError(t, err)

	task := model.NewTask("T", "", time.Now())
	doneSub := model.NewSubtask("finished chunk", "", time.Now())
	doneSub.TimeEstimate = 15
	doneSub.Status = model.StatusDone
	pendingSub := model.NewSubtask("upcoming chunk", "", time.Now())
	pendingSub.TimeEstimate = 15
	task.Subtasks = append(task.Subtasks, doneSub, pendingSub)
	id, err := st.AddTask("alice", task)
	require.NoError(t, err)

	// Actual took twice the estimate; the pending sibling grows (clamped).
	ack, err := p.RecordFeedback(context.Background(), "alice", model.Feedback{
		Kind:          model.FeedbackCompletion,
		TaskID:        id,
		SubtaskID:     doneSub.ID,
		ActualMinutes: 30,
	})
	require.NoError(t, err)
	assert.True(t, ack.EstimatesScaled)

	got, err := st.GetTask("alice", id)
	require.NoError(t, err)
	assert.Equal(t, 30, got.Subtasks[1].TimeEstimate)
}

func TestRecommendation_ReadOnlyEndpoint(t *testing.T) {
	t.Parallel()

	completer := &scriptedCompleter{fn: func(string, map[string]string) (string, error) {
		return "", fmt.Errorf("no llm in this test")
	}}
	cal := newFakeCalendar()
	p, st := newTestPipeline(t, completer, cal)

	_, err := st.GetOrCreateUser("alice")
	require.NoError(t, err)

	task := model.NewTask("T", "", time.Now())
	sub := model.NewSubtask("Complete a chunk", "", time.Now())
	sub.TimeEstimate = 20
	task.Subtasks = append(task.Subtasks, sub)
	_, err = st.AddTask("alice", task)
	require.NoError(t, err)

	rec, err := p.Recommendation(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, sub.ID, rec.SubtaskID)

	_, err = p.Recommendation(context.Background(), "nobody")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
