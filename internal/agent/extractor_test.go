package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kolapsis/genie/internal/llm"
	"github.com/kolapsis/genie/internal/model"
	"github.com/kolapsis/genie/internal/store"
)

// mockCompleter scripts CompleteJSON responses per template name.
type mockCompleter struct {
	responses map[string][]string
	errs      map[string][]error
	calls     map[string]int
}

func newMockCompleter() *mockCompleter {
	return &mockCompleter{
		responses: make(map[string][]string),
		errs:      make(map[string][]error),
		calls:     make(map[string]int),
	}
}

func (m *mockCompleter) CompleteJSON(_ context.Context, template string, _ map[string]string) (string, error) {
	i := m.calls[template]
	m.calls[template]++
	if errs := m.errs[template]; i < len(errs) && errs[i] != nil {
		return "", errs[i]
	}
	if resps := m.responses[template]; i < len(resps) {
		return resps[i], nil
	}
	return "", errors.New("mock: no scripted response")
}

func testSnapshot(tasks ...*model.Task) *store.UserSnapshot {
	snap := &store.UserSnapshot{
		UserID:      "alice",
		Preferences: model.DefaultPreferences(),
		Tasks:       make(map[string]*model.Task),
		Energy:      make(model.EnergyPattern),
	}
	for _, t := range tasks {
		snap.Tasks[t.ID] = t
	}
	return snap
}

var testNow = time.Date(2025, 9, 15, 9, 0, 0, 0, time.UTC)

func TestExtract_ParsesActions(t *testing.T) {
	t.Parallel()

	mock := newMockCompleter()
	mock.responses["extract_task"] = []string{
		`[{"action":"add","heading":"Learn Python","details":"from scratch","deadline":"2025-09-30T00:00:00"},
		  {"action":"query_next"}]`,
	}
	e := NewExtractor(mock)

	actions, warnings := e.Extract(context.Background(), "Learn Python by 2025-09-30", testSnapshot(), testNow)

	require.Len(t, actions, 2)
	assert.Empty(t, warnings)
	assert.Equal(t, ActionAdd, actions[0].Kind)
	assert.Equal(t, "Learn Python", actions[0].Heading)
	require.NotNil(t, actions[0].Deadline)
	assert.Equal(t, time.Date(2025, 9, 30, 0, 0, 0, 0, time.UTC), *actions[0].Deadline)
	assert.Equal(t, ActionQueryNext, actions[1].Kind)
}

func TestExtract_WrappedActionList(t *testing.T) {
	t.Parallel()

	mock := newMockCompleter()
	mock.responses["extract_task"] = []string{
		`{"actions":[{"action":"add","heading":"X"}]}`,
	}
	e := NewExtractor(mock)

	actions, _ := e.Extract(context.Background(), "add X", testSnapshot(), testNow)

	require.Len(t, actions, 1)
	assert.Equal(t, ActionAdd, actions[0].Kind)
}

func TestExtract_DropsUnknownAndMalformed(t *testing.T) {
	t.Parallel()

	mock := newMockCompleter()
	mock.responses["extract_task"] = []string{
		`[{"action":"explode"},
		  {"action":"add"},
		  {"action":"add","heading":"valid one"}]`,
	}
	e := NewExtractor(mock)

	actions, warnings := e.Extract(context.Background(), "whatever", testSnapshot(), testNow)

	require.Len(t, actions, 1)
	assert.Equal(t, "valid one", actions[0].Heading)
	assert.Len(t, warnings, 2)
}

func TestExtract_InvalidOutputFallsBackToAdd(t *testing.T) {
	t.Parallel()

	mock := newMockCompleter()
	mock.errs["extract_task"] = []error{llm.ErrInvalidOutput}
	e := NewExtractor(mock)

	utterance := "write blog post about caching"
	actions, warnings := e.Extract(context.Background(), utterance, testSnapshot(), testNow)

	require.Len(t, actions, 1)
	assert.Equal(t, ActionAdd, actions[0].Kind)
	assert.Equal(t, utterance, actions[0].Heading)
	assert.Equal(t, utterance, actions[0].Details)
	assert.NotEmpty(t, warnings)
}

func TestExtract_RescheduleNeedsDeadline(t *testing.T) {
	t.Parallel()

	task := model.NewTask("Thesis", "", testNow)
	mock := newMockCompleter()
	mock.responses["extract_task"] = []string{
		`[{"action":"reschedule","target":"Thesis"},
		  {"action":"reschedule","target":"Thesis","deadline":"2025-10-03"}]`,
	}
	e := NewExtractor(mock)

	actions, warnings := e.Extract(context.Background(), "move it", testSnapshot(task), testNow)

	require.Len(t, actions, 1)
	assert.Equal(t, ActionReschedule, actions[0].Kind)
	require.NotNil(t, actions[0].Deadline)
	assert.Len(t, warnings, 1)
}

func TestResolveTarget(t *testing.T) {
	t.Parallel()

	first := model.NewTask("Learn Python", "", testNow)
	second := model.NewTask("Learn Go", "", testNow.Add(time.Minute))
	third := model.NewTask("Buy groceries", "", testNow.Add(2*time.Minute))
	snap := testSnapshot(first, second, third)

	tests := []struct {
		name    string
		target  string
		want    *model.Task
		wantErr bool
	}{
		{name: "exact id", target: first.ID, want: first},
		{name: "heading equality ignores case", target: "learn python", want: first},
		{name: "unique substring", target: "groceries", want: third},
		{name: "ambiguous substring", target: "learn", wantErr: true},
		{name: "last_task", target: "last_task", want: third},
		{name: "unknown", target: "does not exist", wantErr: true},
		{name: "empty", target: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ResolveTarget(snap, tt.target)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want.ID, got.ID)
		})
	}
}

func TestExtract_AddSubtaskValidation(t *testing.T) {
	t.Parallel()

	task := model.NewTask("Thesis", "", testNow)
	mock := newMockCompleter()
	mock.responses["extract_task"] = []string{
		`[{"action":"add_subtask","target":"Thesis","subtask":{"heading":"Outline chapter 2","time_estimate":25}},
		  {"action":"add_subtask","target":"Thesis"}]`,
	}
	e := NewExtractor(mock)

	actions, warnings := e.Extract(context.Background(), "add outline subtask", testSnapshot(task), testNow)

	require.Len(t, actions, 1)
	require.NotNil(t, actions[0].Subtask)
	assert.Equal(t, "Outline chapter 2", actions[0].Subtask.Heading)
	assert.Equal(t, 25, actions[0].Subtask.TimeEstimate)
	assert.Len(t, warnings, 1)
}
