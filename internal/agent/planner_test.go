package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kolapsis/genie/internal/llm"
	"github.com/kolapsis/genie/internal/model"
)

// mockFinder scripts research results.
type mockFinder struct {
	resources []model.Resource
	calls     int
}

func (m *mockFinder) FindResources(_ context.Context, _ string, maxResults int) []model.Resource {
	m.calls++
	if len(m.resources) > maxResults {
		return m.resources[:maxResults]
	}
	return m.resources
}

func TestPlan_ProducesOrderedSubtasks(t *testing.T) {
	t.Parallel()

	mock := newMockCompleter()
	mock.responses["breakdown"] = []string{
		`{"subtasks":[
			{"heading":"Install Python and set up a virtualenv","details":"3.12 installed","time_estimate_minutes":20},
			{"heading":"Write a hello-world script","details":"runs without errors","time_estimate_minutes":15},
			{"heading":"Study basic data types","details":"lists, dicts, strings","time_estimate_minutes":30}]}`,
	}
	finder := &mockFinder{resources: []model.Resource{{Title: "Python docs", URL: "https://docs.python.org", Kind: model.ResourceDocs}}}
	p := NewPlanner(mock, finder)

	task := model.NewTask("Learn Python", "", testNow)
	subs, err := p.Plan(context.Background(), task, model.DefaultPreferences(), testNow)

	require.NoError(t, err)
	require.Len(t, subs, 3)
	assert.Equal(t, "Install Python and set up a virtualenv", subs[0].Heading)
	assert.Equal(t, 20, subs[0].TimeEstimate)
	require.NotNil(t, subs[0].Resource)
	assert.Equal(t, "https://docs.python.org", subs[0].Resource.URL)
	assert.Equal(t, 3, finder.calls, "one research call per subtask")
}

func TestPlan_ClampsEstimates(t *testing.T) {
	t.Parallel()

	mock := newMockCompleter()
	mock.responses["breakdown"] = []string{
		`{"subtasks":[
			{"heading":"Tiny step","time_estimate_minutes":5},
			{"heading":"Huge step","time_estimate_minutes":120}]}`,
	}
	p := NewPlanner(mock, &mockFinder{})

	subs, err := p.Plan(context.Background(), model.NewTask("X", "", testNow), model.DefaultPreferences(), testNow)

	require.NoError(t, err)
	require.Len(t, subs, 2)
	assert.Equal(t, 15, subs[0].TimeEstimate)
	assert.Equal(t, 30, subs[1].TimeEstimate)
}

func TestPlan_CapsAtFiveSubtasks(t *testing.T) {
	t.Parallel()

	mock := newMockCompleter()
	mock.responses["breakdown"] = []string{
		`{"subtasks":[
			{"heading":"a","time_estimate_minutes":20},{"heading":"b","time_estimate_minutes":20},
			{"heading":"c","time_estimate_minutes":20},{"heading":"d","time_estimate_minutes":20},
			{"heading":"e","time_estimate_minutes":20},{"heading":"f","time_estimate_minutes":20}]}`,
	}
	p := NewPlanner(mock, &mockFinder{})

	subs, err := p.Plan(context.Background(), model.NewTask("X", "", testNow), model.DefaultPreferences(), testNow)

	require.NoError(t, err)
	assert.Len(t, subs, 5)
}

func TestPlan_RetriesOnceWithClarification(t *testing.T) {
	t.Parallel()

	mock := newMockCompleter()
	mock.errs["breakdown"] = []error{llm.ErrInvalidOutput, nil}
	mock.responses["breakdown"] = []string{
		"",
		`{"subtasks":[{"heading":"a","time_estimate_minutes":20},{"heading":"b","time_estimate_minutes":20}]}`,
	}
	p := NewPlanner(mock, &mockFinder{})

	subs, err := p.Plan(context.Background(), model.NewTask("X", "", testNow), model.DefaultPreferences(), testNow)

	require.NoError(t, err)
	assert.Len(t, subs, 2)
	assert.Equal(t, 2, mock.calls["breakdown"])
}

func TestPlan_FallbackAfterSecondFailure(t *testing.T) {
	t.Parallel()

	mock := newMockCompleter()
	mock.errs["breakdown"] = []error{llm.ErrInvalidOutput, llm.ErrInvalidOutput}
	p := NewPlanner(mock, &mockFinder{})

	task := model.NewTask("Write blog post", "about caching", testNow)
	subs, err := p.Plan(context.Background(), task, model.DefaultPreferences(), testNow)

	require.Error(t, err)
	assert.ErrorIs(t, err, llm.ErrInvalidOutput)
	require.Len(t, subs, 1)
	assert.Equal(t, "Write blog post", subs[0].Heading)
	assert.Equal(t, 30, subs[0].TimeEstimate)
}

func TestPlan_TransientFailureSkipsRetry(t *testing.T) {
	t.Parallel()

	mock := newMockCompleter()
	mock.errs["breakdown"] = []error{llm.ErrTransient}
	p := NewPlanner(mock, &mockFinder{})

	subs, err := p.Plan(context.Background(), model.NewTask("X", "", testNow), model.DefaultPreferences(), testNow)

	require.Error(t, err)
	assert.ErrorIs(t, err, llm.ErrTransient)
	assert.Len(t, subs, 1, "fallback subtask still returned")
	assert.Equal(t, 1, mock.calls["breakdown"], "clarifying retry is for shape errors only")
}

func TestPlan_SingleSubtaskResponseIsRejected(t *testing.T) {
	t.Parallel()

	mock := newMockCompleter()
	mock.responses["breakdown"] = []string{
		`{"subtasks":[{"heading":"only one","time_estimate_minutes":20}]}`,
		`{"subtasks":[{"heading":"a","time_estimate_minutes":20},{"heading":"b","time_estimate_minutes":20}]}`,
	}
	p := NewPlanner(mock, &mockFinder{})

	subs, err := p.Plan(context.Background(), model.NewTask("X", "", testNow), model.DefaultPreferences(), testNow)

	require.NoError(t, err)
	assert.Len(t, subs, 2, "retry prompted for a proper decomposition")
}
