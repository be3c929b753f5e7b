package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

// mockModel scripts llms.Model responses for testing.
type mockModel struct {
	responses []string
	errs      []error
	calls     int
}

func (m *mockModel) GenerateContent(_ context.Context, _ []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	i := m.calls
	m.calls++
	if i < len(m.errs) && m.errs[i] != nil {
		return nil, m.errs[i]
	}
	text := ""
	if i < len(m.responses) {
		text = m.responses[i]
	}
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: text}},
	}, nil
}

func (m *mockModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	resp, err := m.GenerateContent(ctx, nil)
	if err != nil {
		return "", err
	}
	return resp.Choices[0].Content, nil
}

func testTemplates() *Templates {
	return NewTemplates(map[string]string{
		"greet": "Hello {{name}}, the time is {{time}}.",
		"plain": "no variables here",
	})
}

func TestRender_SubstitutesPlaceholders(t *testing.T) {
	t.Parallel()

	out, err := testTemplates().Render("greet", map[string]string{
		"name": "alice",
		"time": "noon",
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello alice, the time is noon.", out)
}

func TestRender_LeavesUnknownPlaceholders(t *testing.T) {
	t.Parallel()

	out, err := testTemplates().Render("greet", map[string]string{"name": "bob"})
	require.NoError(t, err)
	assert.Equal(t, "Hello bob, the time is {{time}}.", out)
}

func TestRender_UnknownTemplate(t *testing.T) {
	t.Parallel()

	_, err := testTemplates().Render("missing", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown prompt template")
}

func TestSanitize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "fenced json block",
			in:   "Here you go:\n```json\n{\"a\": 1}\n```\nHope that helps!",
			want: `{"a": 1}`,
		},
		{
			name: "fence without info string",
			in:   "```\n[1, 2]\n```",
			want: "[1, 2]",
		},
		{
			name: "bare object with prose",
			in:   `Sure! {"a": 1} — done.`,
			want: `{"a": 1}`,
		},
		{
			name: "bare array",
			in:   `The actions are [{"action":"add"}] as requested`,
			want: `[{"action":"add"}]`,
		},
		{
			name: "plain text unchanged",
			in:   "  just some text  ",
			want: "just some text",
		},
		{
			name: "invalid braces fall through",
			in:   "a { not json } b",
			want: "a { not json } b",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Sanitize(tt.in))
		})
	}
}

func TestComplete_RetriesTransientErrors(t *testing.T) {
	t.Parallel()

	mock := &mockModel{
		errs:      []error{errors.New("connection reset"), nil},
		responses: []string{"", `{"ok": true}`},
	}
	c := NewClientWithModel(mock, testTemplates())

	out, err := c.Complete(context.Background(), "plain", nil)
	require.NoError(t, err)
	assert.Equal(t, `{"ok": true}`, out)
	assert.Equal(t, 2, mock.calls)
}

func TestComplete_AuthErrorIsNotRetried(t *testing.T) {
	t.Parallel()

	mock := &mockModel{
		errs: []error{errors.New("401 Unauthorized")},
	}
	c := NewClientWithModel(mock, testTemplates())

	_, err := c.Complete(context.Background(), "plain", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuth)
	assert.Equal(t, 1, mock.calls)
}

func TestCompleteJSON_RejectsNonJSON(t *testing.T) {
	t.Parallel()

	mock := &mockModel{responses: []string{"I could not produce JSON, sorry."}}
	c := NewClientWithModel(mock, testTemplates())

	_, err := c.CompleteJSON(context.Background(), "plain", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidOutput)
}

func TestCompleteJSON_AcceptsFencedJSON(t *testing.T) {
	t.Parallel()

	mock := &mockModel{responses: []string{"```json\n[{\"action\":\"add\",\"heading\":\"x\"}]\n```"}}
	c := NewClientWithModel(mock, testTemplates())

	out, err := c.CompleteJSON(context.Background(), "plain", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"action":"add","heading":"x"}]`, out)
}
