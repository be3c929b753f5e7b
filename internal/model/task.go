package model

import (
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle state of a task or subtask.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
	StatusCancelled  Status = "cancelled"
)

// Valid reports whether s is one of the known lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusDone, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusCancelled
}

// MaxSchedulableMinutes is the largest time estimate a subtask may carry and
// still be placed on the calendar. Larger subtasks stay pending and are
// flagged for re-planning.
const MaxSchedulableMinutes = 30

// ResourceKind classifies a research resource.
type ResourceKind string

const (
	ResourceArticle  ResourceKind = "article"
	ResourceVideo    ResourceKind = "video"
	ResourceTutorial ResourceKind = "tutorial"
	ResourceDocs     ResourceKind = "docs"
)

// Resource is a single research pointer attached to a subtask.
type Resource struct {
	Title string       `json:"title"`
	URL   string       `json:"url"`
	Kind  ResourceKind `json:"kind"`
	Focus string       `json:"focus,omitempty"`
}

// Task is a user-owned unit of work. Subtasks nest exactly one level deep.
type Task struct {
	ID            string     `json:"id"`
	Heading       string     `json:"heading"`
	Details       string     `json:"details,omitempty"`
	Status        Status     `json:"status"`
	Deadline      *time.Time `json:"deadline,omitempty"`
	TimeEstimate  int        `json:"time_estimate,omitempty"` // minutes
	Resource      *Resource  `json:"resource,omitempty"`
	Subtasks      []*Subtask `json:"subtasks"`
	NeedsPlanning bool       `json:"needs_planning,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Subtask is the scheduling granule: same shape as Task, nested once, never
// nesting further.
type Subtask struct {
	ID           string     `json:"id"`
	Heading      string     `json:"heading"`
	Details      string     `json:"details,omitempty"`
	Status       Status     `json:"status"`
	Deadline     *time.Time `json:"deadline,omitempty"`
	TimeEstimate int        `json:"time_estimate,omitempty"` // minutes
	Resource     *Resource  `json:"resource,omitempty"`
	EventID      string     `json:"event_id,omitempty"`
	EventStart   *time.Time `json:"event_start,omitempty"`
	EventEnd     *time.Time `json:"event_end,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// NewTask creates a pending task with a fresh ID and timestamps.
func NewTask(heading, details string, now time.Time) *Task {
	return &Task{
		ID:        uuid.NewString(),
		Heading:   heading,
		Details:   details,
		Status:    StatusPending,
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}
}

// NewSubtask creates a pending subtask with a fresh ID and timestamps.
func NewSubtask(heading, details string, now time.Time) *Subtask {
	return &Subtask{
		ID:        uuid.NewString(),
		Heading:   heading,
		Details:   details,
		Status:    StatusPending,
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}
}

// Schedulable reports whether the subtask can be placed on the calendar.
func (s *Subtask) Schedulable() bool {
	return s.Status == StatusPending && s.TimeEstimate > 0 && s.TimeEstimate <= MaxSchedulableMinutes
}

// FindSubtask returns the subtask with the given ID and its index, or nil, -1.
func (t *Task) FindSubtask(id string) (*Subtask, int) {
	for i, s := range t.Subtasks {
		if s.ID == id {
			return s, i
		}
	}
	return nil, -1
}

// CascadeDone marks the task done and carries every pending or in-progress
// subtask along. Already-done and cancelled subtasks are left untouched.
func (t *Task) CascadeDone(now time.Time) {
	now = now.UTC()
	t.Status = StatusDone
	t.UpdatedAt = now
	for _, s := range t.Subtasks {
		if s.Status == StatusPending || s.Status == StatusInProgress {
			s.Status = StatusDone
			s.UpdatedAt = now
		}
	}
}

// AutoComplete promotes the task to done when every subtask is terminal.
// Cancelled subtasks do not block completion. Tasks without subtasks are
// never auto-completed. Returns true when the status changed.
func (t *Task) AutoComplete(now time.Time) bool {
	if t.Status.Terminal() || len(t.Subtasks) == 0 {
		return false
	}
	for _, s := range t.Subtasks {
		if !s.Status.Terminal() {
			return false
		}
	}
	t.Status = StatusDone
	t.UpdatedAt = now.UTC()
	return true
}

// Clone returns a deep copy. Store readers receive clones so that agents can
// never mutate the persisted snapshot.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	if t.Deadline != nil {
		d := *t.Deadline
		c.Deadline = &d
	}
	if t.Resource != nil {
		r := *t.Resource
		c.Resource = &r
	}
	c.Subtasks = make([]*Subtask, len(t.Subtasks))
	for i, s := range t.Subtasks {
		c.Subtasks[i] = s.Clone()
	}
	return &c
}

// Clone returns a deep copy of the subtask.
func (s *Subtask) Clone() *Subtask {
	if s == nil {
		return nil
	}
	c := *s
	if s.Deadline != nil {
		d := *s.Deadline
		c.Deadline = &d
	}
	if s.EventStart != nil {
		d := *s.EventStart
		c.EventStart = &d
	}
	if s.EventEnd != nil {
		d := *s.EventEnd
		c.EventEnd = &d
	}
	if s.Resource != nil {
		r := *s.Resource
		c.Resource = &r
	}
	return &c
}
