package store

import (
	"errors"
	"time"

	"github.com/kolapsis/genie/internal/model"
)

// Sentinel errors. Callers discriminate with errors.Is.
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("version conflict")
	ErrCorrupt  = errors.New("corrupt state file")
)

// Store is the persistence interface for Genie state.
// Every operation takes the owning user so that no caller can reach across
// user boundaries by accident.
type Store interface {
	// Users
	GetOrCreateUser(userID string) (*UserSnapshot, error)
	GetUser(userID string) (*UserSnapshot, error)
	PutUser(userID string, snap *UserSnapshot) error

	// Tasks
	AddTask(userID string, t *model.Task) (string, error)
	GetTask(userID, taskID string) (*model.Task, error)
	UpdateTask(userID, taskID string, patch TaskPatch) (bool, error)
	UpdateSubtask(userID, taskID, subtaskID string, patch SubtaskPatch) (bool, error)
	DeleteTask(userID, taskID string) error
	ListTasks(userID string, f TaskFilter) ([]*model.Task, error)
	SearchTasks(userID, query string) ([]*model.Task, error)

	// Feedback and analytics
	AddFeedback(userID string, rec model.Feedback) error
	GetAnalytics(userID string) (*Analytics, error)

	// Backups
	CreateBackup(reason string) (string, error)
	ListBackups() ([]BackupInfo, error)
	RestoreBackup(name string) error

	// Import/export
	ExportUser(userID string) ([]byte, error)
	ImportUser(payload []byte) (string, error)
	ClearUser(userID string) error

	// Maintenance
	Info() StorageInfo
	Close() error
}

// UserSnapshot is a deep copy of one user's state. Mutating a snapshot never
// affects the store; changes flow back through PutUser, which rejects stale
// snapshots with ErrConflict.
type UserSnapshot struct {
	UserID      string
	Session     model.Session
	Preferences model.Preferences
	Tasks       map[string]*model.Task
	Feedback    []model.Feedback
	Energy      model.EnergyPattern
}

// Task returns the task with the given ID, or nil.
func (s *UserSnapshot) Task(taskID string) *model.Task {
	return s.Tasks[taskID]
}

// TasksByCreation returns tasks ordered by creation time, oldest first.
func (s *UserSnapshot) TasksByCreation() []*model.Task {
	return sortTasks(s.Tasks)
}

// LastTask returns the most recently created task, or nil.
func (s *UserSnapshot) LastTask() *model.Task {
	tasks := s.TasksByCreation()
	if len(tasks) == 0 {
		return nil
	}
	return tasks[len(tasks)-1]
}

// TaskPatch describes a partial task update. Nil fields are left unchanged.
type TaskPatch struct {
	Heading       *string
	Details       *string
	Status        *model.Status
	Deadline      *time.Time
	ClearDeadline bool
	TimeEstimate  *int
	NeedsPlanning *bool
}

// SubtaskPatch describes a partial subtask update. Nil fields are left
// unchanged. ClearEvent drops the calendar handle.
type SubtaskPatch struct {
	Status       *model.Status
	TimeEstimate *int
	EventID      *string
	EventStart   *time.Time
	EventEnd     *time.Time
	ClearEvent   bool
}

// TaskFilter narrows ListTasks results.
type TaskFilter struct {
	Status model.Status
	Limit  int
}

// Analytics is the derived per-user view returned by GetAnalytics.
type Analytics struct {
	TasksByStatus    map[model.Status]int `json:"tasks_by_status"`
	SubtasksByStatus map[model.Status]int `json:"subtasks_by_status"`
	CompletionRate   float64              `json:"completion_rate"`
	EstimateAccuracy float64              `json:"estimate_accuracy"` // mean actual/estimate ratio, 0 when unknown
	FeedbackCount    int                  `json:"feedback_count"`
	EnergyByHour     map[int]float64      `json:"energy_by_hour"`
}

// BackupInfo describes one backup file on disk.
type BackupInfo struct {
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// StorageInfo summarizes the backing document for health reporting.
type StorageInfo struct {
	Path        string `json:"path"`
	SizeBytes   int64  `json:"size_bytes"`
	UserCount   int    `json:"user_count"`
	TaskCount   int    `json:"task_count"`
	BackupCount int    `json:"backup_count"`
}
