package model

import "time"

// PeakWindow names the part of the day where the user reports best focus.
type PeakWindow string

const (
	PeakMorning   PeakWindow = "morning"   // 06:00–12:00 local
	PeakAfternoon PeakWindow = "afternoon" // 12:00–18:00 local
	PeakEvening   PeakWindow = "evening"   // 18:00–23:00 local
)

// Contains reports whether the given local hour falls inside the window.
func (p PeakWindow) Contains(hour int) bool {
	switch p {
	case PeakMorning:
		return hour >= 6 && hour < 12
	case PeakAfternoon:
		return hour >= 12 && hour < 18
	case PeakEvening:
		return hour >= 18 && hour < 23
	}
	return false
}

// Preferences holds per-user working-style settings.
type Preferences struct {
	WorkStart         string     `json:"work_start"` // "HH:MM" local time of day
	WorkEnd           string     `json:"work_end"`
	PeakWindow        PeakWindow `json:"peak_window"`
	SessionMinutes    int        `json:"session_minutes"`
	MaxSessionMinutes int        `json:"max_session_minutes"`
}

// DefaultPreferences returns the settings assigned to a freshly created user.
func DefaultPreferences() Preferences {
	return Preferences{
		WorkStart:         "09:00",
		WorkEnd:           "17:00",
		PeakWindow:        PeakMorning,
		SessionMinutes:    25,
		MaxSessionMinutes: 90,
	}
}

// Session is per-user bookkeeping metadata. Version increments on every
// committed write except subtask patches and backs the store's
// optimistic-concurrency check.
type Session struct {
	CreatedAt   time.Time `json:"created_at"`
	LastUpdated time.Time `json:"last_updated"`
	Version     int64     `json:"version"`
}

// FeedbackKind classifies a feedback record.
type FeedbackKind string

const (
	FeedbackCompletion FeedbackKind = "task_completion"
	FeedbackScheduling FeedbackKind = "scheduling"
	FeedbackDifficulty FeedbackKind = "difficulty"
	FeedbackEnergy     FeedbackKind = "energy"
)

// Valid reports whether k is a known feedback kind.
func (k FeedbackKind) Valid() bool {
	switch k {
	case FeedbackCompletion, FeedbackScheduling, FeedbackDifficulty, FeedbackEnergy:
		return true
	}
	return false
}

// Feedback is an append-only observation the user reports after working.
// Difficulty and Energy are on a 1–10 scale; zero means not reported.
type Feedback struct {
	Kind          FeedbackKind `json:"kind"`
	TaskID        string       `json:"task_id,omitempty"`
	SubtaskID     string       `json:"subtask_id,omitempty"`
	ActualMinutes int          `json:"actual_minutes,omitempty"`
	Difficulty    int          `json:"difficulty,omitempty"`
	Energy        int          `json:"energy,omitempty"`
	Note          string       `json:"note,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
}

// EnergyPattern maps hour-of-day (0–23) to a smoothed observed energy score.
type EnergyPattern map[int]float64

// Observe folds a new reading into the hour's moving average.
func (p EnergyPattern) Observe(hour int, energy float64) {
	if prev, ok := p[hour]; ok {
		p[hour] = 0.7*prev + 0.3*energy
	} else {
		p[hour] = energy
	}
}

// PsychologicalFit grades how well a recommendation matches the user's
// current energy state.
type PsychologicalFit string

const (
	FitPeak       PsychologicalFit = "peak"
	FitAligned    PsychologicalFit = "aligned"
	FitAcceptable PsychologicalFit = "acceptable"
	FitMismatch   PsychologicalFit = "mismatch"
)

// Recommendation is the prioritizer's single-winner output. TaskID and
// SubtaskID are empty when no pending subtask fits the available window.
type Recommendation struct {
	TaskID         string           `json:"task_id,omitempty"`
	SubtaskID      string           `json:"subtask_id,omitempty"`
	Heading        string           `json:"heading,omitempty"`
	Reasoning      string           `json:"reasoning"`
	Fit            PsychologicalFit `json:"psychological_fit,omitempty"`
	ScheduledStart *time.Time       `json:"scheduled_start,omitempty"`
	ScheduledEnd   *time.Time       `json:"scheduled_end,omitempty"`
}

// Empty reports whether the recommendation selects no subtask.
func (r Recommendation) Empty() bool {
	return r.SubtaskID == ""
}
