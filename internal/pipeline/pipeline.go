// Package pipeline orchestrates the agents: intent extraction, task
// decomposition, prioritization, and scheduling. It owns the only writer
// path into the store and the per-user ordering guarantees.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/kolapsis/genie/internal/agent"
	"github.com/kolapsis/genie/internal/calendar"
	"github.com/kolapsis/genie/internal/model"
	"github.com/kolapsis/genie/internal/notify"
	"github.com/kolapsis/genie/internal/store"
)

// recommendationWindow is how far ahead the prioritizer looks.
const recommendationWindow = 24 * time.Hour

// ActionResult reports the outcome of one applied action.
type ActionResult struct {
	Kind    string `json:"kind"`
	Ok      bool   `json:"ok"`
	Error   string `json:"error,omitempty"` // "validation", "not_found", "timeout"
	Message string `json:"message,omitempty"`
	TaskID  string `json:"task_id,omitempty"`
}

// Response is the user-visible result of one utterance.
type Response struct {
	Applied        []ActionResult       `json:"applied"`
	Warnings       []string             `json:"warnings,omitempty"`
	Recommendation model.Recommendation `json:"recommendation"`
	TimedOut       bool                 `json:"timed_out,omitempty"`
}

// Pipeline binds the agents to the store and external clients.
// The dependency graph is a DAG: the pipeline calls agents, agents call
// clients; nothing calls back up.
type Pipeline struct {
	store       store.Store
	extractor   *agent.Extractor
	planner     *agent.Planner
	prioritizer *agent.Prioritizer
	scheduler   *agent.Scheduler
	cal         calendar.Client
	hub         *notify.Hub

	overall time.Duration
	sem     *semaphore.Weighted

	mu        sync.Mutex
	userLocks map[string]*sync.Mutex
}

// Options configures a Pipeline.
type Options struct {
	Store       store.Store
	Extractor   *agent.Extractor
	Planner     *agent.Planner
	Prioritizer *agent.Prioritizer
	Scheduler   *agent.Scheduler
	Calendar    calendar.Client
	Hub         *notify.Hub

	OverallDeadline time.Duration
	MaxConcurrent   int
}

// New creates a Pipeline.
func New(opts Options) *Pipeline {
	if opts.OverallDeadline <= 0 {
		opts.OverallDeadline = 60 * time.Second
	}
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 8
	}
	if opts.Hub == nil {
		opts.Hub = notify.NewHub()
	}
	return &Pipeline{
		store:       opts.Store,
		extractor:   opts.Extractor,
		planner:     opts.Planner,
		prioritizer: opts.Prioritizer,
		scheduler:   opts.Scheduler,
		cal:         opts.Calendar,
		hub:         opts.Hub,
		overall:     opts.OverallDeadline,
		sem:         semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		userLocks:   make(map[string]*sync.Mutex),
	}
}

// userLock returns the mutex serializing writes for one user.
func (p *Pipeline) userLock(userID string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	lock, ok := p.userLocks[userID]
	if !ok {
		lock = &sync.Mutex{}
		p.userLocks[userID] = lock
	}
	return lock
}

// HandleUtterance runs the full pipeline for one user statement: extract
// actions, apply them to a draft snapshot, commit in a single write, then
// recommend and schedule outside the user lock.
func (p *Pipeline) HandleUtterance(ctx context.Context, userID, utterance string) (*Response, error) {
	if userID == "" || utterance == "" {
		return nil, fmt.Errorf("userID and utterance are required")
	}

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquiring worker slot: %w", err)
	}
	defer p.sem.Release(1)

	ctx, cancel := context.WithTimeout(ctx, p.overall)
	defer cancel()

	p.hub.Notify(notify.Event{Type: "utterance.received", UserID: userID, Message: utterance})

	// Steps 1–4 under the per-user lock: load, extract, apply, commit.
	snap, resp, err := p.applyUtterance(ctx, userID, utterance)
	if err != nil {
		return nil, err
	}

	// Steps 5–7 without the lock, against the snapshot just committed.
	if ctx.Err() != nil {
		resp.TimedOut = true
		resp.Recommendation = model.Recommendation{Reasoning: "request timed out before a recommendation could be made"}
		return resp, nil
	}

	resp.Recommendation = p.recommend(ctx, userID, snap, time.Now().UTC())
	return resp, nil
}

// applyUtterance performs the locked phase and returns the committed
// snapshot (reloaded, so later phases see exactly what was persisted).
func (p *Pipeline) applyUtterance(ctx context.Context, userID, utterance string) (*store.UserSnapshot, *Response, error) {
	lock := p.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	// The timestamp is taken under the lock so that writes for one user
	// carry strictly ordered times.
	now := time.Now().UTC()

	snap, err := p.store.GetOrCreateUser(userID)
	if err != nil {
		return nil, nil, fmt.Errorf("loading user %s: %w", userID, err)
	}

	actions, warnings := p.extractor.Extract(ctx, utterance, snap, now)

	resp := &Response{Warnings: warnings}
	var cleanups []eventCleanup
	for i, action := range actions {
		if ctx.Err() != nil {
			for _, rest := range actions[i:] {
				resp.Applied = append(resp.Applied, ActionResult{
					Kind:  string(rest.Kind),
					Error: "timeout",
				})
			}
			resp.TimedOut = true
			break
		}
		result, cl := p.applyAction(ctx, snap, action, now)
		resp.Applied = append(resp.Applied, result)
		cleanups = append(cleanups, cl...)
	}

	if err := p.store.PutUser(userID, snap); err != nil {
		return nil, nil, fmt.Errorf("committing state for %s: %w", userID, err)
	}

	committed, err := p.store.GetUser(userID)
	if err != nil {
		return nil, nil, fmt.Errorf("reloading user %s: %w", userID, err)
	}

	// Calendar invalidations happen after the commit so a failed external
	// call can never leave the store half-applied.
	for _, cl := range cleanups {
		p.cleanupEvent(ctx, userID, cl)
	}

	return committed, resp, nil
}

// eventCleanup is a calendar handle invalidated by an action.
type eventCleanup struct {
	eventID   string
	taskID    string
	subtaskID string
	gone      bool // task was deleted; no store record to clear
}

func (p *Pipeline) cleanupEvent(ctx context.Context, userID string, cl eventCleanup) {
	if err := p.cal.DeleteEvent(ctx, cl.eventID); err != nil {
		slog.Warn("deleting invalidated event failed", "event_id", cl.eventID, "error", err)
	}
	if cl.gone {
		return
	}
	if _, err := p.store.UpdateSubtask(userID, cl.taskID, cl.subtaskID, store.SubtaskPatch{ClearEvent: true}); err != nil {
		slog.Warn("clearing event handle failed", "subtask_id", cl.subtaskID, "error", err)
	}
}

// recommend runs the prioritizer over a fresh free/busy view and attempts
// calendar placement.
func (p *Pipeline) recommend(ctx context.Context, userID string, snap *store.UserSnapshot, now time.Time) model.Recommendation {
	window := calendar.Interval{Start: now, End: now.Add(recommendationWindow)}
	fb := p.cal.FreeBusy(ctx, window)

	rec := p.prioritizer.Recommend(snap, fb, now)
	if rec.Empty() {
		return rec
	}

	p.hub.Notify(notify.Event{
		Type:    "recommendation.ready",
		UserID:  userID,
		TaskID:  rec.TaskID,
		Message: rec.Heading,
	})

	rec = p.scheduler.Schedule(ctx, userID, rec, snap, fb, now)
	if rec.ScheduledStart != nil {
		p.hub.Notify(notify.Event{
			Type:    "event.scheduled",
			UserID:  userID,
			TaskID:  rec.TaskID,
			Message: fmt.Sprintf("%s at %s", rec.Heading, rec.ScheduledStart.Format(time.RFC3339)),
		})
	}
	return rec
}

// Recommendation computes the current recommendation for a user without
// applying any actions. Backs GET /recommendation.
func (p *Pipeline) Recommendation(ctx context.Context, userID string) (model.Recommendation, error) {
	snap, err := p.store.GetUser(userID)
	if err != nil {
		return model.Recommendation{}, err
	}
	return p.recommend(ctx, userID, snap, time.Now().UTC()), nil
}

// CleanupCalendar deletes every Genie-owned event in the next `hours` hours.
// Backs the admin cleanup operation.
func (p *Pipeline) CleanupCalendar(ctx context.Context, hours int) (int, error) {
	if hours <= 0 {
		hours = 24
	}
	now := time.Now().UTC()
	window := calendar.Interval{Start: now, End: now.Add(time.Duration(hours) * time.Hour)}
	return p.scheduler.CleanupOwnEvents(ctx, window)
}
