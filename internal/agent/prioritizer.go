package agent

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kolapsis/genie/internal/calendar"
	"github.com/kolapsis/genie/internal/model"
	"github.com/kolapsis/genie/internal/store"
)

// maxCandidatesPerTask bounds how many pending subtasks of one task compete,
// keeping late subtasks from drowning out other tasks.
const maxCandidatesPerTask = 5

// deepVerbs and shallowVerbs drive the energy-match heuristic: headings
// starting with (or containing) a deep verb want peak hours, shallow ones
// fit the off-peak.
var (
	deepVerbs    = []string{"design", "analyze", "analyse", "implement", "study", "write", "research", "build", "architect", "develop"}
	shallowVerbs = []string{"set up", "setup", "review", "list", "email", "organize", "organise", "schedule", "collect", "install"}
)

type workDepth int

const (
	depthNeutral workDepth = iota
	depthDeep
	depthShallow
)

func classifyDepth(heading string) workDepth {
	h := strings.ToLower(heading)
	for _, v := range deepVerbs {
		if strings.Contains(h, v) {
			return depthDeep
		}
	}
	for _, v := range shallowVerbs {
		if strings.Contains(h, v) {
			return depthShallow
		}
	}
	return depthNeutral
}

// candidate is one pending subtask in the ranking.
type candidate struct {
	task    *model.Task
	subtask *model.Subtask
	index   int // position among its siblings
	depth   workDepth
}

// Prioritizer ranks all pending subtasks against the schedule view and the
// user's energy profile, returning a single recommendation. The scoring is
// deterministic; the ordering rules are, from strongest to weakest:
// deadline pressure, energy match, dependency order, task age.
type Prioritizer struct{}

// NewPrioritizer creates a Prioritizer.
func NewPrioritizer() *Prioritizer {
	return &Prioritizer{}
}

// Recommend picks the best next subtask. The hard filter admits pending
// subtasks whose estimate fits the largest free block of the next 24 hours;
// when nothing passes, the recommendation is empty with reasoning
// "no fitting work in window".
func (p *Prioritizer) Recommend(snap *store.UserSnapshot, fb calendar.FreeBusy, now time.Time) model.Recommendation {
	now = now.UTC()
	largestFree := largestFreeMinutes(fb)

	var candidates []candidate
	for _, t := range snap.TasksByCreation() {
		if t.Status == model.StatusDone || t.Status == model.StatusCancelled {
			continue
		}
		seen := 0
		for i, sub := range t.Subtasks {
			if sub.Status != model.StatusPending {
				continue
			}
			seen++
			if seen > maxCandidatesPerTask {
				break
			}
			if sub.TimeEstimate <= 0 || sub.TimeEstimate > largestFree {
				continue
			}
			candidates = append(candidates, candidate{
				task:    t,
				subtask: sub,
				index:   i,
				depth:   classifyDepth(sub.Heading),
			})
		}
	}

	if len(candidates) == 0 {
		return model.Recommendation{Reasoning: "no fitting work in window"}
	}

	peak := snap.Preferences.PeakWindow
	hour := now.Hour()

	sort.SliceStable(candidates, func(i, j int) bool {
		winner, _ := compare(candidates[i], candidates[j], now, peak, hour)
		return winner == 0
	})

	best := candidates[0]
	decidedBy := ruleOnly
	if len(candidates) > 1 {
		_, decidedBy = compare(best, candidates[1], now, peak, hour)
	}

	return model.Recommendation{
		TaskID:    best.task.ID,
		SubtaskID: best.subtask.ID,
		Heading:   best.subtask.Heading,
		Reasoning: reasoning(best, decidedBy, now),
		Fit:       fit(best.depth, peak, hour),
	}
}

// rule identifies which ordering rule separated the top two candidates.
type rule int

const (
	ruleOnly rule = iota
	ruleDeadline
	ruleEnergy
	ruleDependency
	ruleAge
)

// compare returns 0 when a outranks b, 1 otherwise, plus the rule that
// decided.
func compare(a, b candidate, now time.Time, peak model.PeakWindow, hour int) (int, rule) {
	// Deadline pressure: parent deadline within 24h beats everything;
	// within the group, earliest deadline first.
	aPressed, aDeadline := deadlinePressure(a.task, now)
	bPressed, bDeadline := deadlinePressure(b.task, now)
	switch {
	case aPressed && !bPressed:
		return 0, ruleDeadline
	case bPressed && !aPressed:
		return 1, ruleDeadline
	case aPressed && bPressed && !aDeadline.Equal(bDeadline):
		if aDeadline.Before(bDeadline) {
			return 0, ruleDeadline
		}
		return 1, ruleDeadline
	}

	// Energy match.
	aScore := energyScore(a.depth, peak, hour)
	bScore := energyScore(b.depth, peak, hour)
	if aScore != bScore {
		if aScore > bScore {
			return 0, ruleEnergy
		}
		return 1, ruleEnergy
	}

	// Dependency order among siblings of the same task.
	if a.task.ID == b.task.ID {
		if a.index <= b.index {
			return 0, ruleDependency
		}
		return 1, ruleDependency
	}

	// Tie-break on task age, then ID for a stable total order.
	if a.task.CreatedAt.After(b.task.CreatedAt) {
		return 1, ruleAge
	}
	if a.task.CreatedAt.Equal(b.task.CreatedAt) && a.task.ID > b.task.ID {
		return 1, ruleAge
	}
	return 0, ruleAge
}

func deadlinePressure(t *model.Task, now time.Time) (bool, time.Time) {
	if t.Deadline == nil {
		return false, time.Time{}
	}
	return t.Deadline.Sub(now) <= 24*time.Hour, *t.Deadline
}

func energyScore(depth workDepth, peak model.PeakWindow, hour int) int {
	inPeak := peak.Contains(hour)
	switch {
	case depth == depthDeep && inPeak:
		return 2
	case depth == depthShallow && !inPeak:
		return 2
	case depth == depthNeutral:
		return 1
	default:
		return 0
	}
}

func fit(depth workDepth, peak model.PeakWindow, hour int) model.PsychologicalFit {
	inPeak := peak.Contains(hour)
	switch {
	case depth == depthDeep && inPeak:
		return model.FitPeak
	case depth == depthShallow && !inPeak:
		return model.FitAligned
	case depth == depthDeep && !inPeak:
		return model.FitMismatch
	default:
		return model.FitAcceptable
	}
}

func reasoning(best candidate, decidedBy rule, now time.Time) string {
	switch decidedBy {
	case ruleDeadline:
		return fmt.Sprintf("deadline pressure: %q is due %s",
			best.task.Heading, best.task.Deadline.Format("2006-01-02 15:04 UTC"))
	case ruleEnergy:
		if best.depth == depthDeep {
			return fmt.Sprintf("energy match: %q is deep work and you are in your peak window", best.subtask.Heading)
		}
		return fmt.Sprintf("energy match: %q is light work that fits outside your peak window", best.subtask.Heading)
	case ruleDependency:
		return fmt.Sprintf("dependency order: %q is the earliest prerequisite in %q",
			best.subtask.Heading, best.task.Heading)
	case ruleAge:
		return fmt.Sprintf("oldest open task: %q was created first", best.task.Heading)
	default:
		if pressed, _ := deadlinePressure(best.task, now); pressed {
			return fmt.Sprintf("deadline pressure: %q is due %s",
				best.task.Heading, best.task.Deadline.Format("2006-01-02 15:04 UTC"))
		}
		return fmt.Sprintf("dependency order: %q is the earliest prerequisite in %q",
			best.subtask.Heading, best.task.Heading)
	}
}

func largestFreeMinutes(fb calendar.FreeBusy) int {
	largest := 0
	for _, iv := range fb.Free {
		if m := int(iv.Duration().Minutes()); m > largest {
			largest = m
		}
	}
	return largest
}
