package health

import (
	"sync"
	"time"
)

/* Tracker maintains rolling success/failure counters per target.
 * Outcomes older than the window are discarded, so a burst of old
 * failures decays instead of poisoning the target forever.
 */

// Snapshot is the aggregated view of a target over the trailing window.
type Snapshot struct {
	Successes           int
	Failures            int
	ConsecutiveFailures int
	LastSuccessAt       time.Time
	LastFailureAt       time.Time
}

// Total returns the number of recorded outcomes in the window.
func (s Snapshot) Total() int {
	return s.Successes + s.Failures
}

// SuccessRate returns the fraction of successful outcomes in the window.
// A target with no recorded outcomes is considered fully successful.
func (s Snapshot) SuccessRate() float64 {
	total := s.Total()
	if total == 0 {
		return 1.0
	}
	return float64(s.Successes) / float64(total)
}

type outcome struct {
	at time.Time
	ok bool
}

type series struct {
	outcomes            []outcome
	consecutiveFailures int
	lastSuccessAt       time.Time
	lastFailureAt       time.Time
}

type Tracker struct {
	mu      sync.Mutex
	window  time.Duration
	targets map[string]*series
	now     func() time.Time
}

// NewTracker creates a tracker with the given trailing window.
func NewTracker(window time.Duration) *Tracker {
	return &Tracker{
		window:  window,
		targets: make(map[string]*series),
		now:     time.Now,
	}
}

// RecordSuccess records a successful outcome for the target.
func (t *Tracker) RecordSuccess(target string) {
	t.record(target, true)
}

// RecordFailure records a failed outcome for the target.
func (t *Tracker) RecordFailure(target string) {
	t.record(target, false)
}

func (t *Tracker) record(target string, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, exists := t.targets[target]
	if !exists {
		s = &series{}
		t.targets[target] = s
	}

	now := t.now()
	s.outcomes = append(s.outcomes, outcome{at: now, ok: ok})
	if ok {
		s.consecutiveFailures = 0
		s.lastSuccessAt = now
	} else {
		s.consecutiveFailures++
		s.lastFailureAt = now
	}

	t.prune(s, now)
}

// prune drops outcomes that fell out of the trailing window.
// Caller must hold the mutex.
func (t *Tracker) prune(s *series, now time.Time) {
	cutoff := now.Add(-t.window)
	i := 0
	for i < len(s.outcomes) && s.outcomes[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		s.outcomes = s.outcomes[i:]
	}
}

// Snapshot returns the aggregated window view for the target.
func (t *Tracker) Snapshot(target string) Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, exists := t.targets[target]
	if !exists {
		return Snapshot{}
	}

	t.prune(s, t.now())

	snap := Snapshot{
		ConsecutiveFailures: s.consecutiveFailures,
		LastSuccessAt:       s.lastSuccessAt,
		LastFailureAt:       s.lastFailureAt,
	}
	for _, o := range s.outcomes {
		if o.ok {
			snap.Successes++
		} else {
			snap.Failures++
		}
	}
	return snap
}

// Reset discards all recorded outcomes for the target.
func (t *Tracker) Reset(target string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.targets, target)
}
