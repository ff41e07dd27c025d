package engine

import "sync"

// ProgressFunc receives aggregate percentages in [0,100].
type ProgressFunc func(percent float64)

// Tracker aggregates per-variant completion into one overall percentage.
// Each variant contributes an equal share. Per-variant and overall values
// are monotonically non-decreasing for the lifetime of one request, so a
// retried attempt never makes reported progress move backwards.
type Tracker struct {
	mu         sync.Mutex
	percents   map[string]float64
	overall    float64
	onProgress ProgressFunc
}

// NewTracker creates a tracker for the given variant names, all at zero.
func NewTracker(names []string, onProgress ProgressFunc) *Tracker {
	percents := make(map[string]float64, len(names))
	for _, name := range names {
		percents[name] = 0
	}
	return &Tracker{percents: percents, onProgress: onProgress}
}

// Set records progress for one variant, clamped to [0,100] and never below
// the previously recorded value. The callback runs under the tracker lock:
// releasing it first would let two variant goroutines deliver their
// aggregates out of order and the caller would observe progress moving
// backwards. Callbacks must not call back into the tracker.
func (t *Tracker) Set(name string, percent float64) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	prev, ok := t.percents[name]
	if !ok || percent <= prev {
		return
	}
	t.percents[name] = percent

	var sum float64
	for _, p := range t.percents {
		sum += p
	}
	overall := sum / float64(len(t.percents))
	if overall > t.overall {
		t.overall = overall
	}

	if t.onProgress != nil {
		t.onProgress(t.overall)
	}
}

// Percent returns the recorded progress for one variant.
func (t *Tracker) Percent(name string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.percents[name]
}

// Overall returns the aggregate percentage.
func (t *Tracker) Overall() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.overall
}
