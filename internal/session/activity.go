package session

import (
	"sync"

	"github.com/skipperro/mosaic/media"
)

// ActivityTracker owns the PipelineActivity flags. All mutation funnels
// through Update so observers see every change as an explicit event
// instead of polling ambient state.
type ActivityTracker struct {
	mu       sync.Mutex
	activity media.PipelineActivity
	subs     []func(media.PipelineActivity)
}

// NewActivityTracker creates a tracker with all pipelines inactive.
func NewActivityTracker() *ActivityTracker {
	return &ActivityTracker{}
}

// Subscribe registers a change observer. Observers are invoked
// synchronously from the updating goroutine, after the mutation.
func (t *ActivityTracker) Subscribe(fn func(media.PipelineActivity)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subs = append(t.subs, fn)
}

// Update applies mutate to the activity flags and notifies observers if
// anything changed.
func (t *ActivityTracker) Update(mutate func(*media.PipelineActivity)) {
	t.mu.Lock()
	before := t.activity
	mutate(&t.activity)
	after := t.activity
	subs := t.subs
	t.mu.Unlock()

	if before == after {
		return
	}
	for _, fn := range subs {
		fn(after)
	}
}

// Snapshot returns the current flags.
func (t *ActivityTracker) Snapshot() media.PipelineActivity {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.activity
}
