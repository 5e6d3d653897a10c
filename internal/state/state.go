// Package state holds the mutable runtime state shared across message
// dispatches: the set of groups the bot is muted in and the query rate
// limiter. Static configuration belongs to the config package.
package state

import (
	"sync"

	"railbot/internal/ratelimit"
)

// Runtime is the process-wide mutable state.
type Runtime struct {
	Limiter *ratelimit.Bucket

	mu       sync.Mutex
	disabled map[int64]bool
}

// New seeds the runtime with the initially muted groups.
func New(disabledGroups []int64, limiter *ratelimit.Bucket) *Runtime {
	disabled := make(map[int64]bool, len(disabledGroups))
	for _, id := range disabledGroups {
		disabled[id] = true
	}
	return &Runtime{Limiter: limiter, disabled: disabled}
}

// GroupDisabled reports whether the bot is muted in a group.
func (r *Runtime) GroupDisabled(group int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.disabled[group]
}

// ToggleGroup flips a group's muted flag and reports the new state.
func (r *Runtime) ToggleGroup(group int64) (disabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.disabled[group] {
		delete(r.disabled, group)
		return false
	}
	r.disabled[group] = true
	return true
}
