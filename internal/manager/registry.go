package manager

import (
	"context"
	"sync"
)

// RunRegistry tracks in-flight sweep runs, one handle per task.
type RunRegistry struct {
	mu   sync.Mutex
	runs map[string]context.CancelFunc
}

// NewRunRegistry creates an empty run registry.
func NewRunRegistry() *RunRegistry {
	return &RunRegistry{runs: map[string]context.CancelFunc{}}
}

// Register stores the cancel handle of a starting run. It returns false when
// the task already has an in-flight run.
func (r *RunRegistry) Register(taskID string, cancel context.CancelFunc) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.runs[taskID]; ok {
		return false
	}
	r.runs[taskID] = cancel
	return true
}

// Lookup returns whether the task has an in-flight run.
func (r *RunRegistry) Lookup(taskID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.runs[taskID]
	return ok
}

// Cancel invokes the cancel handle of an in-flight run, if any.
func (r *RunRegistry) Cancel(taskID string) {
	r.mu.Lock()
	cancel, ok := r.runs[taskID]
	r.mu.Unlock()

	if ok {
		cancel()
	}
}

// CancelAll invokes every in-flight cancel handle, used on shutdown.
func (r *RunRegistry) CancelAll() {
	r.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(r.runs))
	for _, cancel := range r.runs {
		cancels = append(cancels, cancel)
	}
	r.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

// Unregister removes the handle of a finished run.
func (r *RunRegistry) Unregister(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.runs, taskID)
}

// Len returns the number of in-flight runs.
func (r *RunRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.runs)
}
