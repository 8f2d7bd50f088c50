package camera

import "sync"

// Hooks is a registry of per-frame callbacks. A callback returns true when
// it is finished and should be deregistered.
type Hooks struct {
	mu    sync.Mutex
	tasks []*Task
}

// Task is the handle of a registered callback.
type Task struct {
	hooks *Hooks
	fn    func() bool
}

// Add registers fn to run on every frame until it returns true or the
// returned task is cancelled.
func (h *Hooks) Add(fn func() bool) *Task {
	t := &Task{hooks: h, fn: fn}
	h.mu.Lock()
	h.tasks = append(h.tasks, t)
	h.mu.Unlock()
	return t
}

// Cancel deregisters the task. It reports whether the task was still
// registered; cancelling twice, or after completion, returns false.
func (t *Task) Cancel() bool {
	if t == nil {
		return false
	}
	return t.hooks.remove(t)
}

// Run invokes every registered callback once and returns how many ran.
// Callbacks run without the registry lock held, so they may add or cancel
// tasks; a task cancelled mid-run is skipped.
func (h *Hooks) Run() int {
	h.mu.Lock()
	pending := make([]*Task, len(h.tasks))
	copy(pending, h.tasks)
	h.mu.Unlock()

	ran := 0
	for _, t := range pending {
		if !h.registered(t) {
			continue
		}
		ran++
		if t.fn() {
			h.remove(t)
		}
	}
	return ran
}

// Active returns the number of registered callbacks.
func (h *Hooks) Active() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.tasks)
}

func (h *Hooks) registered(t *Task) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, cur := range h.tasks {
		if cur == t {
			return true
		}
	}
	return false
}

func (h *Hooks) remove(t *Task) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, cur := range h.tasks {
		if cur == t {
			h.tasks = append(h.tasks[:i], h.tasks[i+1:]...)
			return true
		}
	}
	return false
}
