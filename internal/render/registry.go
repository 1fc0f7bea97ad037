package render

import "sync"

// Registry is the in-memory index of live jobs. The RWMutex guards
// membership and owner reservations; per-job state is protected by each
// Job's own lock.
type Registry struct {
	mu       sync.RWMutex
	jobs     map[string]*Job
	reserved map[string]int
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		jobs:     make(map[string]*Job),
		reserved: make(map[string]int),
	}
}

// Reserve claims an owner slot ahead of job construction, counting both
// running jobs and outstanding reservations against limit. The check and
// the claim happen under one lock, so two concurrent submits cannot both
// slip past a full quota. Anonymous owners and non-positive limits are
// never reserved.
func (r *Registry) Reserve(owner string, limit int) bool {
	if owner == "" || limit <= 0 {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.runningByOwnerLocked(owner)+r.reserved[owner] >= limit {
		return false
	}
	r.reserved[owner]++
	return true
}

// Release returns an unused reservation, for submits that fail after
// Reserve but before Add.
func (r *Registry) Release(owner string) {
	if owner == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.releaseLocked(owner)
}

func (r *Registry) releaseLocked(owner string) {
	if n := r.reserved[owner]; n > 1 {
		r.reserved[owner] = n - 1
	} else {
		delete(r.reserved, owner)
	}
}

// Add registers a job under its ID, consuming one of its owner's
// reservations if any are outstanding.
func (r *Registry) Add(j *Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[j.ID()] = j
	if owner := j.Owner(); owner != "" {
		r.releaseLocked(owner)
	}
}

// Get returns the job for id, or nil.
func (r *Registry) Get(id string) *Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.jobs[id]
}

// Remove drops a job from the registry.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, id)
}

// RunningByOwner counts non-terminal jobs submitted by owner.
func (r *Registry) RunningByOwner(owner string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.runningByOwnerLocked(owner)
}

func (r *Registry) runningByOwnerLocked(owner string) int {
	n := 0
	for _, j := range r.jobs {
		if j.Owner() != owner {
			continue
		}
		if j.View().State == StateRunning {
			n++
		}
	}
	return n
}

// Jobs returns a snapshot slice of all registered jobs.
func (r *Registry) Jobs() []*Job {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		out = append(out, j)
	}
	return out
}
