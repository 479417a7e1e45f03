// Package jobs tracks download jobs reported by the job executor
package jobs

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/satori/go.uuid"

	"github.com/tonycerq/tonycerq-comfyui/model"
)

const DefaultRetention = 100

// ErrSourceBusy is returned by Submit while the latest job of a source is in flight
var ErrSourceBusy = errors.New("a job for this source is already in progress")

type entry struct {
	sync.Mutex
	job model.Job
	seq uint64 // submission order
}

type Registry struct {
	mutex     sync.RWMutex
	entries   map[string]*entry
	latest    map[model.JobSource]string
	seq       uint64
	retention int
	onChange  func(model.Job)
	now       func() time.Time
}

// New returns a registry calling onChange (which may be nil) on every new
// job and transition. Calls for one job are serialized.
func New(onChange func(model.Job)) *Registry {
	if onChange == nil {
		onChange = func(model.Job) {}
	}
	return &Registry{
		entries:   make(map[string]*entry),
		latest:    make(map[model.JobSource]string),
		retention: DefaultRetention,
		onChange:  onChange,
		now:       time.Now,
	}
}

// Busy reports whether the latest job of src is Pending or Downloading
func (r *Registry) Busy(src model.JobSource) bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.busy(src)
}

func (r *Registry) busy(src model.JobSource) bool {
	id, ok := r.latest[src]
	if !ok {
		return false
	}
	e := r.entries[id]
	e.Lock()
	defer e.Unlock()
	return !e.job.State.Terminal()
}

// Submit accepts a new Pending job for src, or rejects it with ErrSourceBusy
func (r *Registry) Submit(src model.JobSource) (model.Job, error) {
	r.mutex.Lock()
	if r.busy(src) {
		r.mutex.Unlock()
		return model.Job{}, ErrSourceBusy
	}
	now := r.now()
	r.seq++
	e := &entry{seq: r.seq, job: model.Job{
		ID:      uuid.NewV4().String(),
		Source:  src,
		State:   model.JobPending,
		Created: now,
		Updated: now,
	}}
	e.Lock()
	r.entries[e.job.ID] = e
	r.latest[src] = e.job.ID
	r.prune()
	r.mutex.Unlock()

	defer e.Unlock()
	r.onChange(e.job)
	return e.job, nil
}

// Transition moves job id to state. Only Pending→Downloading and
// Downloading→Succeeded|Failed are legal; anything else, or an unknown id,
// is a bug in the caller and panics. detail is kept on Failed only.
func (r *Registry) Transition(id string, state model.JobState, detail string) model.Job {
	r.mutex.RLock()
	e, ok := r.entries[id]
	r.mutex.RUnlock()
	if !ok {
		panic(fmt.Sprintf("jobs: transition of unknown job %s", id))
	}

	e.Lock()
	defer e.Unlock()
	if !e.job.State.CanTransition(state) {
		panic(fmt.Sprintf("jobs: illegal transition of %s job %s: %s -> %s", e.job.Source, id, e.job.State, state))
	}
	e.job.State = state
	e.job.Detail = ""
	if state == model.JobFailed {
		e.job.Detail = detail
	}
	e.job.Updated = r.now()
	r.onChange(e.job)
	return e.job
}

func (r *Registry) Get(id string) (model.Job, bool) {
	r.mutex.RLock()
	e, ok := r.entries[id]
	r.mutex.RUnlock()
	if !ok {
		return model.Job{}, false
	}
	e.Lock()
	defer e.Unlock()
	return e.job, true
}

// Snapshot returns every retained job, oldest first
func (r *Registry) Snapshot() []model.Job {
	r.mutex.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mutex.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	jobs := make([]model.Job, len(entries))
	for i, e := range entries {
		e.Lock()
		jobs[i] = e.job
		e.Unlock()
	}
	return jobs
}

// prune drops the oldest terminal jobs beyond the retention count.
// Must be called with the registry lock held.
func (r *Registry) prune() {
	if len(r.entries) <= r.retention {
		return
	}
	var terminal []*entry
	for _, e := range r.entries {
		if !e.TryLock() {
			continue // in transition, so not terminal
		}
		if e.job.State.Terminal() {
			terminal = append(terminal, e)
		}
		e.Unlock()
	}
	sort.Slice(terminal, func(i, j int) bool { return terminal[i].seq < terminal[j].seq })
	for i := 0; i < len(terminal) && len(r.entries) > r.retention; i++ {
		job := terminal[i].job
		delete(r.entries, job.ID)
		if r.latest[job.Source] == job.ID {
			delete(r.latest, job.Source)
		}
	}
}
