package http

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/capclaw/internal/topology"
)

// Job states.
const (
	JobRunning = "running"
	JobDone    = "done"
	JobFailed  = "failed"
)

// maxRetainedJobs caps the in-memory job history; the oldest finished
// jobs are evicted first.
const maxRetainedJobs = 100

// Job tracks one topology generation run.
type Job struct {
	ID        string                 `json:"id"`
	State     string                 `json:"state"`
	Goal      string                 `json:"goal"`
	Result    *topology.Result       `json:"result,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Events    []topology.StageEvent  `json:"events"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// jobStore holds jobs in memory and fans stage events out to websocket
// subscribers.
type jobStore struct {
	mu    sync.RWMutex
	jobs  map[string]*Job
	order []string // creation order, for eviction
	subs  map[string][]chan topology.StageEvent
}

func newJobStore() *jobStore {
	return &jobStore{
		jobs: make(map[string]*Job),
		subs: make(map[string][]chan topology.StageEvent),
	}
}

// Create registers a new running job.
func (js *jobStore) Create(goal string) *Job {
	now := time.Now()
	job := &Job{
		ID:        uuid.NewString(),
		State:     JobRunning,
		Goal:      goal,
		CreatedAt: now,
		UpdatedAt: now,
	}

	js.mu.Lock()
	defer js.mu.Unlock()
	js.evictLocked()
	js.jobs[job.ID] = job
	js.order = append(js.order, job.ID)
	return js.copyLocked(job)
}

// Get returns a snapshot of the job.
func (js *jobStore) Get(id string) (*Job, bool) {
	js.mu.RLock()
	defer js.mu.RUnlock()
	job, ok := js.jobs[id]
	if !ok {
		return nil, false
	}
	return js.copyLocked(job), true
}

// AppendEvent records a stage event and notifies subscribers. Slow
// subscribers lose events rather than stalling the pipeline.
func (js *jobStore) AppendEvent(id string, ev topology.StageEvent) {
	js.mu.Lock()
	job, ok := js.jobs[id]
	if !ok {
		js.mu.Unlock()
		return
	}
	job.Events = append(job.Events, ev)
	job.UpdatedAt = time.Now()
	subs := append([]chan topology.StageEvent(nil), js.subs[id]...)
	js.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Finish marks the job done or failed and closes subscriber channels.
func (js *jobStore) Finish(id string, res *topology.Result, err error) {
	js.mu.Lock()
	job, ok := js.jobs[id]
	if !ok {
		js.mu.Unlock()
		return
	}
	if err != nil {
		job.State = JobFailed
		job.Error = err.Error()
	} else {
		job.State = JobDone
		job.Result = res
	}
	job.UpdatedAt = time.Now()
	subs := js.subs[id]
	delete(js.subs, id)
	js.mu.Unlock()

	for _, ch := range subs {
		close(ch)
	}
}

// Subscribe returns the events recorded so far plus a channel for live
// ones. The channel is closed when the job finishes; cancel detaches
// early. For finished jobs the channel arrives already closed.
func (js *jobStore) Subscribe(id string) (replay []topology.StageEvent, ch chan topology.StageEvent, cancel func(), ok bool) {
	js.mu.Lock()
	defer js.mu.Unlock()
	job, exists := js.jobs[id]
	if !exists {
		return nil, nil, nil, false
	}

	replay = append([]topology.StageEvent(nil), job.Events...)
	ch = make(chan topology.StageEvent, 64)
	if job.State != JobRunning {
		close(ch)
		return replay, ch, func() {}, true
	}

	js.subs[id] = append(js.subs[id], ch)
	cancel = func() {
		js.mu.Lock()
		defer js.mu.Unlock()
		subs := js.subs[id]
		for i, c := range subs {
			if c == ch {
				js.subs[id] = append(subs[:i], subs[i+1:]...)
				return
			}
		}
	}
	return replay, ch, cancel, true
}

// evictLocked drops the oldest finished jobs once the cap is reached.
func (js *jobStore) evictLocked() {
	for len(js.jobs) >= maxRetainedJobs {
		evicted := false
		for i, id := range js.order {
			if job, ok := js.jobs[id]; ok && job.State != JobRunning {
				delete(js.jobs, id)
				js.order = append(js.order[:i], js.order[i+1:]...)
				evicted = true
				break
			}
		}
		if !evicted {
			return // everything still running
		}
	}
}

func (js *jobStore) copyLocked(job *Job) *Job {
	cp := *job
	cp.Events = append([]topology.StageEvent(nil), job.Events...)
	return &cp
}
