package agent

import (
	"sync"
	"time"
)

type JobStatus string

const (
	JobStatusRunning JobStatus = "running"
	JobStatusSuccess JobStatus = "success"
	JobStatusFailed  JobStatus = "failed"
)

// Job is the record of one command handled by the agent.
type Job struct {
	ID        string
	Type      string
	Status    JobStatus
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

const jobHistory = 32

// JobManager keeps a bounded history of handled commands. The most recent
// one is reported in the heartbeat.
type JobManager struct {
	mu    sync.RWMutex
	jobs  map[string]*Job
	order []string
	last  *Job
}

func NewJobManager() *JobManager {
	return &JobManager{
		jobs: make(map[string]*Job),
	}
}

func (jm *JobManager) Start(id, jobType string) *Job {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	now := time.Now()
	job := &Job{
		ID:        id,
		Type:      jobType,
		Status:    JobStatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, ok := jm.jobs[id]; !ok {
		jm.order = append(jm.order, id)
	}
	jm.jobs[id] = job
	jm.last = job

	for len(jm.order) > jobHistory {
		delete(jm.jobs, jm.order[0])
		jm.order = jm.order[1:]
	}
	return job
}

func (jm *JobManager) Finish(job *Job, err error) {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job.UpdatedAt = time.Now()
	if err != nil {
		job.Status = JobStatusFailed
		job.Error = err.Error()
		return
	}
	job.Status = JobStatusSuccess
}

func (jm *JobManager) Get(id string) (Job, bool) {
	jm.mu.RLock()
	defer jm.mu.RUnlock()
	job, ok := jm.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// Last returns a copy of the most recently started job.
func (jm *JobManager) Last() (Job, bool) {
	jm.mu.RLock()
	defer jm.mu.RUnlock()
	if jm.last == nil {
		return Job{}, false
	}
	return *jm.last, true
}
