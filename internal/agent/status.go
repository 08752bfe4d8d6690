package agent

import "time"

const (
	StateOK      = "ok"
	StateOffline = "offline"
)

// Status is the retained heartbeat an agent publishes on its status topic.
type Status struct {
	AgentID     string           `json:"agent_id"`
	Status      string           `json:"status"`
	TS          string           `json:"ts"`
	IP          string           `json:"ip,omitempty"`
	Definitions []string         `json:"definitions"`
	Instances   []InstanceStatus `json:"instances"`
	JobID       string           `json:"job_id,omitempty"`
	JobType     string           `json:"job_type,omitempty"`
	JobStatus   string           `json:"job_status,omitempty"`
	JobError    string           `json:"job_error,omitempty"`
}

type InstanceStatus struct {
	Name       string `json:"name"`
	Definition string `json:"definition"`
	ID         string `json:"id"`
	Status     string `json:"status"`
	Ticks      uint64 `json:"ticks"`
	Error      string `json:"error,omitempty"`
}

// Actor is the execution context handed to every node of an instance.
type Actor struct {
	AgentID    string
	Instance   string
	Definition string
}

func (e *Engine) buildStatus(state string) Status {
	s := Status{
		AgentID:     e.cfg.AgentID,
		Status:      state,
		TS:          time.Now().UTC().Format(time.RFC3339),
		IP:          e.lastIP,
		Definitions: e.library.Names(),
		Instances:   []InstanceStatus{},
	}
	for _, inst := range e.runner.Instances() {
		is := InstanceStatus{
			Name:       inst.Name,
			Definition: inst.Definition,
			ID:         inst.Tree.ID.String(),
			Status:     inst.LastStatus.String(),
			Ticks:      inst.Ticks,
		}
		if inst.LastErr != nil {
			is.Error = inst.LastErr.Error()
		}
		s.Instances = append(s.Instances, is)
	}
	if job, ok := e.jobs.Last(); ok {
		s.JobID = job.ID
		s.JobType = job.Type
		s.JobStatus = string(job.Status)
		s.JobError = job.Error
	}
	return s
}
