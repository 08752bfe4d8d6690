package controller

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"example.com/treefleet/internal/agent"
	"example.com/treefleet/internal/db"
	mqttc "example.com/treefleet/internal/mqtt"
)

func (c *Controller) ListJobs(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("agent")
	jobs, err := c.DB.ListJobs(r.Context(), target)
	if err != nil {
		c.log.Error().Err(err).Msg("list jobs")
		respondError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	respondJSON(w, http.StatusOK, jobs)
}

var jobStates = map[string]string{
	string(agent.JobStatusRunning): db.JobRunning,
	string(agent.JobStatusSuccess): db.JobSuccess,
	string(agent.JobStatusFailed):  db.JobFailed,
}

// RecordStatus persists a heartbeat received on topic and settles the job
// it reports on. Job ids the controller did not issue are ignored.
func (c *Controller) RecordStatus(ctx context.Context, topic string, payload []byte) (agent.Status, error) {
	agentID, ok := mqttc.AgentFromStatusTopic(topic)
	if !ok {
		return agent.Status{}, fmt.Errorf("not a status topic: %s", topic)
	}
	var s agent.Status
	if err := json.Unmarshal(payload, &s); err != nil {
		return agent.Status{}, fmt.Errorf("invalid status payload from %s: %w", agentID, err)
	}
	if s.AgentID == "" {
		s.AgentID = agentID
	}
	if s.AgentID != agentID {
		return s, fmt.Errorf("status for %s published on %s", s.AgentID, topic)
	}
	if s.Status == "" {
		s.Status = agent.StateOK
	}

	instances, err := json.Marshal(s.Instances)
	if err != nil {
		return s, err
	}
	if s.Instances == nil {
		instances = []byte("[]")
	}
	err = c.DB.UpsertAgentStatus(ctx, db.AgentStatus{
		AgentID:     s.AgentID,
		IP:          s.IP,
		Status:      s.Status,
		Definitions: s.Definitions,
		Instances:   instances,
	})
	if err != nil {
		return s, fmt.Errorf("upsert agent %s: %w", s.AgentID, err)
	}
	c.Metrics.RecordHeartbeat()

	if s.JobID == "" {
		return s, nil
	}
	jobID, err := strconv.ParseInt(s.JobID, 10, 64)
	state, known := jobStates[s.JobStatus]
	if err != nil || !known {
		return s, nil
	}
	if err := c.DB.UpdateJobStatus(ctx, jobID, state, s.JobError); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return s, fmt.Errorf("update job %d: %w", jobID, err)
	}
	return s, nil
}
