package controller

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"example.com/treefleet/internal/agent"
	"example.com/treefleet/internal/db"
	mqttc "example.com/treefleet/internal/mqtt"
)

const agentsPrefix = "/api/agents/"

type commandRequest struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (req commandRequest) command() (agent.Command, error) {
	if req.Type == "" {
		return agent.Command{}, errors.New("command type required")
	}
	if !agent.KnownCommand(req.Type) {
		return agent.Command{}, fmt.Errorf("unknown command type %q", req.Type)
	}
	return agent.Command{Type: req.Type, Data: req.Data}, nil
}

func (c *Controller) ListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := c.DB.ListAgents(r.Context())
	if err != nil {
		c.log.Error().Err(err).Msg("list agents")
		respondError(w, http.StatusInternalServerError, "failed to list agents")
		return
	}
	respondJSON(w, http.StatusOK, agents)
}

// agentFromPath loads the agent addressed by the request path and writes
// the error response itself when it cannot.
func (c *Controller) agentFromPath(w http.ResponseWriter, r *http.Request) (db.Agent, bool) {
	id, err := parseIDFromPath(r.URL.Path, agentsPrefix)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid agent id")
		return db.Agent{}, false
	}
	a, err := c.DB.GetAgentByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			respondError(w, http.StatusNotFound, "agent not found")
			return db.Agent{}, false
		}
		c.log.Error().Err(err).Int64("id", id).Msg("get agent")
		respondError(w, http.StatusInternalServerError, "failed to fetch agent")
		return db.Agent{}, false
	}
	return a, true
}

func (c *Controller) GetAgent(w http.ResponseWriter, r *http.Request) {
	a, ok := c.agentFromPath(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, a)
}

func (c *Controller) DeleteAgent(w http.ResponseWriter, r *http.Request) {
	a, ok := c.agentFromPath(w, r)
	if !ok {
		return
	}
	if err := c.DB.DeleteAgent(r.Context(), a.ID); err != nil {
		c.log.Error().Err(err).Str("agent", a.AgentID).Msg("delete agent")
		respondError(w, http.StatusInternalServerError, "failed to delete agent")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *Controller) AgentCommand(w http.ResponseWriter, r *http.Request) {
	a, ok := c.agentFromPath(w, r)
	if !ok {
		return
	}
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid command payload")
		return
	}
	cmd, err := req.command()
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	c.sendCommand(r.Context(), w, a.AgentID, cmd)
}

func (c *Controller) BroadcastCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid command payload")
		return
	}
	cmd, err := req.command()
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	c.sendCommand(r.Context(), w, "all", cmd)
}

func (c *Controller) sendCommand(ctx context.Context, w http.ResponseWriter, target string, cmd agent.Command) {
	job, err := c.queueCommand(ctx, target, cmd)
	if err != nil {
		c.log.Error().Err(err).Str("target", target).Str("type", cmd.Type).Msg("queue command")
		status := http.StatusInternalServerError
		if job.ID != 0 {
			status = http.StatusBadGateway
		}
		respondError(w, status, "failed to queue command")
		return
	}
	respondJSON(w, http.StatusCreated, job)
}

// queueCommand records a job and publishes the command with the job id so
// the agent's heartbeat can report its outcome. target "all" broadcasts.
func (c *Controller) queueCommand(ctx context.Context, target string, cmd agent.Command) (db.Job, error) {
	now := time.Now().UTC()
	job := db.Job{
		Type:        cmd.Type,
		TargetAgent: target,
		Status:      db.JobQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	id, err := c.DB.CreateJob(ctx, job)
	if err != nil {
		return db.Job{}, fmt.Errorf("create job: %w", err)
	}
	job.ID = id
	cmd.ID = strconv.FormatInt(id, 10)

	payload, err := json.Marshal(cmd)
	if err != nil {
		return job, fmt.Errorf("marshal command: %w", err)
	}
	job.PayloadJSON = string(payload)
	if err := c.DB.SetJobPayload(ctx, id, job.PayloadJSON); err != nil {
		return job, fmt.Errorf("store payload: %w", err)
	}

	topic := mqttc.CommandTopic(target)
	if target == "all" {
		topic = mqttc.BroadcastTopic
	}
	if err := c.MQTT.Publish(topic, payload); err != nil {
		_ = c.DB.UpdateJobStatus(ctx, id, db.JobFailed, err.Error())
		return job, fmt.Errorf("publish %s: %w", topic, err)
	}
	c.log.Info().Str("type", cmd.Type).Str("topic", topic).Int64("job", id).Msg("command queued")
	return job, nil
}

func (c *Controller) UpdateInstallConfig(w http.ResponseWriter, r *http.Request) {
	a, ok := c.agentFromPath(w, r)
	if !ok {
		return
	}
	var req installConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid install config")
		return
	}
	if err := req.validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := c.DB.UpdateAgentInstallConfig(r.Context(), a.AgentID, req.toInstallConfig()); err != nil {
		c.log.Error().Err(err).Str("agent", a.AgentID).Msg("update install config")
		respondError(w, http.StatusInternalServerError, "failed to save install config")
		return
	}
	updated, err := c.DB.GetAgentByID(r.Context(), a.ID)
	if err != nil {
		c.log.Error().Err(err).Str("agent", a.AgentID).Msg("fetch agent after install config update")
		respondError(w, http.StatusInternalServerError, "failed to fetch agent")
		return
	}
	respondJSON(w, http.StatusOK, updated)
}
