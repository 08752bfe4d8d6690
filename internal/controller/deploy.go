package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"example.com/treefleet/internal/agent"
	"example.com/treefleet/internal/db"
	sshc "example.com/treefleet/internal/ssh"
)

type deployRequest struct {
	// Definitions names the trees to push; empty means all of them.
	Definitions []string `json:"definitions"`
	// Spawn starts one instance of each pushed tree after the reload.
	Spawn bool `json:"spawn"`
}

type deployResponse struct {
	Definitions []string `json:"definitions"`
	Job         db.Job   `json:"job"`
}

// DeployDefinitions uploads stored definitions to the agent's definitions
// directory over SFTP, then tells the agent to reload them.
func (c *Controller) DeployDefinitions(w http.ResponseWriter, r *http.Request) {
	a, ok := c.agentFromPath(w, r)
	if !ok {
		return
	}
	var req deployRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid deploy payload")
			return
		}
	}

	host, dir, err := c.deployTarget(r.Context(), a)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	files, names, err := c.selectDefinitions(r.Context(), req.Definitions)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := c.Deployer.DeployDefinitions(host, dir, files); err != nil {
		c.log.Error().Err(err).Str("agent", a.AgentID).Msg("deploy definitions")
		respondError(w, http.StatusBadGateway, sshFailureMessage(err, "failed to deploy definitions"))
		return
	}

	cmd, err := deployCommand(names, req.Spawn)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to encode command")
		return
	}
	job, err := c.queueCommand(r.Context(), a.AgentID, cmd)
	if err != nil {
		c.log.Error().Err(err).Str("agent", a.AgentID).Msg("queue reload after deploy")
		respondError(w, http.StatusBadGateway, "definitions uploaded but reload could not be sent")
		return
	}
	respondJSON(w, http.StatusCreated, deployResponse{Definitions: names, Job: job})
}

// deployTarget resolves SSH access for an agent, falling back to the saved
// install defaults and the agent's last reported IP.
func (c *Controller) deployTarget(ctx context.Context, a db.Agent) (sshc.HostSpec, string, error) {
	var cfg db.InstallConfig
	if a.InstallConfig != nil {
		cfg = *a.InstallConfig
	}
	if cfg.User == "" || cfg.SSHKey == "" || cfg.DefinitionsDir == "" {
		defaults, err := c.DB.GetDefaultInstallConfig(ctx)
		if err != nil {
			return sshc.HostSpec{}, "", fmt.Errorf("load install defaults: %w", err)
		}
		if defaults != nil {
			if cfg.User == "" {
				cfg.User = defaults.User
			}
			if cfg.SSHKey == "" {
				cfg.SSHKey = defaults.SSHKey
			}
			if cfg.DefinitionsDir == "" {
				cfg.DefinitionsDir = defaults.DefinitionsDir
			}
		}
	}
	if cfg.Address == "" {
		cfg.Address = a.IP
	}
	if cfg.DefinitionsDir == "" {
		cfg.DefinitionsDir = DefaultDefinitionsDir
	}
	if cfg.Address == "" || cfg.User == "" || cfg.SSHKey == "" {
		return sshc.HostSpec{}, "", errors.New("agent has no ssh install config")
	}
	return sshc.HostSpec{
		Addr:       withSSHPort(cfg.Address),
		User:       cfg.User,
		PrivateKey: []byte(cfg.SSHKey),
	}, cfg.DefinitionsDir, nil
}

func (c *Controller) selectDefinitions(ctx context.Context, want []string) (map[string][]byte, []string, error) {
	all, err := c.DB.ListDefinitions(ctx)
	if err != nil {
		return nil, nil, err
	}
	byName := make(map[string]db.Definition, len(all))
	for _, def := range all {
		byName[def.Name] = def
	}
	if len(want) == 0 {
		for _, def := range all {
			want = append(want, def.Name)
		}
	}
	if len(want) == 0 {
		return nil, nil, errors.New("no definitions stored")
	}
	files := make(map[string][]byte, len(want))
	for _, name := range want {
		def, ok := byName[name]
		if !ok {
			return nil, nil, fmt.Errorf("unknown definition %q", name)
		}
		files[name] = []byte(def.SourceYAML)
	}
	return files, want, nil
}

// deployCommand is a reload, or a batch of reload plus one spawn per tree.
func deployCommand(names []string, spawn bool) (agent.Command, error) {
	if !spawn {
		return agent.NewCommand(agent.CommandReload, nil)
	}
	batch := agent.BatchData{Commands: []agent.Command{{Type: agent.CommandReload}}}
	for _, name := range names {
		cmd, err := agent.NewCommand(agent.CommandSpawn, agent.SpawnData{Definition: name})
		if err != nil {
			return agent.Command{}, err
		}
		batch.Commands = append(batch.Commands, cmd)
	}
	return agent.NewCommand(agent.CommandBatch, batch)
}
