package controller

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
	"strings"

	"example.com/treefleet/internal/agent"
	"example.com/treefleet/internal/db"
	sshc "example.com/treefleet/internal/ssh"
)

// DefaultDefinitionsDir is where installed agents load tree definitions.
const DefaultDefinitionsDir = "/var/lib/treefleet/definitions"

type installAgentRequest struct {
	Name           string `json:"name"`
	Address        string `json:"address"`
	User           string `json:"user"`
	SSHKey         string `json:"ssh_key"`
	DefinitionsDir string `json:"definitions_dir"`
	Sudo           bool   `json:"sudo"`
	SudoPwd        string `json:"sudo_password"`
}

func (req installAgentRequest) validate() error {
	if req.Name == "" || req.Address == "" || req.User == "" || req.SSHKey == "" {
		return errors.New("name, address, user, and ssh_key required")
	}
	if strings.Contains(req.Name, "/") {
		return errors.New("name must not contain '/'")
	}
	if !validDefinitionsDir(req.DefinitionsDir) {
		return errors.New("definitions_dir must be an absolute path")
	}
	return nil
}

// InstallAgent copies the agent binary to a host, writes its config and
// systemd unit, and registers the agent so it is listed before its first
// heartbeat.
func (c *Controller) InstallAgent(w http.ResponseWriter, r *http.Request) {
	var req installAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	binaryPath := os.Getenv("AGENT_BINARY_PATH")
	if binaryPath == "" {
		binaryPath = "/app/treefleet-agent"
	}
	binary, err := os.ReadFile(binaryPath)
	if err != nil {
		c.log.Error().Err(err).Str("path", binaryPath).Msg("install agent: read binary")
		respondError(w, http.StatusInternalServerError, "agent binary unavailable")
		return
	}

	dir := req.DefinitionsDir
	if dir == "" {
		dir = DefaultDefinitionsDir
	}
	cfg := agent.Config{
		AgentID:          req.Name,
		MQTTBroker:       agentBrokerURL(),
		DefinitionsDir:   dir,
		WatchDefinitions: true,
	}
	addr := withSSHPort(req.Address)
	sudoPwd := req.SudoPwd
	if sudoPwd == "" {
		sudoPwd = os.Getenv("AGENT_SUDO_PASSWORD")
	}
	useSudo := req.Sudo || strings.ToLower(req.User) != "root"
	if useSudo && sudoPwd == "" {
		respondError(w, http.StatusBadRequest, "sudo password required")
		return
	}
	host := sshc.HostSpec{
		Addr:         addr,
		User:         req.User,
		PrivateKey:   []byte(req.SSHKey),
		UseSudo:      useSudo,
		SudoPassword: sudoPwd,
	}
	if err := c.Deployer.InstallAgent(host, cfg, binary); err != nil {
		c.log.Error().Err(err).Str("host", addr).Msg("install agent: ssh failure")
		respondError(w, http.StatusBadGateway, sshFailureMessage(err, "failed to install agent"))
		return
	}

	ip := req.Address
	if hostIP, _, err := net.SplitHostPort(addr); err == nil {
		ip = hostIP
	}
	if err := c.DB.EnsureAgent(r.Context(), cfg.AgentID, req.Name, ip); err != nil {
		c.log.Error().Err(err).Msg("install agent: register agent")
		respondError(w, http.StatusInternalServerError, "failed to register agent")
		return
	}
	err = c.DB.UpdateAgentInstallConfig(r.Context(), cfg.AgentID, db.InstallConfig{
		Address:        req.Address,
		User:           req.User,
		SSHKey:         req.SSHKey,
		DefinitionsDir: dir,
	})
	if err != nil {
		c.log.Error().Err(err).Msg("install agent: persist install config")
		respondError(w, http.StatusInternalServerError, "failed to save install settings")
		return
	}
	a, err := c.DB.GetAgentByAgentID(r.Context(), cfg.AgentID)
	if err != nil {
		c.log.Error().Err(err).Msg("install agent: fetch agent")
		respondError(w, http.StatusInternalServerError, "failed to fetch agent")
		return
	}
	respondJSON(w, http.StatusCreated, a)
}

func withSSHPort(addr string) string {
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return net.JoinHostPort(addr, "22")
}

func sshFailureMessage(err error, fallback string) string {
	msg := err.Error()
	if strings.Contains(msg, "connection refused") || strings.Contains(msg, "no route to host") || strings.Contains(msg, "i/o timeout") {
		return "connection failed, check the host is reachable"
	}
	return fallback
}

func agentBrokerURL() string {
	if v := os.Getenv("AGENT_MQTT_BROKER"); v != "" {
		return v
	}
	return os.Getenv("MQTT_BROKER")
}
