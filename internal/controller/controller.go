package controller

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"example.com/treefleet/internal/agent"
	"example.com/treefleet/internal/behavior"
	"example.com/treefleet/internal/db"
	"example.com/treefleet/internal/leaf"
	"example.com/treefleet/internal/metrics"
	sshc "example.com/treefleet/internal/ssh"
	"github.com/rs/zerolog"
)

// Publisher sends commands to agents.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// Deployer reaches agent hosts over SSH.
type Deployer interface {
	InstallAgent(h sshc.HostSpec, cfg agent.Config, agentBinary []byte) error
	DeployDefinitions(h sshc.HostSpec, dir string, defs map[string][]byte) error
}

// Controller holds shared dependencies for HTTP handlers.
type Controller struct {
	DB       *db.DB
	MQTT     Publisher
	Deployer Deployer
	Metrics  *metrics.Metrics
	// Registry validates definitions before they are stored.
	Registry *behavior.Registry

	log zerolog.Logger
}

func New(dbConn *db.DB, pub Publisher, deployer Deployer, logger zerolog.Logger) *Controller {
	return &Controller{
		DB:       dbConn,
		MQTT:     pub,
		Deployer: deployer,
		Registry: leaf.NewRegistry(leaf.Deps{}),
		log:      logger.With().Str("component", "controller").Logger(),
	}
}

func (c *Controller) Health(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

// parseIDFromPath reads the numeric id that follows prefix, ignoring any
// trailing sub-resource such as /command.
func parseIDFromPath(path, prefix string) (int64, error) {
	tail, ok := strings.CutPrefix(path, prefix)
	if !ok {
		return 0, errors.New("invalid path")
	}
	tail = strings.Trim(tail, "/")
	if i := strings.IndexByte(tail, '/'); i >= 0 {
		tail = tail[:i]
	}
	if tail == "" {
		return 0, errors.New("missing id")
	}
	return strconv.ParseInt(tail, 10, 64)
}
