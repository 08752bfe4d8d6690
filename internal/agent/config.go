package agent

import (
	"errors"
	"fmt"
	"os"
	"time"

	"example.com/treefleet/internal/behavior"
	"example.com/treefleet/internal/logging"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigPath        = "/etc/treefleet-agent/config.yaml"
	DefaultTickInterval      = 100 * time.Millisecond
	DefaultHeartbeatInterval = 10 * time.Second
)

// Config represents the agent's runtime configuration.
type Config struct {
	AgentID           string         `yaml:"agent_id" validate:"required,excludes=/"`
	MQTTBroker        string         `yaml:"mqtt_broker"`
	DefinitionsDir    string         `yaml:"definitions_dir" validate:"required"`
	WatchDefinitions  bool           `yaml:"watch_definitions"`
	TickInterval      time.Duration  `yaml:"tick_interval" validate:"gte=0"`
	HeartbeatInterval time.Duration  `yaml:"heartbeat_interval" validate:"gte=0"`
	RetireOnDone      bool           `yaml:"retire_on_done"`
	MetricsAddr       string         `yaml:"metrics_addr" validate:"omitempty,hostname_port"`
	Log               logging.Config `yaml:"log"`
	Globals           []GlobalSpec   `yaml:"globals" validate:"dive"`
	Instances         []InstanceSpec `yaml:"instances" validate:"dive"`
}

// GlobalSpec declares a process-wide variable shared by every instance.
type GlobalSpec struct {
	Name  string `yaml:"name" validate:"required"`
	Type  string `yaml:"type" validate:"required,oneof=int float string bool duration"`
	Value any    `yaml:"value"`
}

// InstanceSpec is a tree instance spawned at startup.
type InstanceSpec struct {
	Definition string         `yaml:"definition" validate:"required"`
	Name       string         `yaml:"name"`
	Variables  map[string]any `yaml:"variables"`
}

var validate = validator.New()

// LoadConfig reads and parses a YAML config file, applying defaults.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("config file %s not found", path)
		}
		return cfg, err
	}
	return ParseConfig(data)
}

func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.TickInterval == 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
}

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// GlobalTable declares every configured global in a fresh table.
func (c Config) GlobalTable() (*behavior.GlobalTable, error) {
	g := behavior.NewGlobalTable()
	for _, spec := range c.Globals {
		v, err := behavior.NewVariable(spec.Name, spec.Type, spec.Value)
		if err != nil {
			return nil, fmt.Errorf("global %q: %w", spec.Name, err)
		}
		if err := g.Declare(v); err != nil {
			return nil, err
		}
	}
	return g, nil
}
