package agent

import "encoding/json"

// Command represents a controller-issued instruction handled by an agent.
// ID, when set, is reported back in the heartbeat as the job id.
type Command struct {
	ID   string          `json:"id,omitempty"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

const (
	CommandSpawn     = "spawn"
	CommandDespawn   = "despawn"
	CommandSetGlobal = "set_global"
	CommandReload    = "reload"
	CommandBatch     = "batch"
)

// KnownCommand reports whether agents understand commands of type typ.
func KnownCommand(typ string) bool {
	switch typ {
	case CommandSpawn, CommandDespawn, CommandSetGlobal, CommandReload, CommandBatch:
		return true
	}
	return false
}

// SpawnData clones a definition into a new running instance. Variables
// override the definition's initial shared values.
type SpawnData struct {
	Definition string         `json:"definition"`
	Name       string         `json:"name,omitempty"`
	Variables  map[string]any `json:"variables,omitempty"`
}

// DespawnData aborts and removes a running instance.
type DespawnData struct {
	Name string `json:"name"`
}

// SetGlobalData writes a declared global variable.
type SetGlobalData struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// BatchData runs commands in order, stopping at the first failure.
type BatchData struct {
	Commands []Command `json:"commands"`
}

// NewCommand marshals data into a command of the given type.
func NewCommand(typ string, data any) (Command, error) {
	cmd := Command{Type: typ}
	if data == nil {
		return cmd, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return cmd, err
	}
	cmd.Data = raw
	return cmd, nil
}
