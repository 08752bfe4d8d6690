package mqttc

import "strings"

const (
	commandPrefix = "fleet/commands/"
	statusPrefix  = "fleet/status/"

	// BroadcastTopic reaches every agent.
	BroadcastTopic = commandPrefix + "all"
	// StatusWildcard matches every agent's heartbeat.
	StatusWildcard = statusPrefix + "+"
)

func CommandTopic(agentID string) string { return commandPrefix + agentID }

func StatusTopic(agentID string) string { return statusPrefix + agentID }

// AgentFromStatusTopic returns the agent id of a heartbeat topic.
func AgentFromStatusTopic(topic string) (string, bool) {
	id, ok := strings.CutPrefix(topic, statusPrefix)
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}
