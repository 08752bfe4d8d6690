package agent_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"example.com/treefleet/internal/agent"
	"example.com/treefleet/internal/behavior"
	"example.com/treefleet/internal/leaf"
	"example.com/treefleet/internal/metrics"
	mqttc "example.com/treefleet/internal/mqtt"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type message struct {
	Topic    string
	Payload  []byte
	Retained bool
}

type fakeTransport struct {
	mu       sync.Mutex
	msgs     []message
	retained int
	err      error
}

func (f *fakeTransport) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeTransport) retainedAttempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.retained
}

func (f *fakeTransport) Publish(topic string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, message{Topic: topic, Payload: payload})
	return nil
}

func (f *fakeTransport) PublishRetained(topic string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retained++
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, message{Topic: topic, Payload: payload, Retained: true})
	return nil
}

func (f *fakeTransport) on(topic string) []message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []message
	for _, m := range f.msgs {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeTransport) lastStatus(t *testing.T, agentID string) agent.Status {
	t.Helper()
	msgs := f.on(mqttc.StatusTopic(agentID))
	require.NotEmpty(t, msgs, "no heartbeat published")
	last := msgs[len(msgs)-1]
	require.True(t, last.Retained)
	var s agent.Status
	require.NoError(t, json.Unmarshal(last.Payload, &s))
	return s
}

const (
	patrolYAML = `
name: patrol
variables:
  - {name: laps, type: int}
root:
  type: sequencer
  children:
    - type: condition
      params: {expr: "!globals.halt"}
    - type: increment
      params: {variable: laps}
`
	beaconYAML = `
name: beacon
variables:
  - {name: zone, type: string, value: "a"}
root:
  type: publish
  params: {topic: "fleet/events/{tree}", message: "ping"}
`
)

func newTestEngine(t *testing.T, mutate ...func(*agent.Config)) (*agent.Engine, *fakeTransport) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "patrol.yaml"), []byte(patrolYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "beacon.yml"), []byte(beaconYAML), 0o644))

	cfg := agent.Config{
		AgentID:           "r1",
		DefinitionsDir:    dir,
		TickInterval:      5 * time.Millisecond,
		HeartbeatInterval: time.Hour,
		Globals:           []agent.GlobalSpec{{Name: "halt", Type: "bool", Value: false}},
	}
	for _, m := range mutate {
		m(&cfg)
	}
	transport := &fakeTransport{}
	e, err := agent.NewEngine(cfg, agent.Deps{
		Logger:    zerolog.Nop(),
		Metrics:   metrics.New(),
		Transport: transport,
	})
	require.NoError(t, err)
	return e, transport
}

func command(t *testing.T, id, typ string, data any) agent.Command {
	t.Helper()
	cmd, err := agent.NewCommand(typ, data)
	require.NoError(t, err)
	cmd.ID = id
	return cmd
}

func TestEngine_SpawnTickAndHeartbeat(t *testing.T) {
	t.Parallel()

	e, transport := newTestEngine(t)
	require.NoError(t, e.Library().Load())

	require.True(t, e.Enqueue(command(t, "job-1", agent.CommandSpawn, agent.SpawnData{
		Definition: "patrol",
		Name:       "p1",
		Variables:  map[string]any{"laps": 10},
	})))
	e.Step(context.Background())

	inst, ok := e.Runner().Get("p1")
	require.True(t, ok)
	laps, ok := inst.Tree.Shared().Value("laps")
	require.True(t, ok)
	assert.Equal(t, 11, laps, "spawn overrides apply before the first tick")

	actor, ok := inst.Tree.Actor().(agent.Actor)
	require.True(t, ok)
	assert.Equal(t, agent.Actor{AgentID: "r1", Instance: "p1", Definition: "patrol"}, actor)

	s := transport.lastStatus(t, "r1")
	assert.Equal(t, agent.StateOK, s.Status)
	assert.Equal(t, []string{"beacon", "patrol"}, s.Definitions)
	require.Len(t, s.Instances, 1)
	assert.Equal(t, "p1", s.Instances[0].Name)
	assert.Equal(t, "SUCCESS", s.Instances[0].Status)
	assert.Equal(t, uint64(1), s.Instances[0].Ticks)
	assert.Equal(t, "job-1", s.JobID)
	assert.Equal(t, string(agent.JobStatusSuccess), s.JobStatus)

	// The heartbeat interval has not elapsed.
	e.Step(context.Background())
	assert.Len(t, transport.on(mqttc.StatusTopic("r1")), 1)
}

func TestEngine_SpawnDefaultNames(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t)
	require.NoError(t, e.Library().Load())

	for i := 0; i < 2; i++ {
		require.True(t, e.Enqueue(command(t, "", agent.CommandSpawn, agent.SpawnData{Definition: "patrol"})))
	}
	e.Step(context.Background())

	var names []string
	for _, inst := range e.Runner().Instances() {
		names = append(names, inst.Name)
	}
	assert.Equal(t, []string{"patrol-1", "patrol-2"}, names)
}

func TestEngine_CommandFailuresAreReported(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t)
	require.NoError(t, e.Library().Load())

	cmds := []agent.Command{
		command(t, "missing", agent.CommandSpawn, agent.SpawnData{Definition: "dance"}),
		command(t, "unknown", "self_destruct", nil),
		command(t, "global", agent.CommandSetGlobal, agent.SetGlobalData{Name: "speed", Value: 1}),
		command(t, "despawn", agent.CommandDespawn, agent.DespawnData{Name: "ghost"}),
		command(t, "badvar", agent.CommandSpawn, agent.SpawnData{Definition: "patrol", Variables: map[string]any{"laps": "many"}}),
	}
	for _, cmd := range cmds {
		require.True(t, e.Enqueue(cmd))
	}
	e.Step(context.Background())

	for _, cmd := range cmds {
		job, ok := e.Jobs().Get(cmd.ID)
		require.True(t, ok, cmd.ID)
		assert.Equal(t, agent.JobStatusFailed, job.Status, cmd.ID)
		assert.NotEmpty(t, job.Error, cmd.ID)
	}
	job, _ := e.Jobs().Get("unknown")
	assert.Contains(t, job.Error, "self_destruct")
	assert.Zero(t, e.Runner().Len())
}

func TestEngine_SetGlobalStopsPatrol(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t)
	require.NoError(t, e.Library().Load())

	require.True(t, e.Enqueue(command(t, "", agent.CommandSpawn, agent.SpawnData{Definition: "patrol", Name: "p1"})))
	e.Step(context.Background())

	require.NoError(t, e.HandleMessage([]byte(`{"id":"halt","type":"set_global","data":{"name":"halt","value":true}}`)))
	e.Step(context.Background())

	halt, err := behavior.GetAs[bool](e.Globals(), "halt")
	require.NoError(t, err)
	assert.True(t, halt)

	inst, _ := e.Runner().Get("p1")
	assert.Equal(t, behavior.StatusFailure, inst.LastStatus)
	laps, _ := inst.Tree.Shared().Value("laps")
	assert.Equal(t, 1, laps)
}

func TestEngine_BatchStopsAtFirstFailure(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t)
	require.NoError(t, e.Library().Load())

	batch := command(t, "b1", agent.CommandBatch, agent.BatchData{Commands: []agent.Command{
		command(t, "", agent.CommandSpawn, agent.SpawnData{Definition: "patrol", Name: "first"}),
		command(t, "", agent.CommandSpawn, agent.SpawnData{Definition: "nope"}),
		command(t, "", agent.CommandSpawn, agent.SpawnData{Definition: "patrol", Name: "never"}),
	}})
	require.True(t, e.Enqueue(batch))
	e.Step(context.Background())

	job, ok := e.Jobs().Get("b1")
	require.True(t, ok)
	assert.Equal(t, agent.JobStatusFailed, job.Status)
	assert.Contains(t, job.Error, "nope")

	_, ok = e.Runner().Get("first")
	assert.True(t, ok)
	_, ok = e.Runner().Get("never")
	assert.False(t, ok)
}

func TestEngine_DespawnAndReload(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t)
	require.NoError(t, e.Library().Load())

	require.True(t, e.Enqueue(command(t, "", agent.CommandSpawn, agent.SpawnData{Definition: "patrol", Name: "p1"})))
	e.Step(context.Background())
	require.Equal(t, 1, e.Runner().Len())

	require.True(t, e.Enqueue(command(t, "d1", agent.CommandDespawn, agent.DespawnData{Name: "p1"})))
	e.Step(context.Background())
	assert.Zero(t, e.Runner().Len())

	extra := "name: idle\nroot: {type: wait, params: {duration: 1m}}\n"
	require.NoError(t, os.WriteFile(filepath.Join(e.Library().Dir(), "idle.yaml"), []byte(extra), 0o644))
	require.True(t, e.Enqueue(command(t, "r1", agent.CommandReload, nil)))
	e.Step(context.Background())

	job, _ := e.Jobs().Get("r1")
	assert.Equal(t, agent.JobStatusSuccess, job.Status)
	assert.Equal(t, []string{"beacon", "idle", "patrol"}, e.Library().Names())
}

func TestEngine_PublishLeafUsesTransport(t *testing.T) {
	t.Parallel()

	e, transport := newTestEngine(t)
	require.NoError(t, e.Library().Load())

	require.True(t, e.Enqueue(command(t, "", agent.CommandSpawn, agent.SpawnData{Definition: "beacon", Name: "b"})))
	e.Step(context.Background())

	msgs := transport.on("fleet/events/beacon")
	require.Len(t, msgs, 1)
	assert.False(t, msgs[0].Retained)

	var ev leaf.Event
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &ev))
	assert.Equal(t, "beacon", ev.Tree)
	assert.Equal(t, "ping", ev.Message)
	assert.Equal(t, "a", ev.Variables["zone"])
}

func TestEngine_HandleMessage(t *testing.T) {
	t.Parallel()

	e, _ := newTestEngine(t)
	require.Error(t, e.HandleMessage([]byte("{not json")))

	for i := 0; i < 64; i++ {
		require.NoError(t, e.HandleMessage([]byte(`{"type":"reload"}`)))
	}
	assert.Error(t, e.HandleMessage([]byte(`{"type":"reload"}`)), "queue is bounded")
}

func TestEngine_StartAndShutdown(t *testing.T) {
	t.Parallel()

	e, transport := newTestEngine(t, func(c *agent.Config) {
		c.HeartbeatInterval = time.Millisecond
		c.Instances = []agent.InstanceSpec{
			{Definition: "patrol", Name: "p1"},
			{Definition: "missing"},
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Start(ctx) }()

	require.Eventually(t, func() bool {
		return len(transport.on(mqttc.StatusTopic("r1"))) >= 2
	}, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop")
	}

	assert.Zero(t, e.Runner().Len())
	s := transport.lastStatus(t, "r1")
	assert.Equal(t, agent.StateOffline, s.Status)
	assert.Empty(t, s.Instances)

	heartbeats := transport.on(mqttc.StatusTopic("r1"))
	var first agent.Status
	require.NoError(t, json.Unmarshal(heartbeats[0].Payload, &first))
	require.Len(t, first.Instances, 1)
	assert.Equal(t, "p1", first.Instances[0].Name)
}

func TestEngine_HeartbeatFailureWaitsForNextInterval(t *testing.T) {
	t.Parallel()

	e, transport := newTestEngine(t, func(c *agent.Config) {
		c.HeartbeatInterval = 50 * time.Millisecond
	})
	ctx := context.Background()
	transport.fail(errors.New("broker stalled"))

	e.Step(ctx)
	e.Step(ctx)
	e.Step(ctx)
	assert.Equal(t, 1, transport.retainedAttempts(), "a failed heartbeat is not retried on every tick")
	assert.Empty(t, transport.on(mqttc.StatusTopic("r1")))

	transport.fail(nil)
	time.Sleep(60 * time.Millisecond)
	e.Step(ctx)
	assert.Equal(t, 2, transport.retainedAttempts())
	assert.Equal(t, agent.StateOK, transport.lastStatus(t, "r1").Status)
}
