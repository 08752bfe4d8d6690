package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"example.com/treefleet/internal/behavior"
	"example.com/treefleet/internal/definition"
	"example.com/treefleet/internal/leaf"
	"example.com/treefleet/internal/logging"
	"example.com/treefleet/internal/metrics"
	mqttc "example.com/treefleet/internal/mqtt"
	mqttlib "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrUnknownCommand    = errors.New("unknown command type")
	ErrUnknownDefinition = errors.New("unknown definition")
)

// Transport is the message bus the engine publishes on.
type Transport interface {
	Publish(topic string, payload []byte) error
	PublishRetained(topic string, payload []byte) error
}

// Deps are the engine's optional collaborators. With no Transport, Start
// connects to the configured MQTT broker.
type Deps struct {
	Logger    zerolog.Logger
	Metrics   *metrics.Metrics
	Transport Transport
}

// Engine hosts tree instances on one agent: it owns the definition library,
// the global table and the runner, and applies controller commands between
// ticks so every tree mutation happens on the tick goroutine.
type Engine struct {
	cfg       Config
	log       zerolog.Logger
	metrics   *metrics.Metrics
	globals   *behavior.GlobalTable
	library   *definition.Library
	runner    *Runner
	jobs      *JobManager
	mqtt      *mqttc.Client
	transport Transport

	cmdChan       chan Command
	spawned       int
	lastIP        string
	// lastHeartbeat is when the last heartbeat was attempted.
	lastHeartbeat time.Time
}

func NewEngine(cfg Config, deps Deps) (*Engine, error) {
	globals, err := cfg.GlobalTable()
	if err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:       cfg,
		log:       logging.Component(deps.Logger, "engine").With().Str("agent", cfg.AgentID).Logger(),
		metrics:   deps.Metrics,
		globals:   globals,
		jobs:      NewJobManager(),
		transport: deps.Transport,
		cmdChan:   make(chan Command, 64),
	}
	registry := leaf.NewRegistry(leaf.Deps{Publisher: e})
	e.library = definition.NewLibrary(cfg.DefinitionsDir, registry, deps.Logger,
		behavior.WithGlobals(globals),
		behavior.WithLogger(logging.Component(deps.Logger, "tree")),
	)
	e.runner = NewRunner(logging.Component(deps.Logger, "runner"),
		WithRetireOnDone(cfg.RetireOnDone),
		WithMetrics(deps.Metrics),
	)
	return e, nil
}

func (e *Engine) Runner() *Runner { return e.runner }

func (e *Engine) Library() *definition.Library { return e.library }

func (e *Engine) Globals() *behavior.GlobalTable { return e.globals }

func (e *Engine) Jobs() *JobManager { return e.jobs }

// Start loads definitions, spawns the configured instances and ticks until
// ctx is done. On return every instance has been aborted and an offline
// heartbeat published.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.library.Load(); err != nil {
		e.log.Warn().Err(err).Msg("some definitions failed to load")
	}
	for _, spec := range e.cfg.Instances {
		data := SpawnData{Definition: spec.Definition, Name: spec.Name, Variables: spec.Variables}
		if _, err := e.spawn(data); err != nil {
			e.log.Error().Err(err).Str("definition", spec.Definition).Msg("spawn configured instance")
		}
	}
	if e.cfg.WatchDefinitions {
		err := e.library.Watch(ctx, func(names []string, err error) {
			e.log.Info().Strs("definitions", names).AnErr("error", err).Msg("definitions reloaded")
		})
		if err != nil {
			e.log.Warn().Err(err).Msg("definition watch disabled")
		}
	}
	if e.transport == nil {
		e.connectMQTT()
	}
	if e.cfg.MetricsAddr != "" && e.metrics != nil {
		go e.serveMetrics(ctx)
	}

	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	e.log.Info().
		Dur("tick_interval", e.cfg.TickInterval).
		Int("instances", e.runner.Len()).
		Msg("agent engine started")

	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return nil
		case <-ticker.C:
			e.Step(ctx)
		}
	}
}

// Step runs one control step: queued commands, one tick of every
// instance, then the heartbeat if it is due.
func (e *Engine) Step(ctx context.Context) {
	e.drainCommands(ctx)
	_ = e.runner.Tick(ctx)
	if time.Since(e.lastHeartbeat) >= e.cfg.HeartbeatInterval {
		// Failed attempts also wait a full interval.
		e.lastHeartbeat = time.Now()
		if err := e.publishStatus(StateOK); err != nil {
			e.log.Warn().Err(err).Msg("heartbeat not sent")
		}
	}
}

func (e *Engine) shutdown() {
	if err := e.runner.DeregisterAll(context.Background()); err != nil {
		e.log.Warn().Err(err).Msg("teardown")
	}
	if err := e.publishStatus(StateOffline); err != nil {
		e.log.Debug().Err(err).Msg("offline status not sent")
	}
	e.mqtt.Disconnect()
	e.log.Info().Msg("agent engine stopped")
}

func (e *Engine) connectMQTT() {
	onConnect := func(c mqttlib.Client) {
		e.log.Info().Msg("mqtt connected")
		for _, topic := range []string{mqttc.CommandTopic(e.cfg.AgentID), mqttc.BroadcastTopic} {
			if token := c.Subscribe(topic, 1, e.mqttHandler); token.Wait() && token.Error() != nil {
				e.log.Error().Err(token.Error()).Str("topic", topic).Msg("subscribe")
			}
		}
	}

	offline, _ := json.Marshal(Status{AgentID: e.cfg.AgentID, Status: StateOffline})
	client := mqttc.NewClient(mqttc.Options{
		ClientID:    "agent-" + e.cfg.AgentID,
		Broker:      e.cfg.MQTTBroker,
		OnConnect:   onConnect,
		WillTopic:   mqttc.StatusTopic(e.cfg.AgentID),
		WillPayload: offline,
		Logger:      e.log,
	})
	e.mqtt = client
	e.transport = client
}

func (e *Engine) mqttHandler(_ mqttlib.Client, msg mqttlib.Message) {
	if err := e.HandleMessage(msg.Payload()); err != nil {
		e.log.Warn().Err(err).Str("topic", msg.Topic()).Msg("command rejected")
	}
}

// HandleMessage decodes a command payload and queues it for the next tick.
// It is safe to call from any goroutine.
func (e *Engine) HandleMessage(payload []byte) error {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return fmt.Errorf("invalid command JSON: %w", err)
	}
	if !e.Enqueue(cmd) {
		return fmt.Errorf("command queue full, dropping %s", cmd.Type)
	}
	return nil
}

// Enqueue queues cmd without blocking and reports whether it was accepted.
func (e *Engine) Enqueue(cmd Command) bool {
	select {
	case e.cmdChan <- cmd:
		e.log.Debug().Str("type", cmd.Type).Str("id", cmd.ID).Msg("command queued")
		return true
	default:
		return false
	}
}

func (e *Engine) drainCommands(ctx context.Context) {
	for n := len(e.cmdChan); n > 0; n-- {
		select {
		case cmd := <-e.cmdChan:
			e.execute(ctx, cmd)
		default:
			return
		}
	}
}

func (e *Engine) execute(ctx context.Context, cmd Command) error {
	id := cmd.ID
	if id == "" {
		id = uuid.NewString()
	}
	job := e.jobs.Start(id, cmd.Type)
	err := e.apply(ctx, cmd)
	e.jobs.Finish(job, err)
	e.metrics.RecordCommand(cmd.Type, err)

	if err != nil {
		e.log.Error().Err(err).Str("type", cmd.Type).Str("job", id).Msg("command failed")
	} else {
		e.log.Info().Str("type", cmd.Type).Str("job", id).Msg("command applied")
	}
	return err
}

func (e *Engine) apply(ctx context.Context, cmd Command) error {
	switch cmd.Type {
	case CommandSpawn:
		data, err := decode[SpawnData](cmd.Data)
		if err != nil {
			return err
		}
		_, err = e.spawn(data)
		return err
	case CommandDespawn:
		data, err := decode[DespawnData](cmd.Data)
		if err != nil {
			return err
		}
		return e.runner.Deregister(ctx, data.Name)
	case CommandSetGlobal:
		data, err := decode[SetGlobalData](cmd.Data)
		if err != nil {
			return err
		}
		return e.globals.Set(data.Name, data.Value)
	case CommandReload:
		return e.library.Load()
	case CommandBatch:
		data, err := decode[BatchData](cmd.Data)
		if err != nil {
			return err
		}
		for i, sub := range data.Commands {
			e.log.Debug().Msgf("batch: executing command %d/%d: %s", i+1, len(data.Commands), sub.Type)
			if err := e.apply(ctx, sub); err != nil {
				return fmt.Errorf("batch failed at %s: %w", sub.Type, err)
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnknownCommand, cmd.Type)
	}
}

func decode[T any](raw json.RawMessage) (T, error) {
	var out T
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode %T: %w", out, err)
	}
	return out, nil
}

// spawn clones a definition from the library and registers the instance.
func (e *Engine) spawn(data SpawnData) (*Instance, error) {
	def, ok := e.library.Get(data.Definition)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDefinition, data.Definition)
	}
	name := data.Name
	for name == "" {
		e.spawned++
		candidate := fmt.Sprintf("%s-%d", def.Name, e.spawned)
		if _, taken := e.runner.Get(candidate); !taken {
			name = candidate
		}
	}
	if _, taken := e.runner.Get(name); taken {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateInstance, name)
	}

	tree, err := def.Clone(Actor{AgentID: e.cfg.AgentID, Instance: name, Definition: def.Name})
	if err != nil {
		return nil, err
	}
	for k, v := range data.Variables {
		if err := tree.Shared().SetValue(k, v); err != nil {
			return nil, fmt.Errorf("spawn %s: %w", name, err)
		}
	}
	return e.runner.Register(name, tree)
}

// Publish sends a non-retained message through the engine's transport. It
// is the publisher handed to publish leaves.
func (e *Engine) Publish(topic string, payload []byte) error {
	if e.transport == nil {
		return mqttc.ErrNotConnected
	}
	return e.transport.Publish(topic, payload)
}

func (e *Engine) publishStatus(state string) error {
	if e.transport == nil {
		return mqttc.ErrNotConnected
	}
	if ip := DetectIPv4(); ip != e.lastIP {
		if e.lastIP != "" {
			e.log.Info().Str("from", e.lastIP).Str("to", ip).Msg("ip changed")
		}
		e.lastIP = ip
	}
	buf, err := json.Marshal(e.buildStatus(state))
	if err != nil {
		return err
	}
	return e.transport.PublishRetained(mqttc.StatusTopic(e.cfg.AgentID), buf)
}

func (e *Engine) serveMetrics(ctx context.Context) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", e.metrics.Handler())
	srv := &http.Server{
		Addr:              e.cfg.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	e.log.Info().Str("addr", srv.Addr).Msg("metrics listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		e.log.Error().Err(err).Msg("metrics server")
	}
}
