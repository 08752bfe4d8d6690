package httpserver

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	"example.com/treefleet/internal/controller"
	"example.com/treefleet/internal/metrics"
	mqttc "example.com/treefleet/internal/mqtt"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

const DefaultAddr = ":8080"

// Subscriber receives agent heartbeats.
type Subscriber interface {
	Subscribe(topic string, h mqtt.MessageHandler) error
}

type Server struct {
	Controller *controller.Controller
	Hub        *Hub
	Metrics    *metrics.Metrics
	// WebRoot serves the dashboard; empty disables it.
	WebRoot    string

	log zerolog.Logger
}

func NewServer(ctrl *controller.Controller, m *metrics.Metrics, logger zerolog.Logger) *Server {
	log := logger.With().Str("component", "http").Logger()
	webRoot := os.Getenv("WEB_ROOT")
	if webRoot == "" {
		webRoot = "./web/dist"
	}
	return &Server{
		Controller: ctrl,
		Hub:        NewHub(m, log),
		Metrics:    m,
		WebRoot:    webRoot,
		log:        log,
	}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.only(http.MethodGet, s.Controller.Health))
	mux.Handle("/metrics", s.Metrics.Handler())
	mux.HandleFunc("/api/install-agent", s.only(http.MethodPost, s.Controller.InstallAgent))
	mux.HandleFunc("/api/agents", s.only(http.MethodGet, s.Controller.ListAgents))
	mux.HandleFunc("/api/agents/command/broadcast", s.only(http.MethodPost, s.Controller.BroadcastCommand))
	mux.HandleFunc("/api/agents/", s.handleAgentSubroutes)
	mux.HandleFunc("/api/definitions", s.handleDefinitionsCollection)
	mux.HandleFunc("/api/definitions/", s.handleDefinitionItem)
	mux.HandleFunc("/api/jobs", s.only(http.MethodGet, s.Controller.ListJobs))
	mux.HandleFunc("/api/settings/install-defaults", s.handleInstallDefaults)
	mux.Handle("/api/watch", s.Hub)

	if s.WebRoot != "" {
		mux.Handle("/", http.FileServer(http.Dir(s.WebRoot)))
	}
	return mux
}

// Start serves addr until ctx is cancelled, then drains open requests.
func (s *Server) Start(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go s.Hub.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("controller listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleAgentSubroutes(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.TrimSuffix(r.URL.Path, "/")
	switch {
	case strings.HasSuffix(trimmed, "/command"):
		s.only(http.MethodPost, s.Controller.AgentCommand)(w, r)
	case strings.HasSuffix(trimmed, "/install-config"):
		s.only(http.MethodPut, s.Controller.UpdateInstallConfig)(w, r)
	case strings.HasSuffix(trimmed, "/deploy"):
		s.only(http.MethodPost, s.Controller.DeployDefinitions)(w, r)
	case r.Method == http.MethodGet:
		s.Controller.GetAgent(w, r)
	case r.Method == http.MethodDelete:
		s.Controller.DeleteAgent(w, r)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleDefinitionsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.Controller.ListDefinitions(w, r)
	case http.MethodPost:
		s.Controller.CreateDefinition(w, r)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleDefinitionItem(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.Controller.GetDefinition(w, r)
	case http.MethodPut:
		s.Controller.UpdateDefinition(w, r)
	case http.MethodDelete:
		s.Controller.DeleteDefinition(w, r)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleInstallDefaults(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.Controller.GetInstallDefaults(w, r)
	case http.MethodPut:
		s.Controller.UpdateInstallDefaults(w, r)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) only(method string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			methodNotAllowed(w)
			return
		}
		h(w, r)
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
}

// SubscribeStatus routes every agent heartbeat into the store and out to
// watch clients. Call it from the MQTT on-connect hook so it survives
// reconnects.
func (s *Server) SubscribeStatus(sub Subscriber) error {
	s.log.Info().Str("topic", mqttc.StatusWildcard).Msg("subscribing to agent status")
	return sub.Subscribe(mqttc.StatusWildcard, func(_ mqtt.Client, msg mqtt.Message) {
		s.HandleStatus(context.Background(), msg.Topic(), msg.Payload())
	})
}

func (s *Server) HandleStatus(ctx context.Context, topic string, payload []byte) {
	st, err := s.Controller.RecordStatus(ctx, topic, payload)
	if err != nil {
		s.log.Warn().Err(err).Str("topic", topic).Msg("status update rejected")
		return
	}
	s.log.Debug().
		Str("agent", st.AgentID).
		Str("status", st.Status).
		Int("instances", len(st.Instances)).
		Msg("status update")
	s.Hub.Broadcast(payload)
}
