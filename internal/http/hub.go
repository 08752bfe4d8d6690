package httpserver

import (
	"context"
	"net/http"
	"time"

	"example.com/treefleet/internal/metrics"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	clientBuf  = 16
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub fans heartbeats out to every connected watch client. A client whose
// buffer is full misses messages rather than stalling the others.
type Hub struct {
	clients    map[chan []byte]bool
	newClients chan chan []byte
	defunct    chan chan []byte
	messages   chan []byte

	metrics *metrics.Metrics
	log     zerolog.Logger
}

func NewHub(m *metrics.Metrics, log zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[chan []byte]bool),
		newClients: make(chan chan []byte),
		defunct:    make(chan chan []byte),
		messages:   make(chan []byte, clientBuf),
		metrics:    m,
		log:        log,
	}
}

// Run owns the client set until ctx is done, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				delete(h.clients, c)
				close(c)
			}
			return

		case c := <-h.newClients:
			h.clients[c] = true
			h.metrics.WatchClientConnected()
			h.log.Debug().Int("clients", len(h.clients)).Msg("watch client added")

		case c := <-h.defunct:
			if h.clients[c] {
				delete(h.clients, c)
				close(c)
				h.metrics.WatchClientDisconnected()
				h.log.Debug().Int("clients", len(h.clients)).Msg("watch client removed")
			}

		case msg := <-h.messages:
			for c := range h.clients {
				select {
				case c <- msg:
				default:
				}
			}
		}
	}
}

// Broadcast queues msg for every client without blocking the caller.
func (h *Hub) Broadcast(msg []byte) {
	select {
	case h.messages <- msg:
	default:
		h.log.Warn().Msg("watch hub backlogged, dropping message")
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade")
		return
	}
	defer ws.Close()

	ch := make(chan []byte, clientBuf)
	select {
	case h.newClients <- ch:
	case <-r.Context().Done():
		return
	}

	done := make(chan struct{})
	go h.readLoop(ws, done)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case msg, open := <-ch:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !open {
				_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.drop(ch)
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.drop(ch)
				return
			}
		case <-done:
			h.drop(ch)
			return
		}
	}
}

// readLoop consumes control frames so pongs and the close handshake are
// processed. Watch clients send nothing else.
func (h *Hub) readLoop(ws *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	ws.SetReadLimit(512)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

// drop unregisters ch, draining it so Run never blocks on a dead client.
func (h *Hub) drop(ch chan []byte) {
	for {
		select {
		case h.defunct <- ch:
			return
		case _, open := <-ch:
			if !open {
				return
			}
		}
	}
}
