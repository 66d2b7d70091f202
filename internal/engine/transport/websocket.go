// Package transport exposes engine.Broadcaster snapshots over a
// WebSocket endpoint, grounded on the teacher's dashboard websocket
// handler: the same upgrade/writePump/readPump shape, retargeted from
// dashboard.Client's generic interface{} messages onto a strongly
// typed engine.Snapshot stream, and from a polled metrics recompute to
// a direct pass-through of whatever the engine loop already publishes.
package transport

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/optioncore/supertrend-engine/internal/engine"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Server serves live Snapshot streams for every strategy instance
// over a single /ws endpoint, one subscription per connection.
type Server struct {
	bcast  *engine.Broadcaster
	logger *log.Logger
}

// NewServer builds a Server fanning out bcast's snapshots.
func NewServer(bcast *engine.Broadcaster, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(log.Writer(), "[ws] ", log.LstdFlags)
	}
	return &Server{bcast: bcast, logger: logger}
}

// Handler returns the http.Handler to mount at the desired path.
func (s *Server) Handler() http.HandlerFunc {
	return s.handleWebSocket
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("upgrade failed: %v", err)
		return
	}
	defer ws.Close()

	clientID := r.RemoteAddr
	snapshots := s.bcast.Subscribe(clientID, 64)
	defer s.bcast.Unsubscribe(clientID)

	s.logger.Printf("client connected from %s", clientID)

	done := make(chan struct{})
	go s.readPump(ws, clientID, done)
	s.writePump(ws, clientID, snapshots, done)
}

// writePump forwards every published Snapshot to the client as JSON,
// plus a periodic ping to detect dead connections.
func (s *Server) writePump(ws *websocket.Conn, clientID string, snapshots <-chan engine.Snapshot, done <-chan struct{}) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case snap, ok := <-snapshots:
			ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteJSON(snap); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					s.logger.Printf("write error for %s: %v", clientID, err)
				}
				return
			}
		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// readPump only exists to detect client disconnection and service
// ping/pong; the engine never expects inbound messages on this
// channel.
func (s *Server) readPump(ws *websocket.Conn, clientID string, done chan<- struct{}) {
	defer close(done)
	ws.SetReadDeadline(time.Now().Add(60 * time.Second))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Printf("read error for %s: %v", clientID, err)
			}
			s.logger.Printf("client disconnected from %s", clientID)
			return
		}
	}
}
