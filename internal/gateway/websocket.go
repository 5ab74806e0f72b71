package gateway

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"drumscribe/internal/ledger"
	"drumscribe/internal/logging"
)

const (
	socketWriteTimeout = 10 * time.Second
	socketPingInterval = 30 * time.Second
	socketPongTimeout  = 75 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browser clients connect cross-origin through the frontend dev server.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleProgressSocket streams a job's progress events over a WebSocket.
// The subscription is registered before the initial snapshot is read, so no
// transition can fall between them; duplicates are possible and the payloads
// are self-describing, so clients keep the furthest state they have seen.
// The socket closes once a terminal event has been delivered.
func (s *Server) handleProgressSocket(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	logger := s.logger.With(logging.String(logging.FieldJobID, id))

	// Subscribe before loading the snapshot: a transition committed between
	// the two arrives as an event instead of falling into the gap.
	events, unsubscribe := s.hub.Subscribe(id)
	defer unsubscribe()

	job, err := s.store.Get(r.Context(), id)
	if errors.Is(err, ledger.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		logger.Error("load job for socket", logging.Error(err))
		s.writeError(w, http.StatusInternalServerError, "load job")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", logging.Error(err))
		return
	}
	defer conn.Close()

	// Reader goroutine: discards client frames, keeps pong deadlines honest,
	// and signals when the peer goes away.
	peerGone := make(chan struct{})
	_ = conn.SetReadDeadline(time.Now().Add(socketPongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(socketPongTimeout))
	})
	go func() {
		defer close(peerGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(socketPongTimeout))
		}
	}()

	send := func(event ledger.ProgressEvent) error {
		_ = conn.SetWriteDeadline(time.Now().Add(socketWriteTimeout))
		return conn.WriteJSON(viewEvent(event))
	}

	snapshot := job.Snapshot()
	if err := send(snapshot); err != nil {
		return
	}
	if snapshot.Status.IsTerminal() {
		s.closeSocket(conn)
		return
	}

	pinger := time.NewTicker(socketPingInterval)
	defer pinger.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-peerGone:
			return
		case <-pinger.C:
			_ = conn.SetWriteDeadline(time.Now().Add(socketWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := send(event); err != nil {
				return
			}
			if event.Status.IsTerminal() {
				s.closeSocket(conn)
				return
			}
		}
	}
}

func (s *Server) closeSocket(conn *websocket.Conn) {
	_ = conn.SetWriteDeadline(time.Now().Add(socketWriteTimeout))
	_ = conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished"),
	)
}
