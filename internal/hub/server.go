package hub

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/Hamza-Labs-Core/zajel-sub013/internal/protocol"
)

// Server accepts peer WebSocket connections and feeds their frames to
// the hub.
type Server struct {
	hub      *Hub
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewServer creates the coordinator's WebSocket front. When origins is
// empty any Origin is accepted — most peers are not browsers and send
// none.
func NewServer(h *Hub, origins []string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}

	return &Server{
		hub: h,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  protocol.MaxFrameBytes,
			WriteBufferSize: protocol.MaxFrameBytes,
			CheckOrigin: func(r *http.Request) bool {
				if len(allowed) == 0 {
					return true
				}
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				_, ok := allowed[origin]
				return ok
			},
		},
		logger: logger.With("component", "ws_server"),
	}
}

// ServeHTTP upgrades the connection and runs its read loop until the
// peer goes away. Disconnect cleanup happens before the handler
// returns.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	conn.SetReadLimit(protocol.MaxFrameBytes)

	sender := newWSSender(conn)
	session := s.hub.Attach(sender)
	defer func() {
		s.hub.Disconnect(session)
		_ = sender.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("read failed", "remote", r.RemoteAddr, "err", err)
			}
			return
		}
		s.hub.HandleFrame(session, data)
	}
}
