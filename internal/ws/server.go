package ws

import (
	"log/slog"
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"
)

type Server struct {
	hub        *Hub
	upgrader   *websocket.Upgrader
	sendBuffer int
	logger     *slog.Logger
}

// NewServer accepts sockets from origin, from the server's own host and
// from clients that send no Origin header.
func NewServer(hub *Hub, origin string, sendBuffer int, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		hub:        hub,
		sendBuffer: sendBuffer,
		logger:     logger,
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				o := r.Header.Get("Origin")
				if o == "" || o == origin {
					return true
				}
				u, err := url.Parse(o)
				return err == nil && u.Host == r.Host
			},
		},
	}
}

// HandleConnections upgrades GET /socket?userId=<id>. The userId query
// parameter is the identity the connection registers under.
func (s *Server) HandleConnections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID := r.URL.Query().Get("userId")
	if userID == "" {
		s.logger.Warn("socket connected without userId", "remote", r.RemoteAddr)
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("error upgrading to websocket", "error", err)
		return
	}

	c := NewConnection(s.hub, conn, userID, s.sendBuffer)
	if err := c.Handle(r.Context()); err != nil {
		s.logger.Debug("connection closed", "user_id", userID, "error", err)
	}
}
