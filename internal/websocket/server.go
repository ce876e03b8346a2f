package websocket

import (
	"net/http"

	"tapestry-backend/internal/service/board"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Server handles WebSocket upgrade requests and binds each new connection
// to a board.
type Server struct {
	hub          *Hub
	dispatcher   *Dispatcher
	boards       board.Service
	upgrader     websocket.Upgrader
	defaultBoard string
	logger       *zap.Logger
}

// ServerConfig holds WebSocket server configuration
type ServerConfig struct {
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultServerConfig returns default WebSocket server configuration
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// No auth in this deployment model; the listener is fronted
			// by the local launcher.
			return true
		},
	}
}

// NewServer creates a new WebSocket server
func NewServer(hub *Hub, dispatcher *Dispatcher, boards board.Service, defaultBoard string, config *ServerConfig, logger *zap.Logger) *Server {
	if config == nil {
		config = DefaultServerConfig()
	}

	return &Server{
		hub:        hub,
		dispatcher: dispatcher,
		boards:     boards,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		defaultBoard: defaultBoard,
		logger:       logger,
	}
}

// HandleWebSocket upgrades the connection, resolves the board from the
// `board` query parameter (auto-vivifying it on first reference), and
// pushes the state snapshot before any other traffic.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	slug := r.URL.Query().Get("board")
	if slug == "" {
		slug = s.defaultBoard
	}

	b, err := s.boards.ResolveBoard(r.Context(), slug)
	if err != nil {
		s.logger.Error("Failed to resolve board",
			zap.String("slug", slug),
			zap.Error(err),
		)
		http.Error(w, "board unavailable", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection",
			zap.Error(err),
			zap.String("remoteAddr", r.RemoteAddr),
		)
		return
	}

	client := NewClient(b.ID, s.hub, conn, s.dispatcher, s.logger)
	client.Start()

	// Snapshot first: the only frame that is not a response to a request.
	s.dispatcher.SendSnapshot(r.Context(), client, b)

	s.logger.Info("New WebSocket connection established",
		zap.String("boardID", b.ID),
		zap.String("slug", slug),
		zap.String("connectionID", client.GetID()),
		zap.String("remoteAddr", r.RemoteAddr),
	)
}

// GetHub returns the WebSocket hub
func (s *Server) GetHub() *Hub {
	return s.hub
}
