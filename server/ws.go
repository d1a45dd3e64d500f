package server

import (
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"interviewlab/lsp-gateway/logger"
	"interviewlab/lsp-gateway/security"
	"interviewlab/lsp-gateway/session"
)

// Close code sent when a second connection reuses a live session id.
const closeSessionConflict = 4000

var upgrader = websocket.Upgrader{
	ReadBufferSize:  8192,
	WriteBufferSize: 8192,
	// The editor frontend is served from a different origin; access
	// control happens upstream of this service.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWebSocket serves /ws/{interviewId}?language=<tag>. One upgrade
// equals one session: workspace, language server and transport live and
// die together.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/ws/")
	if strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}

	if err := security.ValidateSessionID(id); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	language := r.URL.Query().Get("language")
	if language == "" {
		http.Error(w, "language query parameter is required", http.StatusBadRequest)
		return
	}

	workspaceDir, err := security.WorkspacePath(s.cfg.WorkspaceDir, id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error(fmt.Sprintf("[session=%s] websocket upgrade failed: %v", id, err))
		return
	}

	logger.Info(fmt.Sprintf("[session=%s] websocket connected, language=%s", id, language))

	sess := session.New(session.Params{
		ID:           id,
		Language:     language,
		WorkspaceDir: workspaceDir,
		Transport:    &wsTransport{conn: conn},
		Resolve:      s.resolve,
		Config:       s.cfg.SessionConfig(),
		OnCleanup: func(ended *session.Session) {
			s.registry.Unregister(ended.ID)
		},
	})

	if err := s.registry.Register(sess); err != nil {
		logger.Warn(fmt.Sprintf("[session=%s] rejected: %v", id, err))
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(closeSessionConflict, "session already active"))
		_ = conn.Close()
		return
	}

	if err := sess.Initialize(); err != nil {
		// Initialize cleaned the session up already; the transport is
		// closed and the registry entry gone.
		logger.Error(fmt.Sprintf("[session=%s] %v", id, err))
		return
	}

	defer sess.Cleanup()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug(fmt.Sprintf("[session=%s] websocket read ended: %v", id, err))
			}
			return
		}

		if msgType != websocket.TextMessage {
			continue
		}

		sess.HandleClientMessage(data)
	}
}

// wsTransport adapts a gorilla connection to the session transport.
// gorilla permits a single concurrent writer, so writes from the
// router and the notification sink are serialized here.
type wsTransport struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (t *wsTransport) WriteText(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.conn.Close()
}
