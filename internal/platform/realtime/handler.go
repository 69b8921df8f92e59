package realtime

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

var upgrader = gorillawebsocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins; tighten in production.
	},
}

// Handler upgrades viewer connections and wires them into the hub.
type Handler struct {
	hub    *Hub
	logger zerolog.Logger
}

func NewHandler(hub *Hub, logger zerolog.Logger) *Handler {
	return &Handler{hub: hub, logger: logger}
}

// RegisterRoutes registers the per-record WebSocket endpoint.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/records/:id/ws", h.HandleConnect)
}

// HandleConnect upgrades the connection, registers the session for the
// record and starts the read/write pumps. The session id comes from the
// X-Session-ID header or session_id query param; a fresh one is assigned
// otherwise and reported to the client in the hello frame, so the client
// can attach it to its mutation requests for echo suppression.
func (h *Handler) HandleConnect(c echo.Context) error {
	recordID := c.Param("id")
	if _, err := uuid.Parse(recordID); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid record id")
	}

	sessionID := c.Request().Header.Get("X-Session-ID")
	if sessionID == "" {
		sessionID = c.QueryParam("session_id")
	}
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	session := &Session{
		ID:       sessionID,
		RecordID: recordID,
		Send:     make(chan []byte, 256),
		conn:     &gorillaConnAdapter{ws},
	}

	h.hub.Register(session)
	h.logger.Debug().
		Str("record_id", recordID).
		Str("session_id", sessionID).
		Msg("realtime: session connected")

	hello, _ := json.Marshal(map[string]string{
		"type":      "hello",
		"sessionId": sessionID,
		"recordId":  recordID,
	})
	session.Send <- hello

	go h.writePump(session)
	go h.readPump(session)

	return nil
}

// readPump drains inbound frames until the client disconnects. Viewers
// do not send meaningful messages; the read loop exists to detect close.
func (h *Handler) readPump(s *Session) {
	defer func() {
		h.hub.Unregister(s)
		s.conn.Close()
	}()

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			break
		}
	}
}

// writePump writes events from the Send channel to the connection.
func (h *Handler) writePump(s *Session) {
	defer s.conn.Close()

	for message := range s.Send {
		if err := s.conn.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
			break
		}
	}
}

// gorillaConnAdapter wraps a gorilla/websocket.Conn to satisfy Conn.
type gorillaConnAdapter struct {
	conn *gorillawebsocket.Conn
}

func (a *gorillaConnAdapter) ReadMessage() (int, []byte, error) {
	return a.conn.ReadMessage()
}

func (a *gorillaConnAdapter) WriteMessage(messageType int, data []byte) error {
	return a.conn.WriteMessage(messageType, data)
}

func (a *gorillaConnAdapter) Close() error {
	return a.conn.Close()
}
