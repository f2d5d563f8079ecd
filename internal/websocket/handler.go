package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"campus/pkg/interfaces"
	"campus/pkg/types"
)

// AnonymousIdentity is used when the client omits user_email.
const AnonymousIdentity = "anonymous"

// ChatRelay receives inbound chat frames and admits new channels.
// Implemented by the hub; declared here so the handler does not import it.
type ChatRelay interface {
	Submit(identity string, inbound *types.ChatInbound) error
	// Join replays history to ch and registers it. No broadcast may fall
	// between the two, so ch sees every message exactly once.
	Join(ctx context.Context, ch interfaces.Channel) error
}

// HandlerConfig carries heartbeat and buffering settings.
type HandlerConfig struct {
	PingInterval   time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	BufferSize     int
	MaxMessageSize int64
}

// DefaultHandlerConfig matches the 30s ping / 60s read deadline heartbeat.
func DefaultHandlerConfig() HandlerConfig {
	return HandlerConfig{
		PingInterval:   30 * time.Second,
		ReadTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
		BufferSize:     100,
		MaxMessageSize: 64 * 1024,
	}
}

// Handler upgrades chat requests and pumps frames between sockets and the relay.
type Handler struct {
	registry *Registry
	relay    ChatRelay
	cfg      HandlerConfig
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

// NewHandler creates a chat WebSocket handler.
func NewHandler(registry *Registry, relay ChatRelay, cfg HandlerConfig, log zerolog.Logger) *Handler {
	return &Handler{
		registry: registry,
		relay:    relay,
		cfg:      cfg,
		upgrader: websocket.Upgrader{
			// FUNCTIONAL DISCOVERY: the campus web client is served from a different origin
			CheckOrigin:      func(r *http.Request) bool { return true },
			HandshakeTimeout: 10 * time.Second,
		},
		log: log.With().Str("component", "ws").Logger(),
	}
}

// ServeHTTP handles GET /ws/chat/?user_email=...
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity := strings.TrimSpace(r.URL.Query().Get("user_email"))
	if identity == "" {
		identity = AnonymousIdentity
	}
	if len(identity) > 254 {
		http.Error(w, ErrInvalidParameters.Error(), http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	wsConn := NewConnection(conn, identity, ConnectionConfig{
		BufferSize:   h.cfg.BufferSize,
		WriteTimeout: h.cfg.WriteTimeout,
	}, h.log)

	// ARCHITECTURAL DISCOVERY: the relay queues history and registers under its
	// broadcast lock, so replayed frames precede live ones and none are lost
	if err := h.relay.Join(r.Context(), wsConn); err != nil {
		h.log.Warn().Err(err).Str("identity", identity).Msg("chat history not replayed")
	}
	h.log.Info().Str("identity", identity).Int("connections", h.registry.Count()).Msg("chat connection opened")

	go h.handleConnection(wsConn)
}

// handleConnection runs the read pump and heartbeat until the socket dies.
func (h *Handler) handleConnection(conn *Connection) {
	defer func() {
		// FUNCTIONAL DISCOVERY: a superseded connection's unregister is a no-op
		if h.registry.Unregister(conn) {
			h.log.Info().Str("identity", conn.Identity()).Msg("chat connection closed")
		}
		_ = conn.Close()
	}()

	ws := conn.conn
	if h.cfg.MaxMessageSize > 0 {
		ws.SetReadLimit(h.cfg.MaxMessageSize)
	}
	if err := ws.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout)); err != nil {
		return
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	})

	go h.pingLoop(conn)

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.log.Debug().Err(err).Str("identity", conn.Identity()).Msg("websocket read error")
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		h.handleFrame(conn, data)
	}
}

func (h *Handler) pingLoop(conn *Connection) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// WriteControl may run concurrently with the writer goroutine
			if err := conn.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.cfg.WriteTimeout)); err != nil {
				_ = conn.Close()
				return
			}
		case <-conn.Done():
			return
		}
	}
}

func (h *Handler) handleFrame(conn *Connection, data []byte) {
	var inbound types.ChatInbound
	if err := json.Unmarshal(data, &inbound); err != nil {
		_ = conn.WriteJSON(types.NewSystemEvent("invalid_message", "Message must be a JSON object with username and content"))
		return
	}
	if strings.TrimSpace(inbound.Content) == "" {
		return
	}

	if err := h.relay.Submit(conn.Identity(), &inbound); err != nil {
		h.log.Debug().Err(err).Str("identity", conn.Identity()).Msg("chat message rejected")
		_ = conn.WriteJSON(types.NewSystemEvent("message_rejected", err.Error()))
	}
}
