package handlers

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/coldvault/broker/internal/chat"
	"github.com/coldvault/broker/internal/command"
	"github.com/coldvault/broker/internal/ws"
)

// WebSocketHandler serves the command and chat WebSocket endpoints.
type WebSocketHandler struct {
	endpoint *ws.Endpoint
	broker   *chat.Broker
	log      *zap.Logger
}

// NewWebSocketHandler creates a new WebSocketHandler and binds both
// protocols to the endpoint.
func NewWebSocketHandler(endpoint *ws.Endpoint, commands *command.Service, broker *chat.Broker, log *zap.Logger) *WebSocketHandler {
	if log == nil {
		log = zap.NewNop()
	}

	endpoint.Handle(ws.ProtocolCommand, func(c *ws.Client) ws.Session {
		return commands.NewSession(c)
	})
	endpoint.Handle(ws.ProtocolChat, func(c *ws.Client) ws.Session {
		room := c.Param("room")
		if room == "" {
			room = broker.DefaultRoom()
		}
		return broker.NewSession(c, room)
	})

	return &WebSocketHandler{
		endpoint: endpoint,
		broker:   broker,
		log:      log,
	}
}

// Auto handles GET /ws - the first frame decides the protocol.
func (h *WebSocketHandler) Auto(c *gin.Context) {
	h.serve(c, ws.ProtocolUnknown, nil)
}

// Run handles GET /ws/run - the command channel.
func (h *WebSocketHandler) Run(c *gin.Context) {
	h.serve(c, ws.ProtocolCommand, nil)
}

// Chat handles GET /ws/chat and GET /ws/chat/:room.
func (h *WebSocketHandler) Chat(c *gin.Context) {
	h.serve(c, ws.ProtocolChat, map[string]string{"room": c.Param("room")})
}

func (h *WebSocketHandler) serve(c *gin.Context, protocol ws.Protocol, params map[string]string) {
	if err := h.endpoint.Serve(c.Writer, c.Request, protocol, params); err != nil {
		// The upgrader already wrote the HTTP error
		h.log.Debug("WebSocket upgrade failed", zap.Error(err), zap.String("path", c.Request.URL.Path))
	}
}

// RegisterRoutes registers the WebSocket routes.
func (h *WebSocketHandler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/ws", h.Auto)
	r.GET("/ws/run", h.Run)
	r.GET("/ws/chat", h.Chat)
	r.GET("/ws/chat/:room", h.Chat)
}
