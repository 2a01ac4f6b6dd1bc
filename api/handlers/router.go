package handlers

import (
	"net/http"
	"slices"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/coldvault/broker/internal/chat"
	"github.com/coldvault/broker/internal/command"
	"github.com/coldvault/broker/internal/ws"
)

// Deps are the components the router serves.
type Deps struct {
	Endpoint       *ws.Endpoint
	Commands       *command.Service
	Broker         *chat.Broker
	Runs           RunReader
	AllowedOrigins []string
	Log            *zap.Logger
}

// NewRouter builds the broker's gin engine.
func NewRouter(d Deps) *gin.Engine {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(d.Log), corsMiddleware(d.AllowedOrigins))

	r.GET("/health", healthHandler(d.Endpoint.Registry()))

	NewWebSocketHandler(d.Endpoint, d.Commands, d.Broker, d.Log).RegisterRoutes(r)

	api := r.Group("/api")
	{
		NewCommandHandler(d.Commands.Catalog()).RegisterRoutes(api)
		NewRoomHandler(d.Broker).RegisterRoutes(api)
		if d.Runs != nil {
			NewRunHandler(d.Runs).RegisterRoutes(api)
		}
	}

	return r
}

func healthHandler(registry *ws.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"connections": gin.H{
				"command": registry.Count(ws.ProtocolCommand),
				"chat":    registry.Count(ws.ProtocolChat),
				"total":   registry.Len(),
			},
		})
	}
}

// requestLogger logs plain HTTP requests. WebSocket upgrades are logged by
// the endpoint.
func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		if c.Writer.Status() == http.StatusSwitchingProtocols {
			return
		}
		log.Debug("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)))
	}
}

// corsMiddleware returns a CORS middleware. An empty list or "*" allows
// every origin.
func corsMiddleware(allowed []string) gin.HandlerFunc {
	allowAll := len(allowed) == 0 || slices.Contains(allowed, "*")

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		switch {
		case allowAll:
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "" && slices.Contains(allowed, origin):
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Vary", "Origin")
		}
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
