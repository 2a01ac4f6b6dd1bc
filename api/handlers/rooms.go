package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/coldvault/broker/internal/chat"
	"github.com/coldvault/broker/internal/command"
)

// RoomHandler exposes read-only views of the chat rooms.
type RoomHandler struct {
	broker *chat.Broker
}

// NewRoomHandler creates a new RoomHandler.
func NewRoomHandler(broker *chat.Broker) *RoomHandler {
	return &RoomHandler{broker: broker}
}

// List handles GET /api/rooms.
func (h *RoomHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rooms": h.broker.Rooms()})
}

// Users handles GET /api/rooms/:room/users.
func (h *RoomHandler) Users(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"room":  c.Param("room"),
		"users": h.broker.Users(c.Param("room")),
	})
}

// History handles GET /api/rooms/:room/history.
func (h *RoomHandler) History(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"room":     c.Param("room"),
		"messages": chat.ToWireList(h.broker.History(c.Param("room"))),
	})
}

// RegisterRoutes registers the room routes.
func (h *RoomHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/rooms", h.List)
	rg.GET("/rooms/:room/users", h.Users)
	rg.GET("/rooms/:room/history", h.History)
}

// CommandHandler lists the commands clients may run.
type CommandHandler struct {
	catalog *command.Catalog
}

// NewCommandHandler creates a new CommandHandler.
func NewCommandHandler(catalog *command.Catalog) *CommandHandler {
	return &CommandHandler{catalog: catalog}
}

// List handles GET /api/commands.
func (h *CommandHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"commands": h.catalog.List()})
}

// RegisterRoutes registers the command routes.
func (h *CommandHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/commands", h.List)
}
