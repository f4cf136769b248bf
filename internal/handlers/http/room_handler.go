package http

import (
	"net/http"

	"duocall/internal/core/domain"
	"duocall/internal/core/ports"
	"duocall/internal/infrastructure/monitoring"

	"github.com/gin-gonic/gin"
)

// RoomHandler exposes a read-only diagnostic view of the registry. The real
// signaling path goes over the websocket; this mirrors room:check for
// operators and probes.
type RoomHandler struct {
	registry ports.RegistryService
	health   *monitoring.HealthChecker
}

func NewRoomHandler(registry ports.RegistryService, health *monitoring.HealthChecker) *RoomHandler {
	return &RoomHandler{
		registry: registry,
		health:   health,
	}
}

func (h *RoomHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.GET("/rooms/:room/occupant", h.GetOccupant)
	}
	router.GET("/healthz", h.Healthz)
}

func (h *RoomHandler) GetOccupant(c *gin.Context) {
	room := domain.RoomID(c.Param("room"))
	self := domain.ConnectionID(c.Query("self"))

	occ, err := h.registry.CheckRoom(c.Request.Context(), room, self)
	if err != nil {
		c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "room check failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"exists":        occ.Exists,
		"connection_id": occ.ConnectionID,
		"identity":      occ.Identity,
	})
}

func (h *RoomHandler) Healthz(c *gin.Context) {
	status := h.health.CheckAll(c.Request.Context())
	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}
