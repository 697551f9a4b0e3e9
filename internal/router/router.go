package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/meeting-sync/internal/handler"
	"github.com/iliyamo/meeting-sync/internal/middleware"
)

// RegisterRoutes registers routes that do not require authentication.
// Currently it exposes only a health check.
func RegisterRoutes(e *echo.Echo, health echo.HandlerFunc) {
	e.GET("/healthz", health)
}

// RegisterMeetingRooms registers the meeting room API and the notification
// WebSocket under /v1.  Every route requires a valid access token; the
// mutating ones also pass through the rate limiter.
func RegisterMeetingRooms(e *echo.Echo, h *handler.MeetingRoomHandler, ws *handler.SubscribeHandler, jwtSecret string, limiter echo.MiddlewareFunc) {
	v1 := e.Group("/v1", middleware.JWTAuth(jwtSecret))

	rooms := v1.Group("/meeting-rooms")
	rooms.POST("", h.Create, limiter)
	rooms.PUT("/:room", h.Update, limiter)
	rooms.DELETE("/:room", h.Delete, limiter)
	rooms.GET("/:room", h.Detail)
	rooms.GET("/:room/authz", h.Authz)
	rooms.POST("/:room/enter", h.Enter, limiter)
	rooms.POST("/:room/leave", h.Leave, limiter)

	v1.GET("/ws", ws.Subscribe)
}
