package controllers

import (
	"schoolreg/middleware"
	"schoolreg/services/websocket"

	"github.com/gofiber/fiber/v2"
	fiberws "github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"
)

// WebSocketController serves the staff live feed of reconciled payments.
type WebSocketController struct {
	hub *websocket.Hub
}

func NewWebSocketController(hub *websocket.Hub) *WebSocketController {
	return &WebSocketController{hub: hub}
}

// RequireUpgrade rejects plain HTTP requests to the feed endpoint.
func (wsc *WebSocketController) RequireUpgrade(c *fiber.Ctx) error {
	if !fiberws.IsWebSocketUpgrade(c) {
		return fiber.NewError(fiber.StatusUpgradeRequired, "Use the WebSocket endpoint: ws://<host>/ws?token=YOUR_JWT")
	}
	return c.Next()
}

// WebSocketHandler attaches an authenticated staff connection to the hub.
// JWTMiddleware and RequireStaff run before the upgrade, so the claims are in Locals.
func (wsc *WebSocketController) WebSocketHandler() fiber.Handler {
	return fiberws.New(func(c *fiberws.Conn) {
		claims, ok := c.Locals("claims").(*middleware.Claims)
		if !ok {
			logrus.Warn("WebSocket connection rejected: no session claims")
			c.WriteMessage(fiberws.CloseMessage, []byte("Unauthorized"))
			c.Close()
			return
		}

		logrus.WithFields(logrus.Fields{"user_id": claims.PrincipalID, "username": claims.Username}).Info("WebSocket connection established")
		wsc.hub.ServeFiberWS(c, claims.PrincipalID)
	})
}

// GetWebSocketStats returns WebSocket connection statistics (admin only)
func (wsc *WebSocketController) GetWebSocketStats(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"success":           true,
		"connected_clients": wsc.hub.GetClientCount(),
		"status":            "active",
	})
}
