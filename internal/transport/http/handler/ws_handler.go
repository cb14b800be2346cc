package handler

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"fleet-api/internal/notify"
	"fleet-api/internal/transport/http/ez"
)

// WSHandler GET /ws?token=…&room=…；token 由 AuthJWT 从 query 取
type WSHandler struct {
	hub *notify.Hub
}

func NewWSHandler(h *notify.Hub) *WSHandler { return &WSHandler{hub: h} }

func (h *WSHandler) MountAPI(_, authed ez.EZ) {
	authed.Group().GET("/ws", func(c *gin.Context) {
		uid, role := ez.Caller(c)
		if uid == 0 {
			authed.Fail(c, ez.Unauthorized("unauthorized"))
			return
		}
		err := h.hub.Serve(c.Writer, c.Request, notify.Identity{UID: uid, Role: role}, c.Query("room"))
		switch {
		case err == nil:
		case errors.Is(err, notify.ErrRoomForbidden):
			authed.Fail(c, ez.Forbidden("room not allowed"))
		default:
			// Upgrade 失败时 gorilla 已经写过 400
			authed.Logger().Debug("ws upgrade failed", zap.Error(err))
		}
	})
}
