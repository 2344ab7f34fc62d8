package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/noah-isme/edu-manage-api/internal/middleware"
	appErrors "github.com/noah-isme/edu-manage-api/pkg/errors"
	"github.com/noah-isme/edu-manage-api/pkg/response"
)

type socketServer interface {
	Serve(ctx context.Context, conn *websocket.Conn, userID string)
}

// RealtimeHandler upgrades authenticated requests to the notification socket.
type RealtimeHandler struct {
	hub      socketServer
	auth     middleware.TokenValidator
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewRealtimeHandler constructs the handler. An empty origin list accepts any origin.
func NewRealtimeHandler(hub socketServer, auth middleware.TokenValidator, allowedOrigins []string, logger *zap.Logger) *RealtimeHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	origins := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[strings.TrimRight(o, "/")] = struct{}{}
	}
	return &RealtimeHandler{
		hub:  hub,
		auth: auth,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(origins) == 0 {
					return true
				}
				_, ok := origins[strings.TrimRight(r.Header.Get("Origin"), "/")]
				return ok
			},
		},
		logger: logger,
	}
}

// Connect godoc
// @Summary Open the realtime channel
// @Description Browsers cannot set headers on websocket handshakes, so the access token travels in the query.
// @Tags Realtime
// @Param token query string true "Access token"
// @Success 101
// @Failure 401 {object} response.Envelope
// @Router /ws [get]
func (h *RealtimeHandler) Connect(c *gin.Context) {
	token := strings.TrimSpace(c.Query("token"))
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "token is required"))
		return
	}
	claims, err := h.auth.ValidateToken(token)
	if err != nil {
		response.Error(c, err)
		return
	}
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	h.hub.Serve(c.Request.Context(), conn, claims.UserID)
}
