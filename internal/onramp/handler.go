package onramp

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"cryptoramp/onramp-backend/pkg/apperr"
)

type Handler struct {
	gateway *Gateway
	logger  *zap.Logger
}

func NewHandler(gateway *Gateway, logger *zap.Logger) *Handler {
	return &Handler{gateway: gateway, logger: logger}
}

func RegisterRoutes(r *gin.Engine, h *Handler) {
	r.POST("/create-onramp-session", h.CreateSession)
}

// CreateSession handles POST /create-onramp-session
func (h *Handler) CreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{"code": apperr.CodeValidation, "message": err.Error()},
		})
		return
	}

	session, err := h.gateway.CreateSession(c.Request.Context(), IntentFromRequest(&req))
	if err != nil {
		if appErr, ok := apperr.As(err); ok {
			c.JSON(appErr.HTTPStatus(), gin.H{"error": appErr})
			return
		}
		h.logger.Error("session creation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{"message": "internal error"},
		})
		return
	}

	c.JSON(http.StatusOK, session)
}
