package fulfillment

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"cryptoramp/onramp-backend/pkg/apperr"
)

type Handler struct {
	service *Service
	logger  *zap.Logger
}

func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func RegisterRoutes(r *gin.Engine, h *Handler) {
	r.POST("/fulfill", h.Fulfill)
	r.GET("/fulfillments/:tx_hash/:wallet", h.GetStatus)
}

// Fulfill handles POST /fulfill
func (h *Handler) Fulfill(c *gin.Context) {
	var req Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{"code": apperr.CodeValidation, "message": err.Error()},
		})
		return
	}

	result, err := h.service.Fulfill(c.Request.Context(), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetStatus handles GET /fulfillments/:tx_hash/:wallet
func (h *Handler) GetStatus(c *gin.Context) {
	status, err := h.service.GetStatus(c.Request.Context(), c.Param("tx_hash"), c.Param("wallet"))
	if err != nil {
		if appErr, ok := apperr.As(err); ok && appErr.Code == apperr.CodeValidation {
			c.JSON(http.StatusNotFound, gin.H{"error": appErr})
			return
		}
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *Handler) respondError(c *gin.Context, err error) {
	if appErr, ok := apperr.As(err); ok {
		// PENDING_CONFIRMATION is in-flight state, not a failure
		c.JSON(appErr.HTTPStatus(), gin.H{"error": appErr})
		return
	}
	h.logger.Error("fulfillment failed", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{
		"error": gin.H{"message": "internal error"},
	})
}
