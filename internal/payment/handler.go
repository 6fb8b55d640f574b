package payment

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prashantneosoft/ecommerce-microservices/internal/domain"
	"github.com/prashantneosoft/ecommerce-microservices/pkg/apperr"
	"github.com/prashantneosoft/ecommerce-microservices/pkg/middleware"
	"go.uber.org/zap"
)

type Handler struct {
	service *Service
	logger  *zap.Logger
}

func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Register(router *gin.Engine) {
	api := router.Group("/api/payments", middleware.UserIdentity())
	{
		api.POST("/process", h.processPayment)
		api.GET("/:id", h.getPaymentByOrder)
		api.POST("/:id/refund", h.refundPayment)
	}

	router.POST("/events", h.handleEvent)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "payment-service"})
	})
}

func (h *Handler) processPayment(c *gin.Context) {
	var req domain.ProcessPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request format"})
		return
	}
	req.UserID = c.GetString(middleware.UserIDKey)

	payment, err := h.service.ProcessPayment(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": payment})
}

func (h *Handler) getPaymentByOrder(c *gin.Context) {
	payment, err := h.service.GetByOrderID(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": payment})
}

func (h *Handler) refundPayment(c *gin.Context) {
	payment, err := h.service.RefundPayment(c.Request.Context(), c.Param("id"), c.GetString(middleware.UserIDKey))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": payment})
}

// handleEvent drives the payment side of the saga. The relay is answered
// immediately; a failed charge becomes a PaymentFailed event, never an error
// on this endpoint.
func (h *Handler) handleEvent(c *gin.Context) {
	var ev struct {
		Type domain.EventType `json:"type"`
		Data json.RawMessage  `json:"data"`
	}
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid event body"})
		return
	}

	if ev.Type == domain.EventOrderCreated {
		var data domain.OrderCreatedData
		if err := json.Unmarshal(ev.Data, &data); err != nil {
			h.logger.Error("malformed OrderCreated payload", zap.Error(err))
		} else {
			h.service.HandleOrderCreated(c.Request.Context(), data)
		}
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("request_id", c.GetString(middleware.RequestIDKey)),
			zap.Error(err))
	}
	c.JSON(status, gin.H{"success": false, "error": apperr.Message(err)})
}
