package order

import (
	"encoding/json"
	"net/http"
	"strconv"

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

// Register mounts the order API and the relay-facing event endpoint.
func (h *Handler) Register(router *gin.Engine) {
	api := router.Group("/api/orders", middleware.UserIdentity())
	{
		api.POST("", h.createOrder)
		api.GET("", h.getOrders)
		api.GET("/:id", h.getOrder)
		api.PUT("/:id/cancel", h.cancelOrder)
	}

	router.POST("/events", h.handleEvent)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "order-service"})
	})
}

func (h *Handler) createOrder(c *gin.Context) {
	var req domain.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request format"})
		return
	}

	order, err := h.service.CreateOrder(c.Request.Context(), c.GetString(middleware.UserIDKey), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": order})
}

func (h *Handler) getOrders(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))

	result, err := h.service.GetOrders(c.Request.Context(), c.GetString(middleware.UserIDKey), page, pageSize)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": result.Orders, "pagination": result.Pagination})
}

func (h *Handler) getOrder(c *gin.Context) {
	order, err := h.service.GetOrder(c.Request.Context(), c.Param("id"), c.GetString(middleware.UserIDKey))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": order})
}

func (h *Handler) cancelOrder(c *gin.Context) {
	order, err := h.service.CancelOrder(c.Request.Context(), c.Param("id"), c.GetString(middleware.UserIDKey))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": order})
}

// handleEvent receives relay deliveries. Handler failures are logged, never
// propagated: a bad event must not crash the service, and the relay gets its
// 200 either way so it does not retry what cannot succeed.
func (h *Handler) handleEvent(c *gin.Context) {
	var ev struct {
		Type domain.EventType `json:"type"`
		Data json.RawMessage  `json:"data"`
	}
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid event body"})
		return
	}

	ctx := c.Request.Context()
	var err error
	switch ev.Type {
	case domain.EventPaymentProcessed:
		var data domain.PaymentProcessedData
		if err = json.Unmarshal(ev.Data, &data); err == nil {
			err = h.service.HandlePaymentProcessed(ctx, data)
		}
	case domain.EventPaymentFailed:
		var data domain.PaymentFailedData
		if err = json.Unmarshal(ev.Data, &data); err == nil {
			err = h.service.HandlePaymentFailed(ctx, data)
		}
	}
	if err != nil {
		h.logger.Error("event handling failed",
			zap.String("event_type", string(ev.Type)),
			zap.Error(err))
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
