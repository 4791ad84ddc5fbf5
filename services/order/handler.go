package order

import (
	"io"
	"net/http"

	"digitalstore/pkg/errutil"
	"digitalstore/pkg/middleware"

	"github.com/gin-gonic/gin"
)

const signatureHeader = "X-Webhook-Signature"

type Handler struct {
	service  *Service
	webhooks *WebhookService
}

func NewHandler(service *Service, webhooks *WebhookService) *Handler {
	return &Handler{service: service, webhooks: webhooks}
}

func (h *Handler) Register(router *gin.Engine) {
	router.POST("/v1/orders", h.checkout)
	router.GET("/v1/orders", h.listOrders)
	router.GET("/v1/orders/:id", h.getOrder)
	router.POST("/v1/webhooks/payments", h.paymentWebhook)
}

type checkoutRequest struct {
	Email string         `json:"email"`
	Items []CheckoutItem `json:"items" binding:"required"`
}

func (h *Handler) checkout(c *gin.Context) {
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	checkout := CheckoutRequest{CustomerEmail: req.Email, Items: req.Items}
	if identity := middleware.IdentityFrom(c); identity != nil {
		checkout.CustomerID = identity.UserID
		if checkout.CustomerEmail == "" {
			checkout.CustomerEmail = identity.Email
		}
	}

	created, err := h.service.Checkout(c.Request.Context(), checkout)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, created)
}

func (h *Handler) listOrders(c *gin.Context) {
	identity := middleware.IdentityFrom(c)
	if identity == nil {
		c.Error(errutil.Unauthorized("authentication required", nil))
		return
	}

	orders, err := h.service.ListByCustomer(c.Request.Context(), identity.UserID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": orders})
}

func (h *Handler) getOrder(c *gin.Context) {
	identity := middleware.IdentityFrom(c)
	if identity == nil {
		c.Error(errutil.Unauthorized("authentication required", nil))
		return
	}

	o, err := h.service.GetOwnedOrder(c.Request.Context(), c.Param("id"), identity.UserID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, o)
}

func (h *Handler) paymentWebhook(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, 1<<20))
	if err != nil {
		c.Error(errutil.BadRequest("unable to read webhook body", err))
		return
	}

	if !h.webhooks.VerifySignature(body, c.GetHeader(signatureHeader)) {
		c.Error(errutil.Unauthorized("invalid webhook signature", nil))
		return
	}

	if err := h.webhooks.HandleEvent(c.Request.Context(), body); err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
