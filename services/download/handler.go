package download

import (
	"fmt"
	"net/http"
	"net/url"

	"digitalstore/pkg/errutil"
	"digitalstore/pkg/middleware"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) Register(router *gin.Engine) {
	router.POST("/v1/downloads/token", h.issueToken)
	router.GET("/v1/downloads/file", h.serveFile)
	router.GET("/v1/downloads", h.listDownloads)
}

type tokenRequest struct {
	OrderID   string `json:"order_id" binding:"required"`
	ProductID string `json:"product_id" binding:"required"`
	VariantID string `json:"variant_id"`
}

func (h *Handler) issueToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("order_id and product_id are required", err))
		return
	}

	grant, err := h.service.IssueToken(c.Request.Context(), middleware.IdentityFrom(c), TokenRequest{
		OrderID:    req.OrderID,
		ProductID:  req.ProductID,
		VariantID:  req.VariantID,
		RemoteAddr: c.ClientIP(),
		UserAgent:  c.Request.UserAgent(),
	})
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, grant)
}

func (h *Handler) serveFile(c *gin.Context) {
	token := c.Query("token")
	orderID := c.Query("order")
	productID := c.Query("product")
	if token == "" || orderID == "" || productID == "" {
		c.Error(errutil.BadRequest("token, order and product are required", nil))
		return
	}

	served, err := h.service.ServeFile(c.Request.Context(), middleware.IdentityFrom(c), ServeRequest{
		Token:      token,
		OrderID:    orderID,
		ProductID:  productID,
		VariantID:  c.Query("variant"),
		RemoteAddr: c.ClientIP(),
		UserAgent:  c.Request.UserAgent(),
	})
	if err != nil {
		c.Error(err)
		return
	}
	defer served.Object.Reader.Close()

	contentType := served.Object.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	headers := map[string]string{
		"Content-Disposition":    fmt.Sprintf("attachment; filename*=UTF-8''%s", url.PathEscape(served.Filename)),
		"Cache-Control":          "no-store",
		"X-Content-Type-Options": "nosniff",
	}

	c.DataFromReader(http.StatusOK, served.Object.Size, contentType, served.Object.Reader, headers)
}

func (h *Handler) listDownloads(c *gin.Context) {
	entries, err := h.service.ListDownloads(c.Request.Context(), middleware.IdentityFrom(c))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": entries})
}
