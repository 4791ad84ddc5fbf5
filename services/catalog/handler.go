package catalog

import (
	"context"
	"net/http"
	"strconv"

	"digitalstore/pkg/authz"
	"digitalstore/pkg/db/option"
	"digitalstore/pkg/errutil"
	"digitalstore/pkg/middleware"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// PurchaseChecker answers the product-page "already purchased" question.
// Implemented by the entitlement purchase index.
type PurchaseChecker interface {
	HasPurchased(ctx context.Context, customerID, productID, variantID string) (bool, error)
}

type Handler struct {
	service   *Service
	purchases PurchaseChecker
	enforcer  *authz.Enforcer
}

func NewHandler(service *Service, purchases PurchaseChecker, enforcer *authz.Enforcer) *Handler {
	return &Handler{service: service, purchases: purchases, enforcer: enforcer}
}

func (h *Handler) Register(router *gin.Engine) {
	router.GET("/v1/products", h.listProducts)
	router.GET("/v1/products/:slug", h.getProduct)

	admin := router.Group("/v1/admin")
	admin.POST("/products", h.createProduct)
	admin.POST("/variants", h.createVariant)
	admin.POST("/files", h.createFile)
}

var listSortColumns = map[string]bool{
	"created_at": true,
	"title":      true,
	"price":      true,
}

func (h *Handler) listProducts(c *gin.Context) {
	opts := []option.QueryOption{
		option.WithSortBy(option.QuerySortBy{
			SortBy:  c.Query("sort_by"),
			OrderBy: c.Query("order_by"),
			Allow:   listSortColumns,
		}),
	}
	if limit, err := strconv.Atoi(c.Query("limit")); err == nil {
		opts = append(opts, option.WithLimit(limit))
	}
	if c.Query("digital") == "true" {
		opts = append(opts, option.ApplyOperator(option.Condition{
			Field:    "is_digital",
			Operator: option.EQ,
			Value:    true,
		}))
	}

	products, err := h.service.ListProducts(c.Request.Context(), opts...)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": products})
}

type productResponse struct {
	*Product
	Variants         []*Variant `json:"variants,omitempty"`
	AlreadyPurchased bool       `json:"already_purchased"`
}

func (h *Handler) getProduct(c *gin.Context) {
	ctx := c.Request.Context()

	product, err := h.service.GetProductBySlug(ctx, c.Param("slug"))
	if err != nil {
		c.Error(err)
		return
	}

	variants, err := h.service.ListVariants(ctx, product.ID)
	if err != nil {
		c.Error(err)
		return
	}

	resp := productResponse{Product: product, Variants: variants}

	// Constant-time index lookup, never an order-history scan.
	if identity := middleware.IdentityFrom(c); identity != nil && product.IsDigital {
		purchased, err := h.purchases.HasPurchased(ctx, identity.UserID, product.ID, "")
		if err != nil {
			zap.L().Warn("purchase index lookup failed", zap.String("product_id", product.ID), zap.Error(err))
		} else {
			resp.AlreadyPurchased = purchased
		}
	}

	c.JSON(http.StatusOK, resp)
}

func (h *Handler) requireAdmin(c *gin.Context, obj string) bool {
	identity := middleware.IdentityFrom(c)
	if identity == nil {
		c.Error(errutil.Unauthorized("authentication required", nil))
		return false
	}
	if !h.enforcer.Allow(identity.Roles, obj, "write") {
		c.Error(errutil.Forbidden("insufficient permission", nil))
		return false
	}
	return true
}

func (h *Handler) createProduct(c *gin.Context) {
	if !h.requireAdmin(c, "catalog") {
		return
	}

	var product Product
	if err := c.ShouldBindJSON(&product); err != nil {
		c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	created, err := h.service.CreateProduct(c.Request.Context(), &product)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, created)
}

func (h *Handler) createVariant(c *gin.Context) {
	if !h.requireAdmin(c, "catalog") {
		return
	}

	var variant Variant
	if err := c.ShouldBindJSON(&variant); err != nil {
		c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	created, err := h.service.CreateVariant(c.Request.Context(), &variant)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, created)
}

func (h *Handler) createFile(c *gin.Context) {
	if !h.requireAdmin(c, "catalog") {
		return
	}

	var file FileAsset
	if err := c.ShouldBindJSON(&file); err != nil {
		c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	created, err := h.service.CreateFileAsset(c.Request.Context(), &file)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, created)
}
