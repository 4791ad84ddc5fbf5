package customer

import (
	"net/http"

	"digitalstore/pkg/config"
	"digitalstore/pkg/errutil"
	"digitalstore/pkg/middleware"
	"digitalstore/pkg/session"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Handler struct {
	service  *Service
	sessions *session.Store
	cfg      *config.Config
}

func NewHandler(service *Service, sessions *session.Store, cfg *config.Config) *Handler {
	return &Handler{service: service, sessions: sessions, cfg: cfg}
}

func (h *Handler) Register(router *gin.Engine) {
	auth := router.Group("/v1/auth")
	auth.POST("/register", h.register)
	auth.POST("/login", h.login)
	auth.POST("/logout", h.logout)
	auth.GET("/me", h.me)
}

type credentialsRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *Handler) register(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("email and password are required", err))
		return
	}

	created, err := h.service.Register(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		c.Error(err)
		return
	}

	h.startSession(c, created)
	c.JSON(http.StatusCreated, created)
}

func (h *Handler) login(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errutil.BadRequest("email and password are required", err))
		return
	}

	cust, err := h.service.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		c.Error(err)
		return
	}

	h.startSession(c, cust)
	c.JSON(http.StatusOK, cust)
}

func (h *Handler) logout(c *gin.Context) {
	sid, err := c.Cookie(h.cfg.Session.Name)
	if err == nil && sid != "" {
		if err := h.sessions.Delete(c.Request.Context(), sid); err != nil {
			zap.L().Warn("failed to delete session", zap.Error(err))
		}
	}

	h.setCookie(c, "", -1)
	c.Status(http.StatusNoContent)
}

func (h *Handler) me(c *gin.Context) {
	identity := middleware.IdentityFrom(c)
	if identity == nil {
		c.Error(errutil.Unauthorized("authentication required", nil))
		return
	}

	c.JSON(http.StatusOK, identity)
}

func (h *Handler) startSession(c *gin.Context, cust *Customer) {
	sid, err := h.sessions.Create(c.Request.Context(), session.Identity{
		UserID: cust.ID,
		Email:  cust.Email,
		Roles:  cust.RoleList(),
	})
	if err != nil {
		zap.L().Error("failed to create session", zap.Error(err))
		return
	}

	h.setCookie(c, sid, int(h.cfg.Session.TTL.Seconds()))
}

func (h *Handler) setCookie(c *gin.Context, sid string, maxAge int) {
	secure := h.cfg.AppEnv == "production"
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cfg.Session.Name, sid, maxAge, "/", "", secure, true)
}
