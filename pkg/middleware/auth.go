package middleware

import (
	"digitalstore/pkg/config"
	"digitalstore/pkg/session"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const identityKey = "auth.identity"

// Session resolves the session cookie into an identity on the gin
// context. It never aborts: anonymous requests pass through and the
// handlers decide whether authentication is required.
func Session(store *session.Store, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		sid, err := c.Cookie(cfg.Session.Name)
		if err != nil || sid == "" {
			c.Next()
			return
		}

		identity, err := store.Get(c.Request.Context(), sid)
		if err != nil {
			zap.L().Error("failed to resolve session", zap.Error(err))
			c.Next()
			return
		}

		if identity != nil {
			c.Set(identityKey, identity)
		}

		c.Next()
	}
}

// IdentityFrom returns the authenticated caller, or nil for anonymous
// requests.
func IdentityFrom(c *gin.Context) *session.Identity {
	v, ok := c.Get(identityKey)
	if !ok {
		return nil
	}
	identity, ok := v.(*session.Identity)
	if !ok {
		return nil
	}
	return identity
}
