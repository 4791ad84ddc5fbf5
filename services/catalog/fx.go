package catalog

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Module = fx.Module("catalog",
	fx.Provide(
		NewService,
		NewHandler,
	),
	fx.Invoke(func(router *gin.Engine, h *Handler) {
		h.Register(router)
	}),
)
