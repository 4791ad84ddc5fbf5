package download

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Module = fx.Module("download",
	fx.Provide(
		NewObjectStore,
		NewService,
		NewHandler,
	),
	fx.Invoke(func(router *gin.Engine, h *Handler) {
		h.Register(router)
	}),
)
