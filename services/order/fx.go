package order

import (
	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
)

var Module = fx.Module("order",
	fx.Provide(
		NewService,
		NewWebhookService,
		NewHandler,
		func(client *asynq.Client) Enqueuer { return client },
	),
	fx.Invoke(func(router *gin.Engine, h *Handler) {
		h.Register(router)
	}),
)
