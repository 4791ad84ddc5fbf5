package entitlement

import (
	"digitalstore/services/catalog"
	"digitalstore/services/order"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
)

var Module = fx.Module("entitlement",
	fx.Provide(
		NewIndex,
		NewService,
		func(i *Index) catalog.PurchaseChecker { return i },
		func(i *Index) order.PurchaseChecker { return i },
	),
)

// TaskModule wires the provisioning handler into the worker mux.
var TaskModule = fx.Module("entitlement:tasks",
	fx.Provide(NewTaskHandler),
	fx.Invoke(func(mux *asynq.ServeMux, h *TaskHandler) {
		h.Register(mux)
	}),
)
