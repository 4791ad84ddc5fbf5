package entitlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	taskq "digitalstore/pkg/asynq"
	"digitalstore/pkg/errutil"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

type TaskHandler struct {
	service *Service
}

func NewTaskHandler(service *Service) *TaskHandler {
	return &TaskHandler{service: service}
}

// HandleProvisionEntitlements is the worker side of the payment
// webhook. Transient failures bubble up so asynq retries; a missing
// order is permanent and skips the retry ladder.
func (h *TaskHandler) HandleProvisionEntitlements(ctx context.Context, t *asynq.Task) error {
	var payload taskq.ProvisionEntitlementsPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("malformed payload: %v: %w", err, asynq.SkipRetry)
	}

	err := h.service.ProvisionOrder(ctx, payload.OrderID)
	if err == nil {
		return nil
	}

	var be errutil.BaseError
	if errors.As(err, &be) && be.Code == errutil.StatusNotFound {
		zap.L().Error("provisioning refers to a missing order",
			zap.String("order_id", payload.OrderID),
			zap.Error(err),
		)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	return err
}

func (h *TaskHandler) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(taskq.ProvisionEntitlementsTask, h.HandleProvisionEntitlements)
}
