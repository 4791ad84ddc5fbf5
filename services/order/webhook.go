package order

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"digitalstore/pkg/config"
	"digitalstore/pkg/errutil"
	taskq "digitalstore/pkg/asynq"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
	"gorm.io/gorm/clause"
)

const (
	EventPaymentSucceeded = "payment.succeeded"
	EventPaymentFailed    = "payment.failed"
)

// Enqueuer is the subset of asynq.Client the webhook needs.
type Enqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type WebhookService struct {
	cfg     *config.Config
	service *Service
	queue   Enqueuer
}

func NewWebhookService(cfg *config.Config, service *Service, queue Enqueuer) *WebhookService {
	return &WebhookService{cfg: cfg, service: service, queue: queue}
}

type WebhookEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	OrderID string `json:"order_id"`
}

// VerifySignature checks the hex HMAC-SHA256 of the raw body against
// the shared webhook secret.
func (w *WebhookService) VerifySignature(body []byte, signature string) bool {
	if w.cfg.Payments.WebhookSecret == "" || signature == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(w.cfg.Payments.WebhookSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signature))
}

// HandleEvent records and processes a verified webhook delivery.
// Deliveries are deduplicated on (provider, provider_event_id): a
// replayed event id is acknowledged without effect.
func (w *WebhookService) HandleEvent(ctx context.Context, body []byte) error {
	var event WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return errutil.BadRequest("malformed webhook payload", err)
	}
	if event.ID == "" || event.Type == "" {
		return errutil.BadRequest("webhook event id and type are required", nil)
	}

	record := &PaymentEvent{
		ID:              w.service.node.Generate().String(),
		Provider:        w.cfg.Payments.Provider,
		ProviderEventID: event.ID,
		EventType:       event.Type,
		OrderID:         event.OrderID,
		Payload:         string(body),
		SignatureValid:  true,
	}

	res := w.service.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(record)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		zap.L().Info("duplicate webhook delivery ignored",
			zap.String("provider_event_id", event.ID),
			zap.String("event_type", event.Type),
		)
		return nil
	}

	if err := w.process(ctx, event); err != nil {
		now := time.Now()
		_ = w.service.events.Update(ctx, record.ID, &PaymentEvent{
			ProcessedAt:     &now,
			ProcessingError: err.Error(),
		})
		return err
	}

	now := time.Now()
	return w.service.events.Update(ctx, record.ID, &PaymentEvent{ProcessedAt: &now})
}

func (w *WebhookService) process(ctx context.Context, event WebhookEvent) error {
	switch event.Type {
	case EventPaymentSucceeded:
		if event.OrderID == "" {
			return errutil.BadRequest("payment event carries no order id", nil)
		}

		if _, err := w.service.CompleteOrder(ctx, event.OrderID); err != nil {
			return err
		}

		payload, err := json.Marshal(taskq.ProvisionEntitlementsPayload{OrderID: event.OrderID})
		if err != nil {
			return err
		}

		task := asynq.NewTask(taskq.ProvisionEntitlementsTask, payload)
		if _, err := w.queue.Enqueue(task, asynq.Queue("critical"), asynq.MaxRetry(10)); err != nil {
			return err
		}

		zap.L().Info("order completed, provisioning enqueued", zap.String("order_id", event.OrderID))
		return nil

	case EventPaymentFailed:
		zap.L().Warn("payment failed", zap.String("order_id", event.OrderID))
		return nil

	default:
		zap.L().Info("ignoring webhook event type", zap.String("event_type", event.Type))
		return nil
	}
}
