package order

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"digitalstore/pkg/config"
	"digitalstore/pkg/errutil"
	"digitalstore/services/catalog"
	"digitalstore/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type stubFlags struct {
	enabled bool
}

func (s *stubFlags) Enabled(context.Context, string) bool { return s.enabled }

type stubPurchases struct {
	owned map[string]bool
	err   error
}

func (s *stubPurchases) HasPurchased(_ context.Context, customerID, productID, variantID string) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	return s.owned[fmt.Sprintf("%s/%s/%s", customerID, productID, variantID)], nil
}

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return nil, nil
}

type fixture struct {
	svc     *Service
	catalog *catalog.Service
	flags   *stubFlags
	owned   *stubPurchases
	db      *gorm.DB
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testutil.NewTestDB(t,
		&catalog.Product{}, &catalog.Variant{}, &catalog.FileAsset{},
		&Order{}, &OrderItem{}, &PaymentEvent{},
	)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cat := catalog.NewService(catalog.ServiceParams{DB: db, Node: node})
	flags := &stubFlags{enabled: true}
	owned := &stubPurchases{owned: map[string]bool{}}

	svc := NewService(ServiceParams{
		DB:        db,
		Node:      node,
		Catalog:   cat,
		Flags:     flags,
		Purchases: owned,
	})

	return &fixture{svc: svc, catalog: cat, flags: flags, owned: owned, db: db}
}

func (f *fixture) webhook(t *testing.T, queue Enqueuer) (*WebhookService, *config.Config) {
	t.Helper()

	cfg := &config.Config{}
	cfg.Payments.Provider = "testpay"
	cfg.Payments.WebhookSecret = "whsec"

	return NewWebhookService(cfg, f.svc, queue), cfg
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func seedProduct(t *testing.T, f *fixture, title string, digital bool) *catalog.Product {
	t.Helper()

	product, err := f.catalog.CreateProduct(context.Background(), &catalog.Product{
		Title:     title,
		Price:     1500,
		IsDigital: digital,
	})
	require.NoError(t, err)
	return product
}

func TestCheckoutPricesFromCatalog(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	product := seedProduct(t, f, "Voice Course", true)

	o, err := f.svc.Checkout(ctx, CheckoutRequest{
		CustomerID:    "cust-1",
		CustomerEmail: "cust@example.com",
		Items:         []CheckoutItem{{ProductID: product.ID, Quantity: 3}},
	})
	require.NoError(t, err)
	require.Equal(t, StatusPending, o.Status)
	// digital items never multiply
	require.Equal(t, int64(1500), o.Amount)
	require.Len(t, o.Items, 1)
	require.Equal(t, 1, o.Items[0].Quantity)
}

func TestCheckoutRejectsOwnedDigitalItem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	product := seedProduct(t, f, "Owned Course", true)
	f.owned.owned["cust-1/"+product.ID+"/"] = true

	_, err := f.svc.Checkout(ctx, CheckoutRequest{
		CustomerID:    "cust-1",
		CustomerEmail: "cust@example.com",
		Items:         []CheckoutItem{{ProductID: product.ID}},
	})
	require.Error(t, err)

	var be errutil.BaseError
	require.ErrorAs(t, err, &be)
	require.Equal(t, errutil.StatusConflict, be.Code)
}

func TestCheckoutGuardDisabled(t *testing.T) {
	f := newFixture(t)
	f.flags.enabled = false
	ctx := context.Background()

	product := seedProduct(t, f, "Owned Course", true)
	f.owned.owned["cust-1/"+product.ID+"/"] = true

	o, err := f.svc.Checkout(ctx, CheckoutRequest{
		CustomerID:    "cust-1",
		CustomerEmail: "cust@example.com",
		Items:         []CheckoutItem{{ProductID: product.ID}},
	})
	require.NoError(t, err)
	require.Equal(t, StatusPending, o.Status)
}

func TestContainsItemMatchesVariantExactly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	product := seedProduct(t, f, "Variant Course", true)
	variant, err := f.catalog.CreateVariant(ctx, &catalog.Variant{ProductID: product.ID, SKU: "V1"})
	require.NoError(t, err)

	o, err := f.svc.Checkout(ctx, CheckoutRequest{
		CustomerEmail: "guest@example.com",
		Items:         []CheckoutItem{{ProductID: product.ID, VariantID: variant.ID}},
	})
	require.NoError(t, err)

	ok, err := f.svc.ContainsItem(ctx, o.ID, product.ID, variant.ID)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = f.svc.ContainsItem(ctx, o.ID, product.ID, "")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCompleteOrderIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	product := seedProduct(t, f, "Complete Me", true)
	o, err := f.svc.Checkout(ctx, CheckoutRequest{
		CustomerEmail: "guest@example.com",
		Items:         []CheckoutItem{{ProductID: product.ID}},
	})
	require.NoError(t, err)

	completed, err := f.svc.CompleteOrder(ctx, o.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, completed.Status)

	again, err := f.svc.CompleteOrder(ctx, o.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, again.Status)
}

func TestWebhookSignature(t *testing.T) {
	f := newFixture(t)
	w, _ := f.webhook(t, &fakeEnqueuer{})

	body := []byte(`{"id":"evt-1","type":"payment.succeeded","order_id":"x"}`)

	require.True(t, w.VerifySignature(body, sign("whsec", body)))
	require.False(t, w.VerifySignature(body, sign("other", body)))
	require.False(t, w.VerifySignature(body, ""))
}

func TestWebhookCompletesOrderAndEnqueues(t *testing.T) {
	f := newFixture(t)
	queue := &fakeEnqueuer{}
	w, _ := f.webhook(t, queue)
	ctx := context.Background()

	product := seedProduct(t, f, "Paid Course", true)
	o, err := f.svc.Checkout(ctx, CheckoutRequest{
		CustomerEmail: "guest@example.com",
		Items:         []CheckoutItem{{ProductID: product.ID}},
	})
	require.NoError(t, err)

	body, err := json.Marshal(WebhookEvent{ID: "evt-1", Type: EventPaymentSucceeded, OrderID: o.ID})
	require.NoError(t, err)

	require.NoError(t, w.HandleEvent(ctx, body))

	updated, err := f.svc.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, updated.Status)
	require.Len(t, queue.tasks, 1)
}

func TestWebhookReplayIsIgnored(t *testing.T) {
	f := newFixture(t)
	queue := &fakeEnqueuer{}
	w, _ := f.webhook(t, queue)
	ctx := context.Background()

	product := seedProduct(t, f, "Replay Course", true)
	o, err := f.svc.Checkout(ctx, CheckoutRequest{
		CustomerEmail: "guest@example.com",
		Items:         []CheckoutItem{{ProductID: product.ID}},
	})
	require.NoError(t, err)

	body, err := json.Marshal(WebhookEvent{ID: "evt-replay", Type: EventPaymentSucceeded, OrderID: o.ID})
	require.NoError(t, err)

	require.NoError(t, w.HandleEvent(ctx, body))
	require.NoError(t, w.HandleEvent(ctx, body))

	require.Len(t, queue.tasks, 1)

	var events int64
	require.NoError(t, f.db.Model(&PaymentEvent{}).Count(&events).Error)
	require.Equal(t, int64(1), events)
}

func TestWebhookIgnoresUnknownEventType(t *testing.T) {
	f := newFixture(t)
	queue := &fakeEnqueuer{}
	w, _ := f.webhook(t, queue)

	body := []byte(`{"id":"evt-2","type":"customer.updated"}`)
	require.NoError(t, w.HandleEvent(context.Background(), body))
	require.Empty(t, queue.tasks)
}
