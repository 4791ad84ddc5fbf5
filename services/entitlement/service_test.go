package entitlement

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	taskq "digitalstore/pkg/asynq"
	"digitalstore/pkg/config"
	"digitalstore/pkg/errutil"
	"digitalstore/services/catalog"
	"digitalstore/services/order"
	"digitalstore/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type allowAllFlags struct{}

func (allowAllFlags) Enabled(context.Context, string) bool { return true }

type noPurchases struct{}

func (noPurchases) HasPurchased(context.Context, string, string, string) (bool, error) {
	return false, nil
}

type fixture struct {
	svc     *Service
	catalog *catalog.Service
	orders  *order.Service
	index   *Index
	db      *gorm.DB
	cfg     *config.Config
}

// newFixture points the purchase index at an unreachable redis so the
// ledger fallback path is what the tests exercise.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testutil.NewTestDB(t,
		&catalog.Product{}, &catalog.Variant{}, &catalog.FileAsset{},
		&order.Order{}, &order.OrderItem{}, &order.PaymentEvent{},
		&Entitlement{}, &DownloadLog{},
	)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Download.DefaultMaxDownloads = 3
	cfg.Download.DefaultExpiryDays = 30

	cat := catalog.NewService(catalog.ServiceParams{DB: db, Node: node})
	orders := order.NewService(order.ServiceParams{
		DB:        db,
		Node:      node,
		Catalog:   cat,
		Flags:     allowAllFlags{},
		Purchases: noPurchases{},
	})

	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	index := NewIndex(rdb, db)

	svc := NewService(ServiceParams{
		DB:      db,
		Node:    node,
		Config:  cfg,
		Catalog: cat,
		Orders:  orders,
		Index:   index,
	})

	return &fixture{svc: svc, catalog: cat, orders: orders, index: index, db: db, cfg: cfg}
}

func seedDigitalProduct(t *testing.T, f *fixture, title string) *catalog.Product {
	t.Helper()
	ctx := context.Background()

	file, err := f.catalog.CreateFileAsset(ctx, &catalog.FileAsset{
		ObjectKey: "assets/" + title + ".zip",
		Filename:  title + ".zip",
	})
	require.NoError(t, err)

	product, err := f.catalog.CreateProduct(ctx, &catalog.Product{
		Title:     title,
		Price:     2500,
		IsDigital: true,
		FileID:    &file.ID,
	})
	require.NoError(t, err)
	return product
}

func completedOrder(t *testing.T, f *fixture, customerID string, items ...order.CheckoutItem) *order.Order {
	t.Helper()
	ctx := context.Background()

	o, err := f.orders.Checkout(ctx, order.CheckoutRequest{
		CustomerID:    customerID,
		CustomerEmail: "buyer@example.com",
		Items:         items,
	})
	require.NoError(t, err)

	completed, err := f.orders.CompleteOrder(ctx, o.ID)
	require.NoError(t, err)
	return completed
}

func TestProvisionOrderIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	product := seedDigitalProduct(t, f, "course")
	o := completedOrder(t, f, "cust-1", order.CheckoutItem{ProductID: product.ID})

	require.NoError(t, f.svc.ProvisionOrder(ctx, o.ID))
	require.NoError(t, f.svc.ProvisionOrder(ctx, o.ID))

	var rows int64
	require.NoError(t, f.db.Model(&Entitlement{}).Count(&rows).Error)
	require.Equal(t, int64(1), rows)

	e, err := f.svc.FindByKey(ctx, o.ID, product.ID, "")
	require.NoError(t, err)
	require.Equal(t, "cust-1", e.OwnerRef)
	require.Equal(t, 3, e.MaxDownloads)
	require.Equal(t, 0, e.DownloadCount)
}

func TestProvisionOrderSkipsNonDigitalItems(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	digital := seedDigitalProduct(t, f, "ebook")
	physical, err := f.catalog.CreateProduct(ctx, &catalog.Product{Title: "mug", Price: 900})
	require.NoError(t, err)

	o := completedOrder(t, f, "cust-1",
		order.CheckoutItem{ProductID: digital.ID},
		order.CheckoutItem{ProductID: physical.ID},
	)

	require.NoError(t, f.svc.ProvisionOrder(ctx, o.ID))

	var rows int64
	require.NoError(t, f.db.Model(&Entitlement{}).Count(&rows).Error)
	require.Equal(t, int64(1), rows)
}

func TestProvisionOrderItemIsolation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	good := seedDigitalProduct(t, f, "good")
	broken := seedDigitalProduct(t, f, "broken")

	o := completedOrder(t, f, "cust-1",
		order.CheckoutItem{ProductID: good.ID},
		order.CheckoutItem{ProductID: broken.ID},
	)

	// the product disappears between purchase and provisioning
	require.NoError(t, f.db.Delete(&catalog.Product{}, "id = ?", broken.ID).Error)

	err := f.svc.ProvisionOrder(ctx, o.ID)
	require.Error(t, err)

	// the healthy item was still provisioned
	e, ferr := f.svc.FindByKey(ctx, o.ID, good.ID, "")
	require.NoError(t, ferr)
	require.NotNil(t, e)
}

func TestProvisionOrderRequiresCompletedOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	product := seedDigitalProduct(t, f, "pending")
	o, err := f.orders.Checkout(ctx, order.CheckoutRequest{
		CustomerEmail: "buyer@example.com",
		Items:         []order.CheckoutItem{{ProductID: product.ID}},
	})
	require.NoError(t, err)

	require.Error(t, f.svc.ProvisionOrder(ctx, o.ID))
}

func TestProvisionUsesProductLimits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	file, err := f.catalog.CreateFileAsset(ctx, &catalog.FileAsset{ObjectKey: "a/b.zip", Filename: "b.zip"})
	require.NoError(t, err)
	product, err := f.catalog.CreateProduct(ctx, &catalog.Product{
		Title:              "Limited",
		IsDigital:          true,
		FileID:             &file.ID,
		DownloadLimit:      10,
		DownloadExpiryDays: 7,
	})
	require.NoError(t, err)

	o := completedOrder(t, f, "cust-1", order.CheckoutItem{ProductID: product.ID})
	require.NoError(t, f.svc.ProvisionOrder(ctx, o.ID))

	e, err := f.svc.FindByKey(ctx, o.ID, product.ID, "")
	require.NoError(t, err)
	require.Equal(t, 10, e.MaxDownloads)
	require.WithinDuration(t, time.Now().AddDate(0, 0, 7), e.ExpiresAt, time.Minute)
}

func TestConsumeEnforcesLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	product := seedDigitalProduct(t, f, "quota")
	o := completedOrder(t, f, "cust-1", order.CheckoutItem{ProductID: product.ID})
	require.NoError(t, f.svc.ProvisionOrder(ctx, o.ID))

	e, err := f.svc.FindByKey(ctx, o.ID, product.ID, "")
	require.NoError(t, err)

	for i := 1; i <= e.MaxDownloads; i++ {
		updated, err := f.svc.Consume(ctx, e.ID, ConsumeMeta{RemoteAddr: "10.0.0.1"})
		require.NoError(t, err)
		require.Equal(t, i, updated.DownloadCount)
	}

	_, err = f.svc.Consume(ctx, e.ID, ConsumeMeta{})
	require.Error(t, err)

	var be errutil.BaseError
	require.ErrorAs(t, err, &be)
	require.Equal(t, errutil.StatusForbidden, be.Code)
	require.Len(t, be.Details, 2)
	require.Equal(t, "downloaded", be.Details[0].Field)
	require.Equal(t, "maximum", be.Details[1].Field)

	logs, err := f.svc.History(ctx, e.ID)
	require.NoError(t, err)
	require.Len(t, logs, e.MaxDownloads)
}

func TestConsumeRejectsExpiredEntitlement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	e := &Entitlement{
		OwnerRef:     "cust-1",
		OrderRef:     "order-1",
		ProductRef:   "product-1",
		FileRef:      "file-1",
		MaxDownloads: 3,
		ExpiresAt:    time.Now().Add(-time.Hour),
	}
	created, err := f.svc.Provision(ctx, e)
	require.NoError(t, err)
	require.True(t, created)

	_, err = f.svc.Consume(ctx, e.ID, ConsumeMeta{})
	require.Error(t, err)

	var be errutil.BaseError
	require.ErrorAs(t, err, &be)
	require.Equal(t, errutil.StatusForbidden, be.Code)
	require.Equal(t, "expired_at", be.Details[0].Field)

	// expiry never spends quota
	fresh, err := f.svc.Get(ctx, e.ID)
	require.NoError(t, err)
	require.Equal(t, 0, fresh.DownloadCount)
}

func TestIndexFallsBackToLedger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	product := seedDigitalProduct(t, f, "indexed")
	o := completedOrder(t, f, "cust-9", order.CheckoutItem{ProductID: product.ID})
	require.NoError(t, f.svc.ProvisionOrder(ctx, o.ID))

	// redis is unreachable in this fixture, the ledger answers
	owned, err := f.index.HasPurchased(ctx, "cust-9", product.ID, "")
	require.NoError(t, err)
	require.True(t, owned)

	owned, err = f.index.HasPurchased(ctx, "cust-9", "other-product", "")
	require.NoError(t, err)
	require.False(t, owned)

	owned, err = f.index.HasPurchased(ctx, "", product.ID, "")
	require.NoError(t, err)
	require.False(t, owned)
}

func TestVariantEntitlementsAreDistinct(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	file, err := f.catalog.CreateFileAsset(ctx, &catalog.FileAsset{ObjectKey: "v/full.zip", Filename: "full.zip"})
	require.NoError(t, err)
	product, err := f.catalog.CreateProduct(ctx, &catalog.Product{Title: "Tiered", IsDigital: true, FileID: &file.ID})
	require.NoError(t, err)
	variant, err := f.catalog.CreateVariant(ctx, &catalog.Variant{ProductID: product.ID, SKU: "PRO"})
	require.NoError(t, err)

	o := completedOrder(t, f, "cust-1", order.CheckoutItem{ProductID: product.ID, VariantID: variant.ID})
	require.NoError(t, f.svc.ProvisionOrder(ctx, o.ID))

	e, err := f.svc.FindByKey(ctx, o.ID, product.ID, variant.ID)
	require.NoError(t, err)
	require.Equal(t, variant.ID, e.VariantRef)

	_, err = f.svc.FindByKey(ctx, o.ID, product.ID, "")
	require.Error(t, err)

	var be errutil.BaseError
	require.ErrorAs(t, err, &be)
	require.Equal(t, errutil.StatusNotFound, be.Code)
}

func TestTaskHandlerSkipsRetryForMissingOrder(t *testing.T) {
	f := newFixture(t)
	h := NewTaskHandler(f.svc)

	payload, err := json.Marshal(taskq.ProvisionEntitlementsPayload{OrderID: "missing-order"})
	require.NoError(t, err)

	task := asynq.NewTask(taskq.ProvisionEntitlementsTask, payload)
	err = h.HandleProvisionEntitlements(context.Background(), task)
	require.Error(t, err)
	require.True(t, errors.Is(err, asynq.SkipRetry))
}
