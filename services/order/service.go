package order

import (
	"context"
	"errors"

	"digitalstore/pkg/errutil"
	"digitalstore/pkg/featureflags"
	"digitalstore/pkg/repository"
	"digitalstore/services/catalog"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// PurchaseChecker reports whether a customer already owns a digital
// item. Implemented by the entitlement purchase index.
type PurchaseChecker interface {
	HasPurchased(ctx context.Context, customerID, productID, variantID string) (bool, error)
}

type Service struct {
	db      *gorm.DB
	node    *snowflake.Node
	catalog *catalog.Service
	flags   featureflags.FeatureFlag
	owned   PurchaseChecker

	orders repository.Repository[Order]
	items  repository.Repository[OrderItem]
	events repository.Repository[PaymentEvent]
}

type ServiceParams struct {
	fx.In
	DB        *gorm.DB
	Node      *snowflake.Node
	Catalog   *catalog.Service
	Flags     featureflags.FeatureFlag
	Purchases PurchaseChecker
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:      p.DB,
		node:    p.Node,
		catalog: p.Catalog,
		flags:   p.Flags,
		owned:   p.Purchases,
		orders:  repository.ProvideStore[Order](p.DB),
		items:   repository.ProvideStore[OrderItem](p.DB),
		events:  repository.ProvideStore[PaymentEvent](p.DB),
	}
}

type CheckoutItem struct {
	ProductID string `json:"product_id" binding:"required"`
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity"`
}

type CheckoutRequest struct {
	CustomerID    string
	CustomerEmail string
	Items         []CheckoutItem
}

// Checkout prices the cart against the catalog and creates a pending
// order. When the duplicate purchase guard is on, digital items the
// customer already owns are rejected up front instead of producing a
// second entitlement that the provisioning unique index would swallow
// anyway.
func (s *Service) Checkout(ctx context.Context, req CheckoutRequest) (*Order, error) {
	if len(req.Items) == 0 {
		return nil, errutil.ValidationFailed("order must contain at least one item", nil)
	}
	if req.CustomerEmail == "" {
		return nil, errutil.ValidationFailed("customer email is required", nil)
	}

	guard := req.CustomerID != "" && s.flags.Enabled(ctx, featureflags.DuplicatePurchaseGuard)

	o := &Order{
		ID:            s.node.Generate().String(),
		CustomerID:    req.CustomerID,
		CustomerEmail: req.CustomerEmail,
		Status:        StatusPending,
	}

	for _, item := range req.Items {
		product, err := s.catalog.GetProduct(ctx, item.ProductID)
		if err != nil {
			return nil, err
		}

		price := product.Price
		currency := product.CurrencyCode
		if item.VariantID != "" {
			variant, err := s.catalog.GetVariant(ctx, item.VariantID)
			if err != nil {
				return nil, err
			}
			if variant.ProductID != product.ID {
				return nil, errutil.ValidationFailed("variant does not belong to product", nil)
			}
			if variant.Price > 0 {
				price = variant.Price
			}
		}

		if guard && product.IsDigital {
			owned, err := s.owned.HasPurchased(ctx, req.CustomerID, item.ProductID, item.VariantID)
			if err != nil {
				zap.L().Warn("purchase index lookup failed during checkout", zap.Error(err))
			} else if owned {
				return nil, errutil.Conflict("product already purchased", nil,
					errutil.WithDetails(errutil.Detail{Field: "product_id", Message: item.ProductID}),
				)
			}
		}

		qty := item.Quantity
		if qty <= 0 {
			qty = 1
		}
		if product.IsDigital {
			qty = 1
		}

		o.Items = append(o.Items, &OrderItem{
			ID:        s.node.Generate().String(),
			OrderID:   o.ID,
			ProductID: item.ProductID,
			VariantID: item.VariantID,
			Quantity:  qty,
			UnitPrice: price,
		})
		o.Amount += price * int64(qty)
		if o.CurrencyCode == "" {
			o.CurrencyCode = currency
		}
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.orders.WithTrx(tx).Create(ctx, o); err != nil {
			return err
		}
		return s.items.WithTrx(tx).BatchCreate(ctx, o.Items)
	})
	if err != nil {
		zap.L().Error("failed to create order", zap.Error(err))
		return nil, err
	}

	return o, nil
}

func (s *Service) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	var o Order
	err := s.db.WithContext(ctx).Preload("Items").First(&o, "id = ?", orderID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errutil.NotFound("order not found", nil)
		}
		return nil, err
	}
	return &o, nil
}

// GetOwnedOrder loads an order and enforces that it belongs to the
// given customer.
func (s *Service) GetOwnedOrder(ctx context.Context, orderID, customerID string) (*Order, error) {
	o, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.CustomerID != customerID {
		return nil, errutil.Forbidden("order belongs to a different customer", nil)
	}
	return o, nil
}

func (s *Service) ListByCustomer(ctx context.Context, customerID string) ([]*Order, error) {
	var orders []*Order
	err := s.db.WithContext(ctx).
		Preload("Items").
		Where("customer_id = ?", customerID).
		Order("created_at DESC").
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// ContainsItem reports whether an order carries the given line. An
// empty variantID matches only items bought without a variant, so the
// predicate is spelled out instead of using a struct query that would
// drop the zero value.
func (s *Service) ContainsItem(ctx context.Context, orderID, productID, variantID string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&OrderItem{}).
		Where("order_id = ? AND product_id = ? AND variant_id = ?", orderID, productID, variantID).
		Count(&n).Error
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// CompleteOrder transitions a pending order to completed. Completing an
// already completed order is a no-op so webhook replays stay harmless.
func (s *Service) CompleteOrder(ctx context.Context, orderID string) (*Order, error) {
	o, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	switch o.Status {
	case StatusCompleted:
		return o, nil
	case StatusCancelled:
		return nil, errutil.Conflict("order is cancelled", nil)
	}

	res := s.db.WithContext(ctx).Model(&Order{}).
		Where("id = ? AND status = ?", orderID, StatusPending).
		Update("status", StatusCompleted)
	if res.Error != nil {
		return nil, res.Error
	}

	o.Status = StatusCompleted
	return o, nil
}
