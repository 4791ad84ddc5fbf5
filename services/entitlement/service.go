package entitlement

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"digitalstore/pkg/config"
	"digitalstore/pkg/errutil"
	"digitalstore/pkg/repository"
	"digitalstore/services/catalog"
	"digitalstore/services/order"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Service struct {
	db      *gorm.DB
	node    *snowflake.Node
	cfg     *config.Config
	catalog *catalog.Service
	orders  *order.Service
	index   *Index

	entitlements repository.Repository[Entitlement]
	logs         repository.Repository[DownloadLog]
}

type ServiceParams struct {
	fx.In
	DB      *gorm.DB
	Node    *snowflake.Node
	Config  *config.Config
	Catalog *catalog.Service
	Orders  *order.Service
	Index   *Index
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:           p.DB,
		node:         p.Node,
		cfg:          p.Config,
		catalog:      p.Catalog,
		orders:       p.Orders,
		index:        p.Index,
		entitlements: repository.ProvideStore[Entitlement](p.DB),
		logs:         repository.ProvideStore[DownloadLog](p.DB),
	}
}

// Provision inserts one ledger row. The composite unique index over
// (order_ref, product_ref, variant_ref) absorbs concurrent and repeated
// provisioning: the first insert wins, later ones are no-ops.
func (s *Service) Provision(ctx context.Context, e *Entitlement) (bool, error) {
	if e.ID == "" {
		e.ID = s.node.Generate().String()
	}

	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(e)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ProvisionOrder grants entitlements for every digital line item of a
// completed order. Items are processed independently; a failing item
// never blocks the others and the aggregated error drives the task
// retry, where the unique index keeps the replay idempotent.
func (s *Service) ProvisionOrder(ctx context.Context, orderID string) error {
	o, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if o.Status != order.StatusCompleted {
		return fmt.Errorf("order %s is %s, not completed", orderID, o.Status)
	}

	owner := o.CustomerID
	if owner == "" {
		owner = o.CustomerEmail
	}

	var itemErrs []error
	for _, item := range o.Items {
		if err := s.provisionItem(ctx, o, owner, item); err != nil {
			zap.L().Error("failed to provision order item",
				zap.String("order_id", o.ID),
				zap.String("product_id", item.ProductID),
				zap.Error(err),
			)
			itemErrs = append(itemErrs, fmt.Errorf("item %s: %w", item.ProductID, err))
		}
	}

	return errors.Join(itemErrs...)
}

func (s *Service) provisionItem(ctx context.Context, o *order.Order, owner string, item *order.OrderItem) error {
	product, err := s.catalog.GetProduct(ctx, item.ProductID)
	if err != nil {
		return err
	}

	file, err := s.catalog.ResolveFile(ctx, item.ProductID, item.VariantID)
	if err != nil {
		return err
	}
	if file == nil {
		// physical goods and digital products without a bound file
		return nil
	}

	maxDownloads := product.DownloadLimit
	if maxDownloads <= 0 {
		maxDownloads = s.cfg.Download.DefaultMaxDownloads
	}
	expiryDays := product.DownloadExpiryDays
	if expiryDays <= 0 {
		expiryDays = s.cfg.Download.DefaultExpiryDays
	}

	created, err := s.Provision(ctx, &Entitlement{
		OwnerRef:     owner,
		OrderRef:     o.ID,
		ProductRef:   item.ProductID,
		VariantRef:   item.VariantID,
		FileRef:      file.ID,
		MaxDownloads: maxDownloads,
		ExpiresAt:    time.Now().AddDate(0, 0, expiryDays),
	})
	if err != nil {
		return err
	}

	if created {
		zap.L().Info("entitlement provisioned",
			zap.String("order_id", o.ID),
			zap.String("product_id", item.ProductID),
			zap.String("variant_id", item.VariantID),
		)
	}

	if o.CustomerID != "" {
		if err := s.index.Add(ctx, o.CustomerID, item.ProductID, item.VariantID); err != nil {
			zap.L().Warn("failed to update purchase index", zap.Error(err))
		}
	}

	return nil
}

// FindByKey resolves the ledger row for one purchase. variantRef is the
// empty string for purchases without a variant.
func (s *Service) FindByKey(ctx context.Context, orderRef, productRef, variantRef string) (*Entitlement, error) {
	var e Entitlement
	err := s.db.WithContext(ctx).
		Where("order_ref = ? AND product_ref = ? AND variant_ref = ?", orderRef, productRef, variantRef).
		First(&e).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errutil.NotFound("no entitlement for this purchase", nil)
		}
		return nil, err
	}
	return &e, nil
}

func (s *Service) Get(ctx context.Context, entitlementID string) (*Entitlement, error) {
	e, err := s.entitlements.FindOne(ctx, &Entitlement{ID: entitlementID})
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, errutil.NotFound("entitlement not found", nil)
	}
	return e, nil
}

func (s *Service) ListByOwner(ctx context.Context, ownerRef string) ([]*Entitlement, error) {
	var list []*Entitlement
	err := s.db.WithContext(ctx).
		Where("owner_ref = ?", ownerRef).
		Order("created_at DESC").
		Find(&list).Error
	if err != nil {
		return nil, err
	}
	return list, nil
}

type ConsumeMeta struct {
	RemoteAddr string
	UserAgent  string
}

// Consume spends one download unit. Quota is checked before expiry,
// and the guarded UPDATE makes the quota check and the increment a
// single statement, so concurrent consumers can never push the count
// past the maximum.
func (s *Service) Consume(ctx context.Context, entitlementID string, meta ConsumeMeta) (*Entitlement, error) {
	e, err := s.Get(ctx, entitlementID)
	if err != nil {
		return nil, err
	}

	limitReached := func(e *Entitlement) error {
		return errutil.Forbidden("download limit reached", nil,
			errutil.WithDetails(
				errutil.Detail{Field: "downloaded", Message: strconv.Itoa(e.DownloadCount)},
				errutil.Detail{Field: "maximum", Message: strconv.Itoa(e.MaxDownloads)},
			),
		)
	}

	if e.Remaining() == 0 {
		return nil, limitReached(e)
	}

	now := time.Now()
	if e.Expired(now) {
		return nil, errutil.Forbidden("download period has expired", nil,
			errutil.WithDetails(errutil.Detail{Field: "expired_at", Message: e.ExpiresAt.Format(time.RFC3339)}),
		)
	}

	res := s.db.WithContext(ctx).Model(&Entitlement{}).
		Where("id = ? AND download_count < max_downloads", entitlementID).
		Updates(map[string]any{
			"download_count":   gorm.Expr("download_count + 1"),
			"last_download_at": now,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		// lost the race to the final unit
		if latest, err := s.Get(ctx, entitlementID); err == nil {
			e = latest
		}
		return nil, limitReached(e)
	}

	if err := s.logs.Create(ctx, &DownloadLog{
		ID:            s.node.Generate().String(),
		EntitlementID: entitlementID,
		RemoteAddr:    meta.RemoteAddr,
		UserAgent:     meta.UserAgent,
		DownloadedAt:  now,
	}); err != nil {
		zap.L().Error("failed to append download log", zap.Error(err))
	}

	return s.Get(ctx, entitlementID)
}

// History returns the audit trail of an entitlement, newest first.
func (s *Service) History(ctx context.Context, entitlementID string) ([]*DownloadLog, error) {
	var logs []*DownloadLog
	err := s.db.WithContext(ctx).
		Where("entitlement_id = ?", entitlementID).
		Order("downloaded_at DESC").
		Find(&logs).Error
	if err != nil {
		return nil, err
	}
	return logs, nil
}
