package entitlement

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Index is the redis set behind the "already purchased" checks. One
// set per customer, members are "productID" plus "productID:variantID"
// for variant purchases, so both product-level and variant-level
// questions are a single SISMEMBER instead of an order-history scan.
// When redis is unavailable it falls back to the ledger table.
type Index struct {
	rdb *redis.Client
	db  *gorm.DB
}

func NewIndex(rdb *redis.Client, db *gorm.DB) *Index {
	return &Index{rdb: rdb, db: db}
}

func indexKey(customerID string) string {
	return "purchase:" + customerID
}

func member(productID, variantID string) string {
	if variantID == "" {
		return productID
	}
	return productID + ":" + variantID
}

// Add records a provisioned purchase for the customer.
func (i *Index) Add(ctx context.Context, customerID, productID, variantID string) error {
	members := []interface{}{productID}
	if variantID != "" {
		members = append(members, member(productID, variantID))
	}
	return i.rdb.SAdd(ctx, indexKey(customerID), members...).Err()
}

// HasPurchased answers in constant time whether the customer owns the
// product (variantID empty) or the exact variant.
func (i *Index) HasPurchased(ctx context.Context, customerID, productID, variantID string) (bool, error) {
	if customerID == "" {
		return false, nil
	}

	owned, err := i.rdb.SIsMember(ctx, indexKey(customerID), member(productID, variantID)).Result()
	if err == nil {
		return owned, nil
	}

	zap.L().Warn("purchase index unavailable, falling back to ledger", zap.Error(err))
	return i.hasEntitlement(ctx, customerID, productID, variantID)
}

func (i *Index) hasEntitlement(ctx context.Context, customerID, productID, variantID string) (bool, error) {
	tx := i.db.WithContext(ctx).Model(&Entitlement{}).
		Where("owner_ref = ? AND product_ref = ?", customerID, productID)
	if variantID != "" {
		tx = tx.Where("variant_ref = ?", variantID)
	}

	var n int64
	if err := tx.Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}
