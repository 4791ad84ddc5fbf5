package catalog

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"digitalstore/pkg/errutil"
	"digitalstore/pkg/repository"
	"digitalstore/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()

	db := testutil.NewTestDB(t, &Product{}, &Variant{}, &FileAsset{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := &Service{
		db:       db,
		node:     node,
		products: repository.ProvideStore[Product](db),
		variants: repository.ProvideStore[Variant](db),
		files:    repository.ProvideStore[FileAsset](db),
	}
	return svc, db
}

func TestCreateProductGeneratesSlug(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	product, err := svc.CreateProduct(ctx, &Product{Title: "Gesangskurs Vol. 1", Price: 4900, IsDigital: true})
	require.NoError(t, err)
	require.NotEmpty(t, product.ID)
	require.Equal(t, "gesangskurs-vol-1", product.Slug)

	found, err := svc.GetProductBySlug(ctx, "gesangskurs-vol-1")
	require.NoError(t, err)
	require.Equal(t, product.ID, found.ID)
}

func TestCreateProductDuplicateSlug(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateProduct(ctx, &Product{Title: "Same Title"})
	require.NoError(t, err)

	_, err = svc.CreateProduct(ctx, &Product{Title: "Same Title"})
	require.Error(t, err)

	var be errutil.BaseError
	require.ErrorAs(t, err, &be)
	require.Equal(t, errutil.StatusConflict, be.Code)
}

func TestGetProductNotFound(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.GetProduct(context.Background(), "missing")
	require.Error(t, err)

	var be errutil.BaseError
	require.ErrorAs(t, err, &be)
	require.Equal(t, errutil.StatusNotFound, be.Code)
}

func TestCreateVariantRequiresProduct(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateVariant(ctx, &Variant{ProductID: "missing", SKU: "SKU-1"})
	require.Error(t, err)

	product, err := svc.CreateProduct(ctx, &Product{Title: "With Variants"})
	require.NoError(t, err)

	variant, err := svc.CreateVariant(ctx, &Variant{ProductID: product.ID, SKU: "SKU-1", Title: "Standard"})
	require.NoError(t, err)
	require.NotEmpty(t, variant.ID)

	variants, err := svc.ListVariants(ctx, product.ID)
	require.NoError(t, err)
	require.Len(t, variants, 1)
}

func TestResolveFileVariantOverridesProduct(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	productFile, err := svc.CreateFileAsset(ctx, &FileAsset{ObjectKey: "course/full.zip", Filename: "full.zip"})
	require.NoError(t, err)
	variantFile, err := svc.CreateFileAsset(ctx, &FileAsset{ObjectKey: "course/lite.zip", Filename: "lite.zip"})
	require.NoError(t, err)

	product, err := svc.CreateProduct(ctx, &Product{Title: "Course", IsDigital: true, FileID: &productFile.ID})
	require.NoError(t, err)
	variant, err := svc.CreateVariant(ctx, &Variant{ProductID: product.ID, SKU: "LITE", FileID: &variantFile.ID})
	require.NoError(t, err)

	resolved, err := svc.ResolveFile(ctx, product.ID, "")
	require.NoError(t, err)
	require.Equal(t, productFile.ID, resolved.ID)

	resolved, err = svc.ResolveFile(ctx, product.ID, variant.ID)
	require.NoError(t, err)
	require.Equal(t, variantFile.ID, resolved.ID)
}

func TestResolveFileFallsBackToProductFile(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	productFile, err := svc.CreateFileAsset(ctx, &FileAsset{ObjectKey: "book/book.pdf", Filename: "book.pdf"})
	require.NoError(t, err)

	product, err := svc.CreateProduct(ctx, &Product{Title: "Book", IsDigital: true, FileID: &productFile.ID})
	require.NoError(t, err)
	variant, err := svc.CreateVariant(ctx, &Variant{ProductID: product.ID, SKU: "PLAIN"})
	require.NoError(t, err)

	resolved, err := svc.ResolveFile(ctx, product.ID, variant.ID)
	require.NoError(t, err)
	require.Equal(t, productFile.ID, resolved.ID)
}

func TestResolveFileNonDigitalProduct(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	product, err := svc.CreateProduct(ctx, &Product{Title: "T-Shirt", IsDigital: false})
	require.NoError(t, err)

	resolved, err := svc.ResolveFile(ctx, product.ID, "")
	require.NoError(t, err)
	require.Nil(t, resolved)

	ok, err := svc.HasDigitalFile(ctx, product.ID, "")
	require.NoError(t, err)
	require.False(t, ok)
}
