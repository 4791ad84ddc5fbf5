package catalog

import (
	"context"

	"digitalstore/pkg/db/option"
	"digitalstore/pkg/errutil"
	"digitalstore/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db   *gorm.DB
	node *snowflake.Node

	products repository.Repository[Product]
	variants repository.Repository[Variant]
	files    repository.Repository[FileAsset]
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		node:     p.Node,
		products: repository.ProvideStore[Product](p.DB),
		variants: repository.ProvideStore[Variant](p.DB),
		files:    repository.ProvideStore[FileAsset](p.DB),
	}
}

func (s *Service) GetProduct(ctx context.Context, productID string) (*Product, error) {
	product, err := s.products.FindOne(ctx, &Product{ID: productID})
	if err != nil {
		return nil, err
	}
	if product == nil {
		return nil, errutil.NotFound("product not found", nil)
	}
	return product, nil
}

func (s *Service) GetProductBySlug(ctx context.Context, productSlug string) (*Product, error) {
	product, err := s.products.FindOne(ctx, &Product{Slug: productSlug})
	if err != nil {
		return nil, err
	}
	if product == nil {
		return nil, errutil.NotFound("product not found", nil)
	}
	return product, nil
}

func (s *Service) ListProducts(ctx context.Context, opts ...option.QueryOption) ([]*Product, error) {
	span := trace.SpanFromContext(ctx)
	defer span.End()

	return s.products.Find(ctx, nil, opts...)
}

func (s *Service) GetVariant(ctx context.Context, variantID string) (*Variant, error) {
	variant, err := s.variants.FindOne(ctx, &Variant{ID: variantID})
	if err != nil {
		return nil, err
	}
	if variant == nil {
		return nil, errutil.NotFound("variant not found", nil)
	}
	return variant, nil
}

func (s *Service) ListVariants(ctx context.Context, productID string) ([]*Variant, error) {
	return s.variants.Find(ctx, &Variant{ProductID: productID})
}

// CreateProduct inserts a product with a slug derived from its title.
func (s *Service) CreateProduct(ctx context.Context, product *Product) (*Product, error) {
	if product.Title == "" {
		return nil, errutil.ValidationFailed("title is required", nil)
	}

	product.ID = s.node.Generate().String()
	if product.Slug == "" {
		product.Slug = slug.Make(product.Title)
	}

	existing, err := s.products.FindOne(ctx, &Product{Slug: product.Slug})
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, errutil.Conflict("product slug already exists", nil)
	}

	if err := s.products.Create(ctx, product); err != nil {
		zap.L().Error("failed to create product", zap.Error(err))
		return nil, err
	}

	return product, nil
}

func (s *Service) CreateVariant(ctx context.Context, variant *Variant) (*Variant, error) {
	if variant.ProductID == "" {
		return nil, errutil.ValidationFailed("product_id is required", nil)
	}

	if _, err := s.GetProduct(ctx, variant.ProductID); err != nil {
		return nil, err
	}

	variant.ID = s.node.Generate().String()
	if err := s.variants.Create(ctx, variant); err != nil {
		return nil, err
	}

	return variant, nil
}

func (s *Service) CreateFileAsset(ctx context.Context, file *FileAsset) (*FileAsset, error) {
	if file.ObjectKey == "" || file.Filename == "" {
		return nil, errutil.ValidationFailed("object_key and filename are required", nil)
	}

	file.ID = s.node.Generate().String()
	if err := s.files.Create(ctx, file); err != nil {
		return nil, err
	}

	return file, nil
}

func (s *Service) GetFileAsset(ctx context.Context, fileID string) (*FileAsset, error) {
	file, err := s.files.FindOne(ctx, &FileAsset{ID: fileID})
	if err != nil {
		return nil, err
	}
	if file == nil {
		return nil, errutil.NotFound("file not found", nil)
	}
	return file, nil
}

// ResolveFile returns the file a download of (productID, variantID) would
// deliver: the variant's file when the variant carries one, the product's
// file otherwise, nil when the product is not digital or nothing is bound.
func (s *Service) ResolveFile(ctx context.Context, productID, variantID string) (*FileAsset, error) {
	product, err := s.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}

	if !product.IsDigital {
		return nil, nil
	}

	fileID := product.FileID
	if variantID != "" {
		variant, err := s.variants.FindOne(ctx, &Variant{ID: variantID})
		if err != nil {
			return nil, err
		}
		if variant != nil && variant.FileID != nil {
			fileID = variant.FileID
		}
	}

	if fileID == nil {
		return nil, nil
	}

	return s.files.FindOne(ctx, &FileAsset{ID: *fileID})
}

// HasDigitalFile reports whether a purchase of (productID, variantID)
// grants anything downloadable. Pure data predicate, no presentation
// concerns.
func (s *Service) HasDigitalFile(ctx context.Context, productID, variantID string) (bool, error) {
	file, err := s.ResolveFile(ctx, productID, variantID)
	if err != nil {
		return false, err
	}
	return file != nil, nil
}
