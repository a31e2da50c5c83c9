package service

import (
	"context"

	"storefront/catalog-service/internal/app/catalog/asset"
	"storefront/catalog-service/internal/app/catalog/entity"
	"storefront/catalog-service/internal/app/catalog/rating"
)

// Actor - пользователь, выполняющий операцию (из JWT)
type Actor struct {
	UserID string
	Name   string
}

type CatalogServiceInterface interface {
	ListProducts(ctx context.Context, params map[string]string) (*entity.ListResult, error)
	GetProduct(ctx context.Context, id string) (*entity.Product, error)
	AdminListProducts(ctx context.Context) ([]entity.Product, error)
	CreateProduct(ctx context.Context, actor Actor, req *entity.CreateProductRequest, images []asset.Image) (*entity.Product, error)
	UpdateProduct(ctx context.Context, actor Actor, id string, req *entity.UpdateProductRequest, images []asset.Image) (*entity.Product, error)
	// DeleteProduct возвращает изображения, поставленные в очередь на повторное удаление
	DeleteProduct(ctx context.Context, actor Actor, id string) ([]string, error)

	AddOrUpdateReview(ctx context.Context, actor Actor, req *entity.ReviewRequest) (*rating.Summary, error)
	RemoveReview(ctx context.Context, actor Actor, productID string) (*rating.Summary, error)
	GetReviews(ctx context.Context, productID string) ([]entity.Review, error)
}
