package repository

import (
	"context"

	"storefront/catalog-service/internal/app/catalog/entity"
	"storefront/catalog-service/internal/app/catalog/query"
	"storefront/catalog-service/internal/app/catalog/rating"
)

const serviceName = "catalog-service"

// ProductRepository определяет методы для работы с товарами в MongoDB.
// GetReviews и ReplaceReviews реализуют rating.ReviewStore
type ProductRepository interface {
	Find(ctx context.Context, spec *query.Spec) ([]entity.Product, error)
	// Count считает документы под фильтром spec; nil - вся коллекция
	Count(ctx context.Context, spec *query.Spec) (int64, error)
	FindByID(ctx context.Context, id string) (*entity.Product, error)
	Create(ctx context.Context, product *entity.Product) error
	UpdateByID(ctx context.Context, id string, update *entity.ProductUpdate) (*entity.Product, error)
	DeleteByID(ctx context.Context, id string) error

	GetReviews(ctx context.Context, id string) (*rating.Snapshot, error)
	ReplaceReviews(ctx context.Context, id string, expectedVersion int64, summary rating.Summary) error
}
