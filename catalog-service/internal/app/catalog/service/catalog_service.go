package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"storefront/catalog-service/internal/app/catalog/asset"
	"storefront/catalog-service/internal/app/catalog/entity"
	"storefront/catalog-service/internal/app/catalog/infrastructure"
	"storefront/catalog-service/internal/app/catalog/query"
	"storefront/catalog-service/internal/app/catalog/rating"
	"storefront/catalog-service/internal/app/catalog/repository"
	"storefront/pkg/logger"
	"storefront/pkg/metrics"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Fields - поля каталога, доступные для фильтрации
func Fields() []query.Field {
	return []query.Field{
		{Param: "category", Column: "category", Kind: query.KindString, Fold: true},
		{Param: "brand", Column: "brand", Kind: query.KindString},
		{Param: "price", Column: "price", Kind: query.KindFloat},
		{Param: "stock", Column: "stock", Kind: query.KindInt},
		{Param: "ratings", Column: "ratings", Kind: query.KindFloat},
		{Param: "numOfReviews", Column: "num_of_reviews", Kind: query.KindInt},
	}
}

type Options struct {
	PageSize    int
	MaxPageSize int
	CountTTL    time.Duration // TTL кеша общего числа товаров
}

// CatalogService обрабатывает бизнес-логику каталога товаров.
// Координирует репозиторий MongoDB, синхронизацию изображений, агрегацию рейтинга,
// Redis кеш и Kafka producer
type CatalogService struct {
	productRepo repository.ProductRepository
	assets      *asset.Synchronizer
	ratings     *rating.Aggregator
	cache       infrastructure.CountCache       // может быть nil
	publisher   infrastructure.MessagePublisher // может быть nil
	builder     *query.Builder
	pageSize    int
	countTTL    time.Duration
	log         zerolog.Logger
}

// NewCatalogService создает новый сервис каталога с внедрением зависимостей
func NewCatalogService(
	productRepo repository.ProductRepository,
	assets *asset.Synchronizer,
	ratings *rating.Aggregator,
	cache infrastructure.CountCache,
	publisher infrastructure.MessagePublisher,
	opts Options,
) *CatalogService {
	if opts.PageSize < 1 {
		opts.PageSize = query.DefaultPageSize
	}
	if opts.MaxPageSize < opts.PageSize {
		opts.MaxPageSize = query.DefaultMaxPageSize
	}
	if opts.CountTTL <= 0 {
		opts.CountTTL = time.Minute
	}

	return &CatalogService{
		productRepo: productRepo,
		assets:      assets,
		ratings:     ratings,
		cache:       cache,
		publisher:   publisher,
		builder: query.NewBuilder(Fields(),
			query.WithMaxPageSize(opts.MaxPageSize),
			query.WithSortable("name", "name"),
			query.WithSortable("createdAt", "created_at"),
		),
		pageSize: opts.PageSize,
		countTTL: opts.CountTTL,
		log:      logger.Component("catalog-service"),
	}
}

// === PRODUCTS ===

// ListProducts возвращает страницу отфильтрованного каталога и два счетчика:
// размер всего отфильтрованного набора и размер всего каталога
func (s *CatalogService) ListProducts(ctx context.Context, params map[string]string) (*entity.ListResult, error) {
	spec, err := s.builder.Build(params, s.pageSize)
	if err != nil {
		return nil, err
	}

	var (
		products []entity.Product
		filtered int64
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		products, err = s.productRepo.Find(gctx, spec)
		return err
	})
	g.Go(func() error {
		var err error
		filtered, err = s.productRepo.Count(gctx, spec)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	// Find и Count читают разные снимки коллекции
	filtered = max(filtered, int64(len(products)))

	var total int64
	if spec.Filtered() {
		total, err = s.totalCount(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to count products: %w", err)
		}
	} else {
		total = filtered
		s.cacheTotal(ctx, total)
	}

	if total < filtered {
		// Кеш отстал от коллекции
		total = filtered
		s.invalidateTotal(ctx)
	}

	metrics.ProductsListed.Inc()

	return &entity.ListResult{
		Products:              products,
		FilteredProductNumber: filtered,
		TotalProductCount:     total,
	}, nil
}

func (s *CatalogService) GetProduct(ctx context.Context, id string) (*entity.Product, error) {
	product, err := s.productRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return product, nil
}

// AdminListProducts возвращает все товары без фильтров и пагинации
func (s *CatalogService) AdminListProducts(ctx context.Context) ([]entity.Product, error) {
	products, err := s.productRepo.Find(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	return products, nil
}

// CreateProduct загружает изображения и только после этого сохраняет товар.
// Если сохранить товар не удалось, загруженные изображения удаляются
func (s *CatalogService) CreateProduct(ctx context.Context, actor Actor, req *entity.CreateProductRequest, images []asset.Image) (*entity.Product, error) {
	refs, err := s.assets.CreateAssets(ctx, images)
	if err != nil {
		return nil, fmt.Errorf("failed to upload product images: %w", err)
	}

	product := &entity.Product{
		Name:        strings.TrimSpace(req.Name),
		Price:       req.Price,
		Description: req.Description,
		Category:    normalizeCategory(req.Category),
		Brand:       strings.TrimSpace(req.Brand),
		Stock:       req.Stock,
		Photos:      refs,
		Reviews:     []entity.Review{},
		CreatedBy:   actor.UserID,
	}

	if err := s.productRepo.Create(ctx, product); err != nil {
		// Документ не записан, изображения никому не принадлежат
		if derr := s.assets.DestroyAssets(context.WithoutCancel(ctx), refs); derr != nil {
			s.log.Error().Err(derr).Msg("Failed to roll back images of unsaved product")
		}
		return nil, fmt.Errorf("failed to create product: %w", err)
	}

	s.invalidateTotal(ctx)
	s.publish(ctx, entity.EventProductCreated, product, actor.UserID)

	s.log.Info().
		Str("product_id", product.ID.Hex()).
		Int("photos", len(refs)).
		Str("created_by", actor.UserID).
		Msg("Product created")

	return product, nil
}

// UpdateProduct применяет частичное обновление. Если переданы изображения,
// весь набор photos заменяется: новый набор загружается, документ обновляется,
// затем удаляется старый набор
func (s *CatalogService) UpdateProduct(ctx context.Context, actor Actor, id string, req *entity.UpdateProductRequest, images []asset.Image) (*entity.Product, error) {
	update := toProductUpdate(req)

	var (
		product *entity.Product
		err     error
	)

	if len(images) == 0 {
		product, err = s.productRepo.UpdateByID(ctx, id, update)
		if err != nil {
			return nil, fmt.Errorf("failed to update product: %w", err)
		}
	} else {
		current, err := s.productRepo.FindByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to get product: %w", err)
		}

		_, err = s.assets.ReplaceAssets(ctx, current.Photos, images, func(refs []entity.AssetRef) error {
			update.Photos = refs
			updated, err := s.productRepo.UpdateByID(ctx, id, update)
			if err != nil {
				return err
			}
			product = updated
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to replace product images: %w", err)
		}
	}

	s.publish(ctx, entity.EventProductUpdated, product, actor.UserID)
	return product, nil
}

// DeleteProduct удаляет изображения товара, затем сам документ.
// Изображения, которые не удалось удалить и которые поставлены в очередь, не мешают удалению
// и возвращаются вызывающему
func (s *CatalogService) DeleteProduct(ctx context.Context, actor Actor, id string) ([]string, error) {
	product, err := s.productRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}

	var pending []string
	if err := s.assets.DestroyAssets(ctx, product.Photos); err != nil {
		var destroyErr *asset.DestroyError
		if !errors.As(err, &destroyErr) {
			return nil, fmt.Errorf("failed to destroy product images: %w", err)
		}
		if !destroyErr.Queued {
			// Без записи в очереди изображения были бы потеряны. Товар остается
			// с уцелевшими изображениями, повторное удаление затронет только их
			s.keepPhotos(ctx, product, destroyErr.AssetIDs())
			return nil, fmt.Errorf("failed to destroy product images: %w", err)
		}
		pending = destroyErr.AssetIDs()
		s.log.Warn().
			Str("product_id", id).
			Strs("asset_ids", pending).
			Msg("Product images queued for retry")
	}

	if err := s.productRepo.DeleteByID(ctx, id); err != nil {
		return nil, fmt.Errorf("failed to delete product: %w", err)
	}

	s.invalidateTotal(ctx)
	s.publish(ctx, entity.EventProductDeleted, product, actor.UserID)

	return pending, nil
}

// keepPhotos оставляет в документе только изображения с указанными идентификаторами
func (s *CatalogService) keepPhotos(ctx context.Context, product *entity.Product, assetIDs []string) {
	keep := make(map[string]bool, len(assetIDs))
	for _, id := range assetIDs {
		keep[id] = true
	}

	photos := make([]entity.AssetRef, 0, len(assetIDs))
	for _, ref := range product.Photos {
		if keep[ref.AssetID] {
			photos = append(photos, ref)
		}
	}

	id := product.ID.Hex()
	if _, err := s.productRepo.UpdateByID(context.WithoutCancel(ctx), id, &entity.ProductUpdate{Photos: photos}); err != nil {
		s.log.Error().Err(err).
			Str("product_id", id).
			Strs("asset_ids", assetIDs).
			Msg("Failed to drop destroyed images from product")
	}
}

// === REVIEWS ===

func (s *CatalogService) AddOrUpdateReview(ctx context.Context, actor Actor, req *entity.ReviewRequest) (*rating.Summary, error) {
	summary, err := s.ratings.AddOrUpdateReview(ctx, req.ProductID, entity.Review{
		UserID:  actor.UserID,
		Name:    actor.Name,
		Rating:  req.Rating,
		Comment: strings.TrimSpace(req.Comment),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save review: %w", err)
	}

	s.publishSummary(ctx, entity.EventReviewUpserted, req.ProductID, summary, actor.UserID)
	return summary, nil
}

func (s *CatalogService) RemoveReview(ctx context.Context, actor Actor, productID string) (*rating.Summary, error) {
	summary, err := s.ratings.RemoveReview(ctx, productID, actor.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to delete review: %w", err)
	}

	s.publishSummary(ctx, entity.EventReviewDeleted, productID, summary, actor.UserID)
	return summary, nil
}

func (s *CatalogService) GetReviews(ctx context.Context, productID string) ([]entity.Review, error) {
	reviews, err := s.ratings.GetReviews(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to get reviews: %w", err)
	}
	return reviews, nil
}

// === HELPERS ===

// totalCount берет общее число товаров из кеша, при промахе считает по коллекции.
// Проблемы с кешем не критичны
func (s *CatalogService) totalCount(ctx context.Context) (int64, error) {
	if s.cache != nil {
		count, ok, err := s.cache.GetTotalCount(ctx)
		if err != nil {
			s.log.Warn().Err(err).Msg("Failed to read total count from cache")
		} else if ok {
			return count, nil
		}
	}

	count, err := s.productRepo.Count(ctx, nil)
	if err != nil {
		return 0, err
	}
	s.cacheTotal(ctx, count)
	return count, nil
}

func (s *CatalogService) cacheTotal(ctx context.Context, count int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetTotalCount(ctx, count, s.countTTL); err != nil {
		s.log.Warn().Err(err).Msg("Failed to cache total count")
	}
}

func (s *CatalogService) invalidateTotal(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateTotalCount(context.WithoutCancel(ctx)); err != nil {
		s.log.Warn().Err(err).Msg("Failed to invalidate total count cache")
	}
}

// publish отправляет событие о товаре. Ошибка отправки не отменяет уже выполненную операцию
func (s *CatalogService) publish(ctx context.Context, eventType string, p *entity.Product, userID string) {
	s.send(ctx, entity.ProductEvent{
		EventType:    eventType,
		ProductID:    p.ID.Hex(),
		Name:         p.Name,
		Price:        p.Price,
		Category:     p.Category,
		Ratings:      p.Ratings,
		NumOfReviews: p.NumOfReviews,
		UserID:       userID,
		Timestamp:    time.Now().UTC(),
	})
}

func (s *CatalogService) publishSummary(ctx context.Context, eventType, productID string, summary *rating.Summary, userID string) {
	s.send(ctx, entity.ProductEvent{
		EventType:    eventType,
		ProductID:    productID,
		Ratings:      summary.Ratings,
		NumOfReviews: summary.NumOfReviews,
		UserID:       userID,
		Timestamp:    time.Now().UTC(),
	})
}

func (s *CatalogService) send(ctx context.Context, event entity.ProductEvent) {
	if s.publisher == nil {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		s.log.Error().Err(err).Str("event_type", event.EventType).Msg("Failed to marshal product event")
		return
	}

	if err := s.publisher.PublishMessage(context.WithoutCancel(ctx), event.ProductID, payload); err != nil {
		s.log.Warn().Err(err).
			Str("event_type", event.EventType).
			Str("product_id", event.ProductID).
			Msg("Failed to publish product event")
	}
}

func normalizeCategory(category string) string {
	return strings.ToLower(strings.TrimSpace(category))
}

func toProductUpdate(req *entity.UpdateProductRequest) *entity.ProductUpdate {
	update := &entity.ProductUpdate{}
	if req == nil {
		return update
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		update.Name = &name
	}
	update.Price = req.Price
	update.Description = req.Description
	if req.Category != nil {
		category := normalizeCategory(*req.Category)
		update.Category = &category
	}
	if req.Brand != nil {
		brand := strings.TrimSpace(*req.Brand)
		update.Brand = &brand
	}
	update.Stock = req.Stock
	return update
}

var _ CatalogServiceInterface = (*CatalogService)(nil)
