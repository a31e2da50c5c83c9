package repository

import (
	"context"
	"errors"
	"time"

	"storefront/catalog-service/internal/app/catalog/entity"
	"storefront/catalog-service/internal/app/catalog/query"
	"storefront/catalog-service/internal/app/catalog/rating"
	"storefront/pkg/apperror"
	"storefront/pkg/logger"
	"storefront/pkg/metrics"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const productsCollection = "products"

type productRepository struct {
	collection *mongo.Collection
	name       string
}

// NewProductRepository создает репозиторий товаров поверх коллекции collection.
// Индексы для фильтров каталога создаются при старте
func NewProductRepository(db *mongo.Database, collection string) ProductRepository {
	if collection == "" {
		collection = productsCollection
	}
	coll := db.Collection(collection)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "category", Value: 1}, {Key: "price", Value: 1}},
			Options: options.Index().SetName("category_price_idx"),
		},
		{
			Keys:    bson.D{{Key: "created_at", Value: -1}},
			Options: options.Index().SetName("created_at_idx"),
		},
		{
			Keys:    bson.D{{Key: "brand", Value: 1}},
			Options: options.Index().SetName("brand_idx"),
		},
	}

	if _, err := coll.Indexes().CreateMany(ctx, indexes); err != nil {
		// Индексы могут уже существовать, работа продолжается
		logger.Warn().Err(err).Str("collection", collection).Msg("Failed to create product indexes")
	}

	return &productRepository{collection: coll, name: collection}
}

// Find возвращает страницу товаров под фильтром spec.
// nil spec - все товары, новые первыми
func (r *productRepository) Find(ctx context.Context, spec *query.Spec) ([]entity.Product, error) {
	timer := metrics.NewDbTimer(serviceName, metrics.DbOpFind, r.name)
	defer timer.ObserveDuration()

	opts := options.Find().SetSort(BuildSort(spec))
	if spec != nil {
		if spec.Skip > 0 {
			opts.SetSkip(spec.Skip)
		}
		if spec.Limit > 0 {
			opts.SetLimit(spec.Limit)
		}
	}

	cursor, err := r.collection.Find(ctx, BuildFilter(spec), opts)
	if err != nil {
		metrics.RecordDbError(serviceName, metrics.DbOpFind)
		return nil, apperror.Upstream("failed to find products", err)
	}
	defer cursor.Close(ctx)

	products := make([]entity.Product, 0)
	if err := cursor.All(ctx, &products); err != nil {
		metrics.RecordDbError(serviceName, metrics.DbOpFind)
		return nil, apperror.Upstream("failed to decode products", err)
	}

	return products, nil
}

func (r *productRepository) Count(ctx context.Context, spec *query.Spec) (int64, error) {
	timer := metrics.NewDbTimer(serviceName, metrics.DbOpCount, r.name)
	defer timer.ObserveDuration()

	count, err := r.collection.CountDocuments(ctx, BuildFilter(spec))
	if err != nil {
		metrics.RecordDbError(serviceName, metrics.DbOpCount)
		return 0, apperror.Upstream("failed to count products", err)
	}
	return count, nil
}

// FindByID получает товар по ID
func (r *productRepository) FindByID(ctx context.Context, id string) (*entity.Product, error) {
	objectID, err := parseID(id)
	if err != nil {
		return nil, err
	}

	timer := metrics.NewDbTimer(serviceName, metrics.DbOpFind, r.name)
	defer timer.ObserveDuration()

	var product entity.Product
	err = r.collection.FindOne(ctx, bson.M{"_id": objectID}).Decode(&product)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperror.NotFound("product", id)
		}
		metrics.RecordDbError(serviceName, metrics.DbOpFind)
		return nil, apperror.Upstream("failed to get product", err)
	}

	normalize(&product)
	return &product, nil
}

// Create сохраняет новый товар с версией 1
func (r *productRepository) Create(ctx context.Context, product *entity.Product) error {
	timer := metrics.NewDbTimer(serviceName, metrics.DbOpInsert, r.name)
	defer timer.ObserveDuration()

	now := time.Now().UTC()
	product.ID = primitive.NewObjectID()
	product.CreatedAt = now
	product.UpdatedAt = now
	product.Version = 1
	normalize(product)

	if _, err := r.collection.InsertOne(ctx, product); err != nil {
		metrics.RecordDbError(serviceName, metrics.DbOpInsert)
		return apperror.Upstream("failed to create product", err)
	}
	return nil
}

// UpdateByID применяет частичное обновление и возвращает документ после записи.
// Каждая запись увеличивает версию, поэтому параллельная запись отзывов будет повторена
func (r *productRepository) UpdateByID(ctx context.Context, id string, update *entity.ProductUpdate) (*entity.Product, error) {
	if update == nil || update.Empty() {
		return r.FindByID(ctx, id)
	}

	objectID, err := parseID(id)
	if err != nil {
		return nil, err
	}

	timer := metrics.NewDbTimer(serviceName, metrics.DbOpUpdate, r.name)
	defer timer.ObserveDuration()

	set := bson.M{"updated_at": time.Now().UTC()}
	if update.Name != nil {
		set["name"] = *update.Name
	}
	if update.Price != nil {
		set["price"] = *update.Price
	}
	if update.Description != nil {
		set["description"] = *update.Description
	}
	if update.Category != nil {
		set["category"] = *update.Category
	}
	if update.Brand != nil {
		set["brand"] = *update.Brand
	}
	if update.Stock != nil {
		set["stock"] = *update.Stock
	}
	if update.Photos != nil {
		set["photos"] = update.Photos
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var product entity.Product
	err = r.collection.FindOneAndUpdate(ctx,
		bson.M{"_id": objectID},
		bson.M{"$set": set, "$inc": bson.M{"version": 1}},
		opts,
	).Decode(&product)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperror.NotFound("product", id)
		}
		metrics.RecordDbError(serviceName, metrics.DbOpUpdate)
		return nil, apperror.Upstream("failed to update product", err)
	}

	normalize(&product)
	return &product, nil
}

func (r *productRepository) DeleteByID(ctx context.Context, id string) error {
	objectID, err := parseID(id)
	if err != nil {
		return err
	}

	timer := metrics.NewDbTimer(serviceName, metrics.DbOpDelete, r.name)
	defer timer.ObserveDuration()

	result, err := r.collection.DeleteOne(ctx, bson.M{"_id": objectID})
	if err != nil {
		metrics.RecordDbError(serviceName, metrics.DbOpDelete)
		return apperror.Upstream("failed to delete product", err)
	}
	if result.DeletedCount == 0 {
		return apperror.NotFound("product", id)
	}
	return nil
}

// GetReviews читает отзывы вместе с версией документа
func (r *productRepository) GetReviews(ctx context.Context, id string) (*rating.Snapshot, error) {
	objectID, err := parseID(id)
	if err != nil {
		return nil, err
	}

	timer := metrics.NewDbTimer(serviceName, metrics.DbOpFind, r.name)
	defer timer.ObserveDuration()

	var doc struct {
		Reviews []entity.Review `bson:"reviews"`
		Version int64           `bson:"version"`
	}
	opts := options.FindOne().SetProjection(bson.M{"reviews": 1, "version": 1})
	err = r.collection.FindOne(ctx, bson.M{"_id": objectID}, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperror.NotFound("product", id)
		}
		metrics.RecordDbError(serviceName, metrics.DbOpFind)
		return nil, apperror.Upstream("failed to get reviews", err)
	}

	if doc.Reviews == nil {
		doc.Reviews = []entity.Review{}
	}
	return &rating.Snapshot{Reviews: doc.Reviews, Version: doc.Version}, nil
}

// ReplaceReviews записывает отзывы и агрегат одной операцией, только если версия не изменилась
func (r *productRepository) ReplaceReviews(ctx context.Context, id string, expectedVersion int64, summary rating.Summary) error {
	objectID, err := parseID(id)
	if err != nil {
		return err
	}

	timer := metrics.NewDbTimer(serviceName, metrics.DbOpUpdate, r.name)
	defer timer.ObserveDuration()

	filter := bson.M{"_id": objectID, "version": expectedVersion}
	if expectedVersion == 0 {
		// Документы, созданные до появления версии
		filter = bson.M{"_id": objectID, "$or": bson.A{
			bson.M{"version": 0},
			bson.M{"version": bson.M{"$exists": false}},
		}}
	}

	update := bson.M{
		"$set": bson.M{
			"reviews":        summary.Reviews,
			"ratings":        summary.Ratings,
			"num_of_reviews": summary.NumOfReviews,
			"updated_at":     time.Now().UTC(),
		},
		"$inc": bson.M{"version": 1},
	}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		metrics.RecordDbError(serviceName, metrics.DbOpUpdate)
		return apperror.Upstream("failed to update reviews", err)
	}
	if result.MatchedCount > 0 {
		return nil
	}

	// Ничего не совпало: товар удален или версия ушла вперед
	exists, err := r.collection.CountDocuments(ctx, bson.M{"_id": objectID}, options.Count().SetLimit(1))
	if err != nil {
		metrics.RecordDbError(serviceName, metrics.DbOpCount)
		return apperror.Upstream("failed to check product", err)
	}
	if exists == 0 {
		return apperror.NotFound("product", id)
	}
	return apperror.Conflict("product version changed")
}

func parseID(id string) (primitive.ObjectID, error) {
	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, apperror.Validation("invalid product id %q", id)
	}
	return objectID, nil
}

// normalize заменяет nil срезы пустыми, чтобы в JSON уходили [] вместо null
func normalize(p *entity.Product) {
	if p.Reviews == nil {
		p.Reviews = []entity.Review{}
	}
	if p.Photos == nil {
		p.Photos = []entity.AssetRef{}
	}
}
