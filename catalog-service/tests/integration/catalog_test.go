//go:build integration

package integration

import (
	"context"
	"os"
	"testing"
	"time"

	"storefront/catalog-service/internal/app/catalog/asset"
	"storefront/catalog-service/internal/app/catalog/entity"
	"storefront/catalog-service/internal/app/catalog/query"
	"storefront/catalog-service/internal/app/catalog/rating"
	"storefront/catalog-service/internal/app/catalog/repository"
	"storefront/catalog-service/internal/app/catalog/service"
	"storefront/pkg/apperror"

	"github.com/stretchr/testify/suite"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// CatalogIntegrationTestSuite проверяет репозитории на живом MongoDB
type CatalogIntegrationTestSuite struct {
	suite.Suite
	client   *mongo.Client
	db       *mongo.Database
	products repository.ProductRepository
	orphans  asset.OrphanRecorder
}

func TestCatalogIntegrationSuite(t *testing.T) {
	suite.Run(t, new(CatalogIntegrationTestSuite))
}

func (s *CatalogIntegrationTestSuite) SetupSuite() {
	mongoURI := getEnv("TEST_MONGODB_URI", "mongodb://localhost:27018")
	dbName := getEnv("TEST_MONGODB_DATABASE", "catalog_test_db")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var err error
	s.client, err = mongo.Connect(ctx, options.Client().ApplyURI(mongoURI))
	s.Require().NoError(err)
	s.Require().NoError(s.client.Ping(ctx, nil))

	s.db = s.client.Database(dbName)
	s.products = repository.NewProductRepository(s.db, "products")
	s.orphans = repository.NewOrphanRepository(s.db)
}

func (s *CatalogIntegrationTestSuite) TearDownSuite() {
	ctx := context.Background()
	_ = s.db.Drop(ctx)
	_ = s.client.Disconnect(ctx)
}

func (s *CatalogIntegrationTestSuite) SetupTest() {
	ctx := context.Background()
	_, err := s.db.Collection("products").DeleteMany(ctx, map[string]any{})
	s.Require().NoError(err)
	_, err = s.db.Collection("asset_orphans").DeleteMany(ctx, map[string]any{})
	s.Require().NoError(err)
}

func (s *CatalogIntegrationTestSuite) createProduct(name, category string, price float64) *entity.Product {
	product := &entity.Product{
		Name:     name,
		Category: category,
		Price:    price,
		Photos:   []entity.AssetRef{{AssetID: "products/" + name, URL: "https://cdn/" + name}},
	}
	s.Require().NoError(s.products.Create(context.Background(), product))
	return product
}

func (s *CatalogIntegrationTestSuite) TestProductCRUD() {
	ctx := context.Background()

	product := s.createProduct("runner", "shoes", 120)
	s.False(product.ID.IsZero())
	s.Equal(int64(1), product.Version)

	found, err := s.products.FindByID(ctx, product.ID.Hex())
	s.Require().NoError(err)
	s.Equal("runner", found.Name)
	s.Empty(found.Reviews)

	stock := 7
	updated, err := s.products.UpdateByID(ctx, product.ID.Hex(), &entity.ProductUpdate{Stock: &stock})
	s.Require().NoError(err)
	s.Equal(7, updated.Stock)
	s.Equal(int64(2), updated.Version)

	s.Require().NoError(s.products.DeleteByID(ctx, product.ID.Hex()))

	_, err = s.products.FindByID(ctx, product.ID.Hex())
	s.ErrorIs(err, apperror.ErrNotFound)

	err = s.products.DeleteByID(ctx, product.ID.Hex())
	s.ErrorIs(err, apperror.ErrNotFound)
}

func (s *CatalogIntegrationTestSuite) TestFindAndCount() {
	ctx := context.Background()

	s.createProduct("runner", "shoes", 120)
	s.createProduct("sandal", "shoes", 40)
	s.createProduct("tote", "bags", 150)

	spec, err := query.NewBuilder(service.Fields()).
		Build(map[string]string{"category": "Shoes", "price_gte": "100"}, 6)
	s.Require().NoError(err)

	products, err := s.products.Find(ctx, spec)
	s.Require().NoError(err)
	s.Require().Len(products, 1)
	s.Equal("runner", products[0].Name)

	filtered, err := s.products.Count(ctx, spec)
	s.Require().NoError(err)
	s.Equal(int64(1), filtered)

	total, err := s.products.Count(ctx, nil)
	s.Require().NoError(err)
	s.Equal(int64(3), total)
}

func (s *CatalogIntegrationTestSuite) TestReplaceReviewsVersionConflict() {
	ctx := context.Background()
	product := s.createProduct("runner", "shoes", 120)
	id := product.ID.Hex()

	snapshot, err := s.products.GetReviews(ctx, id)
	s.Require().NoError(err)

	reviews, _ := rating.Upsert(snapshot.Reviews, entity.Review{UserID: "u1", Name: "Ann", Rating: 4})
	summary := rating.Summarize(reviews)
	s.Require().NoError(s.products.ReplaceReviews(ctx, id, snapshot.Version, summary))

	// Та же версия уже использована
	err = s.products.ReplaceReviews(ctx, id, snapshot.Version, summary)
	s.ErrorIs(err, apperror.ErrConflict)

	err = s.products.ReplaceReviews(ctx, primitive.NewObjectID().Hex(), 1, summary)
	s.ErrorIs(err, apperror.ErrNotFound)

	found, err := s.products.FindByID(ctx, id)
	s.Require().NoError(err)
	s.Equal(1, found.NumOfReviews)
	s.InDelta(4.0, found.Ratings, 1e-9)
}

func (s *CatalogIntegrationTestSuite) TestAggregatorConcurrentReviews() {
	ctx := context.Background()
	product := s.createProduct("runner", "shoes", 120)
	aggregator := rating.NewAggregator(s.products,
		rating.WithMaxAttempts(20),
		rating.WithBackoff(time.Millisecond, 10*time.Millisecond),
	)

	users := []string{"u1", "u2", "u3", "u4", "u5"}
	errs := make(chan error, len(users))
	for i, user := range users {
		go func(user string, value int) {
			_, err := aggregator.AddOrUpdateReview(ctx, product.ID.Hex(), entity.Review{UserID: user, Name: user, Rating: value})
			errs <- err
		}(user, i+1)
	}
	for range users {
		s.Require().NoError(<-errs)
	}

	found, err := s.products.FindByID(ctx, product.ID.Hex())
	s.Require().NoError(err)
	s.Equal(5, found.NumOfReviews)
	s.Len(found.Reviews, 5)
	s.InDelta(3.0, found.Ratings, 1e-9)
}

func (s *CatalogIntegrationTestSuite) TestOrphanQueue() {
	ctx := context.Background()

	s.Require().NoError(s.orphans.Record(ctx, []string{"products/a", "products/b"}, "rollback"))
	// Повторная запись не создает дублей
	s.Require().NoError(s.orphans.Record(ctx, []string{"products/a"}, "rollback"))

	pending, err := s.orphans.Pending(ctx, 10)
	s.Require().NoError(err)
	s.Len(pending, 2)

	s.Require().NoError(s.orphans.Resolve(ctx, "products/a"))
	s.Require().NoError(s.orphans.Retry(ctx, "products/b", "store unavailable"))

	// После неудачной попытки следующая откладывается
	pending, err = s.orphans.Pending(ctx, 10)
	s.Require().NoError(err)
	s.Empty(pending)

	s.NoError(s.orphans.Retry(ctx, "products/missing", "gone"))
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
