package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"storefront/catalog-service/internal/app/catalog/asset"
	"storefront/catalog-service/internal/app/catalog/config"
	"storefront/catalog-service/internal/app/catalog/handler"
	"storefront/catalog-service/internal/app/catalog/infrastructure"
	"storefront/catalog-service/internal/app/catalog/infrastructure/assetstore"
	"storefront/catalog-service/internal/app/catalog/infrastructure/cache"
	"storefront/catalog-service/internal/app/catalog/infrastructure/messaging"
	"storefront/catalog-service/internal/app/catalog/processor"
	"storefront/catalog-service/internal/app/catalog/rating"
	"storefront/catalog-service/internal/app/catalog/repository"
	"storefront/catalog-service/internal/app/catalog/service"
	"storefront/pkg/logger"
)

const serviceName = "catalog-service"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	logger.Init(serviceName, logLevel)

	logstashAddr := os.Getenv("LOGSTASH_ADDR")
	if logstashAddr != "" {
		if err := logger.InitLogstash(logstashAddr, serviceName, logLevel); err != nil {
			logger.Warn().Err(err).Msg("Failed to connect to Logstash, using stdout only")
		} else {
			logger.Info().Str("logstash_addr", logstashAddr).Msg("Connected to Logstash")
		}
	}

	// === MONGODB ===
	mongoClient, err := connectMongoDB(cfg.MongoDB)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to MongoDB")
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := mongoClient.Disconnect(ctx); err != nil {
			logger.Error().Err(err).Msg("Error disconnecting from MongoDB")
		}
	}()
	logger.Info().
		Str("database", cfg.MongoDB.Database).
		Str("collection", cfg.MongoDB.Collection).
		Msg("Connected to MongoDB")

	db := mongoClient.Database(cfg.MongoDB.Database)

	// === REDIS ===
	// Без Redis каталог работает, общий счетчик считается по коллекции
	var countCache infrastructure.CountCache
	redisCache, err := cache.NewRedisCache(cfg.Redis.Address(), cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Warn().Err(err).Str("address", cfg.Redis.Address()).Msg("Redis unavailable, count cache disabled")
	} else {
		defer redisCache.Close()
		countCache = redisCache
		logger.Info().Str("address", cfg.Redis.Address()).Msg("Connected to Redis")
	}

	// === KAFKA ===
	kafkaProducer := messaging.NewKafkaProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	defer kafkaProducer.Close()
	logger.Info().
		Strs("brokers", cfg.Kafka.Brokers).
		Str("topic", cfg.Kafka.Topic).
		Msg("Initialized Kafka producer")

	// === ХРАНИЛИЩЕ ИЗОБРАЖЕНИЙ ===
	store, media, closeStore, err := newAssetStore(cfg.Assets)
	if err != nil {
		logger.Fatal().Err(err).Str("backend", cfg.Assets.Backend).Msg("Failed to initialize asset store")
	}
	defer closeStore()
	logger.Info().Str("backend", cfg.Assets.Backend).Str("folder", cfg.Assets.Folder).Msg("Initialized asset store")

	breakerStore := assetstore.NewBreakerStore(store,
		assetstore.DefaultBreakerConfig("asset-store"),
		logger.Component("asset-store"),
	)

	// === СЛОЙ РЕПОЗИТОРИЕВ И БИЗНЕС-ЛОГИКИ ===
	productRepo := repository.NewProductRepository(db, cfg.MongoDB.Collection)
	orphanRepo := repository.NewOrphanRepository(db)

	synchronizer := asset.NewSynchronizer(breakerStore, orphanRepo,
		asset.WithFolder(cfg.Assets.Folder),
		asset.WithTimeout(cfg.Assets.UploadTimeout),
		asset.WithConcurrency(cfg.Assets.UploadConcurrency),
	)
	aggregator := rating.NewAggregator(productRepo,
		rating.WithMaxAttempts(cfg.Catalog.ReviewMaxAttempts),
	)

	catalogService := service.NewCatalogService(
		productRepo,
		synchronizer,
		aggregator,
		countCache,
		kafkaProducer,
		service.Options{
			PageSize:    cfg.Catalog.PageSize,
			MaxPageSize: cfg.Catalog.MaxPageSize,
			CountTTL:    cfg.Redis.CountTTL,
		},
	)

	// === CRON: повторное удаление осиротевших изображений ===
	rootCtx, stopJobs := context.WithCancel(context.Background())
	defer stopJobs()

	scheduler := processor.NewCronScheduler(synchronizer, cfg.Cron.OrphanBatch)
	if err := scheduler.Start(rootCtx, cfg.Cron.OrphanSweep); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start cron scheduler")
	}

	// === HTTP ===
	authMiddleware := handler.NewAuthMiddleware(cfg.JWT.Secret)
	catalogHandler := handler.NewCatalogHandler(catalogService)
	router := handler.SetupRoutes(catalogHandler, authMiddleware, handler.RouterConfig{
		CORSOrigins: cfg.CORS.Origins,
		Media:       media,
	})

	server := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * cfg.Assets.UploadTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().
			Str("address", cfg.Server.Address()).
			Msg("Starting Catalog Service")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down Catalog Service...")

	stopJobs()
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Catalog Service stopped gracefully")
}

// newAssetStore создает хранилище по ASSETS_BACKEND.
// Для memory возвращает и источник для маршрута /media
func newAssetStore(cfg config.AssetsConfig) (asset.AssetStore, handler.MediaSource, func(), error) {
	switch cfg.Backend {
	case config.AssetBackendGCS:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		gcs, err := assetstore.NewGCSStore(ctx, assetstore.GCSConfig{
			Bucket:          cfg.Bucket,
			ProjectID:       cfg.ProjectID,
			CredentialsFile: cfg.CredentialsFile,
			PublicBaseURL:   cfg.PublicBaseURL,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		return gcs, nil, func() {
			if err := gcs.Close(); err != nil {
				logger.Error().Err(err).Msg("Error closing storage client")
			}
		}, nil
	case config.AssetBackendMemory:
		mem := assetstore.NewMemoryStore(cfg.PublicBaseURL)
		return mem, mem, func() {}, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown asset backend %q", cfg.Backend)
	}
}

func connectMongoDB(cfg config.MongoDBConfig) (*mongo.Client, error) {
	clientOptions := options.Client().ApplyURI(cfg.URI)

	var client *mongo.Client
	var err error

	for i := 0; i < 10; i++ {
		client, err = tryConnect(clientOptions)
		if err == nil {
			return client, nil
		}

		logger.Warn().
			Int("attempt", i+1).
			Err(err).
			Msg("Failed to connect to MongoDB, retrying...")
		time.Sleep(3 * time.Second)
	}

	return nil, err
}

func tryConnect(clientOptions *options.ClientOptions) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, err
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return client, nil
}
