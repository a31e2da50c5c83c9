package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config содержит все настройки Catalog Service
// Включает конфигурацию HTTP сервера, MongoDB, Redis, Kafka, JWT и хранилища изображений
type Config struct {
	Server  ServerConfig
	MongoDB MongoDBConfig
	Redis   RedisConfig
	Kafka   KafkaConfig
	JWT     JWTConfig
	Assets  AssetsConfig
	Catalog CatalogConfig
	Cron    CronConfig
	CORS    CORSConfig
}

type ServerConfig struct {
	Host string
	Port string
}

// MongoDBConfig - товары хранятся одним документом вместе с отзывами и ссылками на изображения
type MongoDBConfig struct {
	URI        string
	Database   string
	Collection string
}

// RedisConfig - Redis хранит только кеш общего числа товаров
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	CountTTL time.Duration // Время жизни кеша totalProductCount
}

// KafkaConfig - события PRODUCT_* и REVIEW_* уходят в один топик
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type JWTConfig struct {
	Secret string // Должен совпадать с секретом сервиса, выпускающего токены
}

// AssetsConfig - настройки удаленного хранилища изображений
type AssetsConfig struct {
	Backend           string // gcs или memory
	Folder            string // Папка для изображений товаров
	Bucket            string
	ProjectID         string
	CredentialsFile   string
	PublicBaseURL     string
	UploadTimeout     time.Duration // Таймаут одного вызова хранилища
	UploadConcurrency int           // Максимум параллельных загрузок в одном пакете
}

type CatalogConfig struct {
	PageSize          int
	MaxPageSize       int
	ReviewMaxAttempts int // Попытки записи отзыва при конфликте версий
}

type CronConfig struct {
	OrphanSweep string // Расписание повторного удаления осиротевших изображений
	OrphanBatch int
}

type CORSConfig struct {
	Origins []string
}

const (
	AssetBackendGCS    = "gcs"
	AssetBackendMemory = "memory"
)

// Load загружает конфигурацию из переменных окружения.
// Если рядом лежит .env, он читается первым; уже выставленные переменные не перезаписываются
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		return nil, err
	}
	countTTL, err := getEnvDuration("REDIS_COUNT_TTL", time.Minute)
	if err != nil {
		return nil, err
	}
	uploadTimeout, err := getEnvDuration("ASSETS_UPLOAD_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}
	uploadConcurrency, err := getEnvInt("ASSETS_UPLOAD_CONCURRENCY", 4)
	if err != nil {
		return nil, err
	}
	pageSize, err := getEnvInt("CATALOG_PAGE_SIZE", 6)
	if err != nil {
		return nil, err
	}
	maxPageSize, err := getEnvInt("CATALOG_MAX_PAGE_SIZE", 100)
	if err != nil {
		return nil, err
	}
	reviewAttempts, err := getEnvInt("CATALOG_REVIEW_MAX_ATTEMPTS", 5)
	if err != nil {
		return nil, err
	}
	orphanBatch, err := getEnvInt("CRON_ORPHAN_BATCH", 50)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
			Port: getEnv("SERVER_PORT", "8081"),
		},
		MongoDB: MongoDBConfig{
			URI:        getEnv("MONGODB_URI", "mongodb://localhost:27017"),
			Database:   getEnv("MONGODB_DATABASE", "catalog_service"),
			Collection: getEnv("MONGODB_COLLECTION", "products"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
			CountTTL: countTTL,
		},
		Kafka: KafkaConfig{
			Brokers: splitList(getEnv("KAFKA_BROKERS", "localhost:9092")),
			Topic:   getEnv("KAFKA_TOPIC", "product_events"),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", "your-secret-key-change-this-in-production"),
		},
		Assets: AssetsConfig{
			Backend:           strings.ToLower(getEnv("ASSETS_BACKEND", AssetBackendMemory)),
			Folder:            getEnv("ASSETS_FOLDER", "products"),
			Bucket:            getEnv("GCS_BUCKET", ""),
			ProjectID:         getEnv("GCS_PROJECT_ID", ""),
			CredentialsFile:   getEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),
			PublicBaseURL:     getEnv("ASSETS_PUBLIC_BASE_URL", "http://localhost:8081"),
			UploadTimeout:     uploadTimeout,
			UploadConcurrency: uploadConcurrency,
		},
		Catalog: CatalogConfig{
			PageSize:          pageSize,
			MaxPageSize:       maxPageSize,
			ReviewMaxAttempts: reviewAttempts,
		},
		Cron: CronConfig{
			OrphanSweep: getEnv("CRON_ORPHAN_SWEEP", "@every 5m"),
			OrphanBatch: orphanBatch,
		},
		CORS: CORSConfig{
			Origins: splitList(getEnv("CORS_ORIGINS", "http://localhost:3000")),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Assets.Backend {
	case AssetBackendMemory:
	case AssetBackendGCS:
		if c.Assets.Bucket == "" {
			return fmt.Errorf("GCS_BUCKET is required for the gcs assets backend")
		}
	default:
		return fmt.Errorf("invalid ASSETS_BACKEND value: %q", c.Assets.Backend)
	}

	if c.Catalog.PageSize < 1 {
		return fmt.Errorf("invalid CATALOG_PAGE_SIZE value: %d", c.Catalog.PageSize)
	}
	if c.Catalog.MaxPageSize < c.Catalog.PageSize {
		return fmt.Errorf("CATALOG_MAX_PAGE_SIZE (%d) must not be less than CATALOG_PAGE_SIZE (%d)",
			c.Catalog.MaxPageSize, c.Catalog.PageSize)
	}
	if c.Assets.UploadConcurrency < 1 {
		return fmt.Errorf("invalid ASSETS_UPLOAD_CONCURRENCY value: %d", c.Assets.UploadConcurrency)
	}
	return nil
}

// Address возвращает адрес сервера в формате host:port
func (c *ServerConfig) Address() string {
	return c.Host + ":" + c.Port
}

// Address возвращает адрес Redis в формате host:port
func (c *RedisConfig) Address() string {
	return c.Host + ":" + c.Port
}

// getEnv получает значение переменной окружения или возвращает значение по умолчанию
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %w", key, err)
	}
	return v, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %w", key, err)
	}
	return v, nil
}

// splitList разбирает список через запятую: "kafka1:9092,kafka2:9092"
func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
