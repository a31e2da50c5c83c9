package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:8081", cfg.Server.Address())
	assert.Equal(t, "products", cfg.MongoDB.Collection)
	assert.Equal(t, AssetBackendMemory, cfg.Assets.Backend)
	assert.Equal(t, "products", cfg.Assets.Folder)
	assert.Equal(t, 30*time.Second, cfg.Assets.UploadTimeout)
	assert.Equal(t, 4, cfg.Assets.UploadConcurrency)
	assert.Equal(t, 6, cfg.Catalog.PageSize)
	assert.Equal(t, 100, cfg.Catalog.MaxPageSize)
	assert.Equal(t, 5, cfg.Catalog.ReviewMaxAttempts)
	assert.Equal(t, "@every 5m", cfg.Cron.OrphanSweep)
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "kafka1:9092, kafka2:9092")
	t.Setenv("REDIS_COUNT_TTL", "90s")
	t.Setenv("CATALOG_PAGE_SIZE", "12")
	t.Setenv("ASSETS_BACKEND", "GCS")
	t.Setenv("GCS_BUCKET", "catalog-media")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, []string{"kafka1:9092", "kafka2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 90*time.Second, cfg.Redis.CountTTL)
	assert.Equal(t, 12, cfg.Catalog.PageSize)
	assert.Equal(t, AssetBackendGCS, cfg.Assets.Backend)
	assert.Equal(t, "catalog-media", cfg.Assets.Bucket)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"redis db", "REDIS_DB", "zero"},
		{"duration", "ASSETS_UPLOAD_TIMEOUT", "30"},
		{"backend", "ASSETS_BACKEND", "s3"},
		{"page size", "CATALOG_PAGE_SIZE", "0"},
		{"max page size", "CATALOG_MAX_PAGE_SIZE", "2"},
		{"concurrency", "ASSETS_UPLOAD_CONCURRENCY", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)

			_, err := Load()

			assert.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestLoad_GCSRequiresBucket(t *testing.T) {
	t.Setenv("ASSETS_BACKEND", "gcs")

	_, err := Load()

	assert.ErrorContains(t, err, "GCS_BUCKET")
}
