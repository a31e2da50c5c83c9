package assetstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"storefront/catalog-service/internal/app/catalog/asset"
	"storefront/catalog-service/internal/app/catalog/entity"
	"storefront/pkg/apperror"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

type GCSConfig struct {
	Bucket          string
	ProjectID       string // Проект для оплаты запросов (requester pays), опционально
	CredentialsFile string
	PublicBaseURL   string // CDN перед бакетом; по умолчанию storage.googleapis.com
}

// GCSStore хранит изображения в Google Cloud Storage. AssetID - имя объекта в бакете
type GCSStore struct {
	client  *storage.Client
	bucket  *storage.BucketHandle
	baseURL string
}

func NewGCSStore(ctx context.Context, cfg GCSConfig, opts ...option.ClientOption) (*GCSStore, error) {
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	bucket := client.Bucket(cfg.Bucket)
	if cfg.ProjectID != "" {
		bucket = bucket.UserProject(cfg.ProjectID)
	}

	baseURL := strings.TrimRight(cfg.PublicBaseURL, "/")
	if baseURL == "" {
		baseURL = "https://storage.googleapis.com/" + cfg.Bucket
	}

	return &GCSStore{
		client:  client,
		bucket:  bucket,
		baseURL: baseURL,
	}, nil
}

func (s *GCSStore) Upload(ctx context.Context, img asset.Image, key string) (entity.AssetRef, error) {
	w := s.bucket.Object(key).NewWriter(ctx)
	w.ContentType = img.ContentType
	w.CacheControl = "public, max-age=86400"
	// Файл уже в памяти, загружаем одним запросом
	w.ChunkSize = 0

	if _, err := io.Copy(w, bytes.NewReader(img.Data)); err != nil {
		_ = w.Close()
		return entity.AssetRef{}, apperror.Upstream("failed to copy image to GCS", err)
	}
	if err := w.Close(); err != nil {
		return entity.AssetRef{}, apperror.Upstream("failed to upload image to GCS", err)
	}

	return entity.AssetRef{AssetID: key, URL: s.baseURL + "/" + key}, nil
}

// Destroy удаляет объект. storage.ErrObjectNotExist считается успехом
func (s *GCSStore) Destroy(ctx context.Context, assetID string) error {
	err := s.bucket.Object(assetID).Delete(ctx)
	if err == nil || errors.Is(err, storage.ErrObjectNotExist) {
		return nil
	}
	return apperror.Upstream("failed to delete image from GCS", err)
}

func (s *GCSStore) Close() error {
	return s.client.Close()
}
