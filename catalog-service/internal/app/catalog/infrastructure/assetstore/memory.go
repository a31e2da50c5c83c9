package assetstore

import (
	"context"
	"strings"
	"sync"

	"storefront/catalog-service/internal/app/catalog/asset"
	"storefront/catalog-service/internal/app/catalog/entity"
)

// MediaPathPrefix - путь, по которому dev сервер отдает изображения из памяти
const MediaPathPrefix = "/media/"

type object struct {
	contentType string
	data        []byte
}

// MemoryStore реализует asset.AssetStore в памяти процесса. Для dev окружения и тестов
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]*object
	baseURL string
}

func NewMemoryStore(baseURL string) *MemoryStore {
	return &MemoryStore{
		objects: make(map[string]*object),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

func (s *MemoryStore) Upload(ctx context.Context, img asset.Image, key string) (entity.AssetRef, error) {
	if err := ctx.Err(); err != nil {
		return entity.AssetRef{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.objects[key] = &object{
		contentType: img.ContentType,
		data:        append([]byte(nil), img.Data...),
	}

	return entity.AssetRef{AssetID: key, URL: s.baseURL + MediaPathPrefix + key}, nil
}

// Destroy удаляет объект. Отсутствующий объект не является ошибкой
func (s *MemoryStore) Destroy(ctx context.Context, assetID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.objects, assetID)
	return nil
}

// Object возвращает содержимое объекта для отдачи по HTTP
func (s *MemoryStore) Object(key string) ([]byte, string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, ok := s.objects[key]
	if !ok {
		return nil, "", false
	}
	return obj.data, obj.contentType, true
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
