// Package asset держит изображения в удаленном хранилище согласованными с документами товаров.
//
// Изображения пакета загружаются параллельно, но возвращаются в порядке входа.
// Любой сбой при загрузке откатывает уже загруженную часть пакета, а изображения,
// которые не удалось удалить, попадают в очередь OrphanRecorder и удаляются повторно.
package asset

import (
	"context"
	"fmt"
	"strings"
	"time"

	"storefront/catalog-service/internal/app/catalog/entity"
	"storefront/pkg/apperror"
)

// Image - файл изображения, полученный от клиента
type Image struct {
	Filename    string
	ContentType string
	Data        []byte
}

// AssetStore - удаленное хранилище изображений.
// Upload сохраняет объект под ключом key, который выбирает вызывающий (см. ObjectKey).
// Upload возвращает apperror.ErrUpstream при сбое транспорта или квоты; объект при этом
// мог быть сохранен, поэтому после ошибки ключ нужно удалить.
// Destroy идемпотентен: удаление отсутствующего объекта - успех
type AssetStore interface {
	Upload(ctx context.Context, img Image, key string) (entity.AssetRef, error)
	Destroy(ctx context.Context, assetID string) error
}

// Orphan - изображение, которое должно быть удалено, но удаление не удалось
type Orphan struct {
	AssetID       string
	Reason        string
	Attempts      int
	LastError     string
	CreatedAt     time.Time
	NextAttemptAt time.Time
}

// OrphanRecorder надежно хранит очередь осиротевших изображений
type OrphanRecorder interface {
	Record(ctx context.Context, assetIDs []string, reason string) error
	// Pending возвращает записи, для которых наступило время следующей попытки
	Pending(ctx context.Context, limit int) ([]Orphan, error)
	Resolve(ctx context.Context, assetID string) error
	// Retry увеличивает счетчик попыток и откладывает следующую
	Retry(ctx context.Context, assetID string, lastErr string) error
}

// Причины постановки в очередь
const (
	ReasonRollback = "rollback"
	ReasonReplace  = "replace"
	ReasonDestroy  = "destroy"
)

const (
	retryBase = 30 * time.Second
	retryMax  = 6 * time.Hour
)

// NextAttempt - экспоненциальная задержка повторного удаления после attempts неудачных попыток
func NextAttempt(attempts int, now time.Time) time.Time {
	delay := retryBase
	for i := 1; i < attempts && delay < retryMax; i++ {
		delay *= 2
	}
	if delay > retryMax {
		delay = retryMax
	}
	return now.Add(delay)
}

// FailedAsset - изображение, которое не удалось удалить
type FailedAsset struct {
	AssetID string
	Err     error
}

// DestroyError перечисляет все неудачные удаления. Относится к apperror.ErrUpstream
type DestroyError struct {
	Failed []FailedAsset
	Queued bool // Все неудачные удаления поставлены в очередь повторов
}

func (e *DestroyError) Error() string {
	parts := make([]string, 0, len(e.Failed))
	for _, f := range e.Failed {
		parts = append(parts, fmt.Sprintf("%s: %v", f.AssetID, f.Err))
	}
	return fmt.Sprintf("failed to destroy %d asset(s): %s", len(e.Failed), strings.Join(parts, "; "))
}

func (e *DestroyError) Is(target error) bool {
	return target == apperror.ErrUpstream
}

func (e *DestroyError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed))
	for _, f := range e.Failed {
		errs = append(errs, f.Err)
	}
	return errs
}

func (e *DestroyError) AssetIDs() []string {
	ids := make([]string, 0, len(e.Failed))
	for _, f := range e.Failed {
		ids = append(ids, f.AssetID)
	}
	return ids
}
