package infrastructure

import (
	"context"
	"time"
)

// CountCache кеширует общее число товаров каталога.
// GetTotalCount возвращает ok=false, если значения нет в кеше
type CountCache interface {
	GetTotalCount(ctx context.Context) (count int64, ok bool, err error)
	SetTotalCount(ctx context.Context, count int64, ttl time.Duration) error
	InvalidateTotalCount(ctx context.Context) error
	Close() error
}

// MessagePublisher интерфейс для отправки сообщений в очередь (Kafka)
type MessagePublisher interface {
	PublishMessage(ctx context.Context, key string, value []byte) error
	Close() error
}
