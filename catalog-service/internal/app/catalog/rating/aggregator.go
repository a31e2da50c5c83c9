package rating

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"storefront/catalog-service/internal/app/catalog/entity"
	"storefront/pkg/apperror"
	"storefront/pkg/logger"
	"storefront/pkg/metrics"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
)

// Snapshot - отзывы товара и версия документа, с которой они прочитаны
type Snapshot struct {
	Reviews []entity.Review
	Version int64
}

// ReviewStore - хранилище отзывов с условной записью.
// ReplaceReviews обязан вернуть apperror.ErrConflict, если версия документа уже не expectedVersion,
// и увеличить версию при успешной записи
type ReviewStore interface {
	GetReviews(ctx context.Context, productID string) (*Snapshot, error)
	ReplaceReviews(ctx context.Context, productID string, expectedVersion int64, summary Summary) error
}

const DefaultMaxAttempts = 5

// Aggregator выполняет цикл чтение - чистое преобразование - условная запись
// и повторяет его при конфликте версий с экспоненциальной задержкой
type Aggregator struct {
	store           ReviewStore
	maxAttempts     uint
	initialInterval time.Duration
	maxInterval     time.Duration
	log             zerolog.Logger
}

type Option func(*Aggregator)

func WithMaxAttempts(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.maxAttempts = uint(n)
		}
	}
}

func WithBackoff(initial, maxInterval time.Duration) Option {
	return func(a *Aggregator) {
		a.initialInterval = initial
		a.maxInterval = maxInterval
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(a *Aggregator) {
		a.log = l
	}
}

func NewAggregator(store ReviewStore, opts ...Option) *Aggregator {
	a := &Aggregator{
		store:           store,
		maxAttempts:     DefaultMaxAttempts,
		initialInterval: 20 * time.Millisecond,
		maxInterval:     500 * time.Millisecond,
		log:             logger.Component("rating-aggregator"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// AddOrUpdateReview добавляет отзыв пользователя или заменяет его оценку и комментарий
func (a *Aggregator) AddOrUpdateReview(ctx context.Context, productID string, review entity.Review) (*Summary, error) {
	if strings.TrimSpace(review.UserID) == "" {
		return nil, apperror.Validation("review author is required")
	}
	if err := ValidateRating(review.Rating); err != nil {
		return nil, err
	}

	summary, err := a.apply(ctx, productID, func(reviews []entity.Review) ([]entity.Review, error) {
		next, _ := Upsert(reviews, review)
		return next, nil
	})
	if err != nil {
		return nil, err
	}

	metrics.ReviewsRating.Observe(float64(review.Rating))
	return summary, nil
}

// RemoveReview удаляет отзыв пользователя. Если отзыва нет - apperror.ErrNotFound
func (a *Aggregator) RemoveReview(ctx context.Context, productID, userID string) (*Summary, error) {
	return a.apply(ctx, productID, func(reviews []entity.Review) ([]entity.Review, error) {
		next, removed := Remove(reviews, userID)
		if removed == 0 {
			return nil, apperror.NotFound("review of user", userID)
		}
		return next, nil
	})
}

func (a *Aggregator) GetReviews(ctx context.Context, productID string) ([]entity.Review, error) {
	snap, err := a.store.GetReviews(ctx, productID)
	if err != nil {
		return nil, err
	}
	if snap.Reviews == nil {
		return []entity.Review{}, nil
	}
	return snap.Reviews, nil
}

type transformFunc func(reviews []entity.Review) ([]entity.Review, error)

func (a *Aggregator) apply(ctx context.Context, productID string, transform transformFunc) (*Summary, error) {
	attempt := 0

	operation := func() (*Summary, error) {
		attempt++

		snap, err := a.store.GetReviews(ctx, productID)
		if err != nil {
			return nil, backoff.Permanent(err)
		}

		next, err := transform(snap.Reviews)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		summary := Summarize(next)

		err = a.store.ReplaceReviews(ctx, productID, snap.Version, summary)
		if err == nil {
			return &summary, nil
		}
		if errors.Is(err, apperror.ErrConflict) {
			metrics.ReviewConflicts.Inc()
			a.log.Debug().
				Str("product_id", productID).
				Int64("version", snap.Version).
				Int("attempt", attempt).
				Msg("Review update lost a concurrent write, retrying")
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = a.initialInterval
	policy.MaxInterval = a.maxInterval

	summary, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(a.maxAttempts),
	)
	if err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			a.log.Warn().
				Str("product_id", productID).
				Int("attempts", attempt).
				Msg("Review update gave up after repeated version conflicts")
			return nil, apperror.Conflict(fmt.Sprintf("product %s is being modified concurrently, try again", productID))
		}
		// Отмена запроса во время ожидания между попытками приходит без типа
		var appErr *apperror.Error
		if !errors.As(err, &appErr) {
			return nil, apperror.Upstream("review update interrupted", err)
		}
		return nil, err
	}

	return summary, nil
}
