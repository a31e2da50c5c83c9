package assetstore

import (
	"context"
	"errors"
	"time"

	"storefront/catalog-service/internal/app/catalog/asset"
	"storefront/catalog-service/internal/app/catalog/entity"
	"storefront/pkg/apperror"
	"storefront/pkg/metrics"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

type BreakerConfig struct {
	Name string
	// MaxRequests - число пробных запросов в состоянии half-open
	MaxRequests uint32
	// Interval - период сброса счетчиков в состоянии closed
	Interval time.Duration
	// Timeout - сколько предохранитель остается открытым до half-open
	Timeout time.Duration
	// FailureRatio - доля ошибок, после которой предохранитель открывается
	FailureRatio float64
	// MinRequests - минимум запросов до оценки FailureRatio
	MinRequests uint32
}

func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:         name,
		MaxRequests:  1,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		FailureRatio: 0.5,
		MinRequests:  5,
	}
}

// BreakerStore оборачивает хранилище предохранителем.
// Пока предохранитель открыт, вызовы сразу завершаются apperror.ErrUpstream
type BreakerStore struct {
	next    asset.AssetStore
	breaker *gobreaker.CircuitBreaker[entity.AssetRef]
}

func NewBreakerStore(next asset.AssetStore, cfg BreakerConfig, log zerolog.Logger) *BreakerStore {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		// Отмена запроса клиентом не говорит о состоянии хранилища
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state change")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	}

	metrics.CircuitBreakerState.WithLabelValues(cfg.Name).Set(0)

	return &BreakerStore{
		next:    next,
		breaker: gobreaker.NewCircuitBreaker[entity.AssetRef](settings),
	}
}

func (s *BreakerStore) Upload(ctx context.Context, img asset.Image, key string) (entity.AssetRef, error) {
	ref, err := s.breaker.Execute(func() (entity.AssetRef, error) {
		return s.next.Upload(ctx, img, key)
	})
	return ref, wrapBreakerError(err)
}

func (s *BreakerStore) Destroy(ctx context.Context, assetID string) error {
	_, err := s.breaker.Execute(func() (entity.AssetRef, error) {
		return entity.AssetRef{}, s.next.Destroy(ctx, assetID)
	})
	return wrapBreakerError(err)
}

func (s *BreakerStore) State() gobreaker.State {
	return s.breaker.State()
}

func wrapBreakerError(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return apperror.Upstream("asset store is unavailable", err)
	}
	return err
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
