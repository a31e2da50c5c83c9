package asset

import (
	"context"
	"errors"
	"sync"
	"time"

	"storefront/catalog-service/internal/app/catalog/entity"
	"storefront/pkg/apperror"
	"storefront/pkg/logger"
	"storefront/pkg/metrics"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultFolder      = "products"
	DefaultTimeout     = 30 * time.Second
	DefaultConcurrency = 4
)

// Synchronizer загружает и удаляет изображения товаров.
// Не хранит состояние между вызовами, кроме ссылок на хранилище и очередь
type Synchronizer struct {
	store       AssetStore
	orphans     OrphanRecorder
	folder      string
	timeout     time.Duration
	concurrency int
	log         zerolog.Logger
}

type Option func(*Synchronizer)

func WithFolder(folder string) Option {
	return func(s *Synchronizer) {
		if folder != "" {
			s.folder = folder
		}
	}
}

// WithTimeout - таймаут одного вызова хранилища
func WithTimeout(d time.Duration) Option {
	return func(s *Synchronizer) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func WithConcurrency(n int) Option {
	return func(s *Synchronizer) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Synchronizer) {
		s.log = l
	}
}

// NewSynchronizer создает синхронизатор. Без recorder очередь хранится в памяти процесса
func NewSynchronizer(store AssetStore, recorder OrphanRecorder, opts ...Option) *Synchronizer {
	if recorder == nil {
		recorder = NewMemoryRecorder()
	}
	s := &Synchronizer{
		store:       store,
		orphans:     recorder,
		folder:      DefaultFolder,
		timeout:     DefaultTimeout,
		concurrency: DefaultConcurrency,
		log:         logger.Component("asset-sync"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateAssets загружает все изображения или ни одного.
// Порядок результата совпадает с порядком images
func (s *Synchronizer) CreateAssets(ctx context.Context, images []Image) ([]entity.AssetRef, error) {
	if len(images) == 0 {
		return nil, apperror.Validation("at least one image is required")
	}

	keys := make([]string, len(images))
	for i, img := range images {
		keys[i] = ObjectKey(s.folder, img)
	}

	refs := make([]entity.AssetRef, len(images))
	started := make([]bool, len(images))
	uploaded := 0
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for i, img := range images {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			started[i] = true

			ref, err := s.upload(gctx, img, keys[i])
			if err != nil {
				return err
			}
			refs[i] = ref
			mu.Lock()
			uploaded++
			mu.Unlock()
			return nil
		})
	}

	err := g.Wait()
	if err == nil {
		s.log.Debug().Int("count", len(refs)).Str("folder", s.folder).Msg("Assets uploaded")
		return refs, nil
	}

	// Загрузка, завершившаяся ошибкой или таймаутом, могла сохранить объект,
	// поэтому откатываются все начатые ключи, а не только подтвержденные
	var written []entity.AssetRef
	for i, ok := range started {
		if ok {
			written = append(written, entity.AssetRef{AssetID: keys[i], URL: refs[i].URL})
		}
	}
	s.log.Warn().Err(err).
		Int("requested", len(images)).
		Int("uploaded", uploaded).
		Int("started", len(written)).
		Msg("Asset batch failed, rolling back")
	s.rollback(ctx, written, ReasonRollback)

	if !errors.Is(err, apperror.ErrUpstream) {
		err = apperror.Upstream("asset upload interrupted", err)
	}
	return nil, err
}

// ReplaceAssets загружает новый набор, вызывает commit и только после успешного commit
// удаляет старый набор. Если commit вернул ошибку, откатывается новый набор.
// Сбой удаления старых изображений не ломает операцию: они ставятся в очередь
func (s *Synchronizer) ReplaceAssets(ctx context.Context, oldRefs []entity.AssetRef, newImages []Image, commit func([]entity.AssetRef) error) ([]entity.AssetRef, error) {
	newRefs, err := s.CreateAssets(ctx, newImages)
	if err != nil {
		return nil, err
	}

	if err := commit(newRefs); err != nil {
		s.rollback(ctx, newRefs, ReasonRollback)
		return nil, err
	}

	// Документ уже ссылается на новый набор, старые изображения удаляются даже после отмены запроса
	detached := context.WithoutCancel(ctx)
	if failed := s.destroyAll(detached, oldRefs); len(failed) > 0 {
		s.queue(detached, failed, ReasonReplace)
	}

	return newRefs, nil
}

// DestroyAssets удаляет все изображения. Неудачные удаления ставятся в очередь
// и возвращаются как *DestroyError
func (s *Synchronizer) DestroyAssets(ctx context.Context, refs []entity.AssetRef) error {
	failed := s.destroyAll(ctx, refs)
	if len(failed) == 0 {
		return nil
	}

	queued := s.queue(context.WithoutCancel(ctx), failed, ReasonDestroy)
	return &DestroyError{Failed: failed, Queued: queued}
}

// RetryOrphans повторяет удаление изображений из очереди и возвращает число удаленных
func (s *Synchronizer) RetryOrphans(ctx context.Context, limit int) (int, error) {
	pending, err := s.orphans.Pending(ctx, limit)
	if err != nil {
		return 0, err
	}

	resolved := 0
	for _, o := range pending {
		if err := ctx.Err(); err != nil {
			return resolved, err
		}

		if err := s.destroy(ctx, o.AssetID); err != nil {
			metrics.AssetOrphansRetried.WithLabelValues("failed").Inc()
			s.log.Warn().Err(err).
				Str("asset_id", o.AssetID).
				Int("attempts", o.Attempts+1).
				Msg("Orphaned asset destroy failed again")
			if rerr := s.orphans.Retry(ctx, o.AssetID, err.Error()); rerr != nil {
				s.log.Error().Err(rerr).Str("asset_id", o.AssetID).Msg("Failed to reschedule orphaned asset")
			}
			continue
		}

		if err := s.orphans.Resolve(ctx, o.AssetID); err != nil {
			// Повторное удаление идемпотентно, запись будет обработана снова
			s.log.Error().Err(err).Str("asset_id", o.AssetID).Msg("Failed to resolve orphaned asset")
			continue
		}
		metrics.AssetOrphansRetried.WithLabelValues("success").Inc()
		resolved++
	}

	return resolved, nil
}

func (s *Synchronizer) upload(ctx context.Context, img Image, key string) (entity.AssetRef, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	ref, err := s.store.Upload(callCtx, img, key)
	if err != nil {
		metrics.AssetUploads.WithLabelValues("failed").Inc()
		switch {
		case errors.Is(err, apperror.ErrUpstream):
			return entity.AssetRef{}, err
		case errors.Is(err, context.DeadlineExceeded):
			return entity.AssetRef{}, apperror.Upstream("asset upload timed out: "+img.Filename, err)
		default:
			return entity.AssetRef{}, apperror.Upstream("asset upload failed: "+img.Filename, err)
		}
	}

	metrics.AssetUploads.WithLabelValues("success").Inc()
	return ref, nil
}

func (s *Synchronizer) destroy(ctx context.Context, assetID string) error {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.store.Destroy(callCtx, assetID); err != nil {
		metrics.AssetDestroyFailures.Inc()
		return err
	}
	return nil
}

// destroyAll удаляет изображения с тем же ограничением параллелизма, что и загрузка
func (s *Synchronizer) destroyAll(ctx context.Context, refs []entity.AssetRef) []FailedAsset {
	if len(refs) == 0 {
		return nil
	}

	var (
		mu     sync.Mutex
		failed []FailedAsset
		g      errgroup.Group
	)
	g.SetLimit(s.concurrency)

	for _, ref := range refs {
		g.Go(func() error {
			if err := s.destroy(ctx, ref.AssetID); err != nil {
				mu.Lock()
				failed = append(failed, FailedAsset{AssetID: ref.AssetID, Err: err})
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	return failed
}

// rollback удаляет загруженную часть пакета на контексте, не зависящем от отмены запроса
func (s *Synchronizer) rollback(ctx context.Context, refs []entity.AssetRef, reason string) {
	if len(refs) == 0 {
		return
	}
	metrics.AssetRollbacks.Inc()

	detached := context.WithoutCancel(ctx)
	if failed := s.destroyAll(detached, refs); len(failed) > 0 {
		s.queue(detached, failed, reason)
	}
}

// queue ставит неудачные удаления в очередь. false - очередь тоже недоступна
func (s *Synchronizer) queue(ctx context.Context, failed []FailedAsset, reason string) bool {
	ids := make([]string, 0, len(failed))
	for _, f := range failed {
		ids = append(ids, f.AssetID)
	}

	if err := s.orphans.Record(ctx, ids, reason); err != nil {
		s.log.Error().Err(err).
			Strs("asset_ids", ids).
			Str("reason", reason).
			Msg("Failed to queue orphaned assets, manual cleanup required")
		return false
	}

	s.log.Warn().
		Strs("asset_ids", ids).
		Str("reason", reason).
		Msg("Asset destroy failed, queued for retry")
	return true
}
