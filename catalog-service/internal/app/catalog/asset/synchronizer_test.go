package asset

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"storefront/catalog-service/internal/app/catalog/entity"
	"storefront/pkg/apperror"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore - хранилище в памяти со сценариями сбоев
type fakeStore struct {
	mu      sync.Mutex
	objects map[string]bool
	names   map[string]string // asset id -> имя файла, для всех начатых загрузок

	failUpload  map[string]error // по имени файла
	failDestroy map[string]error // по asset id или имени файла
	uploadDelay map[string]time.Duration
	// ackDelay - объект сохраняется сразу, а ответ задерживается
	ackDelay  map[string]time.Duration
	destroyed []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		objects:     make(map[string]bool),
		names:       make(map[string]string),
		failUpload:  make(map[string]error),
		failDestroy: make(map[string]error),
		uploadDelay: make(map[string]time.Duration),
		ackDelay:    make(map[string]time.Duration),
	}
}

func (f *fakeStore) Upload(ctx context.Context, img Image, key string) (entity.AssetRef, error) {
	f.mu.Lock()
	f.names[key] = img.Filename
	f.mu.Unlock()

	if d, ok := f.uploadDelay[img.Filename]; ok {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return entity.AssetRef{}, ctx.Err()
		}
	}
	if err, ok := f.failUpload[img.Filename]; ok {
		return entity.AssetRef{}, err
	}

	f.mu.Lock()
	f.objects[key] = true
	f.mu.Unlock()

	if d, ok := f.ackDelay[img.Filename]; ok {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return entity.AssetRef{}, ctx.Err()
		}
	}
	return entity.AssetRef{AssetID: key, URL: "https://cdn.test/" + key}, nil
}

func (f *fakeStore) Destroy(_ context.Context, assetID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failDestroy[assetID]; ok {
		return err
	}
	if err, ok := f.failDestroy[f.names[assetID]]; ok {
		return err
	}
	delete(f.objects, assetID)
	f.destroyed = append(f.destroyed, assetID)
	return nil
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.objects)
}

func (f *fakeStore) has(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.objects[id]
}

func (f *fakeStore) nameOf(id string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.names[id]
}

func images(names ...string) []Image {
	out := make([]Image, 0, len(names))
	for _, n := range names {
		out = append(out, Image{Filename: n, ContentType: "image/png", Data: []byte(n)})
	}
	return out
}

func newTestSynchronizer(store AssetStore, recorder OrphanRecorder, opts ...Option) *Synchronizer {
	opts = append([]Option{WithLogger(zerolog.Nop()), WithTimeout(time.Second)}, opts...)
	return NewSynchronizer(store, recorder, opts...)
}

// ===================== CreateAssets =====================

func TestCreateAssets_PreservesInputOrder(t *testing.T) {
	// Arrange - первые файлы грузятся дольше последних
	store := newFakeStore()
	store.uploadDelay["img1"] = 30 * time.Millisecond
	store.uploadDelay["img2"] = 15 * time.Millisecond
	syncer := newTestSynchronizer(store, nil, WithConcurrency(4))

	// Act
	refs, err := syncer.CreateAssets(context.Background(), images("img1", "img2", "img3", "img4"))

	// Assert
	require.NoError(t, err)
	require.Len(t, refs, 4)
	for i, ref := range refs {
		assert.True(t, strings.HasPrefix(ref.AssetID, "products/"), ref.AssetID)
		assert.Equal(t, fmt.Sprintf("img%d", i+1), store.nameOf(ref.AssetID))
		assert.NotEmpty(t, ref.URL)
	}
	assert.Equal(t, 4, store.count())
}

func TestCreateAssets_ScenarioD_FailureRollsBackBatch(t *testing.T) {
	// Arrange
	store := newFakeStore()
	store.failUpload["img3"] = apperror.Upstream("quota exceeded", errors.New("429"))
	recorder := NewMemoryRecorder()
	syncer := newTestSynchronizer(store, recorder, WithConcurrency(1))

	// Act
	refs, err := syncer.CreateAssets(context.Background(), images("img1", "img2", "img3"))

	// Assert
	assert.Nil(t, refs)
	assert.True(t, errors.Is(err, apperror.ErrUpstream))
	assert.Equal(t, 0, store.count(), "img1 and img2 must be destroyed")
	// Ключ img3 тоже удаляется: загрузка могла успеть сохранить объект
	assert.Len(t, store.destroyed, 3)
	assert.Empty(t, recorder.IDs())
}

func TestCreateAssets_EmptyInput(t *testing.T) {
	syncer := newTestSynchronizer(newFakeStore(), nil)

	_, err := syncer.CreateAssets(context.Background(), nil)

	assert.True(t, errors.Is(err, apperror.ErrValidation))
}

func TestCreateAssets_UntypedStoreErrorBecomesUpstream(t *testing.T) {
	store := newFakeStore()
	store.failUpload["img1"] = errors.New("connection refused")
	syncer := newTestSynchronizer(store, nil)

	_, err := syncer.CreateAssets(context.Background(), images("img1"))

	assert.True(t, errors.Is(err, apperror.ErrUpstream))
}

func TestCreateAssets_PerCallTimeout(t *testing.T) {
	// Arrange
	store := newFakeStore()
	store.uploadDelay["slow"] = time.Second
	syncer := newTestSynchronizer(store, nil, WithTimeout(20*time.Millisecond))

	// Act
	_, err := syncer.CreateAssets(context.Background(), images("fast", "slow"))

	// Assert
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperror.ErrUpstream))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, http.StatusGatewayTimeout, apperror.HTTPStatus(err))
	assert.Equal(t, 0, store.count())
}

func TestCreateAssets_CallerCancellationRollsBack(t *testing.T) {
	// Arrange
	store := newFakeStore()
	store.uploadDelay["slow"] = time.Second
	syncer := newTestSynchronizer(store, nil, WithTimeout(5*time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)

	// Act
	refs, err := syncer.CreateAssets(ctx, images("fast", "slow"))

	// Assert
	assert.Nil(t, refs)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.True(t, errors.Is(err, apperror.ErrUpstream))
	assert.Equal(t, 0, store.count(), "rollback must run on a detached context")
}

func TestCreateAssets_RollbackFailureIsQueued(t *testing.T) {
	// Arrange - img1 загрузится, но его удаление при откате упадет
	store := newFakeStore()
	store.failUpload["img2"] = apperror.Upstream("boom", errors.New("500"))
	recorder := NewMemoryRecorder()
	syncer := newTestSynchronizer(store, recorder, WithConcurrency(1))
	store.failDestroy["img1"] = errors.New("store unavailable")

	// Act
	_, err := syncer.CreateAssets(context.Background(), images("img1", "img2"))

	// Assert
	require.Error(t, err)
	ids := recorder.IDs()
	require.Len(t, ids, 1)
	assert.Equal(t, "img1", store.nameOf(ids[0]))
}

func TestCreateAssets_TimedOutButStoredUploadIsRolledBack(t *testing.T) {
	// Arrange - хранилище сохраняет объект, но отвечает после таймаута
	store := newFakeStore()
	store.ackDelay["img1"] = time.Second
	recorder := NewMemoryRecorder()
	syncer := newTestSynchronizer(store, recorder, WithTimeout(20*time.Millisecond))

	// Act
	refs, err := syncer.CreateAssets(context.Background(), images("img1"))

	// Assert
	assert.Nil(t, refs)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.True(t, errors.Is(err, apperror.ErrUpstream))
	assert.Equal(t, 0, store.count(), "object stored before the deadline must be destroyed")
	assert.Empty(t, recorder.IDs())
}

func TestCreateAssets_TimedOutUploadIsQueuedWhenRollbackFails(t *testing.T) {
	// Arrange
	store := newFakeStore()
	store.ackDelay["img1"] = time.Second
	store.failDestroy["img1"] = errors.New("store unavailable")
	recorder := NewMemoryRecorder()
	syncer := newTestSynchronizer(store, recorder, WithTimeout(20*time.Millisecond))

	// Act
	_, err := syncer.CreateAssets(context.Background(), images("img1"))

	// Assert
	require.Error(t, err)
	ids := recorder.IDs()
	require.Len(t, ids, 1)
	assert.True(t, store.has(ids[0]))
	assert.Equal(t, "img1", store.nameOf(ids[0]))
}

// ===================== ReplaceAssets =====================

func TestReplaceAssets_DifferentSetSizes(t *testing.T) {
	tests := []struct {
		name    string
		oldSize int
		newSize int
	}{
		{"more new than old", 1, 3},
		{"fewer new than old", 4, 2},
		{"no old assets", 0, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Arrange
			store := newFakeStore()
			syncer := newTestSynchronizer(store, nil)

			var oldNames []string
			for i := 0; i < tt.oldSize; i++ {
				oldNames = append(oldNames, fmt.Sprintf("old%d", i))
			}
			var oldRefs []entity.AssetRef
			if tt.oldSize > 0 {
				var err error
				oldRefs, err = syncer.CreateAssets(context.Background(), images(oldNames...))
				require.NoError(t, err)
			}

			var newNames []string
			for i := 0; i < tt.newSize; i++ {
				newNames = append(newNames, fmt.Sprintf("new%d", i))
			}

			var committed []entity.AssetRef

			// Act
			newRefs, err := syncer.ReplaceAssets(context.Background(), oldRefs, images(newNames...), func(refs []entity.AssetRef) error {
				committed = refs
				return nil
			})

			// Assert
			require.NoError(t, err)
			require.Len(t, newRefs, tt.newSize)
			assert.Equal(t, newRefs, committed)
			for i, ref := range newRefs {
				assert.Equal(t, fmt.Sprintf("new%d", i), store.nameOf(ref.AssetID))
				assert.True(t, store.has(ref.AssetID))
			}
			for _, ref := range oldRefs {
				assert.False(t, store.has(ref.AssetID))
			}
			assert.Equal(t, tt.newSize, store.count())
		})
	}
}

func TestReplaceAssets_CommitFailureKeepsOldSet(t *testing.T) {
	// Arrange
	store := newFakeStore()
	syncer := newTestSynchronizer(store, nil)
	oldRefs, err := syncer.CreateAssets(context.Background(), images("old"))
	require.NoError(t, err)
	commitErr := apperror.NotFound("product", "p1")

	// Act
	refs, err := syncer.ReplaceAssets(context.Background(), oldRefs, images("new1", "new2"), func([]entity.AssetRef) error {
		return commitErr
	})

	// Assert
	assert.Nil(t, refs)
	assert.ErrorIs(t, err, commitErr)
	assert.True(t, store.has(oldRefs[0].AssetID))
	assert.Equal(t, 1, store.count())
}

func TestReplaceAssets_UploadFailureDoesNotCommit(t *testing.T) {
	store := newFakeStore()
	store.failUpload["bad"] = apperror.Upstream("boom", errors.New("500"))
	syncer := newTestSynchronizer(store, nil)
	called := false

	_, err := syncer.ReplaceAssets(context.Background(), nil, images("good", "bad"), func([]entity.AssetRef) error {
		called = true
		return nil
	})

	assert.True(t, errors.Is(err, apperror.ErrUpstream))
	assert.False(t, called)
	assert.Equal(t, 0, store.count())
}

func TestReplaceAssets_OldDestroyFailureIsQueued(t *testing.T) {
	store := newFakeStore()
	recorder := NewMemoryRecorder()
	syncer := newTestSynchronizer(store, recorder)
	oldRefs := []entity.AssetRef{{AssetID: "products/stuck"}}
	store.failDestroy["products/stuck"] = errors.New("timeout")

	refs, err := syncer.ReplaceAssets(context.Background(), oldRefs, images("new"), func([]entity.AssetRef) error {
		return nil
	})

	require.NoError(t, err)
	assert.Len(t, refs, 1)
	assert.Equal(t, []string{"products/stuck"}, recorder.IDs())
}

// ===================== DestroyAssets =====================

func TestDestroyAssets_Idempotent(t *testing.T) {
	store := newFakeStore()
	syncer := newTestSynchronizer(store, nil)
	refs, err := syncer.CreateAssets(context.Background(), images("a", "b"))
	require.NoError(t, err)

	assert.NoError(t, syncer.DestroyAssets(context.Background(), refs))
	assert.NoError(t, syncer.DestroyAssets(context.Background(), refs))
	assert.Equal(t, 0, store.count())
}

func TestDestroyAssets_CollectsFailures(t *testing.T) {
	// Arrange
	store := newFakeStore()
	recorder := NewMemoryRecorder()
	syncer := newTestSynchronizer(store, recorder)
	refs := []entity.AssetRef{{AssetID: "x"}, {AssetID: "y"}, {AssetID: "z"}}
	store.failDestroy["x"] = errors.New("denied")
	store.failDestroy["z"] = context.DeadlineExceeded

	// Act
	err := syncer.DestroyAssets(context.Background(), refs)

	// Assert
	var destroyErr *DestroyError
	require.ErrorAs(t, err, &destroyErr)
	assert.True(t, errors.Is(err, apperror.ErrUpstream))
	assert.ElementsMatch(t, []string{"x", "z"}, destroyErr.AssetIDs())
	assert.True(t, destroyErr.Queued)
	assert.Equal(t, []string{"x", "z"}, recorder.IDs())
	assert.Contains(t, store.destroyed, "y")
}

func TestDestroyAssets_Empty(t *testing.T) {
	syncer := newTestSynchronizer(newFakeStore(), nil)

	assert.NoError(t, syncer.DestroyAssets(context.Background(), nil))
}

// ===================== RetryOrphans =====================

func TestRetryOrphans(t *testing.T) {
	// Arrange
	store := newFakeStore()
	recorder := NewMemoryRecorder()
	syncer := newTestSynchronizer(store, recorder)
	require.NoError(t, recorder.Record(context.Background(), []string{"ok1", "ok2", "bad"}, ReasonDestroy))
	store.failDestroy["bad"] = errors.New("still failing")

	// Act
	resolved, err := syncer.RetryOrphans(context.Background(), 10)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 2, resolved)
	assert.Equal(t, []string{"bad"}, recorder.IDs())

	// Следующая попытка отложена
	pending, err := recorder.Pending(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRetryOrphans_RespectsLimit(t *testing.T) {
	recorder := NewMemoryRecorder()
	syncer := newTestSynchronizer(newFakeStore(), recorder)
	require.NoError(t, recorder.Record(context.Background(), []string{"a", "b", "c"}, ReasonRollback))

	resolved, err := syncer.RetryOrphans(context.Background(), 2)

	require.NoError(t, err)
	assert.Equal(t, 2, resolved)
	assert.Len(t, recorder.IDs(), 1)
}

func TestNextAttempt(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, now.Add(30*time.Second), NextAttempt(1, now))
	assert.Equal(t, now.Add(60*time.Second), NextAttempt(2, now))
	assert.Equal(t, now.Add(120*time.Second), NextAttempt(3, now))
	assert.Equal(t, now.Add(6*time.Hour), NextAttempt(50, now))
}
