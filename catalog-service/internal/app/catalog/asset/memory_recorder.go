package asset

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRecorder - очередь осиротевших изображений в памяти процесса.
// Используется в dev окружении и тестах, при рестарте очередь теряется
type MemoryRecorder struct {
	mu      sync.Mutex
	orphans map[string]*Orphan
	now     func() time.Time
}

func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{
		orphans: make(map[string]*Orphan),
		now:     time.Now,
	}
}

func (r *MemoryRecorder) Record(_ context.Context, assetIDs []string, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for _, id := range assetIDs {
		if _, exists := r.orphans[id]; exists {
			continue
		}
		r.orphans[id] = &Orphan{
			AssetID:       id,
			Reason:        reason,
			CreatedAt:     now,
			NextAttemptAt: now,
		}
	}
	return nil
}

func (r *MemoryRecorder) Pending(_ context.Context, limit int) ([]Orphan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	out := make([]Orphan, 0, len(r.orphans))
	for _, o := range r.orphans {
		if !o.NextAttemptAt.After(now) {
			out = append(out, *o)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].NextAttemptAt.Before(out[j].NextAttemptAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRecorder) Resolve(_ context.Context, assetID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.orphans, assetID)
	return nil
}

func (r *MemoryRecorder) Retry(_ context.Context, assetID string, lastErr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.orphans[assetID]
	if !ok {
		return nil
	}
	o.Attempts++
	o.LastError = lastErr
	o.NextAttemptAt = NextAttempt(o.Attempts, r.now())
	return nil
}

// IDs возвращает идентификаторы изображений в очереди, отсортированные по возрастанию
func (r *MemoryRecorder) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.orphans))
	for id := range r.orphans {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
