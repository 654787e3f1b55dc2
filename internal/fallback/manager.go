package fallback

import (
	"context"
	"sync"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/stroymat/matrag/internal/model"
	appErr "github.com/stroymat/matrag/internal/pkg/errors"
	"github.com/stroymat/matrag/internal/vector"
)

const (
	BackendQdrant   = "qdrant"
	BackendPGVector = "pgvector"
)

// VectorIndex is the primary (Qdrant) search backend.
type VectorIndex interface {
	Upsert(ctx context.Context, points []vector.Point) error
	Search(ctx context.Context, vec []float32, limit int) ([]vector.ScoredPoint, error)
	Delete(ctx context.Context, ids []string) error
	Healthy(ctx context.Context) bool
}

// StoreSearcher is the Postgres-side fallback search.
type StoreSearcher interface {
	SearchByVector(ctx context.Context, embedding []float32, limit int) ([]model.ScoredMaterial, error)
}

type Hit struct {
	MaterialID string
	Score      float32
}

// Manager routes vector searches to Qdrant while it answers and keeps
// serving from pgvector during a cooldown window after a failure.
// Postgres is the source of truth, so a Qdrant upsert failure only
// degrades search freshness, never data.
type Manager struct {
	index    VectorIndex
	store    StoreSearcher
	cooldown time.Duration

	mu          sync.Mutex
	down        bool
	lastFailure time.Time
}

func NewManager(index VectorIndex, store StoreSearcher, cooldown time.Duration) *Manager {
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Manager{index: index, store: store, cooldown: cooldown}
}

// Search returns scored material IDs and the backend that answered.
func (m *Manager) Search(ctx context.Context, embedding []float32, limit int) ([]Hit, string, error) {
	if m.index != nil && m.shouldTryPrimary() {
		points, err := m.index.Search(ctx, embedding, limit)
		if err == nil {
			m.markUp()
			hits := make([]Hit, 0, len(points))
			for _, p := range points {
				hits = append(hits, Hit{MaterialID: p.ID, Score: p.Score})
			}
			return hits, BackendQdrant, nil
		}
		m.markDown(ctx, err)
	}
	if m.store == nil {
		return nil, "", appErr.ErrVectorDown
	}
	scored, err := m.store.SearchByVector(ctx, embedding, limit)
	if err != nil {
		return nil, "", appErr.ErrVectorDown
	}
	hits := make([]Hit, 0, len(scored))
	for _, s := range scored {
		hits = append(hits, Hit{MaterialID: s.Material.ID, Score: s.Score})
	}
	return hits, BackendPGVector, nil
}

// Upsert mirrors a stored material into the index. Failures are logged
// and trip the cooldown; the caller has already persisted to Postgres.
func (m *Manager) Upsert(ctx context.Context, points []vector.Point) {
	if m.index == nil {
		return
	}
	if !m.shouldTryPrimary() {
		return
	}
	if err := m.index.Upsert(ctx, points); err != nil {
		m.markDown(ctx, err)
		logutil.GetLogger(ctx).Warn("qdrant upsert failed, index is stale",
			zap.Int("points", len(points)), zap.Error(err))
		return
	}
	m.markUp()
}

func (m *Manager) Delete(ctx context.Context, ids []string) {
	if m.index == nil || !m.shouldTryPrimary() {
		return
	}
	if err := m.index.Delete(ctx, ids); err != nil {
		m.markDown(ctx, err)
		logutil.GetLogger(ctx).Warn("qdrant delete failed", zap.Error(err))
		return
	}
	m.markUp()
}

// PrimaryHealthy probes Qdrant directly, bypassing the cooldown.
func (m *Manager) PrimaryHealthy(ctx context.Context) bool {
	if m.index == nil {
		return false
	}
	healthy := m.index.Healthy(ctx)
	if healthy {
		m.markUp()
	}
	return healthy
}

func (m *Manager) shouldTryPrimary() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.down {
		return true
	}
	return time.Since(m.lastFailure) >= m.cooldown
}

func (m *Manager) markUp() {
	m.mu.Lock()
	m.down = false
	m.mu.Unlock()
}

func (m *Manager) markDown(ctx context.Context, err error) {
	m.mu.Lock()
	first := !m.down
	m.down = true
	m.lastFailure = time.Now()
	m.mu.Unlock()
	if first {
		logutil.GetLogger(ctx).Warn("qdrant marked unavailable, falling back to pgvector",
			zap.Duration("cooldown", m.cooldown), zap.Error(err))
	}
}
