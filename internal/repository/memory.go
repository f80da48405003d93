package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/digkill/aire/internal/models"
)

// MemoryAnalysisLog backs the history when STORE_DRIVER=memory.
type MemoryAnalysisLog struct {
	mu   sync.RWMutex
	rows []models.Analysis
}

func NewMemoryAnalysisLog() *MemoryAnalysisLog {
	return &MemoryAnalysisLog{}
}

func (m *MemoryAnalysisLog) Append(_ context.Context, a *models.Analysis) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	m.mu.Lock()
	m.rows = append(m.rows, *a)
	m.mu.Unlock()
	return nil
}

func (m *MemoryAnalysisLog) ListByIdentity(_ context.Context, identity string, limit int) ([]models.Analysis, error) {
	m.mu.RLock()
	var out []models.Analysis
	for _, a := range m.rows {
		if a.Identity == identity {
			out = append(out, a)
		}
	}
	m.mu.RUnlock()

	// Stable on insertion order so equal timestamps still list newest first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type MemoryPaymentLog struct {
	mu     sync.RWMutex
	nextID int64
	rows   []models.Payment
}

func NewMemoryPaymentLog() *MemoryPaymentLog {
	return &MemoryPaymentLog{}
}

func (m *MemoryPaymentLog) Create(_ context.Context, p *models.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	p.ID = m.nextID
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	m.rows = append(m.rows, *p)
	return nil
}

func (m *MemoryPaymentLog) ListByIdentity(_ context.Context, identity string) ([]models.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Payment
	for i := len(m.rows) - 1; i >= 0; i-- {
		if m.rows[i].Identity == identity {
			out = append(out, m.rows[i])
		}
	}
	return out, nil
}
