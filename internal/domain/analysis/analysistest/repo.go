// Package analysistest provides in-memory analysis and strategy repositories
// for tests of packages that depend on analyses.
package analysistest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/medbill/medbill/internal/domain/analysis"
	"github.com/medbill/medbill/internal/platform/db"
)

// Store backs both repositories so deleting a result cascades to its
// strategies, as the foreign key does.
type Store struct {
	mu         sync.Mutex
	results    map[uuid.UUID]*analysis.Result
	strategies map[uuid.UUID]*analysis.Strategy
	batchErr   error
	hidden     bool
}

func NewStore() *Store {
	return &Store{
		results:    make(map[uuid.UUID]*analysis.Result),
		strategies: make(map[uuid.UUID]*analysis.Strategy),
	}
}

func (s *Store) Analyses() analysis.AnalysisRepository   { return analysisRepo{s} }
func (s *Store) Strategies() analysis.StrategyRepository { return strategyRepo{s} }

// FailBatches makes CreateBatch return err.
func (s *Store) FailBatches(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batchErr = err
}

// HideResults makes GetByBill miss while Create still sees stored rows, as
// when another writer inserts between the existence check and the insert.
func (s *Store) HideResults(hide bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hidden = hide
}

func cloneStrategy(st *analysis.Strategy) *analysis.Strategy {
	cp := *st
	cp.ActionSteps = append([]analysis.ActionStep(nil), st.ActionSteps...)
	return &cp
}

type analysisRepo struct{ *Store }

func (m analysisRepo) Create(_ context.Context, r *analysis.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.results[r.BillID]; ok {
		return db.ErrUniqueViolation
	}
	r.ID = uuid.New()
	r.CreatedAt = time.Now()
	r.UpdatedAt = r.CreatedAt
	cp := *r
	m.results[r.BillID] = &cp
	return nil
}

func (m analysisRepo) GetByBill(_ context.Context, billID uuid.UUID) (*analysis.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.results[billID]
	if !ok || m.hidden {
		return nil, db.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m analysisRepo) DeleteByBill(_ context.Context, billID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.results[billID]
	if !ok {
		return db.ErrNotFound
	}
	delete(m.results, billID)
	for id, st := range m.strategies {
		if st.AnalysisID == r.ID {
			delete(m.strategies, id)
		}
	}
	return nil
}

type strategyRepo struct{ *Store }

func (m strategyRepo) CreateBatch(_ context.Context, items []*analysis.Strategy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.batchErr != nil {
		return m.batchErr
	}
	for _, st := range items {
		st.ID = uuid.New()
		st.CreatedAt = time.Now()
		st.UpdatedAt = st.CreatedAt
		m.strategies[st.ID] = cloneStrategy(st)
	}
	return nil
}

func (m strategyRepo) ListByBill(_ context.Context, billID uuid.UUID) ([]*analysis.Strategy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*analysis.Strategy
	for _, st := range m.strategies {
		if st.BillID == billID {
			out = append(out, cloneStrategy(st))
		}
	}
	return out, nil
}

func (m strategyRepo) GetByID(_ context.Context, id uuid.UUID) (*analysis.Strategy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.strategies[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return cloneStrategy(st), nil
}

func (m strategyRepo) UpdateStatus(_ context.Context, id uuid.UUID, from, to analysis.StrategyStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.strategies[id]
	if !ok || st.Status != from {
		return analysis.ErrStrategyConflict
	}
	st.Status = to
	return nil
}

func (m strategyRepo) UpdateSteps(_ context.Context, id uuid.UUID, steps []analysis.ActionStep) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.strategies[id]
	if !ok {
		return db.ErrNotFound
	}
	st.ActionSteps = append([]analysis.ActionStep(nil), steps...)
	return nil
}
