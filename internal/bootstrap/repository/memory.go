package repository

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// MemoryRepository implements Repository in process memory. It backs runs
// started without a database; their state is lost on exit.
type MemoryRepository struct {
	mu        sync.Mutex
	now       func() time.Time
	runs      map[uuid.UUID]*Run
	txs       []Transaction
	artifacts map[uuid.UUID]map[string]*Artifact
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		now:       time.Now,
		runs:      make(map[uuid.UUID]*Run),
		artifacts: make(map[uuid.UUID]map[string]*Artifact),
	}
}

func cloneRun(r *Run) *Run {
	c := *r
	if r.CurrentStage != nil {
		s := *r.CurrentStage
		c.CurrentStage = &s
	}
	if r.ErrorMessage != nil {
		s := *r.ErrorMessage
		c.ErrorMessage = &s
	}
	c.Config = append(json.RawMessage(nil), r.Config...)
	return &c
}

// CreateRun stores a new run.
func (m *MemoryRepository) CreateRun(_ context.Context, r *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	r.Config = configJSON(r.Config)
	r.CreatedAt = m.now()
	r.UpdatedAt = r.CreatedAt
	m.runs[r.ID] = cloneRun(r)
	return nil
}

// GetRun returns a copy of the run.
func (m *MemoryRepository) GetRun(_ context.Context, id uuid.UUID) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRun(r), nil
}

// UpdateRunStatus updates status and, when non-nil, stage.
func (m *MemoryRepository) UpdateRunStatus(_ context.Context, id uuid.UUID, status Status, stage *string) error {
	return m.update(id, func(r *Run) {
		r.Status = status
		if stage != nil {
			s := *stage
			r.CurrentStage = &s
		}
	})
}

// SetRunError marks the run failed with errMsg.
func (m *MemoryRepository) SetRunError(_ context.Context, id uuid.UUID, errMsg string) error {
	return m.update(id, func(r *Run) {
		r.Status = StatusFailed
		r.ErrorMessage = &errMsg
	})
}

// ClearRunError removes the stored error message.
func (m *MemoryRepository) ClearRunError(_ context.Context, id uuid.UUID) error {
	return m.update(id, func(r *Run) { r.ErrorMessage = nil })
}

func (m *MemoryRepository) update(id uuid.UUID, fn func(r *Run)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.runs[id]
	if !ok {
		return ErrNotFound
	}
	fn(r)
	r.UpdatedAt = m.now()
	return nil
}

// ListRuns returns every run, newest first.
func (m *MemoryRepository) ListRuns(_ context.Context) ([]*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	runs := make([]*Run, 0, len(m.runs))
	for _, r := range m.runs {
		runs = append(runs, cloneRun(r))
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].CreatedAt.After(runs[j].CreatedAt) })
	return runs, nil
}

// MarkStaleRunsFailed fails running runs not updated within timeout.
func (m *MemoryRepository) MarkStaleRunsFailed(_ context.Context, timeout time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-timeout)
	n := 0
	for _, r := range m.runs {
		if r.Status == StatusRunning && r.UpdatedAt.Before(cutoff) {
			msg := staleRunMessage
			r.Status = StatusFailed
			r.ErrorMessage = &msg
			r.UpdatedAt = m.now()
			n++
		}
	}
	return n, nil
}

// RecordTransaction appends a transaction.
func (m *MemoryRepository) RecordTransaction(_ context.Context, tx *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if tx.ID == "" {
		tx.ID = ulid.Make().String()
	}
	tx.CreatedAt = m.now()
	m.txs = append(m.txs, *tx)
	return nil
}

// GetTransactionsByRun returns the run's transactions ordered by ID.
func (m *MemoryRepository) GetTransactionsByRun(_ context.Context, runID uuid.UUID) ([]Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Transaction
	for _, tx := range m.txs {
		if tx.RunID == runID {
			out = append(out, tx)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetTransactionByHash finds a transaction by hash.
func (m *MemoryRepository) GetTransactionByHash(_ context.Context, hash string) (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, tx := range m.txs {
		if tx.TxHash == hash {
			found := tx
			return &found, nil
		}
	}
	return nil, ErrNotFound
}

// SaveArtifact upserts by run and type.
func (m *MemoryRepository) SaveArtifact(_ context.Context, a *Artifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	byType, ok := m.artifacts[a.RunID]
	if !ok {
		byType = make(map[string]*Artifact)
		m.artifacts[a.RunID] = byType
	}
	if existing, ok := byType[a.ArtifactType]; ok {
		a.CreatedAt = existing.CreatedAt
	} else {
		a.CreatedAt = m.now()
	}
	stored := *a
	stored.Content = append(json.RawMessage(nil), a.Content...)
	byType[a.ArtifactType] = &stored
	return nil
}

// GetArtifact returns an artifact by run and type.
func (m *MemoryRepository) GetArtifact(_ context.Context, runID uuid.UUID, artifactType string) (*Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.artifacts[runID][artifactType]
	if !ok {
		return nil, ErrNotFound
	}
	found := *a
	return &found, nil
}

// GetAllArtifacts returns the run's artifacts ordered by creation time.
func (m *MemoryRepository) GetAllArtifacts(_ context.Context, runID uuid.UUID) ([]Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Artifact, 0, len(m.artifacts[runID]))
	for _, a := range m.artifacts[runID] {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ArtifactType < out[j].ArtifactType
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

var _ Repository = (*MemoryRepository)(nil)
