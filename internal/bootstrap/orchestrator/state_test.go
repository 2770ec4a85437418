package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hashstrat/dao-deployer/internal/bootstrap/repository"
	"github.com/hashstrat/dao-deployer/internal/bootstrap/sequencer"
)

// MockRepository is a mock implementation of repository.Repository.
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) CreateRun(ctx context.Context, r *repository.Run) error {
	args := m.Called(ctx, r)
	return args.Error(0)
}

func (m *MockRepository) GetRun(ctx context.Context, id uuid.UUID) (*repository.Run, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.Run), args.Error(1)
}

func (m *MockRepository) UpdateRunStatus(ctx context.Context, id uuid.UUID, status repository.Status, stage *string) error {
	args := m.Called(ctx, id, status, stage)
	return args.Error(0)
}

func (m *MockRepository) SetRunError(ctx context.Context, id uuid.UUID, errMsg string) error {
	args := m.Called(ctx, id, errMsg)
	return args.Error(0)
}

func (m *MockRepository) ClearRunError(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockRepository) ListRuns(ctx context.Context) ([]*repository.Run, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*repository.Run), args.Error(1)
}

func (m *MockRepository) MarkStaleRunsFailed(ctx context.Context, timeout time.Duration) (int, error) {
	args := m.Called(ctx, timeout)
	return args.Int(0), args.Error(1)
}

func (m *MockRepository) RecordTransaction(ctx context.Context, tx *repository.Transaction) error {
	args := m.Called(ctx, tx)
	return args.Error(0)
}

func (m *MockRepository) GetTransactionsByRun(ctx context.Context, runID uuid.UUID) ([]repository.Transaction, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]repository.Transaction), args.Error(1)
}

func (m *MockRepository) GetTransactionByHash(ctx context.Context, hash string) (*repository.Transaction, error) {
	args := m.Called(ctx, hash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.Transaction), args.Error(1)
}

func (m *MockRepository) SaveArtifact(ctx context.Context, a *repository.Artifact) error {
	args := m.Called(ctx, a)
	return args.Error(0)
}

func (m *MockRepository) GetArtifact(ctx context.Context, runID uuid.UUID, artifactType string) (*repository.Artifact, error) {
	args := m.Called(ctx, runID, artifactType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.Artifact), args.Error(1)
}

func (m *MockRepository) GetAllArtifacts(ctx context.Context, runID uuid.UUID) ([]repository.Artifact, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]repository.Artifact), args.Error(1)
}

func TestStateWriter_SetUpdateCallback(t *testing.T) {
	mockRepo := new(MockRepository)
	runID := uuid.New()
	writer := NewStateWriter(mockRepo, runID)

	var gotID uuid.UUID
	var gotStage string
	writer.SetUpdateCallback(func(id uuid.UUID, stage string) {
		gotID = id
		gotStage = stage
	})

	mockRepo.On("UpdateRunStatus", mock.Anything, runID, repository.StatusRunning, mock.Anything).Return(nil)

	require.NoError(t, writer.UpdateStage(context.Background(), StageFarmDeployed))
	assert.Equal(t, runID, gotID)
	assert.Equal(t, "farm_deployed", gotStage)
}

func TestStateWriter_WriteState(t *testing.T) {
	t.Run("saves snapshot as run_state artifact", func(t *testing.T) {
		mockRepo := new(MockRepository)
		runID := uuid.New()
		writer := NewStateWriter(mockRepo, runID)

		snap := &Snapshot{
			RunID: runID,
			Stage: StageTokenDeployed,
			Token: &sequencer.DeployedContract{Name: "HashStratDAOToken", Address: common.HexToAddress("0x01")},
		}

		mockRepo.On("SaveArtifact", mock.Anything, mock.MatchedBy(func(a *repository.Artifact) bool {
			var got Snapshot
			return a.RunID == runID &&
				a.ArtifactType == "run_state" &&
				json.Unmarshal(a.Content, &got) == nil &&
				got.Stage == StageTokenDeployed
		})).Return(nil)

		require.NoError(t, writer.WriteState(context.Background(), snap))
		mockRepo.AssertExpectations(t)
	})

	t.Run("returns error on save failure", func(t *testing.T) {
		mockRepo := new(MockRepository)
		writer := NewStateWriter(mockRepo, uuid.New())

		mockRepo.On("SaveArtifact", mock.Anything, mock.Anything).Return(fmt.Errorf("database error"))

		err := writer.WriteState(context.Background(), &Snapshot{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "save artifact run_state")
	})
}

func TestStateWriter_ReadState(t *testing.T) {
	t.Run("returns snapshot from artifact", func(t *testing.T) {
		mockRepo := new(MockRepository)
		runID := uuid.New()
		writer := NewStateWriter(mockRepo, runID)

		content := json.RawMessage(`{"stage":"rewards_initialized","reward_periods":10}`)
		mockRepo.On("GetArtifact", mock.Anything, runID, "run_state").Return(&repository.Artifact{
			RunID:        runID,
			ArtifactType: "run_state",
			Content:      content,
		}, nil)

		snap, err := writer.ReadState(context.Background())
		require.NoError(t, err)
		require.NotNil(t, snap)
		assert.Equal(t, StageRewardsInitialized, snap.Stage)
		assert.Equal(t, int64(10), snap.RewardPeriods)
	})

	t.Run("returns nil for missing state", func(t *testing.T) {
		mockRepo := new(MockRepository)
		runID := uuid.New()
		writer := NewStateWriter(mockRepo, runID)

		mockRepo.On("GetArtifact", mock.Anything, runID, "run_state").Return(nil, repository.ErrNotFound)

		snap, err := writer.ReadState(context.Background())
		require.NoError(t, err)
		assert.Nil(t, snap)
	})

	t.Run("returns error for corrupt state", func(t *testing.T) {
		mockRepo := new(MockRepository)
		runID := uuid.New()
		writer := NewStateWriter(mockRepo, runID)

		mockRepo.On("GetArtifact", mock.Anything, runID, "run_state").Return(&repository.Artifact{
			Content: json.RawMessage(`{"stage":`),
		}, nil)

		_, err := writer.ReadState(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unmarshal state")
	})
}

func TestStateWriter_GetCurrentStage(t *testing.T) {
	t.Run("returns init when no stage set", func(t *testing.T) {
		mockRepo := new(MockRepository)
		runID := uuid.New()
		writer := NewStateWriter(mockRepo, runID)

		mockRepo.On("GetRun", mock.Anything, runID).Return(&repository.Run{ID: runID}, nil)

		stage, err := writer.GetCurrentStage(context.Background())
		require.NoError(t, err)
		assert.Equal(t, StageInit, stage)
	})

	t.Run("returns current stage", func(t *testing.T) {
		mockRepo := new(MockRepository)
		runID := uuid.New()
		writer := NewStateWriter(mockRepo, runID)

		s := StageSupplyTransferred.String()
		mockRepo.On("GetRun", mock.Anything, runID).Return(&repository.Run{ID: runID, CurrentStage: &s}, nil)

		stage, err := writer.GetCurrentStage(context.Background())
		require.NoError(t, err)
		assert.Equal(t, StageSupplyTransferred, stage)
	})

	t.Run("returns error when run missing", func(t *testing.T) {
		mockRepo := new(MockRepository)
		runID := uuid.New()
		writer := NewStateWriter(mockRepo, runID)

		mockRepo.On("GetRun", mock.Anything, runID).Return(nil, repository.ErrNotFound)

		_, err := writer.GetCurrentStage(context.Background())
		assert.ErrorIs(t, err, repository.ErrNotFound)
	})
}

func TestStateWriter_RecordTransaction(t *testing.T) {
	mockRepo := new(MockRepository)
	runID := uuid.New()
	writer := NewStateWriter(mockRepo, runID)

	hash := common.HexToHash("0xabc")
	mockRepo.On("RecordTransaction", mock.Anything, mock.MatchedBy(func(tx *repository.Transaction) bool {
		return tx.RunID == runID &&
			tx.Stage == "supply_transferred" &&
			tx.Contract == "HashStratDAOToken" &&
			tx.Method == "transfer" &&
			tx.TxHash == hash.Hex() &&
			tx.BlockNumber == 7
	})).Return(nil)

	err := writer.RecordTransaction(context.Background(), StageSupplyTransferred, "HashStratDAOToken", "transfer", hash, 7)
	require.NoError(t, err)
	mockRepo.AssertExpectations(t)
}

func TestStateWriter_MarkComplete(t *testing.T) {
	mockRepo := new(MockRepository)
	runID := uuid.New()
	writer := NewStateWriter(mockRepo, runID)

	done := StageDone.String()
	mockRepo.On("UpdateRunStatus", mock.Anything, runID, repository.StatusCompleted, &done).Return(nil)

	require.NoError(t, writer.MarkComplete(context.Background()))
	mockRepo.AssertExpectations(t)
}

func TestStateWriter_MarkFailed(t *testing.T) {
	mockRepo := new(MockRepository)
	runID := uuid.New()
	writer := NewStateWriter(mockRepo, runID)

	var gotStage string
	writer.SetUpdateCallback(func(_ uuid.UUID, stage string) { gotStage = stage })

	mockRepo.On("SetRunError", mock.Anything, runID, "deploy farm: out of gas").Return(nil)

	require.NoError(t, writer.MarkFailed(context.Background(), "deploy farm: out of gas"))
	assert.Equal(t, "failed", gotStage)
	mockRepo.AssertExpectations(t)
}

func TestStateWriter_CanResume(t *testing.T) {
	tests := []struct {
		name      string
		status    repository.Status
		canResume bool
	}{
		{"running run can resume", repository.StatusRunning, true},
		{"failed run can resume", repository.StatusFailed, true},
		{"pending run cannot resume", repository.StatusPending, false},
		{"completed run cannot resume", repository.StatusCompleted, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockRepo := new(MockRepository)
			runID := uuid.New()
			writer := NewStateWriter(mockRepo, runID)

			mockRepo.On("GetRun", mock.Anything, runID).Return(&repository.Run{ID: runID, Status: tt.status}, nil)

			canResume, err := writer.CanResume(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.canResume, canResume)
		})
	}
}

func TestStateWriter_GetResumePoint(t *testing.T) {
	mockRepo := new(MockRepository)
	runID := uuid.New()
	writer := NewStateWriter(mockRepo, runID)

	stage := StageFarmDeployed.String()
	mockRepo.On("GetRun", mock.Anything, runID).Return(&repository.Run{ID: runID, CurrentStage: &stage}, nil)
	mockRepo.On("GetArtifact", mock.Anything, runID, "run_state").Return(&repository.Artifact{
		Content: json.RawMessage(`{"stage":"farm_deployed"}`),
	}, nil)

	gotStage, snap, err := writer.GetResumePoint(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StageFarmDeployed, gotStage)
	require.NotNil(t, snap)
	assert.Equal(t, StageFarmDeployed, snap.Stage)
}

func TestStateWriter_GetArtifact(t *testing.T) {
	t.Run("propagates repository errors", func(t *testing.T) {
		mockRepo := new(MockRepository)
		runID := uuid.New()
		writer := NewStateWriter(mockRepo, runID)

		mockRepo.On("GetArtifact", mock.Anything, runID, "addresses").Return(nil, fmt.Errorf("connection reset"))

		_, err := writer.GetArtifact(context.Background(), "addresses")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "get artifact addresses")
	})
}

func TestStageOrder(t *testing.T) {
	assert.Equal(t, StageInit, StageOrder[0])
	assert.Equal(t, StageDone, StageOrder[len(StageOrder)-1])
	assert.Less(t, StageIndex(StageRegistrationsSubmitted), StageIndex(StageGovernanceDeployed))
	assert.Equal(t, -1, StageIndex(Stage("bogus")))

	for i, s := range StageOrder {
		assert.Equal(t, i, StageIndex(s))
	}
}
