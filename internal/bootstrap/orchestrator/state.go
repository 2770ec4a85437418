package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/hashstrat/dao-deployer/internal/bootstrap/poller"
	"github.com/hashstrat/dao-deployer/internal/bootstrap/repository"
	"github.com/hashstrat/dao-deployer/internal/bootstrap/sequencer"
)

// Stage represents a deployment stage. A run is in a stage once the work
// that produces it has been confirmed.
type Stage string

const (
	// StageInit is the initial stage of a new run.
	StageInit Stage = "init"
	// StageTokenDeployed means the DAO token is on chain.
	StageTokenDeployed Stage = "token_deployed"
	// StageFarmDeployed means the farm is on chain.
	StageFarmDeployed Stage = "farm_deployed"
	// StageSupplyTransferred means the farm holds the whole token supply.
	StageSupplyTransferred Stage = "supply_transferred"
	// StageRewardsInitialized means the farm's reward periods exist.
	StageRewardsInitialized Stage = "rewards_initialized"
	// StageRegistrationsSubmitted means every addLPToken was sent.
	StageRegistrationsSubmitted Stage = "registrations_submitted"
	// StageGovernanceDeployed means the governance contract is on chain.
	StageGovernanceDeployed Stage = "governance_deployed"
	// StageDone indicates the run is complete.
	StageDone Stage = "done"
)

// String returns the string representation of the stage.
func (s Stage) String() string {
	return string(s)
}

// StageOrder defines the order of deployment stages.
var StageOrder = []Stage{
	StageInit,
	StageTokenDeployed,
	StageFarmDeployed,
	StageSupplyTransferred,
	StageRewardsInitialized,
	StageRegistrationsSubmitted,
	StageGovernanceDeployed,
	StageDone,
}

// StageIndex returns the index of a stage in the deployment order.
// Returns -1 if stage not found.
func StageIndex(stage Stage) int {
	for i, s := range StageOrder {
		if s == stage {
			return i
		}
	}
	return -1
}

// Artifact types stored per run.
const (
	artifactRunState  = "run_state"
	artifactAddresses = "addresses"
)

// Registration is the persisted form of a poller registration.
type Registration struct {
	LPToken  common.Address `json:"lp_token"`
	State    string         `json:"state"`
	TxHash   common.Hash    `json:"tx_hash"`
	Attempts int            `json:"attempts"`
	Error    string         `json:"error,omitempty"`
}

func registrationsFrom(regs []poller.PendingRegistration) []Registration {
	out := make([]Registration, len(regs))
	for i, r := range regs {
		out[i] = Registration{
			LPToken:  r.LPToken,
			State:    r.State.String(),
			TxHash:   r.TxHash,
			Attempts: r.Attempts,
		}
		if r.Err != nil {
			out[i].Error = r.Err.Error()
		}
	}
	return out
}

// Snapshot is the run state written after every transition.
type Snapshot struct {
	RunID         uuid.UUID                   `json:"run_id"`
	Stage         Stage                       `json:"stage"`
	Token         *sequencer.DeployedContract `json:"token,omitempty"`
	Farm          *sequencer.DeployedContract `json:"farm,omitempty"`
	Governance    *sequencer.DeployedContract `json:"governance,omitempty"`
	RewardPeriods int64                       `json:"reward_periods"`
	Registrations []Registration              `json:"registrations,omitempty"`
}

// Addresses is the summary artifact saved when a run completes.
type Addresses struct {
	Token      common.Address   `json:"token"`
	Farm       common.Address   `json:"farm"`
	Governance common.Address   `json:"governance"`
	LPTokens   []common.Address `json:"lp_tokens"`
}

// StateWriter provides run state persistence. It wraps the repository and
// tracks the current stage, the transaction history and the snapshot.
type StateWriter struct {
	repo     repository.Repository
	runID    uuid.UUID
	onUpdate func(runID uuid.UUID, stage string)
}

// NewStateWriter creates a new StateWriter for the given run.
func NewStateWriter(repo repository.Repository, runID uuid.UUID) *StateWriter {
	return &StateWriter{repo: repo, runID: runID}
}

// SetUpdateCallback sets an optional callback for stage updates.
func (w *StateWriter) SetUpdateCallback(fn func(uuid.UUID, string)) {
	w.onUpdate = fn
}

func (w *StateWriter) notify(stage string) {
	if w.onUpdate != nil {
		w.onUpdate(w.runID, stage)
	}
}

// WriteState persists the snapshot.
func (w *StateWriter) WriteState(ctx context.Context, snap *Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	return w.SaveArtifact(ctx, artifactRunState, data)
}

// ReadState returns the last saved snapshot, or nil if none exists yet.
func (w *StateWriter) ReadState(ctx context.Context) (*Snapshot, error) {
	data, err := w.GetArtifact(ctx, artifactRunState)
	if err != nil || data == nil {
		return nil, err
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	return &snap, nil
}

// LoadSnapshot returns the last snapshot saved for a run, or nil if none
// was saved.
func LoadSnapshot(ctx context.Context, repo repository.Repository, runID uuid.UUID) (*Snapshot, error) {
	return NewStateWriter(repo, runID).ReadState(ctx)
}

// UpdateStage records stage as the run's current stage.
func (w *StateWriter) UpdateStage(ctx context.Context, stage Stage) error {
	s := stage.String()
	if err := w.repo.UpdateRunStatus(ctx, w.runID, repository.StatusRunning, &s); err != nil {
		return fmt.Errorf("update stage: %w", err)
	}
	w.notify(s)
	return nil
}

// GetCurrentStage returns the run's current stage.
func (w *StateWriter) GetCurrentStage(ctx context.Context) (Stage, error) {
	run, err := w.repo.GetRun(ctx, w.runID)
	if err != nil {
		return "", fmt.Errorf("get run: %w", err)
	}
	if run.CurrentStage == nil {
		return StageInit, nil
	}
	return Stage(*run.CurrentStage), nil
}

// RecordTransaction records a transaction issued while producing stage.
func (w *StateWriter) RecordTransaction(ctx context.Context, stage Stage, contract, method string, txHash common.Hash, block uint64) error {
	tx := &repository.Transaction{
		RunID:       w.runID,
		Stage:       stage.String(),
		Contract:    contract,
		Method:      method,
		TxHash:      txHash.Hex(),
		BlockNumber: block,
	}
	if err := w.repo.RecordTransaction(ctx, tx); err != nil {
		return fmt.Errorf("record transaction: %w", err)
	}
	return nil
}

// GetTransactions returns all transactions for this run.
func (w *StateWriter) GetTransactions(ctx context.Context) ([]repository.Transaction, error) {
	txs, err := w.repo.GetTransactionsByRun(ctx, w.runID)
	if err != nil {
		return nil, fmt.Errorf("get transactions: %w", err)
	}
	return txs, nil
}

// MarkComplete marks the run as completed.
func (w *StateWriter) MarkComplete(ctx context.Context) error {
	s := StageDone.String()
	if err := w.repo.UpdateRunStatus(ctx, w.runID, repository.StatusCompleted, &s); err != nil {
		return fmt.Errorf("mark complete: %w", err)
	}
	w.notify(s)
	return nil
}

// MarkFailed marks the run as failed with an error message. The current
// stage is kept so the run can be resumed from it.
func (w *StateWriter) MarkFailed(ctx context.Context, errMsg string) error {
	if err := w.repo.SetRunError(ctx, w.runID, errMsg); err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	w.notify("failed")
	return nil
}

// ClearError clears the error message from a run being resumed.
func (w *StateWriter) ClearError(ctx context.Context) error {
	if err := w.repo.ClearRunError(ctx, w.runID); err != nil {
		return fmt.Errorf("clear error: %w", err)
	}
	return nil
}

// CanResume reports whether the run stopped before completing.
func (w *StateWriter) CanResume(ctx context.Context) (bool, error) {
	run, err := w.repo.GetRun(ctx, w.runID)
	if err != nil {
		return false, fmt.Errorf("get run: %w", err)
	}

	switch run.Status {
	case repository.StatusRunning, repository.StatusFailed:
		return true, nil
	default:
		return false, nil
	}
}

// GetResumePoint returns the stage and snapshot to resume from.
func (w *StateWriter) GetResumePoint(ctx context.Context) (Stage, *Snapshot, error) {
	stage, err := w.GetCurrentStage(ctx)
	if err != nil {
		return "", nil, err
	}

	snap, err := w.ReadState(ctx)
	if err != nil {
		return stage, nil, err
	}
	return stage, snap, nil
}

// SaveArtifact saves a JSON artifact for the run.
func (w *StateWriter) SaveArtifact(ctx context.Context, artifactType string, content json.RawMessage) error {
	a := &repository.Artifact{
		RunID:        w.runID,
		ArtifactType: artifactType,
		Content:      content,
	}
	if err := w.repo.SaveArtifact(ctx, a); err != nil {
		return fmt.Errorf("save artifact %s: %w", artifactType, err)
	}
	return nil
}

// GetArtifact returns an artifact's content, or nil if it does not exist.
func (w *StateWriter) GetArtifact(ctx context.Context, artifactType string) (json.RawMessage, error) {
	a, err := w.repo.GetArtifact(ctx, w.runID, artifactType)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get artifact %s: %w", artifactType, err)
	}
	if a == nil {
		return nil, nil
	}
	return a.Content, nil
}
