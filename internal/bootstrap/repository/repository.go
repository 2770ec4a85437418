package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// Repository defines the interface for run data operations.
type Repository interface {
	// Run operations
	CreateRun(ctx context.Context, r *Run) error
	GetRun(ctx context.Context, id uuid.UUID) (*Run, error)
	UpdateRunStatus(ctx context.Context, id uuid.UUID, status Status, stage *string) error
	SetRunError(ctx context.Context, id uuid.UUID, errMsg string) error
	ClearRunError(ctx context.Context, id uuid.UUID) error
	ListRuns(ctx context.Context) ([]*Run, error)

	// MarkStaleRunsFailed marks runs that have been "running" without an
	// update for longer than timeout as failed, so they can be resumed.
	MarkStaleRunsFailed(ctx context.Context, timeout time.Duration) (int, error)

	// Transaction operations
	RecordTransaction(ctx context.Context, tx *Transaction) error
	GetTransactionsByRun(ctx context.Context, runID uuid.UUID) ([]Transaction, error)
	GetTransactionByHash(ctx context.Context, hash string) (*Transaction, error)

	// Artifact operations
	SaveArtifact(ctx context.Context, a *Artifact) error
	GetArtifact(ctx context.Context, runID uuid.UUID, artifactType string) (*Artifact, error)
	GetAllArtifacts(ctx context.Context, runID uuid.UUID) ([]Artifact, error)
}

// staleRunMessage is stored on runs found by MarkStaleRunsFailed.
const staleRunMessage = "run timed out without progress; resume it with deploy --resume"

// configJSON normalizes an empty config to a JSON object.
func configJSON(c json.RawMessage) json.RawMessage {
	if len(c) == 0 {
		return json.RawMessage(`{}`)
	}
	return c
}
