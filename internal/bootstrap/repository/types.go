// Package repository persists deployment runs, their transactions and their
// state snapshots.
package repository

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status represents the run status.
type Status string

const (
	// StatusPending indicates the run has not started.
	StatusPending Status = "pending"
	// StatusRunning indicates the run is in progress.
	StatusRunning Status = "running"
	// StatusCompleted indicates every stage finished.
	StatusCompleted Status = "completed"
	// StatusFailed indicates the run stopped on an error and can be resumed.
	StatusFailed Status = "failed"
)

// Run is one deployment of the DAO contract set to a network.
type Run struct {
	ID           uuid.UUID
	Network      string
	ChainID      int64
	Deployer     string
	Status       Status
	CurrentStage *string
	Config       json.RawMessage
	ErrorMessage *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Transaction is a transaction issued by a run. IDs are ULIDs so
// they sort in submission order.
type Transaction struct {
	ID          string
	RunID       uuid.UUID
	Stage       string
	Contract    string
	Method      string
	TxHash      string
	BlockNumber uint64
	CreatedAt   time.Time
}

// Artifact is a JSON document attached to a run, one per type.
type Artifact struct {
	ID           uuid.UUID
	RunID        uuid.UUID
	ArtifactType string
	Content      json.RawMessage
	CreatedAt    time.Time
}
