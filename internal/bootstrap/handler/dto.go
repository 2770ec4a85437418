// Package handler serves read-only HTTP views of deployment runs.
package handler

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/hashstrat/dao-deployer/internal/bootstrap/repository"
)

// RunResponse is the API response for a run.
type RunResponse struct {
	ID           uuid.UUID       `json:"id"`
	Network      string          `json:"network"`
	ChainID      int64           `json:"chain_id"`
	Deployer     string          `json:"deployer"`
	Status       string          `json:"status"`
	CurrentStage *string         `json:"current_stage,omitempty"`
	Config       json.RawMessage `json:"config"`
	Error        *string         `json:"error,omitempty"`
	CreatedAt    string          `json:"created_at"`
	UpdatedAt    string          `json:"updated_at"`
}

// TransactionResponse is the API response for a run transaction.
type TransactionResponse struct {
	ID          string `json:"id"`
	Stage       string `json:"stage"`
	Contract    string `json:"contract"`
	Method      string `json:"method"`
	TxHash      string `json:"tx_hash"`
	BlockNumber uint64 `json:"block_number,omitempty"`
	CreatedAt   string `json:"created_at"`
}

// ArtifactResponse is the API response for a run artifact.
type ArtifactResponse struct {
	Type      string          `json:"type"`
	Content   json.RawMessage `json:"content"`
	CreatedAt string          `json:"created_at"`
}

// errorBody is the error half of the response envelope.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// envelope wraps every response.
type envelope struct {
	Data  any        `json:"data,omitempty"`
	Error *errorBody `json:"error,omitempty"`
}

func toRunResponse(r *repository.Run) *RunResponse {
	return &RunResponse{
		ID:           r.ID,
		Network:      r.Network,
		ChainID:      r.ChainID,
		Deployer:     r.Deployer,
		Status:       string(r.Status),
		CurrentStage: r.CurrentStage,
		Config:       r.Config,
		Error:        r.ErrorMessage,
		CreatedAt:    r.CreatedAt.Format(time.RFC3339),
		UpdatedAt:    r.UpdatedAt.Format(time.RFC3339),
	}
}

func toTransactionResponse(tx *repository.Transaction) *TransactionResponse {
	return &TransactionResponse{
		ID:          tx.ID,
		Stage:       tx.Stage,
		Contract:    tx.Contract,
		Method:      tx.Method,
		TxHash:      tx.TxHash,
		BlockNumber: tx.BlockNumber,
		CreatedAt:   tx.CreatedAt.Format(time.RFC3339),
	}
}

func toArtifactResponse(a *repository.Artifact) *ArtifactResponse {
	return &ArtifactResponse{
		Type:      a.ArtifactType,
		Content:   a.Content,
		CreatedAt: a.CreatedAt.Format(time.RFC3339),
	}
}
