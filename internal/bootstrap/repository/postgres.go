package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
)

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const runColumns = `id, network, chain_id, deployer, status, current_stage, config, error_message, created_at, updated_at`

func scanRun(row pgx.Row) (*Run, error) {
	var r Run
	err := row.Scan(
		&r.ID, &r.Network, &r.ChainID, &r.Deployer, &r.Status, &r.CurrentStage,
		&r.Config, &r.ErrorMessage, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// CreateRun inserts a new run record.
func (r *PostgresRepository) CreateRun(ctx context.Context, run *Run) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}

	query := `
		INSERT INTO deployment_runs (id, network, chain_id, deployer, status, current_stage, config, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`

	err := r.pool.QueryRow(ctx, query,
		run.ID, run.Network, run.ChainID, run.Deployer, run.Status, run.CurrentStage,
		configJSON(run.Config), run.ErrorMessage,
	).Scan(&run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		return fmt.Errorf("CreateRun: %w", err)
	}
	return nil
}

// GetRun retrieves a run by its UUID.
func (r *PostgresRepository) GetRun(ctx context.Context, id uuid.UUID) (*Run, error) {
	query := `SELECT ` + runColumns + ` FROM deployment_runs WHERE id = $1`

	run, err := scanRun(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetRun: %w", err)
	}
	return run, nil
}

// UpdateRunStatus updates the status and current stage of a run. A nil
// stage leaves the stored stage unchanged.
func (r *PostgresRepository) UpdateRunStatus(ctx context.Context, id uuid.UUID, status Status, stage *string) error {
	query := `
		UPDATE deployment_runs
		SET status = $2, current_stage = COALESCE($3, current_stage), updated_at = NOW()
		WHERE id = $1`

	result, err := r.pool.Exec(ctx, query, id, status, stage)
	if err != nil {
		return fmt.Errorf("UpdateRunStatus: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetRunError sets the error message and marks the run as failed.
func (r *PostgresRepository) SetRunError(ctx context.Context, id uuid.UUID, errMsg string) error {
	query := `
		UPDATE deployment_runs
		SET status = $2, error_message = $3, updated_at = NOW()
		WHERE id = $1`

	result, err := r.pool.Exec(ctx, query, id, StatusFailed, errMsg)
	if err != nil {
		return fmt.Errorf("SetRunError: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearRunError removes the error message from a run.
func (r *PostgresRepository) ClearRunError(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE deployment_runs
		SET error_message = NULL, updated_at = NOW()
		WHERE id = $1`

	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("ClearRunError: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListRuns retrieves all runs, newest first.
func (r *PostgresRepository) ListRuns(ctx context.Context) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM deployment_runs ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ListRuns: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("ListRuns scan: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// MarkStaleRunsFailed marks runs that have been running without an update
// for longer than timeout as failed.
func (r *PostgresRepository) MarkStaleRunsFailed(ctx context.Context, timeout time.Duration) (int, error) {
	query := `
		UPDATE deployment_runs
		SET status = $1,
		    error_message = $2,
		    updated_at = NOW()
		WHERE status = $3
		  AND updated_at < NOW() - $4::interval`

	result, err := r.pool.Exec(ctx, query,
		StatusFailed,
		staleRunMessage,
		StatusRunning,
		timeout.String(),
	)
	if err != nil {
		return 0, fmt.Errorf("MarkStaleRunsFailed: %w", err)
	}
	return int(result.RowsAffected()), nil
}

// RecordTransaction inserts a new transaction record.
func (r *PostgresRepository) RecordTransaction(ctx context.Context, tx *Transaction) error {
	if tx.ID == "" {
		tx.ID = ulid.Make().String()
	}

	query := `
		INSERT INTO deployment_transactions (id, run_id, stage, contract, method, tx_hash, block_number)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`

	err := r.pool.QueryRow(ctx, query,
		tx.ID, tx.RunID, tx.Stage, tx.Contract, tx.Method, tx.TxHash, int64(tx.BlockNumber),
	).Scan(&tx.CreatedAt)
	if err != nil {
		return fmt.Errorf("RecordTransaction: %w", err)
	}
	return nil
}

func scanTransaction(row pgx.Row) (Transaction, error) {
	var tx Transaction
	var block int64
	err := row.Scan(&tx.ID, &tx.RunID, &tx.Stage, &tx.Contract, &tx.Method, &tx.TxHash, &block, &tx.CreatedAt)
	tx.BlockNumber = uint64(block)
	return tx, err
}

// GetTransactionsByRun retrieves all transactions for a run in submission order.
func (r *PostgresRepository) GetTransactionsByRun(ctx context.Context, runID uuid.UUID) ([]Transaction, error) {
	query := `
		SELECT id, run_id, stage, contract, method, tx_hash, block_number, created_at
		FROM deployment_transactions
		WHERE run_id = $1
		ORDER BY id ASC`

	rows, err := r.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("GetTransactionsByRun: %w", err)
	}
	defer rows.Close()

	var transactions []Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("GetTransactionsByRun scan: %w", err)
		}
		transactions = append(transactions, tx)
	}
	return transactions, rows.Err()
}

// GetTransactionByHash retrieves a transaction by its hash.
func (r *PostgresRepository) GetTransactionByHash(ctx context.Context, hash string) (*Transaction, error) {
	query := `
		SELECT id, run_id, stage, contract, method, tx_hash, block_number, created_at
		FROM deployment_transactions
		WHERE tx_hash = $1`

	tx, err := scanTransaction(r.pool.QueryRow(ctx, query, hash))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetTransactionByHash: %w", err)
	}
	return &tx, nil
}

// SaveArtifact inserts or updates an artifact (upsert by run_id + artifact_type).
func (r *PostgresRepository) SaveArtifact(ctx context.Context, a *Artifact) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}

	query := `
		INSERT INTO deployment_artifacts (id, run_id, artifact_type, content)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (run_id, artifact_type)
		DO UPDATE SET content = EXCLUDED.content
		RETURNING created_at`

	err := r.pool.QueryRow(ctx, query,
		a.ID, a.RunID, a.ArtifactType, a.Content,
	).Scan(&a.CreatedAt)
	if err != nil {
		return fmt.Errorf("SaveArtifact: %w", err)
	}
	return nil
}

// GetArtifact retrieves an artifact by run ID and type.
func (r *PostgresRepository) GetArtifact(ctx context.Context, runID uuid.UUID, artifactType string) (*Artifact, error) {
	query := `
		SELECT id, run_id, artifact_type, content, created_at
		FROM deployment_artifacts
		WHERE run_id = $1 AND artifact_type = $2`

	var a Artifact
	err := r.pool.QueryRow(ctx, query, runID, artifactType).Scan(
		&a.ID, &a.RunID, &a.ArtifactType, &a.Content, &a.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("GetArtifact: %w", err)
	}
	return &a, nil
}

// GetAllArtifacts retrieves all artifacts for a run.
func (r *PostgresRepository) GetAllArtifacts(ctx context.Context, runID uuid.UUID) ([]Artifact, error) {
	query := `
		SELECT id, run_id, artifact_type, content, created_at
		FROM deployment_artifacts
		WHERE run_id = $1
		ORDER BY created_at ASC`

	rows, err := r.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("GetAllArtifacts: %w", err)
	}
	defer rows.Close()

	var artifacts []Artifact
	for rows.Next() {
		var a Artifact
		if err := rows.Scan(&a.ID, &a.RunID, &a.ArtifactType, &a.Content, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("GetAllArtifacts scan: %w", err)
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, rows.Err()
}

// Compile-time check to ensure PostgresRepository implements Repository.
var _ Repository = (*PostgresRepository)(nil)
