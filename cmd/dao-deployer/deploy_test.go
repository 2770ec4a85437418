package main

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashstrat/dao-deployer/internal/bootstrap/repository"
	"github.com/hashstrat/dao-deployer/internal/lock"
)

func staleRun(t *testing.T, repo *repository.MemoryRepository) uuid.UUID {
	t.Helper()
	ctx := context.Background()

	run := &repository.Run{ID: uuid.New(), Network: "polygon", ChainID: 137}
	require.NoError(t, repo.CreateRun(ctx, run))
	stage := "registrations_submitted"
	require.NoError(t, repo.UpdateRunStatus(ctx, run.ID, repository.StatusRunning, &stage))
	time.Sleep(5 * time.Millisecond)
	return run.ID
}

func TestLockAndSweep(t *testing.T) {
	logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	t.Run("held lock leaves running runs alone", func(t *testing.T) {
		repo := repository.NewMemoryRepository()
		id := staleRun(t, repo)

		_, err := lockAndSweep(ctx, func(context.Context) (func(), error) {
			return nil, lock.ErrLocked
		}, repo, time.Millisecond)
		assert.ErrorIs(t, err, lock.ErrLocked)

		run, err := repo.GetRun(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, repository.StatusRunning, run.Status)
	})

	t.Run("stale runs fail once the lock is held", func(t *testing.T) {
		repo := repository.NewMemoryRepository()
		id := staleRun(t, repo)

		released := false
		release, err := lockAndSweep(ctx, func(context.Context) (func(), error) {
			return func() { released = true }, nil
		}, repo, time.Millisecond)
		require.NoError(t, err)

		run, err := repo.GetRun(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, repository.StatusFailed, run.Status)

		release()
		assert.True(t, released)
	})
}
