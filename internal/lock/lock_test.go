package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory Store without expiry.
type memStore struct {
	mu     sync.Mutex
	values map[string]string
	err    error
}

func newMemStore() *memStore {
	return &memStore{values: make(map[string]string)}
}

func (s *memStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	if _, ok := s.values[key]; ok {
		return false, nil
	}
	s.values[key] = value.(string)
	return true, nil
}

func (s *memStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (s *memStore) CompareAndDelete(_ context.Context, key, value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.values[key] != value {
		return false, nil
	}
	delete(s.values, key)
	return true, nil
}

func TestKey(t *testing.T) {
	addr := common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	assert.Equal(t, "hashstrat:deploy-lock:137:0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266", Key(137, addr))
}

func TestAcquire(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()

	l, err := Acquire(ctx, store, "k", "host-a", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "k", l.Key())

	_, err = Acquire(ctx, store, "k", "host-b", time.Hour)
	require.ErrorIs(t, err, ErrLocked)
	assert.Contains(t, err.Error(), "held by host-a")

	require.NoError(t, l.Release(ctx))

	l2, err := Acquire(ctx, store, "k", "host-b", time.Hour)
	require.NoError(t, err)
	require.NoError(t, l2.Release(ctx))
}

func TestRelease_DoesNotRemoveOtherHolder(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()

	l, err := Acquire(ctx, store, "k", "host-a", time.Hour)
	require.NoError(t, err)

	// Simulate expiry and takeover by another process.
	store.values["k"] = "host-b/other"

	require.NoError(t, l.Release(ctx))
	assert.Equal(t, "host-b/other", store.values["k"])
}

func TestAcquire_StoreError(t *testing.T) {
	store := newMemStore()
	store.err = errors.New("connection refused")

	_, err := Acquire(context.Background(), store, "k", "host-a", time.Hour)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrLocked)
	assert.Contains(t, err.Error(), "connection refused")
}
