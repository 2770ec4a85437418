// Package lock prevents two deployer processes from sending transactions
// from the same account on the same chain at once. Concurrent runs would
// race on nonces.
package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLocked is returned when another process holds the lock.
var ErrLocked = errors.New("lock: deployment already in progress")

// Store is the subset of Redis the lock needs. *database.Redis implements it.
type Store interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	CompareAndDelete(ctx context.Context, key, value string) (bool, error)
}

// Key returns the lock key for a deployer on a chain.
func Key(chainID int64, deployer common.Address) string {
	return fmt.Sprintf("hashstrat:deploy-lock:%d:%s", chainID, strings.ToLower(deployer.Hex()))
}

// Lock is a held deploy lock.
type Lock struct {
	store Store
	key   string
	token string
}

// Acquire takes the lock for ttl. The value stored is owner followed by a
// random token so Release never removes a lock taken over after expiry.
func Acquire(ctx context.Context, store Store, key, owner string, ttl time.Duration) (*Lock, error) {
	token := owner + "/" + uuid.NewString()

	ok, err := store.SetNX(ctx, key, token, ttl)
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		holder, err := store.Get(ctx, key)
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, key)
		}
		return nil, fmt.Errorf("%w: %s held by %s", ErrLocked, key, holderName(holder))
	}
	return &Lock{store: store, key: key, token: token}, nil
}

// Key returns the locked key.
func (l *Lock) Key() string {
	return l.key
}

// Release frees the lock if it is still held by l.
func (l *Lock) Release(ctx context.Context) error {
	if _, err := l.store.CompareAndDelete(ctx, l.key, l.token); err != nil {
		return fmt.Errorf("release lock %s: %w", l.key, err)
	}
	return nil
}

func holderName(value string) string {
	if i := strings.LastIndex(value, "/"); i >= 0 {
		return value[:i]
	}
	if value == "" {
		return "unknown"
	}
	return value
}
