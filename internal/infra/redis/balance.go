package redis

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/chainevents/internal/balance"
)

// BalanceStore implements balance.Store on Redis. Expiry is left to Redis key TTLs.
type BalanceStore struct {
	c *Client
}

var _ balance.Store = (*BalanceStore)(nil)

// NewBalanceStore creates a balance store on the client.
func NewBalanceStore(c *Client) *BalanceStore {
	return &BalanceStore{c: c}
}

func (s *BalanceStore) Get(ctx context.Context, key string) (*big.Int, bool, error) {
	val, err := s.c.rdb.Get(ctx, balanceKey(s.c.prefix, key)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", key, err)
	}
	v, ok := new(big.Int).SetString(val, 10)
	if !ok {
		return nil, false, fmt.Errorf("corrupt balance %s: %q", key, val)
	}
	return v, true, nil
}

func (s *BalanceStore) Set(ctx context.Context, key string, value *big.Int, ttl time.Duration) error {
	if err := s.c.rdb.Set(ctx, balanceKey(s.c.prefix, key), value.String(), ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}
