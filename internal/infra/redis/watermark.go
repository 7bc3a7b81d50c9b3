package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/chainevents/internal/core/cursor"
)

// advanceScript stores ARGV[1] only if it is higher than the current value.
var advanceScript = redis.NewScript(`
local cur = redis.call("GET", KEYS[1])
if cur and tonumber(cur) >= tonumber(ARGV[1]) then
	return 0
end
redis.call("SET", KEYS[1], ARGV[1])
return 1
`)

// WatermarkStore implements cursor.Store on Redis.
type WatermarkStore struct {
	c *Client
}

var _ cursor.Store = (*WatermarkStore)(nil)

// NewWatermarkStore creates a watermark store on the client.
func NewWatermarkStore(c *Client) *WatermarkStore {
	return &WatermarkStore{c: c}
}

func (s *WatermarkStore) Load(ctx context.Context, chainID string) (uint64, error) {
	val, err := s.c.rdb.Get(ctx, watermarkKey(s.c.prefix, chainID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, cursor.ErrCursorNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("get watermark %s: %w", chainID, err)
	}
	n, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt watermark %s: %w", chainID, err)
	}
	return n, nil
}

func (s *WatermarkStore) Save(ctx context.Context, chainID string, blockNumber uint64) error {
	key := watermarkKey(s.c.prefix, chainID)
	if err := advanceScript.Run(ctx, s.c.rdb, []string{key}, strconv.FormatUint(blockNumber, 10)).Err(); err != nil {
		return fmt.Errorf("save watermark %s: %w", chainID, err)
	}
	return nil
}

func (s *WatermarkStore) Reset(ctx context.Context, chainID string, blockNumber uint64) error {
	key := watermarkKey(s.c.prefix, chainID)
	if err := s.c.rdb.Set(ctx, key, strconv.FormatUint(blockNumber, 10), 0).Err(); err != nil {
		return fmt.Errorf("reset watermark %s: %w", chainID, err)
	}
	return nil
}
