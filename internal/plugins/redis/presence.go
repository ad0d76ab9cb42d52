package redis

import (
	"context"
	"errors"
	"time"

	"eventbuddy/internal/core/contracts"

	"github.com/redis/go-redis/v9"
)

// LastSeenStore keeps the last time each principal was connected in one sorted set,
// so it survives restarts and is shared by every gateway process.
type LastSeenStore struct {
	rdb *redis.Client
	key string
}

func NewLastSeenStore(rdb *redis.Client) *LastSeenStore {
	return &LastSeenStore{
		rdb: rdb,
		key: "presence:last_seen",
	}
}

var _ contracts.LastSeenStore = (*LastSeenStore)(nil)

// Touch adds/updates the principal with the given timestamp.
func (p *LastSeenStore) Touch(ctx context.Context, principal string, at time.Time) error {
	return p.rdb.ZAdd(ctx, p.key, redis.Z{
		Score:  float64(at.Unix()),
		Member: principal,
	}).Err()
}

func (p *LastSeenStore) LastSeen(ctx context.Context, principal string) (time.Time, bool, error) {
	score, err := p.rdb.ZScore(ctx, p.key, principal).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.Unix(int64(score), 0), true, nil
}
