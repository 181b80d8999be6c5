package ratelimit

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const leaderKeyPrefix = "leader:"

// Deletes the key only while it still holds the caller's token.
const leaderReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

var (
	ErrInvalidLeaderName = errors.New("invalid_leader_name")
	ErrInvalidLeaderTTL  = errors.New("invalid_leader_ttl")
)

// LeaderLock elects a single replica for a periodic job. Without redis every
// caller is treated as leader.
type LeaderLock struct {
	client  *redis.Client
	release *redis.Script
}

func NewLeaderLock(client *redis.Client) *LeaderLock {
	if client == nil {
		return &LeaderLock{}
	}
	return &LeaderLock{
		client:  client,
		release: redis.NewScript(leaderReleaseScript),
	}
}

// Acquire returns a release func when the caller holds the lock for name.
// The lock lapses after ttl if the holder dies without releasing it.
func (l *LeaderLock) Acquire(ctx context.Context, name string, ttl time.Duration) (func(context.Context), bool, error) {
	if l == nil || l.client == nil {
		return func(context.Context) {}, true, nil
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, false, ErrInvalidLeaderName
	}
	if ttl <= 0 {
		return nil, false, ErrInvalidLeaderTTL
	}

	key := leaderKeyPrefix + name
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil || !ok {
		return nil, false, err
	}
	return func(releaseCtx context.Context) {
		_ = l.release.Run(releaseCtx, l.client, []string{key}, token).Err()
	}, true, nil
}
