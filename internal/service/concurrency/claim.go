package concurrency

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// ConnectClaimer hands out the single connect slot of a dial batch. The first
// call to claim it wins; later claims by other calls lose. Re-claiming by the
// winner succeeds so duplicate webhooks stay harmless.
type ConnectClaimer interface {
	Claim(ctx context.Context, userID string, batchID uuid.UUID, callID string) (bool, error)
	Release(ctx context.Context, userID string, batchID uuid.UUID, callID string) error
}

var claimScript = redis.NewScript(`
local key = KEYS[1]
local owner = ARGV[1]
local ttl = tonumber(ARGV[2])
if redis.call('SET', key, owner, 'NX', 'PX', ttl) then
  return 1
end
if redis.call('GET', key) == owner then
  return 1
end
return 0
`)

var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisClaimer stores connect slots in Redis with a TTL.
type RedisClaimer struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisClaimer constructs a Redis-backed claimer.
func NewRedisClaimer(client *redis.Client, ttl time.Duration) *RedisClaimer {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisClaimer{client: client, ttl: ttl}
}

// Claim attempts to take the connect slot for callID.
func (c *RedisClaimer) Claim(ctx context.Context, userID string, batchID uuid.UUID, callID string) (bool, error) {
	res, err := claimScript.Run(ctx, c.client, []string{claimKey(userID, batchID)}, callID, c.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("connect claim: %w", err)
	}
	return res == 1, nil
}

// Release frees the slot if callID still holds it.
func (c *RedisClaimer) Release(ctx context.Context, userID string, batchID uuid.UUID, callID string) error {
	if _, err := releaseScript.Run(ctx, c.client, []string{claimKey(userID, batchID)}, callID).Int(); err != nil {
		return fmt.Errorf("connect release: %w", err)
	}
	return nil
}

func claimKey(userID string, batchID uuid.UUID) string {
	return fmt.Sprintf("dialer:user:%s:batch:%s:connect", userID, batchID.String())
}

// Claim store names accepted by NewClaimer.
const (
	StoreRedis = "redis"
	StoreLocal = "local"
)

// NewClaimer builds the ConnectClaimer named by store. An empty store means redis.
func NewClaimer(store string, client *redis.Client, ttl time.Duration) (ConnectClaimer, error) {
	switch store {
	case "", StoreRedis:
		if client == nil {
			return nil, fmt.Errorf("connect claimer: redis store needs a client")
		}
		return NewRedisClaimer(client, ttl), nil
	case StoreLocal:
		return NewLocalClaimer(), nil
	default:
		return nil, fmt.Errorf("connect claimer: unknown store %q", store)
	}
}

// LocalClaimer is an in-process ConnectClaimer for single-node runs and tests.
type LocalClaimer struct {
	mu     sync.Mutex
	owners map[string]string
}

// NewLocalClaimer returns an empty claimer.
func NewLocalClaimer() *LocalClaimer {
	return &LocalClaimer{owners: map[string]string{}}
}

func (c *LocalClaimer) Claim(_ context.Context, userID string, batchID uuid.UUID, callID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := claimKey(userID, batchID)
	owner, ok := c.owners[key]
	if !ok {
		c.owners[key] = callID
		return true, nil
	}
	return owner == callID, nil
}

func (c *LocalClaimer) Release(_ context.Context, userID string, batchID uuid.UUID, callID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := claimKey(userID, batchID)
	if c.owners[key] == callID {
		delete(c.owners, key)
	}
	return nil
}
