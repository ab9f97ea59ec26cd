package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// InFlightGuard ensures at most one payout job runs per community.
type InFlightGuard interface {
	Acquire(ctx context.Context, communityID int64, ttl time.Duration) (bool, error)
	Release(ctx context.Context, communityID int64) error
}

// LocalGuard deduplicates within one process.
type LocalGuard struct {
	mu   sync.Mutex
	held map[int64]time.Time
	now  func() time.Time
}

func NewLocalGuard() *LocalGuard {
	return &LocalGuard{held: make(map[int64]time.Time), now: time.Now}
}

func (g *LocalGuard) Acquire(ctx context.Context, communityID int64, ttl time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	if expires, ok := g.held[communityID]; ok && now.Before(expires) {
		return false, nil
	}
	g.held[communityID] = now.Add(ttl)
	return true, nil
}

func (g *LocalGuard) Release(ctx context.Context, communityID int64) error {
	g.mu.Lock()
	delete(g.held, communityID)
	g.mu.Unlock()
	return nil
}

var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisGuard deduplicates across processes with SET NX PX. Only the process
// holding a lock may release it.
type RedisGuard struct {
	client redis.UniversalClient
	prefix string
	token  string
}

func NewRedisGuard(client redis.UniversalClient, prefix string) *RedisGuard {
	trimmedPrefix := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if trimmedPrefix == "" {
		trimmedPrefix = "savings_circle:payout_lock"
	}
	return &RedisGuard{client: client, prefix: trimmedPrefix, token: uuid.NewString()}
}

func (g *RedisGuard) key(communityID int64) string {
	return fmt.Sprintf("%s:%d", g.prefix, communityID)
}

func (g *RedisGuard) Acquire(ctx context.Context, communityID int64, ttl time.Duration) (bool, error) {
	ok, err := g.client.SetNX(ctx, g.key(communityID), g.token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire payout lock for community %d: %w", communityID, err)
	}
	return ok, nil
}

func (g *RedisGuard) Release(ctx context.Context, communityID int64) error {
	if err := releaseLockScript.Run(ctx, g.client, []string{g.key(communityID)}, g.token).Err(); err != nil {
		return fmt.Errorf("failed to release payout lock for community %d: %w", communityID, err)
	}
	return nil
}
