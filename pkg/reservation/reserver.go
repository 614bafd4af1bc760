package reservation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/freightops-pro/fopsbackend-sub000/pkg/workflow"
)

// DefaultTTL is how long a claim lives when Config.TTL is unset.
const DefaultTTL = 30 * time.Second

// Config configures a reserver.
type Config struct {
	// KeyPrefix namespaces Redis keys (default "fops:reservation:").
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`

	// TTL bounds how long an unreleased claim survives.
	TTL time.Duration `json:"ttl" yaml:"ttl" validate:"min=0"`
}

func (c Config) withDefaults() Config {
	if c.KeyPrefix == "" {
		c.KeyPrefix = "fops:reservation:"
	}
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	return c
}

// Claims are taken and extended atomically: the owning run refreshes its
// TTL, any other run is refused while the key exists.
var reserveScript = redis.NewScript(`
local owner = redis.call("GET", KEYS[1])
if owner == ARGV[1] then
	redis.call("PEXPIRE", KEYS[1], ARGV[2])
	return 1
end
if owner then
	return 0
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
return 1
`)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisReserver stores claims as Redis keys holding the owning run ID.
type RedisReserver struct {
	client redis.UniversalClient
	cfg    Config
}

var _ workflow.Reserver = (*RedisReserver)(nil)

// NewRedisReserver creates a reserver on an existing client.
func NewRedisReserver(client redis.UniversalClient, cfg Config) *RedisReserver {
	return &RedisReserver{client: client, cfg: cfg.withDefaults()}
}

func (r *RedisReserver) key(tenantID, candidateID string) string {
	return r.cfg.KeyPrefix + tenantID + ":" + candidateID
}

// Reserve claims a candidate for runID.
func (r *RedisReserver) Reserve(ctx context.Context, tenantID, candidateID, runID string) (bool, error) {
	n, err := reserveScript.Run(ctx, r.client,
		[]string{r.key(tenantID, candidateID)},
		runID, r.cfg.TTL.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("failed to reserve candidate %s: %w", candidateID, err)
	}
	return n == 1, nil
}

// Release drops the claim if runID still holds it.
func (r *RedisReserver) Release(ctx context.Context, tenantID, candidateID, runID string) error {
	err := releaseScript.Run(ctx, r.client, []string{r.key(tenantID, candidateID)}, runID).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to release candidate %s: %w", candidateID, err)
	}
	return nil
}

// Owner returns the run holding a candidate, or "" when it is free.
func (r *RedisReserver) Owner(ctx context.Context, tenantID, candidateID string) (string, error) {
	owner, err := r.client.Get(ctx, r.key(tenantID, candidateID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read reservation: %w", err)
	}
	return owner, nil
}

// HealthCheck pings Redis.
func (r *RedisReserver) HealthCheck(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

type claim struct {
	runID     string
	expiresAt time.Time
}

// LocalReserver keeps claims in memory.
type LocalReserver struct {
	mu     sync.Mutex
	ttl    time.Duration
	claims map[string]claim
	now    func() time.Time
}

var _ workflow.Reserver = (*LocalReserver)(nil)

// NewLocalReserver creates an in-process reserver.
func NewLocalReserver(ttl time.Duration) *LocalReserver {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &LocalReserver{
		ttl:    ttl,
		claims: make(map[string]claim),
		now:    time.Now,
	}
}

// Reserve claims a candidate for runID.
func (l *LocalReserver) Reserve(ctx context.Context, tenantID, candidateID, runID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := tenantID + ":" + candidateID
	now := l.now()
	if c, ok := l.claims[key]; ok && c.runID != runID && now.Before(c.expiresAt) {
		return false, nil
	}
	l.claims[key] = claim{runID: runID, expiresAt: now.Add(l.ttl)}
	return true, nil
}

// Release drops the claim if runID still holds it.
func (l *LocalReserver) Release(_ context.Context, tenantID, candidateID, runID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := tenantID + ":" + candidateID
	if c, ok := l.claims[key]; ok && c.runID == runID {
		delete(l.claims, key)
	}
	return nil
}

// Len reports live claims, pruning expired ones.
func (l *LocalReserver) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for k, c := range l.claims {
		if !now.Before(c.expiresAt) {
			delete(l.claims, k)
		}
	}
	return len(l.claims)
}
