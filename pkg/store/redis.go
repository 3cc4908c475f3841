package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/newtron-network/newtring/pkg/ring"
	"github.com/newtron-network/newtring/pkg/util"
)

// Key layout, in the TABLE|key style of SONiC databases:
//
//	NEWTRING_RING|<ring>  hash: status, result (JSON), updated (RFC3339)
//	NEWTRING_LOCK|<ring>  hash: holder, acquired, ttl; expires with ttl
const (
	ringTable = "NEWTRING_RING"
	lockTable = "NEWTRING_LOCK"
)

// acquireLockScript returns 1 on success, 0 if another holder has the lock.
var acquireLockScript = redis.NewScript(`
local key = KEYS[1]
if redis.call("EXISTS", key) == 1 then
	return 0
end
redis.call("HSET", key, "holder", ARGV[1], "acquired", ARGV[2], "ttl", ARGV[3])
redis.call("EXPIRE", key, tonumber(ARGV[3]))
return 1
`)

// releaseLockScript returns 1 on success, 0 on holder mismatch, -1 if the
// lock is gone.
var releaseLockScript = redis.NewScript(`
local key = KEYS[1]
if redis.call("EXISTS", key) == 0 then
	return -1
end
if redis.call("HGET", key, "holder") ~= ARGV[1] then
	return 0
end
redis.call("DEL", key)
return 1
`)

// Redis stores ring state in a Redis database shared by every operator.
type Redis struct {
	client *redis.Client
}

// NewRedis connects to addr, selecting database db.
func NewRedis(ctx context.Context, addr string, db int) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to state store %s: %w", addr, err)
	}
	return &Redis{client: client}, nil
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// Close closes the connection.
func (r *Redis) Close() error {
	return r.client.Close()
}

func ringKey(name string) string { return ringTable + "|" + name }
func lockKey(name string) string { return lockTable + "|" + name }

func (r *Redis) Status(ctx context.Context, name string) (ring.Status, bool, error) {
	val, err := r.client.HGet(ctx, ringKey(name), "status").Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	st, err := ring.ParseStatus(val)
	if err != nil {
		return "", false, err
	}
	return st, true, nil
}

func (r *Redis) SetStatus(ctx context.Context, name string, status ring.Status) error {
	return r.client.HSet(ctx, ringKey(name), "status", string(status)).Err()
}

func (r *Redis) LastResult(ctx context.Context, name string) (*ring.Result, error) {
	val, err := r.client.HGet(ctx, ringKey(name), "result").Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var res ring.Result
	if err := json.Unmarshal([]byte(val), &res); err != nil {
		return nil, fmt.Errorf("decoding result of ring %s: %w", name, err)
	}
	return &res, nil
}

func (r *Redis) SaveResult(ctx context.Context, name string, res ring.Result) error {
	data, err := json.Marshal(res)
	if err != nil {
		return err
	}
	return r.client.HSet(ctx, ringKey(name),
		"result", string(data),
		"updated", res.Timestamp.UTC().Format(time.RFC3339),
	).Err()
}

// Lock takes the ring's run lock. The TTL is rounded up to whole seconds.
func (r *Redis) Lock(ctx context.Context, name, holder string, ttl time.Duration) error {
	secs := int((ttl + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	now := time.Now().UTC().Format(time.RFC3339)

	result, err := acquireLockScript.Run(ctx, r.client, []string{lockKey(name)},
		holder, now, strconv.Itoa(secs)).Int()
	if err != nil {
		return fmt.Errorf("acquiring lock for ring %s: %w", name, err)
	}
	if result == 0 {
		return util.ErrRingLocked
	}
	return nil
}

// Unlock releases the run lock if holder still owns it. A lock that already
// expired is not an error.
func (r *Redis) Unlock(ctx context.Context, name, holder string) error {
	result, err := releaseLockScript.Run(ctx, r.client, []string{lockKey(name)}, holder).Int()
	if err != nil {
		return fmt.Errorf("releasing lock for ring %s: %w", name, err)
	}
	if result == 0 {
		return errHolderMismatch(name)
	}
	return nil
}

// LockHolder returns the current holder and acquisition time, or "" when
// the ring is not locked.
func (r *Redis) LockHolder(ctx context.Context, name string) (string, time.Time, error) {
	vals, err := r.client.HGetAll(ctx, lockKey(name)).Result()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("reading lock for ring %s: %w", name, err)
	}
	if len(vals) == 0 {
		return "", time.Time{}, nil
	}
	acquired, _ := time.Parse(time.RFC3339, vals["acquired"])
	return vals["holder"], acquired, nil
}

func errHolderMismatch(name string) error {
	return fmt.Errorf("lock holder mismatch for ring %s", name)
}
