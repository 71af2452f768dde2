package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/tiered-checkout/internal/core/domain"
	"github.com/rl1809/tiered-checkout/internal/port"
)

const idempotencyKeyPrefix = "idem:"

// claimScript returns the stored fields when the key exists, otherwise
// stores a pending operation with a TTL and returns nil.
var claimScript = redis.NewScript(`
local key = KEYS[1]

local existing = redis.call('HMGET', key, 'operation', 'fingerprint', 'state', 'result', 'created_at', 'completed_at')
if existing[1] then
	return existing
end

redis.call('HSET', key, 'operation', ARGV[1], 'fingerprint', ARGV[2], 'state', 'pending', 'created_at', ARGV[3])
redis.call('PEXPIRE', key, ARGV[4])
return false
`)

var completeScript = redis.NewScript(`
local key = KEYS[1]

if redis.call('HGET', key, 'state') ~= 'pending' then
	return 0
end

redis.call('HSET', key, 'state', 'completed', 'result', ARGV[1], 'completed_at', ARGV[2])
redis.call('PEXPIRE', key, ARGV[3])
return 1
`)

var abandonScript = redis.NewScript(`
local key = KEYS[1]

if redis.call('HGET', key, 'state') == 'pending' then
	return redis.call('DEL', key)
end

return 0
`)

// RedisAdapter keeps the idempotency ledger in Redis so that every register
// process shares it. Keys expire with the retention horizon.
type RedisAdapter struct {
	client *redis.Client
}

var _ port.IdempotencyRepository = (*RedisAdapter)(nil)

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client}
}

func (r *RedisAdapter) Claim(ctx context.Context, op domain.IdempotentOperation, ttl time.Duration) (*domain.IdempotentOperation, error) {
	key := idempotencyKeyPrefix + op.Key

	fields, err := claimScript.Run(ctx, r.client, []string{key},
		op.Operation, op.Fingerprint, strconv.FormatInt(op.CreatedAt.UnixNano(), 10), ttl.Milliseconds(),
	).Slice()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim %s: %w", op.Key, err)
	}

	return decodeOperation(op.Key, fields)
}

func decodeOperation(key string, fields []any) (*domain.IdempotentOperation, error) {
	if len(fields) != 6 {
		return nil, fmt.Errorf("claim %s: unexpected reply with %d fields", key, len(fields))
	}
	str := func(i int) string {
		s, _ := fields[i].(string)
		return s
	}

	op := &domain.IdempotentOperation{
		Key:         key,
		Operation:   str(0),
		Fingerprint: str(1),
		State:       domain.OperationState(str(2)),
	}
	if fields[3] != nil {
		op.Result = []byte(str(3))
	}
	if n, err := strconv.ParseInt(str(4), 10, 64); err == nil && n != 0 {
		op.CreatedAt = time.Unix(0, n).UTC()
	}
	if n, err := strconv.ParseInt(str(5), 10, 64); err == nil && n != 0 {
		op.CompletedAt = time.Unix(0, n).UTC()
	}
	return op, nil
}

func (r *RedisAdapter) Complete(ctx context.Context, key string, result []byte, at time.Time, ttl time.Duration) error {
	ok, err := completeScript.Run(ctx, r.client, []string{idempotencyKeyPrefix + key},
		result, strconv.FormatInt(at.UnixNano(), 10), ttl.Milliseconds(),
	).Int()
	if err != nil {
		return fmt.Errorf("complete %s: %w", key, err)
	}
	if ok != 1 {
		return fmt.Errorf("idempotency key %s not pending: %w", key, domain.ErrNotFound)
	}
	return nil
}

func (r *RedisAdapter) Abandon(ctx context.Context, key string) error {
	if err := abandonScript.Run(ctx, r.client, []string{idempotencyKeyPrefix + key}).Err(); err != nil {
		return fmt.Errorf("abandon %s: %w", key, err)
	}
	return nil
}
