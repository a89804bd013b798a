package dedup

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const ledgerKeyPrefix = "dedup:"

// RedisLedger is the Redis-backed ledger implementation. TTL expiry is
// delegated to Redis key expiry; CheckAndMark relies on SET NX so the
// check-then-mark sequence is atomic on the server.
type RedisLedger struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisLedger creates a Redis-backed ledger. A non-positive ttl selects
// the 24h default.
func NewRedisLedger(client *redis.Client, ttl time.Duration) *RedisLedger {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisLedger{client: client, ttl: ttl}
}

func (l *RedisLedger) key(fingerprint string) string {
	return ledgerKeyPrefix + fingerprint
}

func marshalPayload(payload interface{}) ([]byte, error) {
	if payload == nil {
		return []byte("1"), nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal ledger payload")
	}
	return data, nil
}

// IsDuplicate reports whether the fingerprint key still exists.
func (l *RedisLedger) IsDuplicate(ctx context.Context, fingerprint string) (bool, error) {
	n, err := l.client.Exists(ctx, l.key(fingerprint)).Result()
	if err != nil {
		return false, errors.Wrap(err, "failed to check fingerprint")
	}
	return n > 0, nil
}

// MarkProcessed records the fingerprint with the configured TTL.
func (l *RedisLedger) MarkProcessed(ctx context.Context, fingerprint string, payload interface{}) error {
	data, err := marshalPayload(payload)
	if err != nil {
		return err
	}
	if err := l.client.Set(ctx, l.key(fingerprint), data, l.ttl).Err(); err != nil {
		return errors.Wrap(err, "failed to mark fingerprint")
	}
	return nil
}

// CheckAndMark admits the fingerprint with SET NX. The first caller wins;
// every later caller within the TTL observes duplicate=true.
func (l *RedisLedger) CheckAndMark(ctx context.Context, fingerprint string, payload interface{}) (bool, error) {
	data, err := marshalPayload(payload)
	if err != nil {
		return false, err
	}
	ok, err := l.client.SetNX(ctx, l.key(fingerprint), data, l.ttl).Result()
	if err != nil {
		return false, errors.Wrap(err, "failed to admit fingerprint")
	}
	return !ok, nil
}

// Cleanup is a no-op: Redis evicts expired keys itself.
func (l *RedisLedger) Cleanup(_ context.Context) error {
	return nil
}

// Size counts the tracked fingerprints.
func (l *RedisLedger) Size(ctx context.Context) (int, error) {
	var cursor uint64
	count := 0
	for {
		keys, next, err := l.client.Scan(ctx, cursor, ledgerKeyPrefix+"*", 100).Result()
		if err != nil {
			return 0, errors.Wrap(err, "failed to scan ledger keys")
		}
		count += len(keys)
		cursor = next
		if cursor == 0 {
			return count, nil
		}
	}
}

// Clear removes all tracked fingerprints.
func (l *RedisLedger) Clear(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := l.client.Scan(ctx, cursor, ledgerKeyPrefix+"*", 100).Result()
		if err != nil {
			return errors.Wrap(err, "failed to scan ledger keys")
		}
		if len(keys) > 0 {
			if err := l.client.Del(ctx, keys...).Err(); err != nil {
				return errors.Wrap(err, "failed to delete ledger keys")
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}
