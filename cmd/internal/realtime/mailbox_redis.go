package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

const defaultRedisKeyPrefix = "fintrack:mailbox:"

// Bounded RPUSH: returns -1 without writing when the list is at capacity.
// KEYS[1] = queue key, ARGV[1] = entry, ARGV[2] = capacity (<= 0 means unbounded).
var redisEnqueueScript = redis.NewScript(`
local max = tonumber(ARGV[2])
if max > 0 and redis.call('LLEN', KEYS[1]) >= max then
  return -1
end
return redis.call('RPUSH', KEYS[1], ARGV[1])
`)

// RedisMailbox keeps one Redis list per recipient.
//
// Ownership model:
// - RedisMailbox does NOT own the client. The caller closes it.
// - Close() is therefore a no-op.
//
// Entries are JSON {"sender":…, "content":…}. Drain runs LRANGE+DEL inside
// MULTI/EXEC so a concurrent RPUSH lands either in this batch or the next one.
type RedisMailbox struct {
	client redis.UniversalClient
	prefix string
	max    int
}

// RedisOption configures RedisMailbox behavior.
type RedisOption func(*RedisMailbox) error

// WithKeyPrefix overrides the list key prefix (default "fintrack:mailbox:").
func WithKeyPrefix(prefix string) RedisOption {
	return func(m *RedisMailbox) error {
		prefix = strings.TrimSpace(prefix)
		if prefix == "" {
			return errors.New("realtime: empty redis key prefix")
		}
		m.prefix = prefix
		return nil
	}
}

// NewRedisMailbox constructs a Redis-backed Mailbox holding at most max entries per recipient.
func NewRedisMailbox(client redis.UniversalClient, max int, opts ...RedisOption) (*RedisMailbox, error) {
	if max <= 0 {
		max = defaultMailboxMax
	}
	m := &RedisMailbox{
		client: client,
		prefix: defaultRedisKeyPrefix,
		max:    max,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	if m.client == nil {
		return nil, errors.New("realtime: nil redis client")
	}
	return m, nil
}

// Close is a no-op because the client is owned by the caller.
func (m *RedisMailbox) Close() error { return nil }

func (m *RedisMailbox) key(recipient UserID) string {
	return m.prefix + strconv.FormatInt(int64(recipient), 10)
}

// Enqueue appends msg to the recipient list.
func (m *RedisMailbox) Enqueue(ctx context.Context, recipient UserID, msg RoutedMessage) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("%w: encode: %w", ErrStoreFailure, err)
	}

	n, err := redisEnqueueScript.Run(ctx, m.client, []string{m.key(recipient)}, string(b), m.max).Int64()
	if err != nil {
		return fmt.Errorf("%w: redis enqueue: %w", ErrStoreFailure, err)
	}
	if n < 0 {
		return fmt.Errorf("%w: %w: recipient=%d", ErrStoreFailure, ErrMailboxFull, recipient)
	}
	return nil
}

// Drain reads and deletes the recipient list in one transaction.
// Undecodable entries are skipped and reported with ErrMailboxCorrupt alongside the valid ones.
func (m *RedisMailbox) Drain(ctx context.Context, recipient UserID) ([]RoutedMessage, error) {
	key := m.key(recipient)

	var lr *redis.StringSliceCmd
	_, err := m.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		lr = p.LRange(ctx, key, 0, -1)
		p.Del(ctx, key)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: redis drain: %w", ErrStoreFailure, err)
	}

	vals := lr.Val()
	if len(vals) == 0 {
		return nil, nil
	}

	out := make([]RoutedMessage, 0, len(vals))
	corrupt := 0
	for _, v := range vals {
		var msg RoutedMessage
		if err := json.Unmarshal([]byte(v), &msg); err != nil {
			corrupt++
			continue
		}
		out = append(out, msg)
	}
	if corrupt > 0 {
		return out, fmt.Errorf("%w: %w: recipient=%d skipped=%d", ErrStoreFailure, ErrMailboxCorrupt, recipient, corrupt)
	}
	return out, nil
}

// Restore LPUSHes msgs in reverse so they end up at the head in their original order.
func (m *RedisMailbox) Restore(ctx context.Context, recipient UserID, msgs []RoutedMessage) error {
	if len(msgs) == 0 {
		return nil
	}

	vals := make([]any, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		b, err := json.Marshal(msgs[i])
		if err != nil {
			return fmt.Errorf("%w: encode: %w", ErrStoreFailure, err)
		}
		vals = append(vals, string(b))
	}

	if err := m.client.LPush(ctx, m.key(recipient), vals...).Err(); err != nil {
		return fmt.Errorf("%w: redis restore: %w", ErrStoreFailure, err)
	}
	return nil
}
