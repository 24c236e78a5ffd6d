package pending

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultKeyPrefix namespaces the per-receiver lists.
const DefaultKeyPrefix = "relay:pending:"

// Appends one message unless the list is at capacity.
// KEYS[1] = receiver list
// ARGV[1] = encoded message
// ARGV[2] = max length (0 = unbounded)
// ARGV[3] = ttl in milliseconds (0 = none)
// Returns the new length, or -1 when full.
var enqueueScript = redis.NewScript(`
local max = tonumber(ARGV[2])
if max > 0 and redis.call("LLEN", KEYS[1]) >= max then
  return -1
end
local n = redis.call("RPUSH", KEYS[1], ARGV[1])
local ttl = tonumber(ARGV[3])
if ttl > 0 then
  redis.call("PEXPIRE", KEYS[1], ttl)
end
return n
`)

// RedisConfig describes the Redis connection used by RedisStore.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// RedisStore keeps one Redis list per receiver. It survives relay restarts
// for as long as Redis keeps the keys.
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
	opts   Options
	log    *zap.Logger
}

// DialRedis opens a client for cfg and checks it with PING.
func DialRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrapf(err, "ping redis at %s", cfg.Addr)
	}
	return rdb, nil
}

// NewRedisStore wraps an existing client.
func NewRedisStore(rdb redis.UniversalClient, opts Options, log *zap.Logger) *RedisStore {
	opts.norm()
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisStore{
		rdb:    rdb,
		prefix: DefaultKeyPrefix,
		opts:   opts,
		log:    log.Named("pending.redis"),
	}
}

func (s *RedisStore) key(userID string) string { return s.prefix + userID }

// Enqueue appends msg to the receiver's list.
func (s *RedisStore) Enqueue(ctx context.Context, msg Message) error {
	if msg.EnqueuedAt.IsZero() {
		msg.EnqueuedAt = s.opts.Clock()
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "encode pending message")
	}

	n, err := enqueueScript.Run(ctx, s.rdb,
		[]string{s.key(msg.ReceiverID)},
		string(b), s.opts.MaxPerReceiver, s.opts.TTL.Milliseconds(),
	).Int64()
	if err != nil {
		return errors.Wrapf(err, "enqueue pending message for %s", msg.ReceiverID)
	}
	if n < 0 {
		return ErrQueueFull
	}
	return nil
}

// Drain reads and deletes the receiver's list inside one MULTI/EXEC.
func (s *RedisStore) Drain(ctx context.Context, userID string) ([]Message, error) {
	key := s.key(userID)
	var lr *redis.StringSliceCmd
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		lr = pipe.LRange(ctx, key, 0, -1)
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "drain pending messages for %s", userID)
	}

	vals := lr.Val()
	if len(vals) == 0 {
		return nil, nil
	}
	now := s.opts.Clock()
	out := make([]Message, 0, len(vals))
	for _, v := range vals {
		var m Message
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			s.log.Warn("skipping undecodable pending message", zap.String("user_id", userID), zap.Error(err))
			continue
		}
		if s.opts.expired(m, now) {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// Size returns the length of the receiver's list.
func (s *RedisStore) Size(ctx context.Context, userID string) (int, error) {
	n, err := s.rdb.LLen(ctx, s.key(userID)).Result()
	if err != nil {
		return 0, errors.Wrapf(err, "size of pending queue for %s", userID)
	}
	return int(n), nil
}
