package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultTTL = 12 * time.Hour

// releaseScript frees the lock only when it still belongs to ARGV[1].
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	redis.call('DEL', KEYS[1])
end
redis.call('DEL', KEYS[2])
return 1
`)

// RedisStore keeps the edit lock and snapshot in Redis so they survive a
// restart and are shared between API replicas.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore connects to redisURL. A ttl <= 0 uses twelve hours.
func NewRedisStore(redisURL string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client, ttl), nil
}

func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisStore{
		client: client,
		prefix: "qualedit:edit:",
		ttl:    ttl,
	}
}

func (s *RedisStore) lockKey() string {
	return s.prefix + "active"
}

func (s *RedisStore) snapshotKey(sessionID string) string {
	return s.prefix + "snapshot:" + sessionID
}

func (s *RedisStore) Acquire(ctx context.Context, snap Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.lockKey(), snap.SessionID, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire edit lock: %w", err)
	}
	if !ok {
		return ErrLocked
	}

	if err := s.client.Set(ctx, s.snapshotKey(snap.SessionID), payload, s.ttl).Err(); err != nil {
		_ = s.Release(ctx, snap.SessionID)
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context, sessionID string) (Snapshot, error) {
	payload, err := s.client.Get(ctx, s.snapshotKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("load snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return snap, nil
}

func (s *RedisStore) Active(ctx context.Context) (Snapshot, error) {
	sessionID, err := s.client.Get(ctx, s.lockKey()).Result()
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, ErrNotFound
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("read edit lock: %w", err)
	}
	return s.Load(ctx, sessionID)
}

func (s *RedisStore) Touch(ctx context.Context, sessionID string) error {
	holder, err := s.client.Get(ctx, s.lockKey()).Result()
	if errors.Is(err, redis.Nil) || (err == nil && holder != sessionID) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read edit lock: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Expire(ctx, s.lockKey(), s.ttl)
	pipe.Expire(ctx, s.snapshotKey(sessionID), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("extend edit lock: %w", err)
	}
	return nil
}

func (s *RedisStore) Release(ctx context.Context, sessionID string) error {
	keys := []string{s.lockKey(), s.snapshotKey(sessionID)}
	if err := releaseScript.Run(ctx, s.client, keys, sessionID).Err(); err != nil {
		return fmt.Errorf("release edit lock: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
