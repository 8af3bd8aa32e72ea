package store

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const keyPrefix = "datachat:content:"

// RedisStore keeps generated documents in redis with the retention window
// enforced through key TTLs.
type RedisStore struct {
	client    *redis.Client
	retention time.Duration
}

type RedisOption func(*RedisStore)

func WithRetention(d time.Duration) RedisOption {
	return func(s *RedisStore) { s.retention = d }
}

func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client:    client,
		retention: DefaultRetention,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ Store = (*RedisStore)(nil)

func (s *RedisStore) Save(ctx context.Context, content string) (string, error) {
	id, err := NewID()
	if err != nil {
		return "", err
	}
	if err := s.client.Set(ctx, keyPrefix+id, content, s.retention).Err(); err != nil {
		return "", errors.Wrap(err, "save content")
	}
	log.Debug().Str("id", id).Int("bytes", len(content)).Msg("saved generated document")
	return id, nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (string, error) {
	content, err := s.client.Get(ctx, keyPrefix+id).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", errors.Wrap(err, "get content")
	}
	return content, nil
}
