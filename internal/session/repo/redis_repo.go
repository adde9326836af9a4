package repo

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ovaphlow/pitchfork/service-election-auth/internal/session/entity"
)

// RedisRepo keeps each session as a JSON value that expires with the session.
type RedisRepo struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedisRepo(client *redis.Client) *RedisRepo {
	return &RedisRepo{client: client, now: time.Now}
}

func sessionKey(hash string) string {
	return "session:" + hash
}

func (r *RedisRepo) Create(ctx context.Context, s *entity.Session) error {
	return r.put(ctx, s)
}

func (r *RedisRepo) GetByTokenHash(ctx context.Context, hash string) (*entity.Session, error) {
	value, err := r.client.Get(ctx, sessionKey(hash)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var s entity.Session
	if err := json.Unmarshal(value, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Update rewrites the session only while its key still exists (SET XX), so a
// concurrent Delete cannot be undone by a sliding-expiry write.
func (r *RedisRepo) Update(ctx context.Context, s *entity.Session) error {
	data, ttl, err := r.encode(s)
	if err != nil {
		return err
	}
	err = r.client.SetArgs(ctx, sessionKey(s.TokenHash), data, redis.SetArgs{Mode: "XX", TTL: ttl}).Err()
	if err == redis.Nil {
		return ErrNotFound
	}
	return err
}

func (r *RedisRepo) Delete(ctx context.Context, hash string) error {
	return r.client.Del(ctx, sessionKey(hash)).Err()
}

func (r *RedisRepo) put(ctx context.Context, s *entity.Session) error {
	data, ttl, err := r.encode(s)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, sessionKey(s.TokenHash), data, ttl).Err()
}

func (r *RedisRepo) encode(s *entity.Session) ([]byte, time.Duration, error) {
	ttl := s.ExpiresAt.Sub(r.now())
	if ttl <= 0 {
		return nil, 0, errors.New("session already expired")
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, 0, err
	}
	return data, ttl, nil
}
