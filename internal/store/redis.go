package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"speaking-practice/backend/internal/models"

	"github.com/redis/go-redis/v9"
)

// RedisBackend stores each record as a JSON string plus two id sets:
// one per owner and one for the sweep.
type RedisBackend struct {
	client    redis.UniversalClient
	prefix    string
	recordTTL time.Duration
}

// NewRedisBackend creates a backend on client. recordTTL is a backstop
// expiry on record keys so abandoned data disappears even without a sweep.
func NewRedisBackend(client redis.UniversalClient, prefix string, recordTTL time.Duration) *RedisBackend {
	if prefix == "" {
		prefix = "practice"
	}
	return &RedisBackend{client: client, prefix: prefix, recordTTL: recordTTL}
}

func (b *RedisBackend) Name() string { return "redis" }

func (b *RedisBackend) sessionKey(id string) string {
	return fmt.Sprintf("%s:session:%s", b.prefix, id)
}

func (b *RedisBackend) userKey(userID string) string {
	return fmt.Sprintf("%s:user:%s:sessions", b.prefix, userID)
}

func (b *RedisBackend) allKey() string {
	return b.prefix + ":sessions"
}

func (b *RedisBackend) Put(ctx context.Context, rec *models.SessionRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", rec.ID, err)
	}

	prevOwner, err := b.owner(ctx, rec.ID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}

	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, b.sessionKey(rec.ID), data, b.recordTTL)
		if prevOwner != "" && prevOwner != rec.UserID {
			pipe.SRem(ctx, b.userKey(prevOwner), rec.ID)
		}
		pipe.SAdd(ctx, b.userKey(rec.UserID), rec.ID)
		pipe.SAdd(ctx, b.allKey(), rec.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis put %s: %w", rec.ID, err)
	}
	return nil
}

func (b *RedisBackend) Get(ctx context.Context, id string) (*models.SessionRecord, error) {
	data, err := b.client.Get(ctx, b.sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", id, err)
	}

	var rec models.SessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode record %s: %w", id, err)
	}
	return &rec, nil
}

func (b *RedisBackend) owner(ctx context.Context, id string) (string, error) {
	rec, err := b.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return rec.UserID, nil
}

func (b *RedisBackend) Delete(ctx context.Context, id string) (bool, error) {
	owner, err := b.owner(ctx, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return false, err
	}
	found := err == nil

	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, b.sessionKey(id))
		if owner != "" {
			pipe.SRem(ctx, b.userKey(owner), id)
		}
		pipe.SRem(ctx, b.allKey(), id)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("redis delete %s: %w", id, err)
	}
	return found, nil
}

func (b *RedisBackend) ListByUser(ctx context.Context, userID string) ([]*models.SessionRecord, error) {
	ids, err := b.client.SMembers(ctx, b.userKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list %s: %w", userID, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = b.sessionKey(id)
	}
	values, err := b.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget: %w", err)
	}

	out := make([]*models.SessionRecord, 0, len(values))
	var stale []any
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var rec models.SessionRecord
		if err := json.Unmarshal([]byte(s), &rec); err != nil {
			return nil, fmt.Errorf("decode record %s: %w", ids[i], err)
		}
		out = append(out, &rec)
	}

	// ids whose record key hit the backstop expiry
	if len(stale) > 0 {
		b.client.SRem(ctx, b.userKey(userID), stale...)
	}
	return out, nil
}

func (b *RedisBackend) ListIDs(ctx context.Context) ([]string, error) {
	ids, err := b.client.SMembers(ctx, b.allKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list ids: %w", err)
	}
	return ids, nil
}

func (b *RedisBackend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}
