package schema

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/casesync/internal/server/models"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "casesync:schema:"

type redisEntry struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Label   string `json:"label"`
	Content string `json:"content"`
}

// RedisStore shares cached schemas between server instances. Entries hold
// the raw descriptor, parsed again on read.
type RedisStore struct {
	cmd redis.Cmdable
}

func NewRedisStore(cmd redis.Cmdable) *RedisStore {
	return &RedisStore{cmd: cmd}
}

func (r *RedisStore) Get(ctx context.Context, name string) (*Schema, bool, error) {
	data, err := r.cmd.Get(ctx, redisKeyPrefix+name).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis get: %w", err)
	}

	var e redisEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, false, fmt.Errorf("redis entry: %w", err)
	}
	s, err := FromDictionary(&models.Dictionary{ID: e.ID, Name: e.Name, Label: e.Label, Content: e.Content})
	if err != nil {
		return nil, false, err
	}
	return s, true, nil
}

func (r *RedisStore) Set(ctx context.Context, s *Schema, ttl time.Duration) error {
	data, err := json.Marshal(redisEntry{ID: s.DictionaryID, Name: s.Name, Label: s.Label, Content: s.Content})
	if err != nil {
		return err
	}
	if err := r.cmd.Set(ctx, redisKeyPrefix+s.Name, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, name string) error {
	if err := r.cmd.Del(ctx, redisKeyPrefix+name).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
