package cache

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"

	"pharmledger/backend/internal/domain"
)

type RedisDraftStore struct {
	client *redis.Client
}

func NewRedisDraftStore(addr string, password string, db int) *RedisDraftStore {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisDraftStore{client: client}
}

func (c *RedisDraftStore) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisDraftStore) Close() error {
	return c.client.Close()
}

func (c *RedisDraftStore) Get(ctx context.Context, username string, scope domain.Scope) (*domain.CheckoutDraft, bool, error) {
	val, err := c.client.Get(ctx, draftKey(username, scope)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var draft domain.CheckoutDraft
	if err := json.Unmarshal([]byte(val), &draft); err != nil {
		return nil, false, err
	}
	return &draft, true, nil
}

func (c *RedisDraftStore) Set(ctx context.Context, draft *domain.CheckoutDraft, ttl time.Duration) error {
	if draft == nil {
		return nil
	}
	stored := *draft
	if ttl > 0 {
		stored.ExpiresAt = time.Now().UTC().Add(ttl)
	}
	payload, err := json.Marshal(stored)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, draftKey(draft.Username, draft.Scope), payload, ttl).Err()
}

func (c *RedisDraftStore) Delete(ctx context.Context, username string, scope domain.Scope) error {
	return c.client.Del(ctx, draftKey(username, scope)).Err()
}
