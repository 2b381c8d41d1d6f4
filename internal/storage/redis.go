package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hanko-field/storefront/internal/domain"
)

const defaultKeyPrefix = "storefront"

// RedisStore implements both OrderLog and CartCache on Redis. Orders are kept in a
// list per scope; the cart cache is a single JSON value with a TTL.
type RedisStore struct {
	client  *redis.Client
	prefix  string
	cartTTL time.Duration
}

// NewRedisStore wraps client. An empty prefix uses "storefront"; a zero TTL keeps carts until deleted.
func NewRedisStore(client *redis.Client, prefix string, cartTTL time.Duration) *RedisStore {
	prefix = strings.Trim(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix, cartTTL: cartTTL}
}

// Append pushes order onto the scope's list. Order ids are unique across scopes.
func (r *RedisStore) Append(ctx context.Context, scope string, order domain.PersistedOrder) error {
	scope, err := normalizeScope(scope)
	if err != nil {
		return err
	}
	payload, err := encodeOrder(order)
	if err != nil {
		return err
	}

	added, err := r.client.SAdd(ctx, r.key("order-ids"), order.ID).Result()
	if err != nil {
		return fmt.Errorf("redis sadd failed: %w", err)
	}
	if added == 0 {
		return ErrDuplicateOrder
	}
	if err := r.client.RPush(ctx, r.key("orders", scope), payload).Err(); err != nil {
		_ = r.client.SRem(ctx, r.key("order-ids"), order.ID).Err()
		return fmt.Errorf("redis rpush failed: %w", err)
	}
	return nil
}

// List returns the scope's orders in append order.
func (r *RedisStore) List(ctx context.Context, scope string) ([]domain.PersistedOrder, error) {
	scope, err := normalizeScope(scope)
	if err != nil {
		return nil, err
	}
	raw, err := r.client.LRange(ctx, r.key("orders", scope), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange failed: %w", err)
	}
	orders := make([]domain.PersistedOrder, 0, len(raw))
	for _, entry := range raw {
		order, err := decodeOrder([]byte(entry))
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, nil
}

// Put overwrites the scope's cached cart.
func (r *RedisStore) Put(ctx context.Context, scope string, cart CachedCart) error {
	scope, err := normalizeScope(scope)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(cart)
	if err != nil {
		return fmt.Errorf("marshal cart failed: %w", err)
	}
	if err := r.client.Set(ctx, r.key("cart", scope), payload, r.cartTTL).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// Get returns the cached cart or ErrCacheMiss.
func (r *RedisStore) Get(ctx context.Context, scope string) (CachedCart, error) {
	scope, err := normalizeScope(scope)
	if err != nil {
		return CachedCart{}, err
	}
	data, err := r.client.Get(ctx, r.key("cart", scope)).Bytes()
	if errors.Is(err, redis.Nil) {
		return CachedCart{}, ErrCacheMiss
	}
	if err != nil {
		return CachedCart{}, fmt.Errorf("redis get failed: %w", err)
	}
	var cart CachedCart
	if err := json.Unmarshal(data, &cart); err != nil {
		return CachedCart{}, fmt.Errorf("unmarshal cart failed: %w", err)
	}
	return cart, nil
}

// Delete removes the scope's cached cart.
func (r *RedisStore) Delete(ctx context.Context, scope string) error {
	scope, err := normalizeScope(scope)
	if err != nil {
		return err
	}
	if err := r.client.Del(ctx, r.key("cart", scope)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func (r *RedisStore) key(parts ...string) string {
	return r.prefix + ":" + strings.Join(parts, ":")
}
