package recordstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/zombor/shop-scanner/internal/scan"
)

// DefaultRedisNamespace prefixes every key written by the Redis store
const DefaultRedisNamespace = "shop-scanner"

// Redis implements scan.RecordStore with JSON documents stored under
// {namespace}:{collection}:{key}
type Redis struct {
	client    *redis.Client
	namespace string
}

// NewRedis connects to the Redis server at redisURL and verifies the connection
func NewRedis(ctx context.Context, redisURL, namespace string) (*Redis, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("redis url is required")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return NewRedisWithClient(client, namespace), nil
}

// NewRedisWithClient wraps an existing client
func NewRedisWithClient(client *redis.Client, namespace string) *Redis {
	if namespace == "" {
		namespace = DefaultRedisNamespace
	}
	return &Redis{client: client, namespace: namespace}
}

func (r *Redis) key(collection, key string) string {
	return fmt.Sprintf("%s:%s:%s", r.namespace, collection, key)
}

// Get retrieves a document by key
func (r *Redis) Get(ctx context.Context, collection, key string) (scan.FieldMap, error) {
	data, err := r.client.Get(ctx, r.key(collection, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%s/%s: %w", collection, key, scan.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s/%s from redis: %w", collection, key, err)
	}

	var fields scan.FieldMap
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("unmarshaling document: %w", err)
	}
	return fields, nil
}

// Put stores a document
func (r *Redis) Put(ctx context.Context, collection, key string, fields scan.FieldMap) error {
	data, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("marshaling document: %w", err)
	}
	if err := r.client.Set(ctx, r.key(collection, key), data, 0).Err(); err != nil {
		return fmt.Errorf("writing %s/%s to redis: %w", collection, key, err)
	}
	return nil
}

// Close closes the Redis connection
func (r *Redis) Close() error {
	return r.client.Close()
}
