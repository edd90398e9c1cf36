package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"penpoint/internal/observability"

	"github.com/redis/go-redis/v9"
)

const (
	PostKeyPrefix     = "post:%s"
	PostSlugKeyPrefix = "post:slug:%s"
)

// PostTTL is the default lifetime of cached posts.
const PostTTL = 5 * time.Minute

func PostKey(postID string) string {
	return fmt.Sprintf(PostKeyPrefix, postID)
}

func PostSlugKey(slug string) string {
	return fmt.Sprintf(PostSlugKeyPrefix, slug)
}

// ErrMiss is returned by GetJSON when the key is absent or caching is off.
var ErrMiss = errors.New("cache miss")

// GetJSON decodes the value stored at key into dest.
func GetJSON(ctx context.Context, key string, dest interface{}) error {
	if client == nil {
		return ErrMiss
	}
	raw, err := client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrMiss
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}

// SetJSON stores value at key as JSON for ttl.
func SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if client == nil {
		return nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return client.Set(ctx, key, raw, ttl).Err()
}

// Aside reads key into dest, or calls fetch to fill dest and stores the
// result. Cache failures never fail the read; fetch errors are returned.
func Aside(ctx context.Context, key string, dest interface{}, ttl time.Duration, fetch func() error) error {
	err := GetJSON(ctx, key, dest)
	if err == nil {
		observability.CacheLookups.WithLabelValues("hit").Inc()
		return nil
	}
	observability.CacheLookups.WithLabelValues("miss").Inc()
	if !errors.Is(err, ErrMiss) {
		observability.Logger.WarnContext(ctx, "cache read failed", slog.String("key", key), slog.String("error", err.Error()))
	}

	if err := fetch(); err != nil {
		return err
	}

	if err := SetJSON(ctx, key, dest, ttl); err != nil {
		observability.Logger.WarnContext(ctx, "cache write failed", slog.String("key", key), slog.String("error", err.Error()))
	}
	return nil
}

// Invalidate removes keys from the cache.
func Invalidate(ctx context.Context, keys ...string) {
	if client == nil || len(keys) == 0 {
		return
	}
	if err := client.Del(ctx, keys...).Err(); err != nil {
		observability.Logger.WarnContext(ctx, "cache invalidation failed", slog.Any("keys", keys), slog.String("error", err.Error()))
	}
}

// InvalidatePost removes every cached representation of a post.
func InvalidatePost(ctx context.Context, postID, slug string) {
	keys := []string{PostKey(postID)}
	if slug != "" {
		keys = append(keys, PostSlugKey(slug))
	}
	Invalidate(ctx, keys...)
}
