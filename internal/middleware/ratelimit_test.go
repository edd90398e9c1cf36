package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestCheckRateLimit(t *testing.T) {
	mr, rdb := setupRedis(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		allowed, err := CheckRateLimit(ctx, rdb, "posts", "ip:1", 2, time.Minute)
		require.NoError(t, err)
		assert.True(t, allowed)
	}
	allowed, err := CheckRateLimit(ctx, rdb, "posts", "ip:1", 2, time.Minute)
	require.NoError(t, err)
	assert.False(t, allowed)

	allowed, err = CheckRateLimit(ctx, rdb, "posts", "ip:2", 2, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed, "limits are per caller")

	assert.Equal(t, time.Minute, mr.TTL("rl:posts:ip:1"))
	mr.FastForward(time.Minute + time.Second)
	allowed, err = CheckRateLimit(ctx, rdb, "posts", "ip:1", 2, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed, "window resets after expiry")

	_, err = CheckRateLimit(ctx, nil, "posts", "ip:1", 2, time.Minute)
	assert.Error(t, err)
}

func hit(t *testing.T, app *fiber.App, path string) int {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, path, nil))
	require.NoError(t, err)
	_ = resp.Body.Close()
	return resp.StatusCode
}

func TestRateLimitMiddleware(t *testing.T) {
	ok := func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) }

	t.Run("Enforces limit", func(t *testing.T) {
		_, rdb := setupRedis(t)
		app := fiber.New()
		app.Get("/test", RateLimit(rdb, 1, time.Minute, "test"), ok)

		assert.Equal(t, http.StatusOK, hit(t, app, "/test"))
		assert.Equal(t, http.StatusTooManyRequests, hit(t, app, "/test"))
	})

	t.Run("Keys by user when authenticated", func(t *testing.T) {
		mr, rdb := setupRedis(t)
		app := fiber.New()
		app.Get("/test", func(c *fiber.Ctx) error {
			c.Locals(LocalUserID, "u-1")
			return c.Next()
		}, RateLimit(rdb, 5, time.Minute, "test"), ok)

		assert.Equal(t, http.StatusOK, hit(t, app, "/test"))
		assert.True(t, mr.Exists("rl:test:user:u-1"))
	})

	t.Run("Zero limit disables", func(t *testing.T) {
		app := fiber.New()
		app.Get("/test", RateLimitWithPolicy(nil, 0, time.Minute, FailClosed), ok)
		assert.Equal(t, http.StatusOK, hit(t, app, "/test"))
	})

	t.Run("FailOpen with nil redis", func(t *testing.T) {
		app := fiber.New()
		app.Get("/test", RateLimit(nil, 1, time.Minute), ok)
		assert.Equal(t, http.StatusOK, hit(t, app, "/test"))
	})

	t.Run("FailClosed with nil redis", func(t *testing.T) {
		app := fiber.New()
		app.Get("/sensitive", RateLimitWithPolicy(nil, 1, time.Minute, FailClosed), ok)
		assert.Equal(t, http.StatusServiceUnavailable, hit(t, app, "/sensitive"))
	})
}
