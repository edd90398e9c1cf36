// Package bootstrap opens the record store and Redis for the binaries.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"penpoint/internal/cache"
	"penpoint/internal/config"
	"penpoint/internal/database"
	"penpoint/internal/models"
	"penpoint/internal/observability"
	"penpoint/internal/repository"
	"penpoint/internal/repository/mongostore"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// Runtime bundles the initialised dependencies shared by the binaries.
type Runtime struct {
	Store repository.Store
	// DB is nil when the mongo driver is selected.
	DB    *gorm.DB
	Redis *redis.Client
	Ping  func(ctx context.Context) error

	closers []func(ctx context.Context) error
}

// Options control runtime initialization behavior.
type Options struct {
	// DisableCache skips the Redis read-through layer even when Redis is up.
	DisableCache bool
}

// InitRuntime connects to the configured store and to Redis. Redis is
// optional; without it caching and rate limiting are off.
func InitRuntime(ctx context.Context, cfg *config.Config, opts Options) (*Runtime, error) {
	rt := &Runtime{}

	switch cfg.StoreDriver {
	case config.DriverMongo:
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		ms, err := mongostore.New(connectCtx, cfg.MongoURL, cfg.MongoDatabase)
		if err != nil {
			return nil, fmt.Errorf("mongo connection failed: %w", err)
		}
		observability.Logger.Info("MongoDB connected successfully", slog.String("database", cfg.MongoDatabase))
		rt.Store = ms
		rt.Ping = ms.Ping
		rt.closers = append(rt.closers, ms.Close)
	default:
		db, err := database.Connect(cfg)
		if err != nil {
			return nil, fmt.Errorf("database connection failed: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("database handle: %w", err)
		}
		rt.DB = db
		rt.Store = repository.NewStore(db)
		rt.Ping = sqlDB.PingContext
		rt.closers = append(rt.closers, func(context.Context) error { return sqlDB.Close() })

		if err := ensureDevRootAdmin(ctx, cfg, repository.NewUserRepository(db)); err != nil {
			_ = rt.Close(ctx)
			return nil, fmt.Errorf("failed to bootstrap development root admin: %w", err)
		}
	}

	// Init Redis (may result in nil client if unreachable)
	cache.InitRedis(cfg.RedisURL)
	rt.Redis = cache.GetClient()
	if rt.Redis != nil {
		rt.closers = append(rt.closers, func(context.Context) error { return cache.Close() })
		if !opts.DisableCache && cfg.PostCacheTTLSeconds > 0 {
			rt.Store = repository.NewCachedStore(rt.Store, time.Duration(cfg.PostCacheTTLSeconds)*time.Second)
		}
	}

	return rt, nil
}

// Close releases connections in reverse order of acquisition.
func (rt *Runtime) Close(ctx context.Context) error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}

// ensureDevRootAdmin creates or promotes the development root account.
func ensureDevRootAdmin(ctx context.Context, cfg *config.Config, users repository.UserRepository) error {
	if cfg == nil || users == nil {
		return nil
	}
	if cfg.Env != "development" || !cfg.DevBootstrapRoot {
		return nil
	}

	username := strings.TrimSpace(cfg.DevRootUsername)
	if username == "" {
		username = "root"
	}
	email := strings.TrimSpace(strings.ToLower(cfg.DevRootEmail))
	if email == "" {
		email = "root@penpoint.local"
	}
	password := cfg.DevRootPassword
	if password == "" {
		return fmt.Errorf("DEV_ROOT_PASSWORD must be set when DEV_BOOTSTRAP_ROOT is enabled")
	}

	root, err := users.GetByEmail(ctx, email)
	switch {
	case models.IsNotFound(err):
		hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hash root password: %w", err)
		}
		root = &models.User{
			Username: username,
			Email:    email,
			Password: string(hashed),
			Role:     models.RoleAdmin,
		}
		if err := users.Create(ctx, root); err != nil {
			return err
		}
	case err != nil:
		return err
	case root.Role != models.RoleAdmin:
		root.Role = models.RoleAdmin
		if err := users.Update(ctx, root); err != nil {
			return err
		}
	}

	observability.Logger.Info("development root admin ensured",
		slog.String("user_id", root.ID),
		slog.String("email", email),
	)
	return nil
}
