package attrsession

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var (
	// ErrParsingConfig wraps errors from reading the environment.
	ErrParsingConfig = errors.New("failed to parse session config")

	// ErrUnknownBackend is returned by OpenStore for an unsupported SESSION_BACKEND.
	ErrUnknownBackend = errors.New("unknown session backend")
)

// EnvConfig is the environment-driven configuration of a Manager and its store.
//
//	SESSION_BACKEND=redis SESSION_DSN=redis://localhost:6379/0 SESSION_USE_SIGNER=true \
//	SESSION_SECRETS=0123456789abcdef0123456789abcdef ./app
type EnvConfig struct {
	Backend          string        `env:"SESSION_BACKEND" envDefault:"memory"` // memory, sqlite, postgres, redis, mongo or memcached
	DSN              string        `env:"SESSION_DSN"`                         // file path, connection URL or comma separated memcached servers
	MongoDatabase    string        `env:"SESSION_MONGO_DATABASE" envDefault:"sessions"`
	ConnectAttempts  int           `env:"SESSION_CONNECT_ATTEMPTS" envDefault:"3"`
	ConnectInterval  time.Duration `env:"SESSION_CONNECT_INTERVAL" envDefault:"2s"`
	ConnectTimeout   time.Duration `env:"SESSION_CONNECT_TIMEOUT" envDefault:"10s"`
	Collection       string        `env:"SESSION_COLLECTION" envDefault:"session"`
	KeyPrefix        string        `env:"SESSION_KEY_PREFIX"`
	UseSigner        bool          `env:"SESSION_USE_SIGNER" envDefault:"false"`
	Secrets          []string      `env:"SESSION_SECRETS" envSeparator:","`
	Permanent        bool          `env:"SESSION_PERMANENT" envDefault:"true"`
	Lifetime         time.Duration `env:"SESSION_LIFETIME" envDefault:"744h"`
	RefreshEachSave  bool          `env:"SESSION_REFRESH_EACH_REQUEST" envDefault:"true"`
	CookieName       string        `env:"SESSION_COOKIE_NAME" envDefault:"session_id"`
	CookiePath       string        `env:"SESSION_COOKIE_PATH" envDefault:"/"`
	CookieDomain     string        `env:"SESSION_COOKIE_DOMAIN"`
	CookieHttpOnly   bool          `env:"SESSION_COOKIE_HTTPONLY" envDefault:"true"`
	CookieSecure     *bool         `env:"SESSION_COOKIE_SECURE"`
	CookieSameSite   string        `env:"SESSION_COOKIE_SAMESITE" envDefault:"lax"`
	CleanupInterval  time.Duration `env:"SESSION_CLEANUP_INTERVAL" envDefault:"10m"`
	MaxSessionBytes  int           `env:"SESSION_MAX_BYTES" envDefault:"0"`
	MemcachedTTL     time.Duration `env:"SESSION_MEMCACHED_TTL" envDefault:"744h"`
	MemcachedTimeout time.Duration `env:"SESSION_MEMCACHED_TIMEOUT" envDefault:"1s"`
}

// LoadEnvConfig reads a .env file when one exists and parses the environment.
func LoadEnvConfig() (EnvConfig, error) {
	// A missing .env file is fine.
	_ = godotenv.Load()

	var cfg EnvConfig
	if err := env.Parse(&cfg); err != nil {
		return EnvConfig{}, errors.Join(ErrParsingConfig, err)
	}
	return cfg, nil
}

// Config turns the environment settings into a Manager Config for store.
func (c EnvConfig) Config(store AttributeStore, logger *slog.Logger) Config {
	permanent := c.Permanent
	refresh := c.RefreshEachSave
	httpOnly := c.CookieHttpOnly

	lifetime := c.Lifetime
	if lifetime == 0 {
		// An explicit zero in the environment means "never expires".
		lifetime = -1
	}
	cleanup := c.CleanupInterval
	if cleanup == 0 {
		cleanup = -1
	}

	return Config{
		Store:              store,
		Collection:         c.Collection,
		KeyPrefix:          c.KeyPrefix,
		UseSigner:          c.UseSigner,
		Secrets:            c.Secrets,
		Permanent:          &permanent,
		Lifetime:           lifetime,
		RefreshEachRequest: &refresh,
		CookieName:         c.CookieName,
		CookiePath:         c.CookiePath,
		CookieDomain:       c.CookieDomain,
		HttpOnly:           &httpOnly,
		Secure:             c.CookieSecure,
		SameSite:           parseSameSite(c.CookieSameSite),
		CleanupInterval:    cleanup,
		MaxSessionBytes:    c.MaxSessionBytes,
		Logger:             logger,
	}
}

func parseSameSite(v string) http.SameSite {
	switch strings.ToLower(v) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	case "default":
		return http.SameSiteDefaultMode
	default:
		return http.SameSiteLaxMode
	}
}

// OpenStore connects the backend named by c.Backend.
func OpenStore(ctx context.Context, c EnvConfig) (AttributeStore, error) {
	switch strings.ToLower(c.Backend) {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		dsn := c.DSN
		if dsn == "" {
			dsn = "sessions.db"
		}
		return NewSQLiteStore(dsn)
	case "postgres", "postgresql":
		return NewPostgreSQLStore(c.DSN)
	case "redis":
		rdb, err := ConnectRedis(ctx, c.DSN, c.ConnectAttempts, c.ConnectInterval, c.ConnectTimeout)
		if err != nil {
			return nil, err
		}
		return NewRedisStore(rdb), nil
	case "mongo", "mongodb":
		client, err := ConnectMongo(ctx, c.DSN, c.ConnectAttempts, c.ConnectInterval, c.ConnectTimeout)
		if err != nil {
			return nil, err
		}
		store, err := NewMongoStore(ctx, client.Database(c.MongoDatabase), MongoConfig{})
		if err != nil {
			_ = client.Disconnect(ctx)
			return nil, err
		}
		return store, nil
	case "memcached":
		return NewMemcachedStoreWithConfig(MemcachedConfig{
			Servers: strings.Split(c.DSN, ","),
			TTL:     c.MemcachedTTL,
			Timeout: c.MemcachedTimeout,
		}), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, c.Backend)
	}
}
