// Package redismod provides a process-scope Redis module for lessweb apps.
//
// The module owns one go-redis connection pool for the life of the app.
// Handlers inject a *Client, a per-request handle on that pool that
// namespaces keys with the configured prefix.
package redismod

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/bjaus/lessweb"
	"github.com/bjaus/lessweb/config"
)

// Section is the configuration section the module reads.
const Section = "redis"

// ErrNotStarted is returned by Client methods used before the module starts.
var ErrNotStarted = errors.New("redismod: module not started")

// Config configures the connection pool.
type Config struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
	PoolSize int    `mapstructure:"pool_size"`
}

// Module is the process-scope owner of the Redis pool.
type Module struct {
	cfg    Config
	logger *zap.Logger
	client *redis.Client
}

// New builds a module from the redis section of cfg.
func New(cfg *config.Config, logger *zap.Logger) (*Module, error) {
	var c Config
	if err := cfg.Section(Section, &c); err != nil {
		return nil, err
	}
	return NewWithConfig(c, logger), nil
}

// NewWithConfig builds a module from an explicit Config.
func NewWithConfig(c Config, logger *zap.Logger) *Module {
	if c.Addr == "" {
		c.Addr = "localhost:6379"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Module{cfg: c, logger: logger}
}

// OnStart opens the pool and checks the server answers.
func (m *Module) OnStart(ctx context.Context) error {
	client := redis.NewClient(&redis.Options{
		Addr:     m.cfg.Addr,
		Password: m.cfg.Password,
		DB:       m.cfg.DB,
		PoolSize: m.cfg.PoolSize,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		//nolint:errcheck,gosec // the ping error is the one worth reporting
		client.Close()
		return fmt.Errorf("redismod: ping %s: %w", m.cfg.Addr, err)
	}
	m.client = client
	m.logger.Info("redis connected", zap.String("addr", m.cfg.Addr), zap.Int("db", m.cfg.DB))
	return nil
}

// OnStop closes the pool.
func (m *Module) OnStop(context.Context) error {
	if m.client == nil {
		return nil
	}
	err := m.client.Close()
	m.client = nil
	return err
}

// Redis returns the underlying pool, or nil before OnStart.
func (m *Module) Redis() *redis.Client { return m.client }

// Client is a request's handle on the module's pool. It does not own the
// pool and is safe to drop without closing.
type Client struct {
	redis.Cmdable
	prefix string
}

// NewClient is the bean factory for *Client.
func NewClient(m *Module) (*Client, error) {
	if m.client == nil {
		return nil, ErrNotStarted
	}
	return &Client{Cmdable: m.client, prefix: m.cfg.Prefix}, nil
}

// Key joins parts with ':' under the configured prefix.
func (c *Client) Key(parts ...string) string {
	key := strings.Join(parts, ":")
	if c.prefix == "" {
		return key
	}
	return c.prefix + ":" + key
}

// Register adds the module and the *Client bean to app.
func Register(app *lessweb.App) error {
	if err := app.RegisterModule(New); err != nil {
		return err
	}
	return app.RegisterBean(NewClient)
}
