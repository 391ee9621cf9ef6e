// Package config loads lessweb application configuration with viper.
//
// A configuration file (TOML or YAML, chosen by extension) is read first,
// then every key is overlaid from the environment. The environment name of
// a key is the upper-cased letter runs of its path joined by underscores:
// bootstrap.exclude_none is read from BOOTSTRAP_EXCLUDE_NONE.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/bjaus/lessweb"
)

// ErrSectionNotFound is returned by Section for a name the configuration
// does not contain.
var ErrSectionNotFound = errors.New("config: section not found")

// Config is a loaded configuration.
type Config struct {
	Bootstrap Bootstrap `mapstructure:"bootstrap"`
	Logger    Logger    `mapstructure:"logger"`

	v       *viper.Viper
	unknown lessweb.UnknownFieldPolicy
}

// Bootstrap holds the options the runtime itself recognizes.
type Bootstrap struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	UnknownFields   string        `mapstructure:"unknown_fields"`
	ExcludeNone     bool          `mapstructure:"exclude_none"`
	ExcludeUnset    bool          `mapstructure:"exclude_unset"`
}

// Logger configures the process logger.
type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Stream string `mapstructure:"stream"`
}

type loader struct {
	prefix string
	lookup func(string) (string, bool)
}

// Option configures Load.
type Option func(*loader)

// WithEnvPrefix prepends prefix and an underscore to every environment name.
func WithEnvPrefix(prefix string) Option {
	return func(l *loader) {
		l.prefix = prefix
	}
}

// WithLookupEnv replaces os.LookupEnv as the environment source.
func WithLookupEnv(fn func(string) (string, bool)) Option {
	return func(l *loader) {
		l.lookup = fn
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("bootstrap.host", "")
	v.SetDefault("bootstrap.port", 8080)
	v.SetDefault("bootstrap.shutdown_timeout", 30*time.Second)
	v.SetDefault("bootstrap.unknown_fields", "ignore")
	v.SetDefault("bootstrap.exclude_none", false)
	v.SetDefault("bootstrap.exclude_unset", false)
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.stream", "stdout")
}

// Load reads the configuration file at path and overlays the environment.
// An empty path loads defaults and the environment only.
func Load(path string, opts ...Option) (*Config, error) {
	l := &loader{lookup: os.LookupEnv}
	for _, opt := range opts {
		opt(l)
	}

	v := viper.New()
	setDefaults(v)
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	for _, key := range v.AllKeys() {
		if val, ok := l.lookup(EnvKey(l.prefix, key)); ok {
			v.Set(key, val)
		}
	}

	// Reading a parent key from viper returns only the layer that holds
	// it, so sections are decoded from the flattened settings.
	merged := viper.New()
	if err := merged.MergeConfigMap(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("config: merge: %w", err)
	}

	c := &Config{v: merged}
	if err := merged.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}

	unknown, err := lessweb.ParseUnknownFieldPolicy(c.Bootstrap.UnknownFields)
	if err != nil {
		return nil, fmt.Errorf("config: bootstrap.unknown_fields: %w", err)
	}
	c.unknown = unknown
	return c, nil
}

var envWord = regexp.MustCompile(`[A-Z]+`)

// EnvKey returns the environment variable name overriding key.
func EnvKey(prefix, key string) string {
	name := strings.Join(envWord.FindAllString(strings.ToUpper(key), -1), "_")
	if prefix == "" {
		return name
	}
	return strings.ToUpper(prefix) + "_" + name
}

// Section decodes the named top-level section into target.
func (c *Config) Section(name string, target any) error {
	if !c.v.IsSet(name) {
		return fmt.Errorf("%w: %s", ErrSectionNotFound, name)
	}
	if err := c.v.UnmarshalKey(name, target); err != nil {
		return fmt.Errorf("config: decode section %s: %w", name, err)
	}
	return nil
}

// Get returns the raw value at key.
func (c *Config) Get(key string) any {
	return c.v.Get(key)
}

// Addr is the listen address from bootstrap.host and bootstrap.port.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Bootstrap.Host, strconv.Itoa(c.Bootstrap.Port))
}

// AppOptions translates the bootstrap options into app options.
func (c *Config) AppOptions() []lessweb.Option {
	return []lessweb.Option{
		lessweb.WithUnknownFields(c.unknown),
		lessweb.WithExcludeNone(c.Bootstrap.ExcludeNone),
		lessweb.WithExcludeUnset(c.Bootstrap.ExcludeUnset),
		lessweb.WithShutdownTimeout(c.Bootstrap.ShutdownTimeout),
	}
}

// NewLogger builds a zap logger. Format is json or console; Stream is
// stdout, stderr, or a file path.
func NewLogger(cfg Logger) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("config: logger.level: %w", err)
	}

	zc := zap.NewProductionConfig()
	zc.Level = level
	switch cfg.Format {
	case "json":
	case "console", "":
		zc.Encoding = "console"
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	default:
		return nil, fmt.Errorf("config: logger.format: unknown format %q", cfg.Format)
	}
	if cfg.Stream != "" {
		zc.OutputPaths = []string{cfg.Stream}
	}
	return zc.Build()
}
