// Package config loads cachekit settings: defaults, then an optional YAML
// file, then environment variables (a .env file is loaded first when present).
//
// Durations accept Go syntax plus days and weeks ("1d12h", "2w"), or a bare
// integer number of seconds in YAML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/xhit/go-str2duration/v2"
	"gopkg.in/yaml.v3"

	"github.com/unkn0wn-root/cachekit"
	"github.com/unkn0wn-root/cachekit/backend"
	"github.com/unkn0wn-root/cachekit/codec"
	"github.com/unkn0wn-root/cachekit/factory"
	"github.com/unkn0wn-root/cachekit/ratelimit"
)

// Environment variables read by ApplyEnv.
const (
	EnvUseRedis        = "CACHE_USE_REDIS"
	EnvRedisURL        = "REDIS_URL"
	EnvLocalEngine     = "CACHE_LOCAL_ENGINE"
	EnvSweepInterval   = "CACHE_SWEEP_INTERVAL"
	EnvRedisMaxRetries = "CACHE_REDIS_MAX_RETRIES"
	EnvRedisTimeout    = "CACHE_REDIS_TIMEOUT"
)

type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return str2duration.String(time.Duration(d)) }

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	if n.Tag == "!!int" {
		secs, err := strconv.ParseInt(n.Value, 10, 64)
		if err != nil {
			return fmt.Errorf("line %d: %w", n.Line, err)
		}
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}
	v, err := str2duration.ParseDuration(n.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (any, error) { return d.String(), nil }

// Limiter overrides a rate limit row by name. Zero fields keep the default.
type Limiter struct {
	Name          string   `yaml:"name"`
	Window        Duration `yaml:"window,omitempty"`
	MaxRequests   int64    `yaml:"max_requests,omitempty"`
	BlockDuration Duration `yaml:"block_duration,omitempty"`
	KeyPrefix     string   `yaml:"key_prefix,omitempty"`
}

type Config struct {
	UseRedis        bool      `yaml:"use_redis"`
	RedisURL        string    `yaml:"redis_url"`
	LocalEngine     string    `yaml:"local_engine"`
	SweepInterval   Duration  `yaml:"sweep_interval"`
	RedisMaxRetries int       `yaml:"redis_max_retries"`
	RedisTimeout    Duration  `yaml:"redis_timeout"`
	QueryTTL        Duration  `yaml:"query_ttl"`
	TagTTL          Duration  `yaml:"tag_ttl"`
	Limiters        []Limiter `yaml:"limiters,omitempty"`
}

func Default() Config {
	return Config{
		LocalEngine:     factory.EngineMap,
		SweepInterval:   Duration(time.Minute),
		RedisMaxRetries: 10,
		RedisTimeout:    Duration(5 * time.Second),
		QueryTTL:        Duration(cachekit.DefaultQueryTTL),
		TagTTL:          Duration(cachekit.DefaultTagTTL),
	}
}

// Parse decodes YAML over the defaults. Unknown keys are an error.
func Parse(r io.Reader) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	// the redis backend reads 0 as "use the default"
	if cfg.RedisMaxRetries < 1 {
		return Config{}, &cachekit.ConfigurationError{
			Component: "config",
			Reason:    fmt.Sprintf("redis_max_retries must be positive, got %d", cfg.RedisMaxRetries),
		}
	}
	return cfg, nil
}

// Load reads .env (if present), then path (if non-empty), then the
// environment.
func Load(path string) (Config, error) {
	if err := LoadDotEnv(".env"); err != nil {
		return Config{}, err
	}
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: %w", err)
		}
		if cfg, err = Parse(bytes.NewReader(data)); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadDotEnv loads the given files into the process environment without
// overriding variables that are already set. Missing files are skipped.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("config: load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overrides cfg with any of the Env* variables that lookup finds.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvUseRedis); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return envError(EnvUseRedis, err)
		}
		c.UseRedis = b
	}
	if v, ok := lookup(EnvRedisURL); ok {
		c.RedisURL = v
	}
	if v, ok := lookup(EnvLocalEngine); ok && v != "" {
		c.LocalEngine = v
	}
	for name, dst := range map[string]*Duration{
		EnvSweepInterval: &c.SweepInterval,
		EnvRedisTimeout:  &c.RedisTimeout,
	} {
		v, ok := lookup(name)
		if !ok || v == "" {
			continue
		}
		d, err := str2duration.ParseDuration(v)
		if err != nil {
			return envError(name, err)
		}
		*dst = Duration(d)
	}
	if v, ok := lookup(EnvRedisMaxRetries); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return envError(EnvRedisMaxRetries, fmt.Errorf("want a positive integer, got %q", v))
		}
		c.RedisMaxRetries = n
	}
	return nil
}

func envError(name string, err error) error {
	return &cachekit.ConfigurationError{Component: "config", Reason: "bad " + name, Err: err}
}

// Factory maps the settings onto factory.Config.
func (c Config) Factory(log cachekit.Logger, hooks cachekit.Hooks) factory.Config {
	return factory.Config{
		UseRedis:          c.UseRedis,
		RedisURL:          c.RedisURL,
		LocalEngine:       c.LocalEngine,
		SweepInterval:     c.SweepInterval.Std(),
		RedisMaxRetries:   c.RedisMaxRetries,
		RedisQueryTimeout: c.RedisTimeout.Std(),
		Logger:            log,
		Hooks:             hooks,
	}
}

// LimiterTable is ratelimit.DefaultTable with the configured overrides.
func (c Config) LimiterTable() []ratelimit.Config {
	rows := make([]ratelimit.Config, 0, len(c.Limiters))
	for _, l := range c.Limiters {
		rows = append(rows, ratelimit.Config{
			Name:          l.Name,
			Window:        l.Window.Std(),
			MaxRequests:   l.MaxRequests,
			BlockDuration: l.BlockDuration.Std(),
			KeyPrefix:     l.KeyPrefix,
		})
	}
	return ratelimit.Override(ratelimit.DefaultTable, rows)
}

// QueryOptions builds cachekit.QueryOptions with the configured TTLs.
func QueryOptions[V any](c Config, b backend.Backend, cd codec.Codec[V], log cachekit.Logger, hooks cachekit.Hooks) cachekit.QueryOptions[V] {
	return cachekit.QueryOptions[V]{
		Backend:    b,
		Codec:      cd,
		Logger:     log,
		Hooks:      hooks,
		DefaultTTL: c.QueryTTL.Std(),
		TagTTL:     c.TagTTL.Std(),
	}
}
