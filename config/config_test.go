package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/unkn0wn-root/cachekit"
	"github.com/unkn0wn-root/cachekit/backend/memory"
	"github.com/unkn0wn-root/cachekit/codec"
)

func env(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefaults(t *testing.T) {
	c := Default()
	if c.UseRedis || c.LocalEngine != "map" || c.SweepInterval.Std() != time.Minute ||
		c.RedisMaxRetries != 10 || c.RedisTimeout.Std() != 5*time.Second {
		t.Fatalf("defaults %+v", c)
	}
	if len(c.LimiterTable()) != 5 {
		t.Fatalf("table %+v", c.LimiterTable())
	}
}

func TestParseYAML(t *testing.T) {
	doc := `
use_redis: true
redis_url: redis://cache:6379/1
sweep_interval: 30
query_ttl: 1d
limiters:
  - name: api
    max_requests: 1000
  - name: export
    window: 1h
    max_requests: 2
    block_duration: 1w
`
	c, err := Parse(strings.NewReader(doc))
	if err != nil {
		t.Fatal(err)
	}
	if !c.UseRedis || c.RedisURL != "redis://cache:6379/1" {
		t.Fatalf("redis settings %+v", c)
	}
	if c.SweepInterval.Std() != 30*time.Second || c.QueryTTL.Std() != 24*time.Hour {
		t.Fatalf("durations sweep=%v ttl=%v", c.SweepInterval.Std(), c.QueryTTL.Std())
	}
	if c.RedisMaxRetries != 10 {
		t.Fatalf("unset keys must keep defaults, retries=%d", c.RedisMaxRetries)
	}

	table := c.LimiterTable()
	if table[0].Name != "api" || table[0].MaxRequests != 1000 || table[0].Window != 15*time.Minute {
		t.Fatalf("api row %+v", table[0])
	}
	last := table[len(table)-1]
	if last.Name != "export" || last.BlockDuration != 7*24*time.Hour {
		t.Fatalf("export row %+v", last)
	}
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	if _, err := Parse(strings.NewReader("use_redsi: true\n")); err == nil {
		t.Fatal("expected error for unknown key")
	}
	if _, err := Parse(strings.NewReader("query_ttl: soon\n")); err == nil {
		t.Fatal("expected error for bad duration")
	}
	if _, err := Parse(strings.NewReader("redis_max_retries: 0\n")); !cachekit.IsConfigurationError(err) {
		t.Fatalf("zero retries: want configuration error, got %v", err)
	}
}

func TestParseEmpty(t *testing.T) {
	c, err := Parse(strings.NewReader(""))
	if err != nil || c.LocalEngine != "map" {
		t.Fatalf("c=%+v err=%v", c, err)
	}
}

func TestApplyEnv(t *testing.T) {
	c := Default()
	err := c.ApplyEnv(env(map[string]string{
		EnvUseRedis:        "true",
		EnvRedisURL:        "redis://r:6379",
		EnvLocalEngine:     "bigcache",
		EnvSweepInterval:   "2m",
		EnvRedisTimeout:    "750ms",
		EnvRedisMaxRetries: "3",
	}))
	if err != nil {
		t.Fatal(err)
	}
	f := c.Factory(nil, nil)
	if !f.UseRedis || f.RedisURL != "redis://r:6379" || f.LocalEngine != "bigcache" ||
		f.SweepInterval != 2*time.Minute || f.RedisQueryTimeout != 750*time.Millisecond || f.RedisMaxRetries != 3 {
		t.Fatalf("factory config %+v", f)
	}
}

func TestApplyEnvErrors(t *testing.T) {
	cases := []struct{ name, val string }{
		{EnvUseRedis, "maybe"},
		{EnvSweepInterval, "often"},
		{EnvRedisMaxRetries, "-1"},
		{EnvRedisMaxRetries, "0"},
	}
	for _, tc := range cases {
		c := Default()
		err := c.ApplyEnv(env(map[string]string{tc.name: tc.val}))
		if !cachekit.IsConfigurationError(err) {
			t.Fatalf("%s=%s: want configuration error, got %v", tc.name, tc.val, err)
		}
	}
}

func TestLoadFileAndDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.yaml")
	if err := os.WriteFile(path, []byte("local_engine: ristretto\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	dotenv := filepath.Join(dir, ".env")
	if err := os.WriteFile(dotenv, []byte("CACHEKIT_TEST_DOTENV=loaded\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("CACHEKIT_TEST_DOTENV") })

	if err := LoadDotEnv(dotenv, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatal(err)
	}
	if os.Getenv("CACHEKIT_TEST_DOTENV") != "loaded" {
		t.Fatal(".env not loaded")
	}

	t.Setenv(EnvLocalEngine, "")
	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.LocalEngine != "ristretto" {
		t.Fatalf("LocalEngine = %q", c.LocalEngine)
	}
	if _, err := Load(filepath.Join(dir, "nope.yaml")); err == nil {
		t.Fatal("missing config file should fail")
	}
}

func TestDurationMarshal(t *testing.T) {
	out, err := yaml.Marshal(Config{QueryTTL: Duration(36 * time.Hour)})
	if err != nil {
		t.Fatal(err)
	}
	var back Config
	if err := yaml.Unmarshal(out, &back); err != nil {
		t.Fatalf("yaml:\n%s\n%v", out, err)
	}
	if back.QueryTTL.Std() != 36*time.Hour {
		t.Fatalf("query_ttl = %v", back.QueryTTL.Std())
	}
}

func TestQueryOptionsUsesConfiguredTTLs(t *testing.T) {
	c := Default()
	c.QueryTTL = Duration(time.Minute)
	b := memory.New(memory.Config{SweepInterval: -1})
	defer b.Close(context.Background())

	opts := QueryOptions[string](c, b, codec.String{}, nil, nil)
	if opts.DefaultTTL != time.Minute || opts.TagTTL != 24*time.Hour {
		t.Fatalf("opts %+v", opts)
	}
	if _, err := cachekit.NewQueryCache(opts); err != nil {
		t.Fatal(err)
	}
}
