package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	_ "github.com/joho/godotenv/autoload"

	cli "github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/unkn0wn-root/cachekit"
	"github.com/unkn0wn-root/cachekit/backend"
	"github.com/unkn0wn-root/cachekit/config"
	"github.com/unkn0wn-root/cachekit/factory"
	zapadapter "github.com/unkn0wn-root/cachekit/log/zap"
	"github.com/unkn0wn-root/cachekit/ratelimit"
)

func main() {
	if err := run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	return newApp(os.Stdout).Run(args)
}

func newApp(out io.Writer) *cli.App {
	app := &cli.App{
		Name:      "cachekit",
		Usage:     "inspect and administer a cachekit backend",
		Writer:    out,
		ErrWriter: os.Stderr,
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Usage:   "path to a YAML config file",
			EnvVars: []string{"CACHEKIT_CONFIG"},
		},
		&cli.BoolFlag{
			Name:    "use-redis",
			Usage:   "use the Redis backend (requires --redis-url)",
			EnvVars: []string{config.EnvUseRedis},
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "redis connection URL, e.g. redis://localhost:6379/0",
			EnvVars: []string{config.EnvRedisURL},
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "debug, info, warn or error",
			Value:   "warn",
			EnvVars: []string{"CACHEKIT_LOG_LEVEL"},
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "overall deadline for the command",
			Value: 30 * time.Second,
		},
	}

	limiterFlags := []cli.Flag{
		&cli.StringFlag{Name: "limiter", Aliases: []string{"l"}, Required: true, Usage: "limiter name"},
		&cli.StringFlag{Name: "id", Required: true, Usage: "identifier, e.g. client IP"},
	}

	app.Commands = []*cli.Command{
		{
			Name:   "limiters",
			Usage:  "print the rate limit table",
			Action: listLimiters,
		},
		{
			Name:   "check",
			Usage:  "count one request for an identifier",
			Flags:  limiterFlags,
			Action: withRegistry(checkLimiter),
		},
		{
			Name:   "stats",
			Usage:  "show an identifier's count and block state",
			Flags:  limiterFlags,
			Action: withRegistry(limiterStats),
		},
		{
			Name:   "reset",
			Usage:  "clear an identifier's count and block",
			Flags:  limiterFlags,
			Action: withRegistry(resetLimiter),
		},
		{
			Name:  "invalidate",
			Usage: "delete one cached query result",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "key", Required: true},
				&cli.StringFlag{Name: "prefix", Usage: "key prefix (default \"cache\")"},
			},
			Action: withBackend(func(cctx *cli.Context, b backend.Backend, _ *env) error {
				key := cachekit.CacheKey(cctx.String("prefix"), cctx.String("key"))
				if err := b.Delete(cctx.Context, key); err != nil {
					return err
				}
				fmt.Fprintf(cctx.App.Writer, "deleted %s\n", key)
				return nil
			}),
		},
		{
			Name:  "invalidate-tag",
			Usage: "delete every query result registered under a tag",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "tag", Required: true},
			},
			Action: withBackend(func(cctx *cli.Context, b backend.Backend, _ *env) error {
				n, err := cachekit.InvalidateTag(cctx.Context, b, cctx.String("tag"))
				if err != nil {
					return err
				}
				fmt.Fprintf(cctx.App.Writer, "deleted %d keys\n", n)
				return nil
			}),
		},
		{
			Name:  "clear",
			Usage: "drop every key in the backend",
			Flags: []cli.Flag{
				&cli.BoolFlag{Name: "yes", Usage: "confirm"},
			},
			Before: func(cctx *cli.Context) error {
				if !cctx.Bool("yes") {
					return cli.Exit("refusing to clear without --yes", 2)
				}
				return nil
			},
			Action: withBackend(func(cctx *cli.Context, b backend.Backend, _ *env) error {
				if err := b.Clear(cctx.Context); err != nil {
					return err
				}
				fmt.Fprintln(cctx.App.Writer, "cleared")
				return nil
			}),
		},
	}
	return app
}

type env struct {
	cfg config.Config
	log cachekit.Logger
	zap *zap.Logger
}

func setup(cctx *cli.Context) (*env, error) {
	cfg, err := config.Load(cctx.String("config"))
	if err != nil {
		return nil, err
	}
	if cctx.IsSet("use-redis") {
		cfg.UseRedis = cctx.Bool("use-redis")
	}
	if cctx.IsSet("redis-url") {
		cfg.RedisURL = cctx.String("redis-url")
	}

	level, err := zapcore.ParseLevel(cctx.String("log-level"))
	if err != nil {
		return nil, cli.Exit(err.Error(), 2)
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(level)
	zl, err := zcfg.Build()
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, log: zapadapter.New(zl), zap: zl}, nil
}

func withBackend(fn func(*cli.Context, backend.Backend, *env) error) cli.ActionFunc {
	return func(cctx *cli.Context) error {
		e, err := setup(cctx)
		if err != nil {
			return err
		}
		defer func() { _ = e.zap.Sync() }()

		ctx, cancel := context.WithTimeout(cctx.Context, cctx.Duration("timeout"))
		defer cancel()
		cctx.Context = ctx

		f, err := factory.New(e.cfg.Factory(e.log, nil))
		if err != nil {
			return err
		}
		if f.Kind() != factory.KindRedis {
			fmt.Fprintf(cctx.App.ErrWriter, "warning: %s backend lives in this process only; changes are not visible elsewhere\n", f.Kind())
		}
		b, err := f.Backend(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = f.Reset(context.Background()) }()
		return fn(cctx, b, e)
	}
}

func withRegistry(fn func(*cli.Context, *ratelimit.Limiter) error) cli.ActionFunc {
	return withBackend(func(cctx *cli.Context, b backend.Backend, e *env) error {
		reg, err := ratelimit.NewRegistry(b, e.cfg.LimiterTable(), ratelimit.WithLogger(e.log))
		if err != nil {
			return err
		}
		name := cctx.String("limiter")
		l, ok := reg.Get(name)
		if !ok {
			return cli.Exit(fmt.Sprintf("unknown limiter %q (have %v)", name, reg.Names()), 2)
		}
		return fn(cctx, l)
	})
}

func listLimiters(cctx *cli.Context) error {
	cfg, err := config.Load(cctx.String("config"))
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(cctx.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tWINDOW\tMAX\tBLOCK\tPREFIX")
	for _, row := range cfg.LimiterTable() {
		c := row.Resolved()
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", c.Name, c.Window, c.MaxRequests, c.BlockDuration, c.KeyPrefix)
	}
	return tw.Flush()
}

func checkLimiter(cctx *cli.Context, l *ratelimit.Limiter) error {
	res, err := l.Check(cctx.Context, cctx.String("id"))
	if err != nil {
		return err
	}
	fmt.Fprintf(cctx.App.Writer, "%s remaining=%d limit=%d reset_at=%s\n",
		res.State, res.Remaining, res.Limit, res.ResetAt.Format(time.RFC3339))
	return nil
}

func limiterStats(cctx *cli.Context, l *ratelimit.Limiter) error {
	st, err := l.Stats(cctx.Context, cctx.String("id"))
	if err != nil {
		return err
	}
	fmt.Fprintf(cctx.App.Writer, "count=%d blocked=%t", st.Count, st.Blocked)
	if st.Blocked {
		fmt.Fprintf(cctx.App.Writer, " until=%s", st.BlockedUntil.Format(time.RFC3339))
	}
	fmt.Fprintln(cctx.App.Writer)
	return nil
}

func resetLimiter(cctx *cli.Context, l *ratelimit.Limiter) error {
	if err := l.Reset(cctx.Context, cctx.String("id")); err != nil {
		return err
	}
	fmt.Fprintln(cctx.App.Writer, "reset")
	return nil
}
