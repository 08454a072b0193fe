// Command gateway runs the chat gateway HTTP server.
//
// The gateway streams model answers over SSE, throttled and tag-classified,
// and brokers human confirmation of deployment actions proposed in agentic
// mode. Model backends, storage and metering are assembled here from the
// YAML configuration; every collaborator is optional except Redis, which
// backs the thread cache, credit meter and cross-replica coordination.
//
// Usage:
//
//	gateway -config config.yaml
//
// Secrets are referenced from the config file as ${VAR} and resolved from
// the environment at load time.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	mongooptions "go.mongodb.org/mongo-driver/v2/mongo/options"
	"goa.design/clue/log"
	"goa.design/pulse/rmap"

	"github.com/HoomanBuilds/nosana-chat/gateway"
	"github.com/HoomanBuilds/nosana-chat/runtime/chat"
	"github.com/HoomanBuilds/nosana-chat/runtime/chat/emitter"
	"github.com/HoomanBuilds/nosana-chat/runtime/chat/model"
	"github.com/HoomanBuilds/nosana-chat/runtime/chat/retry"
	"github.com/HoomanBuilds/nosana-chat/runtime/chat/search"
	"github.com/HoomanBuilds/nosana-chat/runtime/chat/stream"

	creditredis "github.com/HoomanBuilds/nosana-chat/features/credit/redis"
	"github.com/HoomanBuilds/nosana-chat/features/deploy"
	"github.com/HoomanBuilds/nosana-chat/features/deploy/httpexec"
	"github.com/HoomanBuilds/nosana-chat/features/model/anthropic"
	"github.com/HoomanBuilds/nosana-chat/features/model/gemini"
	"github.com/HoomanBuilds/nosana-chat/features/model/middleware"
	"github.com/HoomanBuilds/nosana-chat/features/model/selfhosted"
	streampulse "github.com/HoomanBuilds/nosana-chat/features/stream/pulse"
	"github.com/HoomanBuilds/nosana-chat/features/thread"
	threadmongo "github.com/HoomanBuilds/nosana-chat/features/thread/mongo"
	threadredis "github.com/HoomanBuilds/nosana-chat/features/thread/redis"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", os.Getenv("GATEWAY_CONFIG"), "path to the YAML configuration file")
	flag.Parse()

	ctx := log.Context(context.Background(), log.WithFormat(log.FormatJSON))
	if err := run(ctx, configPath); err != nil {
		log.Fatalf(ctx, err, "gateway exited")
	}
}

func run(ctx context.Context, configPath string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := gateway.LoadConfig(configPath)
	if err != nil {
		return err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}

	deps, cleanup, err := buildDeps(ctx, cfg, rdb)
	if err != nil {
		return err
	}
	defer cleanup()

	var (
		mirror stream.Sink
		replay gateway.Replayer
	)
	if cfg.Pulse.Enabled {
		mirror, err = streampulse.NewSink(streampulse.Options{Redis: rdb, MaxLen: cfg.Pulse.MaxLen})
		if err != nil {
			return fmt.Errorf("pulse sink: %w", err)
		}
		replay, err = streampulse.NewSubscriber(streampulse.SubscriberOptions{Redis: rdb})
		if err != nil {
			return fmt.Errorf("pulse subscriber: %w", err)
		}
	}

	srv := gateway.NewServer(gateway.Options{Deps: deps, Mirror: mirror, Replay: replay})
	go srv.SweepPending(ctx, time.Minute)

	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           log.HTTP(ctx)(srv.Handler()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Infof(ctx, "listening on %s", cfg.Addr)
		errc <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	log.Infof(ctx, "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// buildDeps assembles the session dependency set from configuration. The
// returned cleanup closes connections owned here (Mongo); the Redis client
// is owned by run.
func buildDeps(ctx context.Context, cfg gateway.Config, rdb *redis.Client) (chat.Deps, func(), error) {
	cleanup := func() {}

	strategies, err := buildStrategies(ctx, cfg, rdb)
	if err != nil {
		return chat.Deps{}, cleanup, err
	}

	deps := chat.Deps{
		Strategies: strategies,
		Caps:       chat.DefaultCapabilities(),
		Throttle: emitter.Config{
			ChunkSize: cfg.Throttle.ChunkSize,
			MinDelay:  cfg.Throttle.MinDelay.Std(),
			MaxDelay:  cfg.Throttle.MaxDelay.Std(),
		},
		Retry: retry.Config{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   cfg.Retry.BaseDelay.Std(),
		},
		Metrics: chat.NewMetrics(),
	}

	if cfg.Search.Endpoint != "" {
		deps.Search, err = search.NewHTTPProvider(cfg.Search.Endpoint, cfg.Search.APIKey, nil)
		if err != nil {
			return chat.Deps{}, cleanup, fmt.Errorf("search provider: %w", err)
		}
	}

	if cfg.Credits.Allowance > 0 {
		deps.Credits, err = creditredis.New(rdb, creditredis.Options{
			Allowance: cfg.Credits.Allowance,
			Window:    cfg.Credits.Window.Std(),
		})
		if err != nil {
			return chat.Deps{}, cleanup, fmt.Errorf("credit service: %w", err)
		}
	}

	if cfg.Deployer.Endpoint != "" {
		deps.Executor, err = httpexec.New(cfg.Deployer.Endpoint, cfg.Deployer.APIKey, nil)
		if err != nil {
			return chat.Deps{}, cleanup, fmt.Errorf("deploy executor: %w", err)
		}
		deps.Validator, err = deploy.NewValidator()
		if err != nil {
			return chat.Deps{}, cleanup, fmt.Errorf("deploy validator: %w", err)
		}
	}

	deps.Threads, cleanup, err = buildThreads(ctx, cfg, rdb)
	if err != nil {
		return chat.Deps{}, cleanup, err
	}
	return deps, cleanup, nil
}

// buildThreads composes thread persistence: Redis cache over Mongo, either
// alone when the other is unconfigured, nil when both are.
func buildThreads(ctx context.Context, cfg gateway.Config, rdb *redis.Client) (chat.ThreadStore, func(), error) {
	cleanup := func() {}

	cache, err := threadredis.New(rdb, 0)
	if err != nil {
		return nil, cleanup, fmt.Errorf("thread cache: %w", err)
	}

	if cfg.Mongo.URI == "" {
		return cache, cleanup, nil
	}

	mc, err := mongodriver.Connect(mongooptions.Client().ApplyURI(cfg.Mongo.URI))
	if err != nil {
		return nil, cleanup, fmt.Errorf("connect to mongo: %w", err)
	}
	cleanup = func() {
		dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := mc.Disconnect(dctx); err != nil {
			log.Errorf(ctx, err, "disconnect mongo")
		}
	}
	durable, err := threadmongo.New(threadmongo.Options{
		Client:     mc,
		Database:   cfg.Mongo.Database,
		Collection: cfg.Mongo.Collection,
	})
	if err != nil {
		return nil, cleanup, fmt.Errorf("thread store: %w", err)
	}
	return thread.NewTiered(cache, durable), cleanup, nil
}

// buildStrategies constructs the configured model backends. Hosted clients
// share an adaptive rate limiter per provider, coordinated across replicas
// through a Pulse replicated map when Pulse is enabled.
func buildStrategies(ctx context.Context, cfg gateway.Config, rdb *redis.Client) (chat.Strategies, error) {
	var strategies chat.Strategies
	strategies.Hosted = make(map[string]chat.Strategy)

	var budgets *rmap.Map
	if cfg.Pulse.Enabled && cfg.RateLimit.InitialTPM > 0 {
		var err error
		budgets, err = rmap.Join(ctx, "model_budgets", rdb)
		if err != nil {
			return chat.Strategies{}, fmt.Errorf("join budget map: %w", err)
		}
	}

	limited := func(name string, c model.Client) model.Client {
		if cfg.RateLimit.InitialTPM <= 0 {
			return c
		}
		l := middleware.NewAdaptiveRateLimiter(ctx, budgets, name, cfg.RateLimit.InitialTPM, cfg.RateLimit.MaxTPM)
		return l.Middleware()(c)
	}

	if cfg.Providers.Gemini.APIKey != "" {
		c, err := gemini.New(cfg.Providers.Gemini.APIKey, gemini.Options{BaseURL: cfg.Providers.Gemini.BaseURL})
		if err != nil {
			return chat.Strategies{}, fmt.Errorf("gemini client: %w", err)
		}
		strategies.Hosted["gemini"] = chat.Strategy{Client: limited("gemini", c)}
	}

	if cfg.Providers.Anthropic.APIKey != "" {
		c, err := anthropic.NewFromAPIKey(cfg.Providers.Anthropic.APIKey, anthropic.Options{
			MaxTokens:      cfg.Providers.Anthropic.MaxTokens,
			ThinkingBudget: cfg.Providers.Anthropic.ThinkingBudget,
		})
		if err != nil {
			return chat.Strategies{}, fmt.Errorf("anthropic client: %w", err)
		}
		strategies.Hosted["anthropic"] = chat.Strategy{Client: limited("anthropic", c)}
	}

	if cfg.Providers.SelfHosted.BaseURL != "" {
		tools, err := deploy.ToolSpecs()
		if err != nil {
			return chat.Strategies{}, fmt.Errorf("tool specs: %w", err)
		}
		c, err := selfhosted.New(selfhosted.Options{
			BaseURL:          cfg.Providers.SelfHosted.BaseURL,
			APIKey:           cfg.Providers.SelfHosted.APIKey,
			DisableStreaming: cfg.Providers.SelfHosted.DisableStreaming,
		})
		if err != nil {
			return chat.Strategies{}, fmt.Errorf("selfhosted client: %w", err)
		}
		strategies.SelfHosted = chat.Strategy{Client: c, Retry: true}

		agentic, err := selfhosted.New(selfhosted.Options{
			BaseURL:          cfg.Providers.SelfHosted.BaseURL,
			APIKey:           cfg.Providers.SelfHosted.APIKey,
			DisableStreaming: cfg.Providers.SelfHosted.DisableStreaming,
			Tools:            tools,
		})
		if err != nil {
			return chat.Strategies{}, fmt.Errorf("agentic client: %w", err)
		}
		strategies.Agentic = chat.Strategy{Client: agentic, Retry: true}
	}

	return strategies, nil
}
