package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/af-corp/hearth/internal/auth"
	"github.com/af-corp/hearth/internal/backend"
	"github.com/af-corp/hearth/internal/breaker"
	"github.com/af-corp/hearth/internal/cache"
	"github.com/af-corp/hearth/internal/config"
	"github.com/af-corp/hearth/internal/device"
	"github.com/af-corp/hearth/internal/discovery"
	"github.com/af-corp/hearth/internal/dispatch"
	"github.com/af-corp/hearth/internal/events"
	"github.com/af-corp/hearth/internal/intent"
	"github.com/af-corp/hearth/internal/llm"
	"github.com/af-corp/hearth/internal/pipeline"
	"github.com/af-corp/hearth/internal/policy"
	"github.com/af-corp/hearth/internal/ratelimit"
	"github.com/af-corp/hearth/internal/server"
	"github.com/af-corp/hearth/internal/session"
	"github.com/af-corp/hearth/internal/telemetry"
	"github.com/af-corp/hearth/internal/types"
)

var version = "dev"

func main() {
	configDir := flag.String("config", "configs", "path to configuration directory")
	envFile := flag.String("env-file", ".env", "optional dotenv file loaded before config expansion")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: loading %s: %v\n", *envFile, err)
	}

	logger := newLogger(config.TelemetryConfig{})
	loader := config.NewLoader(*configDir, logger)
	if err := loader.Load(); err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	cfg := loader.Config()
	logger = newLogger(cfg.Telemetry)
	slog.SetDefault(logger)

	if err := loader.Watch(); err != nil {
		logger.Warn("failed to start config watcher", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.Telemetry, version)
	if err != nil {
		logger.Warn("tracing disabled", "error", err)
		shutdownTracing = func(context.Context) error { return nil }
	}

	var provider config.Provider = loader
	var admin *config.AdminProvider
	if cfg.Admin.URL != "" {
		admin = config.NewAdminProvider(cfg.Admin, loader, logger)
		go admin.Run(ctx)
		provider = admin
		logger.Info("runtime config served by admin service", "url", cfg.Admin.URL)
	}

	metrics := telemetry.NewMetrics(prometheus.DefaultRegisterer)

	rdb := connectRedis(ctx, cfg.Redis, logger)
	if rdb != nil {
		defer rdb.Close()
	}

	// Event sinks
	var sink events.Sink = events.LogSink{Logger: logger}
	if cfg.NATS.URL != "" {
		nc, err := events.Connect(cfg.NATS.URL, logger)
		if err != nil {
			logger.Warn("nats not reachable (events logged only)", "error", err)
		} else {
			defer nc.Drain()
			sink = events.Multi{sink, events.NewNATSSink(nc, cfg.NATS.SubjectPrefix, logger)}
			logger.Info("nats connected", "url", cfg.NATS.URL)
		}
	}

	// Resilience
	defaults, overrides := breaker.SettingsFromConfig(provider.Runtime().CircuitBreaker)
	breakers := breaker.NewRegistry(defaults, breaker.WithTransitionHook(func(name string, from, to breaker.State) {
		logger.Warn("circuit breaker transition", "dependency", name, "from", from.String(), "to", to.String())
		metrics.RecordBreakerTransition(name, to.String(), int(to))
	}))
	breakers.Configure(defaults, overrides)
	limits := ratelimit.NewRegistry(ratelimit.NewLimiter(rdb, logger), provider, metrics, logger)

	backends := backend.BuildFromConfig(loader.Backends())

	// Models
	var (
		synth    llm.Client
		embedder llm.Embedder = llm.HashEmbedder{}
		llmCls   intent.Classifier
		selector *dispatch.ToolSelector
		namer    discovery.Namer
	)
	if cfg.LLM.BaseURL != "" {
		client, err := llm.NewOpenAIClient(cfg.LLM)
		if err != nil {
			logger.Error("failed to create llm client", "error", err)
			os.Exit(1)
		}
		fast := provider.Runtime().Tier(types.ComplexitySimple).Model
		synth = client
		if cfg.LLM.EmbeddingModel != "" {
			embedder = llm.FallbackEmbedder{Primary: client, Secondary: llm.HashEmbedder{}}
		}
		llmCls = intent.NewLLMClassifier(client, provider, fast)
		selector = dispatch.NewToolSelector(client, provider, fast)
		namer = discovery.LLMNamer{Client: client, Model: fast}
		logger.Info("llm configured", "base_url", cfg.LLM.BaseURL, "classifier_model", fast)
	}

	dispatchOpts := []dispatch.Option{dispatch.WithMetrics(metrics), dispatch.WithLogger(logger)}
	if selector != nil {
		dispatchOpts = append(dispatchOpts, dispatch.WithToolSelector(selector))
	}
	dispatcher := dispatch.NewDispatcher(backends, breakers, limits, provider, dispatchOpts...)

	// State
	var sessions session.Store
	if rdb != nil {
		sessions = session.NewRedisStore(rdb, cfg.Session.TTL)
	} else {
		mem := session.NewMemoryStore(cfg.Session.TTL)
		go mem.Run(ctx, cfg.Session.SweepInterval)
		sessions = mem
	}

	cacheOpts := []cache.Option{cache.WithEmbedder(embedder), cache.WithMetrics(metrics), cache.WithLogger(logger)}
	if rdb != nil {
		cacheOpts = append(cacheOpts, cache.WithRedis(rdb))
	}
	answers := cache.New(cfg.Cache, provider, cacheOpts...)
	go answers.Run(ctx, cfg.Cache.SweepInterval)

	var store discovery.Store = discovery.NewMemoryStore()
	if pool := connectPostgres(ctx, cfg.Database, logger); pool != nil {
		defer pool.Close()
		store = discovery.NewPostgresStore(pool)
	}
	discoveryOpts := []discovery.Option{discovery.WithMetrics(metrics), discovery.WithLogger(logger)}
	if namer != nil {
		discoveryOpts = append(discoveryOpts, discovery.WithNamer(namer))
	}
	intents := discovery.NewService(store, embedder, provider, cfg.Discovery, discoveryOpts...)

	// Devices
	permissions := policy.NewEvaluator(cfg.Policy, logger)
	if err := permissions.Load(); err != nil {
		logger.Error("failed to load device policy (device control denied until fixed)", "error", err)
	}
	var devices device.Controller
	if cfg.Device.BaseURL != "" {
		devices = device.NewHTTPController(cfg.Device)
	}

	pipe := pipeline.New(pipeline.Deps{
		Provider:      provider,
		Settings:      cfg.Pipeline,
		Pattern:       intent.NewPatternClassifier(),
		LLMClassifier: llmCls,
		Sessions:      sessions,
		Cache:         answers,
		Executor:      dispatch.NewExecutor(dispatcher, cfg.Pipeline.MaxParallel),
		Breakers:      breakers,
		Synthesizer:   synth,
		Devices:       devices,
		Policy:        permissions,
		Discovery:     intents,
		Events:        sink,
		Metrics:       metrics,
		Logger:        logger,
	})

	// HTTP
	opts := server.Options{IPRateLimit: cfg.Server.IPRateLimit, Metrics: metrics}
	var keys *auth.ConfigKeyStore
	if len(cfg.Auth.Keys) > 0 {
		keys, err = auth.NewConfigKeyStore(cfg.Auth.Keys)
		if err != nil {
			logger.Error("invalid api keys", "error", err)
			os.Exit(1)
		}
		opts.KeyStore = keys
	} else {
		logger.Warn("no api keys configured, authentication disabled")
	}

	reconfigure := func() {
		d, o := breaker.SettingsFromConfig(provider.Runtime().CircuitBreaker)
		breakers.Configure(d, o)
	}
	loader.OnReload(func() {
		reconfigure()
		backends.Reload(loader.Backends())
		if keys != nil {
			if err := keys.Update(loader.Config().Auth.Keys); err != nil {
				logger.Error("api key reload rejected", "error", err)
			}
		}
		if err := permissions.Load(); err != nil {
			logger.Error("device policy reload rejected", "error", err)
		}
		logger.Info("configuration reloaded")
	})
	if admin != nil {
		admin.OnReload(reconfigure)
	}

	handler := server.NewHandler(pipe, backends, breakers, version, logger)
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      server.NewRouter(handler, opts),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("hearth starting", "addr", addr, "version", version, "backends", strings.Join(backends.Names(), ","))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	intents.Wait()
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracing shutdown failed", "error", err)
	}
	logger.Info("hearth stopped")
}

func newLogger(cfg config.TelemetryConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.LogFormat, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func connectRedis(ctx context.Context, cfg config.RedisConfig, logger *slog.Logger) redis.UniversalClient {
	if len(cfg.Addresses) == 0 || cfg.Addresses[0] == "" {
		logger.Info("redis not configured (in-process rate limits, sessions and cache)")
		return nil
	}
	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    cfg.Addresses,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis not reachable (in-process fallbacks)", "error", err)
		rdb.Close()
		return nil
	}
	logger.Info("redis connected", "addresses", cfg.Addresses)
	return rdb
}

func connectPostgres(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) *pgxpool.Pool {
	if cfg.Host == "" {
		logger.Info("database not configured (emerging intents kept in memory)")
		return nil
	}
	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		logger.Warn("invalid database config (emerging intents kept in memory)", "error", err)
		return nil
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		logger.Warn("database not reachable (emerging intents kept in memory)", "error", err)
		pool.Close()
		return nil
	}
	logger.Info("database connected")
	return pool
}
