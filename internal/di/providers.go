package di

import (
	"context"
	"fmt"
	"os"
	"time"

	"TradeDesk/internal/domain/models"
	"TradeDesk/internal/domain/repository"
	"TradeDesk/internal/handler/api"
	internalrepo "TradeDesk/internal/repository"
	"TradeDesk/internal/service/backend"
	"TradeDesk/internal/service/notify"
	"TradeDesk/internal/service/ratelimit"
	"TradeDesk/internal/services/markdown"
	"TradeDesk/internal/usecase"
	"TradeDesk/pkg/cache"
	pkgch "TradeDesk/pkg/clickhouse"
	"TradeDesk/pkg/config"
	xhttp "TradeDesk/pkg/http"
	pkgkafka "TradeDesk/pkg/kafka"
	applogger "TradeDesk/pkg/logger"
	"TradeDesk/pkg/metrics"
	"TradeDesk/pkg/server"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
)

// ProvideLogger creates the root logger from the log section.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	return applogger.New(&applogger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
}

// ProvideRegistry creates the registry served on /metrics.
func ProvideRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics(reg *prometheus.Registry) repository.Metrics {
	return metrics.New(reg)
}

func ProvideClock() clock.Clock {
	return clock.New()
}

// ProvideHTTPClient creates the backend HTTP client.
func ProvideHTTPClient(cfg *config.Config) *xhttp.Client {
	return xhttp.NewClient(
		xhttp.WithBaseURL(cfg.Backend.BaseURL),
		xhttp.WithTimeout(cfg.Backend.RequestTimeout),
		xhttp.WithHeader("User-Agent", "tradedesk"),
	)
}

func ProvideBackendClient(hc *xhttp.Client, cfg *config.Config, log *applogger.Logger) *backend.Client {
	return backend.New(hc, models.NormalizeLang(cfg.Backend.Lang), log)
}

func ProvideEventStream(hc *xhttp.Client, log *applogger.Logger) *backend.Stream {
	return backend.NewStream(hc, log)
}

// ProvideRedisCache connects to Redis only when a component is configured to use it.
func ProvideRedisCache(cfg *config.Config) (*cache.RedisCache, func(), error) {
	if !cfg.StockContext.UseRedis && cfg.Watchlist.Backend != "redis" {
		return nil, func() {}, nil
	}
	rc, err := cache.NewRedisCache(
		cache.WithRedisHost(cfg.Redis.Host),
		cache.WithRedisPort(cfg.Redis.Port),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
		cache.WithRedisPool(10, 2, 4*time.Second),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("redis cache: %w", err)
	}
	return rc, func() { _ = rc.Close() }, nil
}

// ProvideContextStore is the stock-context store: memory, or memory in front of
// Redis when stock_context.use_redis is set.
func ProvideContextStore(cfg *config.Config, rc *cache.RedisCache) (cache.Service, func()) {
	mem := cache.NewMemoryCache(cache.WithMemoryMaxSize(500))
	if !cfg.StockContext.UseRedis || rc == nil {
		return mem, func() { _ = mem.Close() }
	}
	lc := cache.NewLayeredCache(mem, rc, cache.WithLayeredMemoryTTL(cfg.StockContext.TTL))
	return lc, func() { _ = mem.Close() }
}

// ProvideKVStore picks the watchlist persistence backend.
func ProvideKVStore(cfg *config.Config, rc *cache.RedisCache) (repository.KVStore, func(), error) {
	switch cfg.Watchlist.Backend {
	case "redis":
		return internalrepo.NewCacheKVStore(rc, "kv"), func() {}, nil
	case "sqlite":
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		kv, err := internalrepo.OpenSQLiteKVStore(ctx, cfg.Watchlist.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite kv: %w", err)
		}
		return kv, func() { _ = kv.Close() }, nil
	default:
		mem := cache.NewMemoryCache()
		return internalrepo.NewCacheKVStore(mem, "kv"), func() { _ = mem.Close() }, nil
	}
}

// ProvideKafkaProducer creates a Kafka producer, or nil when Kafka is disabled.
// With a producer available, aggregated warn/error logs ship to the logs topic.
func ProvideKafkaProducer(cfg *config.Config, reg *prometheus.Registry, log *applogger.Logger) (*pkgkafka.Producer, func(), error) {
	if !cfg.Kafka.Enabled {
		return nil, func() {}, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatch(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.Linger),
		pkgkafka.WithWriteTimeout(cfg.Kafka.Producer.WriteTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithHashByKey(true),
		pkgkafka.WithProducerRegisterer(reg),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("kafka producer: %w", err)
	}

	host, _ := os.Hostname()
	log.AddCollector(&applogger.CollectionConfig{
		TimeInterval: 30 * time.Second,
		Topic:        cfg.Kafka.Topics.Logs,
		Source:       host,
		Publisher:    producer,
	})
	return producer, func() {
		log.RemoveCollector()
		_ = producer.Close()
	}, nil
}

// ProvideEventPublisher publishes lifecycle events to Kafka, or drops them when
// Kafka is disabled.
func ProvideEventPublisher(producer *pkgkafka.Producer, cfg *config.Config) repository.EventPublisher {
	if producer == nil {
		return internalrepo.NopEventPublisher{}
	}
	return internalrepo.NewKafkaEventPublisher(producer, cfg.Kafka.Topics.Events)
}

func ProvideNotifier(cfg *config.Config, log *applogger.Logger) repository.Notifier {
	return notify.NewDesktop(cfg.Notify.Enabled, log)
}

// ProvideSession creates the orchestrator. The cleanup tears down any running job.
func ProvideSession(
	cfg *config.Config,
	client *backend.Client,
	stream *backend.Stream,
	pub repository.EventPublisher,
	notifier repository.Notifier,
	clk clock.Clock,
	m repository.Metrics,
	log *applogger.Logger,
) (*usecase.Session, func()) {
	s := usecase.NewSession(sessionConfig(cfg), models.NormalizeLang(cfg.Backend.Lang), usecase.SessionDeps{
		API:       client,
		Stream:    stream,
		Catalog:   client,
		Publisher: pub,
		Notifier:  notifier,
		Clock:     clk,
		Logger:    log,
		Metrics:   m,
	})
	return s, s.Close
}

func ProvideStockContextCache(
	cfg *config.Config,
	client *backend.Client,
	store cache.Service,
	clk clock.Clock,
	m repository.Metrics,
	log *applogger.Logger,
) *usecase.StockContextCache {
	return usecase.NewStockContextCache(client, store, stockContextConfig(cfg),
		usecase.WithStockContextClock(clk),
		usecase.WithStockContextSleep(usecase.ClockSleep(clk)),
		usecase.WithStockContextLogger(log),
		usecase.WithStockContextMetrics(m),
	)
}

func ProvideWatchlist(cfg *config.Config, kv repository.KVStore, log *applogger.Logger) *usecase.Watchlist {
	return usecase.NewWatchlist(kv, cfg.Watchlist.Max, log)
}

func ProvideRenderer(m repository.Metrics, log *applogger.Logger) *markdown.Renderer {
	return markdown.New(markdown.NewPolicySanitizer(), markdown.WithLogger(log), markdown.WithMetrics(m))
}

func ProvideLimiter(cfg *config.Config) *ratelimit.Limiter {
	return ratelimit.New(float64(cfg.Server.RateLimit.Burst), cfg.Server.RateLimit.Rate)
}

// ProvideHandlers collects every companion-server route group.
func ProvideHandlers(
	cfg *config.Config,
	log *applogger.Logger,
	session *usecase.Session,
	contexts *usecase.StockContextCache,
	renderer *markdown.Renderer,
	limiter *ratelimit.Limiter,
	watchlist *usecase.Watchlist,
) xhttp.Handler {
	return xhttp.Handlers{
		api.NewSessionHandler(log, session, contexts, renderer, limiter,
			api.WithAllowedOrigins(cfg.Server.AllowOrigins...)),
		api.NewWatchlistHandler(log, watchlist),
	}
}

// ProvideApp creates the application.
func ProvideApp(
	cfg *config.Config,
	log *applogger.Logger,
	reg *prometheus.Registry,
	session *usecase.Session,
	contexts *usecase.StockContextCache,
	watchlist *usecase.Watchlist,
	renderer *markdown.Renderer,
	limiter *ratelimit.Limiter,
	handler xhttp.Handler,
) *server.App {
	return server.New(cfg, log, server.Components{
		Registry:  reg,
		Session:   session,
		Contexts:  contexts,
		Watchlist: watchlist,
		Renderer:  renderer,
		Limiter:   limiter,
		Handler:   handler,
	})
}

// ProvideClickHouseClient creates a ClickHouse client.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, func(), error) {
	client, err := pkgch.NewClient(context.Background(),
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(5, 2),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, true),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.WriteTimeout),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, func() { _ = client.Close() }, nil
}

// ProvideHistoryStore creates the archive store and its table.
func ProvideHistoryStore(client *pkgch.Client, log *applogger.Logger) (repository.HistoryStore, error) {
	store := internalrepo.NewClickHouseHistoryStore(client, log)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return store, nil
}

// ProvideKafkaConsumer creates a Kafka consumer configured from YAML.
func ProvideKafkaConsumer(cfg *config.Config, reg *prometheus.Registry, log *applogger.Logger) (*pkgkafka.Consumer, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka consumer: no brokers configured")
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerRegisterer(reg),
		pkgkafka.WithConsumerLogger(log),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(pkgkafka.TraceHook{Log: log, Slow: time.Second})
	return consumer, nil
}

// ProvideArchiveHandler consumes the lifecycle topic into the history store.
func ProvideArchiveHandler(cfg *config.Config, store repository.HistoryStore, m repository.Metrics, log *applogger.Logger) *usecase.ArchiveHandler {
	return usecase.NewArchiveHandler(cfg.Kafka.Topics.Events, store, m, log)
}

// ProvideArchiver assembles the archive worker.
func ProvideArchiver(log *applogger.Logger, consumer *pkgkafka.Consumer, handler *usecase.ArchiveHandler, store repository.HistoryStore) *server.Archiver {
	return server.NewArchiver(log, consumer, handler, store)
}

func trackerConfig(cfg *config.Config) usecase.TrackerConfig {
	tc := usecase.DefaultTrackerConfig()
	t := cfg.Tracker
	tc.MaxReconnects = t.StreamMaxReconnects
	tc.StreamBackoffBase = t.StreamBackoffBase
	tc.StreamBackoffMax = t.StreamBackoffMax
	tc.PollBase = t.PollBase
	tc.PollMax = t.PollMax
	tc.PollMaxRetries = t.PollMaxRetries
	tc.ProgressStep = t.ProgressStep
	tc.ProgressCap = t.ProgressCap
	tc.LogCap = t.LogCap
	tc.LogTrim = t.LogTrim
	return tc
}

func sessionConfig(cfg *config.Config) usecase.SessionConfig {
	sc := usecase.DefaultSessionConfig()
	sc.Tracker = trackerConfig(cfg)
	sc.NotifyEnabled = cfg.Notify.Enabled
	return sc
}

func stockContextConfig(cfg *config.Config) usecase.StockContextConfig {
	return usecase.StockContextConfig{
		TTL:        cfg.StockContext.TTL,
		MaxRetries: cfg.StockContext.MaxRetries,
		RetryBase:  cfg.StockContext.RetryBase,
		RetryStep:  cfg.StockContext.RetryStep,
	}
}
