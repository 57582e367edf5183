//go:build wireinject
// +build wireinject

package di

import (
	"TradeDesk/internal/domain/repository"
	"TradeDesk/pkg/config"
	"TradeDesk/pkg/server"

	"github.com/google/wire"
)

var baseSet = wire.NewSet(
	ProvideLogger,
	ProvideRegistry,
	ProvideMetrics,
)

// InitializeApp wires the session, caches and companion server.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		baseSet,
		ProvideClock,

		// Infrastructure clients
		ProvideHTTPClient,
		ProvideRedisCache,
		ProvideKafkaProducer,

		// Repositories
		ProvideBackendClient,
		ProvideEventStream,
		ProvideContextStore,
		ProvideKVStore,
		ProvideEventPublisher,
		ProvideNotifier,

		// Use cases
		ProvideSession,
		ProvideStockContextCache,
		ProvideWatchlist,
		ProvideRenderer,

		// HTTP
		ProvideLimiter,
		ProvideHandlers,

		ProvideApp,
	)
	return nil, nil, nil
}

// InitializeArchiver wires the Kafka to ClickHouse archive worker.
func InitializeArchiver(cfg *config.Config) (*server.Archiver, func(), error) {
	wire.Build(
		baseSet,
		ProvideClickHouseClient,
		ProvideHistoryStore,
		ProvideKafkaConsumer,
		ProvideArchiveHandler,
		ProvideArchiver,
	)
	return nil, nil, nil
}

// InitializeHistoryStore wires read access to the archive.
func InitializeHistoryStore(cfg *config.Config) (repository.HistoryStore, func(), error) {
	wire.Build(
		ProvideLogger,
		ProvideClickHouseClient,
		ProvideHistoryStore,
	)
	return nil, nil, nil
}
