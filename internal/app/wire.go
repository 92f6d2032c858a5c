//go:build wireinject

package app

import (
	"dcaengine/internal/config"

	"github.com/google/wire"
)

var storageSet = wire.NewSet(
	provideDB,
	provideBarStore,
	provideTransactionStore,
	provideCheckpoints,
)

var runtimeSet = wire.NewSet(
	provideMetrics,
	provideHub,
	provideAdvisor,
	provideEngine,
	provideLoop,
	provideServer,
)

func buildAppWithWire(cfg *config.Config) (*App, func(), error) {
	wire.Build(storageSet, runtimeSet, newApp)
	return nil, nil, nil
}
