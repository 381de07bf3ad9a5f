//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package injector

import (
	"github.com/google/wire"

	"github.com/ivi39c/speaka-sub000/internal/config"
	"github.com/ivi39c/speaka-sub000/internal/core/observability/log"
	"github.com/ivi39c/speaka-sub000/internal/server"
)

var loggerSet = wire.NewSet(
	ProvideLogger,
	wire.Bind(new(log.Log), new(*log.Logger)),
)

var appSet = wire.NewSet(
	loggerSet,
	ProvideStorage,
	ProvideStore,
	ProvideDispatcher,
	ProvideAppState,
	ProvideAuthClient,
	ProvideFlow,
	ProvideReloader,
	ProvideLegacy,
	ProvideSynchronizer,
	ProvideDetector,
	wire.Struct(new(App), "*"),
)

func InitializeApp(cfg config.Config) (*App, func(), error) {
	wire.Build(appSet)
	return nil, nil, nil
}

func InitializeServer(cfg config.Config) (*server.Server, error) {
	wire.Build(loggerSet, ProvideServerConfig, server.NewServer)
	return nil, nil
}
