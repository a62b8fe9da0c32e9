//go:build wireinject

package app

import (
	"context"

	"github.com/google/wire"

	brcfg "github.com/cuxilozano/bot-binance/internal/config"
)

func buildAppWithWire(ctx context.Context, cfg *brcfg.Config) (*App, error) {
	wire.Build(
		provideAppBuilder,
		wire.Bind(new(appBuilderDeps), new(*AppBuilder)),
		provideAppFromBuilder,
	)
	return nil, nil
}
