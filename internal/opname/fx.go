package opname

import (
	"context"

	"github.com/smallbiznis/stockopname/internal/opname/domain"
	"github.com/smallbiznis/stockopname/internal/opname/repository"
	"github.com/smallbiznis/stockopname/internal/opname/service"
	"go.uber.org/fx"
)

var Module = fx.Module("opname.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
	fx.Invoke(registerDrain),
)

// registerDrain holds shutdown until pending completion notifications finish.
func registerDrain(lc fx.Lifecycle, svc domain.Service) {
	drainer, ok := svc.(interface{ Drain(context.Context) error })
	if !ok {
		return
	}
	lc.Append(fx.Hook{OnStop: drainer.Drain})
}
