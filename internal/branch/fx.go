package branch

import (
	"github.com/smallbiznis/stockopname/internal/branch/service"
	"go.uber.org/fx"
)

var Module = fx.Module("branch.lookup",
	fx.Provide(service.New),
)
