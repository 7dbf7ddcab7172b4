package staff

import (
	"github.com/smallbiznis/stockopname/internal/staff/service"
	"go.uber.org/fx"
)

var Module = fx.Module("staff.directory",
	fx.Provide(service.New),
)
