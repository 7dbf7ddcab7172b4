package notification

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/stockopname/internal/config"
	"github.com/smallbiznis/stockopname/internal/notification/domain"
	"github.com/smallbiznis/stockopname/internal/notification/repository"
	"github.com/smallbiznis/stockopname/internal/notification/service"
	"github.com/smallbiznis/stockopname/internal/notification/sink"
	"github.com/smallbiznis/stockopname/internal/providers/email"
	staffdomain "github.com/smallbiznis/stockopname/internal/staff/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const sinkGroup = `group:"notification_sinks"`

var Module = fx.Module("notification",
	fx.Provide(repository.Provide),
	fx.Provide(
		fx.Annotate(newInAppSink, fx.ResultTags(sinkGroup)),
		fx.Annotate(newEmailSink, fx.ResultTags(sinkGroup)),
		fx.Annotate(newBrokerSinks, fx.ResultTags(`group:"notification_sinks,flatten"`)),
	),
	fx.Provide(service.New),
	fx.Provide(func(svc domain.Service) domain.Dispatcher { return svc }),
)

func newInAppSink(db *gorm.DB, genID *snowflake.Node, repo repository.Repository) domain.Sink {
	return sink.NewInApp(db, genID, repo)
}

func newEmailSink(provider email.Provider, staff staffdomain.Directory, cfg config.Config) domain.Sink {
	return sink.NewEmail(provider, staff, cfg.Email.AppURL)
}

// newBrokerSinks yields no sink when no broker is configured.
func newBrokerSinks(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) []domain.Sink {
	if !cfg.Broker.Enabled() {
		log.Named("notification").Info("broker not configured, event publishing disabled")
		return nil
	}
	broker := sink.NewBroker(cfg.Broker.URL, cfg.Broker.Queue)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return broker.Close() },
	})
	return []domain.Sink{broker}
}
