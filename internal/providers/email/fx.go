package email

import (
	"github.com/smallbiznis/stockopname/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("providers.email",
	fx.Provide(NewFromConfig),
)

// NewFromConfig falls back to a no-op provider when SMTP is not configured.
func NewFromConfig(cfg config.Config, log *zap.Logger) (Provider, error) {
	if !cfg.Email.Enabled() {
		log.Named("providers.email").Info("smtp not configured, e-mail disabled")
		return &NoOpProvider{}, nil
	}
	return NewSMTP(Config{
		Host:     cfg.Email.SMTPHost,
		Port:     cfg.Email.SMTPPort,
		Username: cfg.Email.SMTPUsername,
		Password: cfg.Email.SMTPPassword,
		From:     cfg.Email.SMTPFrom,
	})
}
