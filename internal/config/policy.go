package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Policy carries the opname rules operators may tune without a redeploy.
type Policy struct {
	DefaultTimezone     string            `mapstructure:"default_timezone"`
	BranchTimezones     map[string]string `mapstructure:"branch_timezones"`
	DailySessionCap     int               `mapstructure:"daily_session_cap"`
	MinIdentifierLength int               `mapstructure:"min_identifier_length"`
	MaxBatchSize        int               `mapstructure:"max_batch_size"`
	ReminderLead        time.Duration     `mapstructure:"reminder_lead"`
}

func DefaultPolicy() Policy {
	return Policy{
		DefaultTimezone:     "Asia/Jakarta",
		BranchTimezones:     map[string]string{},
		DailySessionCap:     2,
		MinIdentifierLength: 15,
		MaxBatchSize:        500,
		ReminderLead:        15 * time.Minute,
	}
}

type PolicyConfigHolder struct {
	current atomic.Value // holds Policy
}

// NewStaticPolicyHolder returns a holder that never reloads.
func NewStaticPolicyHolder(p Policy) *PolicyConfigHolder {
	holder := &PolicyConfigHolder{}
	holder.current.Store(p)
	return holder
}

func NewPolicyConfigHolder(log *zap.Logger) (*PolicyConfigHolder, error) {
	log = log.Named("config.policy")
	v := viper.New()

	v.SetConfigName("opname")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/stockopname/config")
	v.AddConfigPath("/etc/stockopname")
	v.AddConfigPath(".")

	v.SetEnvPrefix("OPNAME")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultPolicy()
	v.SetDefault("opname.default_timezone", defaults.DefaultTimezone)
	v.SetDefault("opname.daily_session_cap", defaults.DailySessionCap)
	v.SetDefault("opname.min_identifier_length", defaults.MinIdentifierLength)
	v.SetDefault("opname.max_batch_size", defaults.MaxBatchSize)
	v.SetDefault("opname.reminder_lead", defaults.ReminderLead)

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fileFound = false
	}

	cfg, err := decodePolicy(v)
	if err != nil {
		return nil, err
	}

	holder := NewStaticPolicyHolder(cfg)
	if !fileFound {
		log.Info("opname.yml not found, using defaults")
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodePolicy(v)
		if err != nil {
			log.Warn("policy reload ignored", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("policy reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *PolicyConfigHolder) Get() Policy {
	if h == nil {
		return DefaultPolicy()
	}
	p, ok := h.current.Load().(Policy)
	if !ok {
		return DefaultPolicy()
	}
	return p
}

func decodePolicy(v *viper.Viper) (Policy, error) {
	var cfg Policy
	if err := v.UnmarshalKey("opname", &cfg); err != nil {
		return Policy{}, err
	}
	if cfg.BranchTimezones == nil {
		cfg.BranchTimezones = map[string]string{}
	}
	if err := ValidatePolicy(cfg); err != nil {
		return Policy{}, err
	}
	return cfg, nil
}

func ValidatePolicy(cfg Policy) error {
	if cfg.DailySessionCap < 1 {
		return errors.New("opname.daily_session_cap must be at least 1")
	}
	if cfg.MinIdentifierLength < 1 {
		return errors.New("opname.min_identifier_length must be at least 1")
	}
	if cfg.MaxBatchSize < 1 {
		return errors.New("opname.max_batch_size must be at least 1")
	}
	if cfg.ReminderLead < 0 {
		return errors.New("opname.reminder_lead cannot be negative")
	}
	if _, err := time.LoadLocation(cfg.DefaultTimezone); err != nil {
		return fmt.Errorf("opname.default_timezone: %w", err)
	}
	for branch, tz := range cfg.BranchTimezones {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("opname.branch_timezones[%s]: %w", branch, err)
		}
	}
	return nil
}
