package config

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// DialerConfig tunes the reservation engine. It can change at runtime.
type DialerConfig struct {
	ReservationTTLMinutes int           `mapstructure:"reservation_ttl_minutes"`
	MaxCandidateCells     int           `mapstructure:"max_candidate_cells"`
	LockTimeout           time.Duration `mapstructure:"lock_timeout"`
}

func DefaultDialerConfig() DialerConfig {
	return DialerConfig{
		ReservationTTLMinutes: 15,
		MaxCandidateCells:     0,
		LockTimeout:           5 * time.Second,
	}
}

// ReservationTTL returns the reservation lifetime.
func (c DialerConfig) ReservationTTL() time.Duration {
	return time.Duration(c.ReservationTTLMinutes) * time.Minute
}

type DialerConfigHolder struct {
	current atomic.Value // holds DialerConfig
}

// NewStaticDialerConfigHolder returns a holder that never reloads.
func NewStaticDialerConfigHolder(cfg DialerConfig) *DialerConfigHolder {
	holder := &DialerConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewDialerConfigHolder(log *zap.Logger) (*DialerConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("dialer")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/insightzen")
	v.AddConfigPath(".")

	v.SetEnvPrefix("INSIGHTZEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultDialerConfig()
	v.SetDefault("dialer.reservation_ttl_minutes", defaults.ReservationTTLMinutes)
	v.SetDefault("dialer.max_candidate_cells", defaults.MaxCandidateCells)
	v.SetDefault("dialer.lock_timeout", defaults.LockTimeout)

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileFound = false
	}

	var cfg DialerConfig
	if err := v.UnmarshalKey("dialer", &cfg); err != nil {
		return nil, err
	}
	if err := validateDialerConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticDialerConfigHolder(cfg)
	if !fileFound {
		return holder, nil
	}

	log = log.Named("config.dialer")
	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated DialerConfig
		if err := v.UnmarshalKey("dialer", &updated); err != nil {
			log.Warn("dialer config reload failed", zap.Error(err))
			return
		}
		if err := validateDialerConfig(updated); err != nil {
			log.Warn("invalid dialer config ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("dialer config reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *DialerConfigHolder) Get() DialerConfig {
	if h == nil {
		return DefaultDialerConfig()
	}
	cfg, ok := h.current.Load().(DialerConfig)
	if !ok {
		return DefaultDialerConfig()
	}
	return cfg
}

func validateDialerConfig(cfg DialerConfig) error {
	if cfg.ReservationTTLMinutes <= 0 {
		return errors.New("dialer.reservation_ttl_minutes must be positive")
	}
	if cfg.MaxCandidateCells < 0 {
		return errors.New("dialer.max_candidate_cells cannot be negative")
	}
	if cfg.LockTimeout < 0 {
		return errors.New("dialer.lock_timeout cannot be negative")
	}
	return nil
}
