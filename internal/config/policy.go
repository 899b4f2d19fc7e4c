package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Policy is the hot-reloadable gateway policy: markup defaults and the
// facilitator failover order. It is read on every proxied call, so updates
// go through an atomic holder rather than a restart.
type Policy struct {
	DefaultMarkupRate float64  `mapstructure:"defaultMarkupRate"`
	MaxMarkupRate     float64  `mapstructure:"maxMarkupRate"`
	FacilitatorOrder  []string `mapstructure:"facilitatorOrder"`
}

func DefaultPolicy() Policy {
	return Policy{
		DefaultMarkupRate: 1.0,
		MaxMarkupRate:     10.0,
		FacilitatorOrder:  []string{"cdp", "x402rs", "payai"},
	}
}

// PolicyHolder exposes the current policy with lock-free reads.
type PolicyHolder struct {
	current atomic.Value // holds Policy
}

func NewPolicyHolder() (*PolicyHolder, error) {
	v := viper.New()

	v.SetConfigName("gateway")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/tollgate/config")
	v.AddConfigPath("/etc/tollgate")
	v.AddConfigPath(".")

	v.SetEnvPrefix("TOLLGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		defaults := DefaultPolicy()
		v.SetDefault("gateway.defaultMarkupRate", defaults.DefaultMarkupRate)
		v.SetDefault("gateway.maxMarkupRate", defaults.MaxMarkupRate)
		v.SetDefault("gateway.facilitatorOrder", defaults.FacilitatorOrder)
	}

	var cfg Policy
	if err := v.UnmarshalKey("gateway", &cfg); err != nil {
		return nil, err
	}
	if err := validatePolicy(cfg); err != nil {
		return nil, err
	}

	holder := &PolicyHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated Policy
		if err := v.UnmarshalKey("gateway", &updated); err != nil {
			log.Printf("[gateway-config] reload failed: %v", err)
			return
		}
		if err := validatePolicy(updated); err != nil {
			log.Printf("[gateway-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[gateway-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticPolicyHolder wraps a fixed policy without file watching.
func NewStaticPolicyHolder(cfg Policy) *PolicyHolder {
	holder := &PolicyHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *PolicyHolder) Get() Policy {
	return h.current.Load().(Policy)
}

func validatePolicy(cfg Policy) error {
	if cfg.DefaultMarkupRate < 1.0 {
		return errors.New("gateway.defaultMarkupRate must be >= 1.0")
	}
	if cfg.MaxMarkupRate < cfg.DefaultMarkupRate {
		return errors.New("gateway.maxMarkupRate must be >= defaultMarkupRate")
	}
	if len(cfg.FacilitatorOrder) == 0 {
		return errors.New("gateway.facilitatorOrder cannot be empty")
	}
	return nil
}
